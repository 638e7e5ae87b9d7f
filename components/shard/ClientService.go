package shard

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/gwutils"
	"github.com/xiaonanln/mapshard/engine/netutil"
	"github.com/xiaonanln/mapshard/engine/proto"
	"github.com/xtaci/kcp-go"
	"golang.org/x/net/websocket"
)

// ClientService accepts game clients over TCP, KCP and websocket and delivers
// messages to them
type ClientService struct {
	handler ClientHandler

	clientProxiesLock sync.RWMutex
	clientProxies     map[common.ConnectionID]*ClientProxy

	terminating xnsyncutil.AtomicBool
}

// NewClientService creates a ClientService which reports connection events to handler
func NewClientService(handler ClientHandler) *ClientService {
	return &ClientService{
		handler:       handler,
		clientProxies: map[common.ConnectionID]*ClientProxy{},
	}
}

func (cs *ClientService) String() string {
	return "ClientService"
}

// ServeTCP accepts TCP clients on listenAddr forever
func (cs *ClientService) ServeTCP(listenAddr string) {
	netutil.ServeTCPForever(listenAddr, cs)
}

// ServeTCPConnection handle TCP connections from clients
func (cs *ClientService) ServeTCPConnection(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetWriteBuffer(consts.CLIENT_PROXY_WRITE_BUFFER_SIZE)
		tcpConn.SetReadBuffer(consts.CLIENT_PROXY_READ_BUFFER_SIZE)
		tcpConn.SetNoDelay(consts.CLIENT_PROXY_SET_TCP_NO_DELAY)
	}
	cs.handleClientConnection(conn)
}

// ServeKCP accepts KCP clients on listenAddr until the listener fails
func (cs *ClientService) ServeKCP(listenAddr string) error {
	kcpListener, err := kcp.ListenWithOptions(listenAddr, nil, 10, 3)
	if err != nil {
		return errors.Wrapf(err, "listen kcp %s", listenAddr)
	}
	gwlog.Infof("Listening on KCP: %s ...", listenAddr)

	go gwutils.RepeatUntilPanicless(func() {
		for {
			conn, err := kcpListener.AcceptKCP()
			if err != nil {
				gwlog.Panic(err)
			}
			go cs.handleKCPConn(conn)
		}
	})
	return nil
}

func (cs *ClientService) handleKCPConn(conn *kcp.UDPSession) {
	gwlog.Debugf("KCP connection from %s", conn.RemoteAddr())
	conn.SetReadBuffer(consts.CLIENT_PROXY_READ_BUFFER_SIZE)
	conn.SetWriteBuffer(consts.CLIENT_PROXY_WRITE_BUFFER_SIZE)
	// turbo mode
	conn.SetStreamMode(true)
	conn.SetWriteDelay(true)
	conn.SetNoDelay(1, 10, 2, 1)
	cs.handleClientConnection(conn)
}

// HandleWebSocketConn serves a websocket client until it disconnects
func (cs *ClientService) HandleWebSocketConn(wsConn *websocket.Conn) {
	gwlog.Debugf("WebSocket connection from %s", wsConn.RemoteAddr())
	wsConn.PayloadType = websocket.BinaryFrame
	cs.handleClientConnection(wsConn)
}

func (cs *ClientService) handleClientConnection(netconn net.Conn) {
	if cs.terminating.Load() {
		netconn.Close()
		return
	}

	cp := newClientProxy(netconn)
	cs.clientProxiesLock.Lock()
	cs.clientProxies[cp.connid] = cp
	cs.clientProxiesLock.Unlock()

	cs.handler.OnConnect(cp.connid)
	if consts.DEBUG_CLIENTS {
		gwlog.Debugf("%s: client %s connected", cs, cp)
	}
	cp.serve(cs.handler)
	cs.onClientProxyClose(cp)
}

func (cs *ClientService) onClientProxyClose(cp *ClientProxy) {
	cs.clientProxiesLock.Lock()
	delete(cs.clientProxies, cp.connid)
	cs.clientProxiesLock.Unlock()

	cs.handler.OnDisconnect(cp.connid)
}

func (cs *ClientService) getClientProxy(conn common.ConnectionID) *ClientProxy {
	cs.clientProxiesLock.RLock()
	defer cs.clientProxiesLock.RUnlock()
	return cs.clientProxies[conn]
}

// Send sends a message to the client, a gone client is ignored
func (cs *ClientService) Send(conn common.ConnectionID, msgtype proto.MsgType, msg interface{}) {
	cp := cs.getClientProxy(conn)
	if cp == nil {
		return
	}
	if err := cp.SendMessage(msgtype, msg); err != nil && !netutil.IsConnectionError(err) {
		gwlog.Warnf("%s: send %s to %s failed: %s", cs, msgtype, cp, err)
	}
}

// Kick tells the client why and closes its connection
func (cs *ClientService) Kick(conn common.ConnectionID, reason proto.KickReason) {
	cp := cs.getClientProxy(conn)
	if cp == nil {
		return
	}
	cp.SendMessage(proto.MT_KICK_ON_CLIENT, &proto.KickMessage{Reason: reason})
	cp.Close()
}

// IsConnected returns if the client is still connected
func (cs *ClientService) IsConnected(conn common.ConnectionID) bool {
	cp := cs.getClientProxy(conn)
	return cp != nil && !cp.IsClosed()
}

// Count returns the number of connected clients
func (cs *ClientService) Count() int {
	cs.clientProxiesLock.RLock()
	defer cs.clientProxiesLock.RUnlock()
	return len(cs.clientProxies)
}

// Terminate stops accepting clients and closes the connected ones
func (cs *ClientService) Terminate() {
	cs.terminating.Store(true)
	cs.clientProxiesLock.RLock()
	proxies := make([]*ClientProxy, 0, len(cs.clientProxies))
	for _, cp := range cs.clientProxies {
		proxies = append(proxies, cp)
	}
	cs.clientProxiesLock.RUnlock()

	for _, cp := range proxies {
		cp.SendMessage(proto.MT_KICK_ON_CLIENT, &proto.KickMessage{Reason: proto.KickShutdown})
		cp.Close()
	}
	gwlog.Infof("%s: terminated, %d clients closed", cs, len(proxies))
}

var _ Clients = (*ClientService)(nil)
