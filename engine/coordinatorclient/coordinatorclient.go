// Package coordinatorclient keeps the connection from a map shard to the coordinator.
//
// The connection is re-established automatically. Delegate.OnCoordinatorConnect is
// called after every (re)connect so that the shard can announce itself again.
package coordinatorclient

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwioutil"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/gwutils"
	"github.com/xiaonanln/mapshard/engine/netutil"
	"github.com/xiaonanln/mapshard/engine/opmon"
	"github.com/xiaonanln/mapshard/engine/proto"
)

var (
	// ErrNotConnected is returned when sending while the coordinator is unreachable
	ErrNotConnected = errors.New("coordinator not connected")
	// ErrRequestTimeout is returned when the coordinator does not answer in time
	ErrRequestTimeout = errors.New("coordinator request timeout")
)

// RemoteError is the failure reported by the other side of a request
type RemoteError struct {
	MsgType proto.MsgType
	Text    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.MsgType, e.Text)
}

// Delegate handles connection events and inbound messages
type Delegate interface {
	OnCoordinatorConnect(isReconnect bool)
	OnCoordinatorDisconnect()
	HandleCoordinatorPacket(msgtype proto.MsgType, packet *netutil.Packet)
}

type response struct {
	errText string
	data    []byte
}

// Client is a reconnecting client connection to the coordinator
type Client struct {
	addr     string
	delegate Delegate

	connLock    sync.RWMutex
	conn        *proto.ShardConnection
	connected   xnsyncutil.AtomicBool
	isReconnect bool

	nextReqID    uint32
	pendingLock  sync.Mutex
	pendingCalls map[uint32]chan response

	cancel     context.CancelFunc
	terminated chan struct{}
}

// New creates the client, Start must be called to connect
func New(addr string, delegate Delegate) *Client {
	return &Client{
		addr:         addr,
		delegate:     delegate,
		pendingCalls: map[uint32]chan response{},
		terminated:   make(chan struct{}),
	}
}

func (c *Client) String() string {
	return fmt.Sprintf("CoordinatorClient<%s>", c.addr)
}

// Start connects in background and keeps serving until ctx is done or Close is called
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go func() {
		defer close(c.terminated)
		for ctx.Err() == nil {
			gwutils.RunPanicless(func() {
				c.serve(ctx)
			})
		}
	}()
}

// Close disconnects and stops reconnecting
func (c *Client) Close() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.closeConn()
	<-c.terminated
}

// IsConnected returns if the coordinator is currently reachable
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) dial() (*proto.ShardConnection, error) {
	conn, err := net.DialTimeout("tcp", c.addr, consts.CLUSTER_REQUEST_TIMEOUT)
	if err != nil {
		return nil, err
	}
	tcpConn := conn.(*net.TCPConn)
	tcpConn.SetReadBuffer(consts.COORDINATOR_CLIENT_READ_BUFFER_SIZE)
	tcpConn.SetWriteBuffer(consts.COORDINATOR_CLIENT_WRITE_BUFFER_SIZE)
	bufferedConn := netutil.NewBufferedConnection(conn, consts.BUFFERED_READ_BUFFSIZE, consts.BUFFERED_WRITE_BUFFSIZE)
	return proto.NewShardConnection(bufferedConn, c), nil
}

func (c *Client) connect(ctx context.Context) (*proto.ShardConnection, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = consts.COORDINATOR_RECONNECT_MAX_INTERVAL
	return backoff.Retry(ctx, c.dial,
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			gwlog.Errorf("%s: connect failed: %s, retry in %s", c, err, next)
		}),
	)
}

func (c *Client) serve(ctx context.Context) {
	conn, err := c.connect(ctx)
	if err != nil {
		// only context cancellation stops the retry
		return
	}

	c.connLock.Lock()
	c.conn = conn
	isReconnect := c.isReconnect
	c.isReconnect = true
	c.connLock.Unlock()
	c.connected.Store(true)
	gwlog.Infof("%s: connected: %s", c, conn)

	// the recv loop has to run before the delegate issues requests on connect
	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		gwutils.RunPanicless(func() {
			c.recvLoop(conn)
		})
		c.connected.Store(false)
		c.failPendingCalls()
	}()

	c.delegate.OnCoordinatorConnect(isReconnect)

	select {
	case <-recvDone:
	case <-ctx.Done():
		conn.Close()
		<-recvDone
	}

	c.connLock.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connLock.Unlock()
	gwlog.Warnf("%s: disconnected", c)
	c.delegate.OnCoordinatorDisconnect()
}

func (c *Client) recvLoop(conn *proto.ShardConnection) {
	defer conn.Close()
	for {
		var msgtype proto.MsgType
		pkt, err := conn.Recv(&msgtype)
		if err != nil {
			if gwioutil.IsTimeoutError(err) {
				continue
			}
			if !conn.IsClosed() {
				gwlog.Errorf("%s: recv failed: %s", c, err)
			}
			return
		}

		if msgtype == proto.MT_RESPONSE {
			c.handleResponse(pkt)
		} else {
			op := opmon.StartOperation("coordinator." + msgtype.String())
			c.delegate.HandleCoordinatorPacket(msgtype, pkt)
			op.Finish(time.Millisecond * 100)
		}
		pkt.Release()
	}
}

func (c *Client) handleResponse(pkt *netutil.Packet) {
	reqID, errText := proto.ReadResponse(pkt)
	payload := pkt.ReadVarBytes()
	data := make([]byte, len(payload))
	copy(data, payload)

	c.pendingLock.Lock()
	ch, ok := c.pendingCalls[reqID]
	delete(c.pendingCalls, reqID)
	c.pendingLock.Unlock()

	if !ok {
		gwlog.Warnf("%s: response of request %d arrived too late", c, reqID)
		return
	}
	ch <- response{errText: errText, data: data}
}

func (c *Client) failPendingCalls() {
	c.pendingLock.Lock()
	calls := c.pendingCalls
	c.pendingCalls = map[uint32]chan response{}
	c.pendingLock.Unlock()

	for _, ch := range calls {
		close(ch)
	}
}

func (c *Client) closeConn() {
	c.connLock.RLock()
	conn := c.conn
	c.connLock.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) getConn() (*proto.ShardConnection, error) {
	c.connLock.RLock()
	conn := c.conn
	c.connLock.RUnlock()
	if conn == nil || conn.IsClosed() {
		return nil, ErrNotConnected
	}
	return conn, nil
}

// Send sends a fire-and-forget message to the coordinator
func (c *Client) Send(msgtype proto.MsgType, msg interface{}) error {
	conn, err := c.getConn()
	if err != nil {
		return err
	}
	return conn.SendMessage(msgtype, msg)
}

// Reply answers a request issued by the coordinator
func (c *Client) Reply(reqID uint32, err error, msg interface{}) error {
	conn, connErr := c.getConn()
	if connErr != nil {
		return connErr
	}
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	return conn.SendResponse(reqID, errText, msg)
}

// Call sends a request and waits for the response to be unpacked into resp.
// The wait is bounded by consts.CLUSTER_REQUEST_TIMEOUT as well as ctx.
func (c *Client) Call(ctx context.Context, msgtype proto.MsgType, req interface{}, resp interface{}) error {
	conn, err := c.getConn()
	if err != nil {
		return err
	}

	reqID := atomic.AddUint32(&c.nextReqID, 1)
	ch := make(chan response, 1)
	c.pendingLock.Lock()
	c.pendingCalls[reqID] = ch
	c.pendingLock.Unlock()

	defer func() {
		c.pendingLock.Lock()
		delete(c.pendingCalls, reqID)
		c.pendingLock.Unlock()
	}()

	if err := conn.SendRequest(msgtype, reqID, req); err != nil {
		return errors.Wrap(err, msgtype.String())
	}

	timer := time.NewTimer(consts.CLUSTER_REQUEST_TIMEOUT)
	defer timer.Stop()

	select {
	case r, ok := <-ch:
		if !ok {
			return errors.Wrap(ErrNotConnected, msgtype.String())
		}
		if r.errText != "" {
			return &RemoteError{MsgType: msgtype, Text: r.errText}
		}
		if resp != nil {
			return netutil.MSG_PACKER.UnpackMsg(r.data, resp)
		}
		return nil
	case <-timer.C:
		return errors.Wrap(ErrRequestTimeout, msgtype.String())
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), msgtype.String())
	}
}
