package shard

import (
	"fmt"
	"net"

	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/netutil"
	"github.com/xiaonanln/mapshard/engine/proto"
)

// ClientProxy is a game client connected to the shard
type ClientProxy struct {
	*proto.ShardConnection
	connid common.ConnectionID
}

func newClientProxy(netconn net.Conn) *ClientProxy {
	cp := &ClientProxy{
		connid: common.GenConnectionID(), // each client has its unique connection id
	}
	conn := netutil.NewBufferedConnection(netconn, consts.BUFFERED_READ_BUFFSIZE, consts.BUFFERED_WRITE_BUFFSIZE)
	cp.ShardConnection = proto.NewShardConnection(conn, cp)
	return cp
}

func (cp *ClientProxy) String() string {
	return fmt.Sprintf("ClientProxy<%s@%s>", cp.connid, cp.RemoteAddr())
}

// serve receives packets until the connection breaks
func (cp *ClientProxy) serve(handler ClientHandler) {
	defer func() {
		cp.Close()
		if err := recover(); err != nil {
			if e, ok := err.(error); ok && netutil.IsConnectionError(e) {
				gwlog.Debugf("%s disconnected: %s", cp, e)
			} else {
				gwlog.TraceError("%s error: %v", cp, err)
			}
		} else if consts.DEBUG_CLIENTS {
			gwlog.Debugf("%s disconnected", cp)
		}
	}()

	for {
		var msgtype proto.MsgType
		pkt, err := cp.Recv(&msgtype)
		if err != nil {
			if !netutil.IsConnectionError(err) && !cp.IsClosed() {
				gwlog.Warnf("%s: recv failed: %s", cp, err)
			}
			return
		}
		handler.OnMessage(cp.connid, msgtype, pkt)
		pkt.Release()
	}
}
