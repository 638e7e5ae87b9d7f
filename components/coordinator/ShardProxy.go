package coordinator

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/netutil"
	"github.com/xiaonanln/mapshard/engine/proto"
)

var (
	// ErrShardGone is returned by calls to a shard which disconnected
	ErrShardGone = errors.New("shard disconnected")
	// ErrShardTimeout is returned when a shard does not answer in time
	ErrShardTimeout = errors.New("shard request timeout")
)

// RemoteError is the failure reported by a shard for a request
type RemoteError struct {
	MsgType proto.MsgType
	Text    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.MsgType, e.Text)
}

type response struct {
	errText string
	data    []byte
}

// ShardProxy is the coordinator side of one shard connection
type ShardProxy struct {
	*proto.ShardConnection
	owner   *CoordinatorService
	proxyID int64

	// guarded by owner
	peerInfo   proto.PeerInfo
	registered bool
	load       proto.ShardLoadInfo
	lbentry    *lbheapentry

	disconnected xnsyncutil.AtomicBool
	nextReqID    uint32
	pendingLock  sync.Mutex
	pendingCalls map[uint32]chan response
}

func newShardProxy(owner *CoordinatorService, conn net.Conn, proxyID int64) *ShardProxy {
	tcpConn := conn.(*net.TCPConn)
	tcpConn.SetWriteBuffer(consts.COORDINATOR_CLIENT_PROXY_WRITE_BUFFER_SIZE)
	tcpConn.SetReadBuffer(consts.COORDINATOR_CLIENT_PROXY_READ_BUFFER_SIZE)
	bufferedConn := netutil.NewBufferedConnection(conn, consts.BUFFERED_READ_BUFFSIZE, consts.BUFFERED_WRITE_BUFFSIZE)

	sp := &ShardProxy{
		owner:        owner,
		proxyID:      proxyID,
		pendingCalls: map[uint32]chan response{},
	}
	sp.ShardConnection = proto.NewShardConnection(bufferedConn, sp)
	return sp
}

func (sp *ShardProxy) serve() {
	defer func() {
		sp.Close()
		sp.disconnected.Store(true)
		sp.failPendingCalls()
		sp.owner.handleShardDisconnect(sp)
		err := recover()
		if err != nil && !netutil.IsConnectionError(err) {
			gwlog.TraceError("%s paniced with error: %v", sp, err)
		}
	}()

	gwlog.Infof("New shard connection: %s", sp)
	for {
		var msgtype proto.MsgType
		pkt, err := sp.Recv(&msgtype)
		if err != nil {
			if !sp.IsClosed() && !netutil.IsConnectionError(err) {
				gwlog.Errorf("%s: recv failed: %s", sp, err)
			}
			return
		}

		switch msgtype {
		case proto.MT_RESPONSE:
			sp.handleResponse(pkt)
		case proto.MT_REGISTER_SHARD:
			reqID := pkt.ReadUint32()
			var pi proto.PeerInfo
			pkt.ReadData(&pi)
			sp.owner.handleRegisterShard(sp, reqID, pi)
		case proto.MT_REQUEST_INSTANCE:
			reqID := pkt.ReadUint32()
			var req proto.RequestInstanceRequest
			pkt.ReadData(&req)
			sp.owner.handleRequestInstance(sp, reqID, &req)
		case proto.MT_UPDATE_MAP_USER:
			var msg proto.UpdateMapUserMessage
			pkt.ReadData(&msg)
			sp.owner.handleUpdateMapUser(sp, pkt, &msg)
		case proto.MT_SHARD_LOAD_INFO:
			var info proto.ShardLoadInfo
			pkt.ReadData(&info)
			sp.owner.handleShardLoadInfo(sp, info)
		case proto.MT_CHAT, proto.MT_UPDATE_PARTY_MEMBER, proto.MT_UPDATE_PARTY, proto.MT_UPDATE_GUILD_MEMBER, proto.MT_UPDATE_GUILD:
			sp.owner.relay(sp, msgtype, pkt)
		default:
			gwlog.TraceError("unknown msgtype %s from %s", msgtype, sp)
		}
		pkt.Release()
	}
}

func (sp *ShardProxy) handleResponse(pkt *netutil.Packet) {
	reqID, errText := proto.ReadResponse(pkt)
	payload := pkt.ReadVarBytes()
	data := make([]byte, len(payload))
	copy(data, payload)

	sp.pendingLock.Lock()
	ch, ok := sp.pendingCalls[reqID]
	delete(sp.pendingCalls, reqID)
	sp.pendingLock.Unlock()

	if !ok {
		gwlog.Warnf("%s: response of request %d arrived too late", sp, reqID)
		return
	}
	ch <- response{errText: errText, data: data}
}

func (sp *ShardProxy) failPendingCalls() {
	sp.pendingLock.Lock()
	calls := sp.pendingCalls
	sp.pendingCalls = map[uint32]chan response{}
	sp.pendingLock.Unlock()

	for _, ch := range calls {
		close(ch)
	}
}

// call sends a request to the shard and waits for its response
func (sp *ShardProxy) call(ctx context.Context, msgtype proto.MsgType, req interface{}, resp interface{}) error {
	if sp.disconnected.Load() {
		return errors.Wrap(ErrShardGone, msgtype.String())
	}

	reqID := atomic.AddUint32(&sp.nextReqID, 1)
	ch := make(chan response, 1)
	sp.pendingLock.Lock()
	sp.pendingCalls[reqID] = ch
	sp.pendingLock.Unlock()

	defer func() {
		sp.pendingLock.Lock()
		delete(sp.pendingCalls, reqID)
		sp.pendingLock.Unlock()
	}()

	if err := sp.SendRequest(msgtype, reqID, req); err != nil {
		return errors.Wrap(err, msgtype.String())
	}

	timer := time.NewTimer(consts.CLUSTER_REQUEST_TIMEOUT)
	defer timer.Stop()

	select {
	case r, ok := <-ch:
		if !ok {
			return errors.Wrap(ErrShardGone, msgtype.String())
		}
		if r.errText != "" {
			return &RemoteError{MsgType: msgtype, Text: r.errText}
		}
		if resp != nil {
			return netutil.MSG_PACKER.UnpackMsg(r.data, resp)
		}
		return nil
	case <-timer.C:
		return errors.Wrap(ErrShardTimeout, msgtype.String())
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), msgtype.String())
	}
}

func (sp *ShardProxy) reply(reqID uint32, err error, msg interface{}) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	if serr := sp.SendResponse(reqID, errText, msg); serr != nil {
		gwlog.Warnf("%s: reply %d failed: %s", sp, reqID, serr)
	}
}

func (sp *ShardProxy) send(msgtype proto.MsgType, msg interface{}) {
	if err := sp.SendMessage(msgtype, msg); err != nil {
		gwlog.Warnf("%s: send %s failed: %s", sp, msgtype, err)
	}
}

func (sp *ShardProxy) String() string {
	return fmt.Sprintf("ShardProxy<%d|%s>", sp.proxyID, sp.RemoteAddr())
}
