package coordinatorclient

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/netutil"
	"github.com/xiaonanln/mapshard/engine/proto"
)

type testDelegate struct {
	connects    chan bool
	disconnects chan struct{}
	packets     chan proto.MsgType
}

func newTestDelegate() *testDelegate {
	return &testDelegate{
		connects:    make(chan bool, 10),
		disconnects: make(chan struct{}, 10),
		packets:     make(chan proto.MsgType, 10),
	}
}

func (d *testDelegate) OnCoordinatorConnect(isReconnect bool) { d.connects <- isReconnect }
func (d *testDelegate) OnCoordinatorDisconnect()              { d.disconnects <- struct{}{} }
func (d *testDelegate) HandleCoordinatorPacket(msgtype proto.MsgType, packet *netutil.Packet) {
	d.packets <- msgtype
}

// testCoordinator answers MT_REGISTER_SHARD and echoes MT_CHAT back
type testCoordinator struct {
	ln    net.Listener
	conns chan *proto.ShardConnection
}

func startTestCoordinator(t *testing.T) *testCoordinator {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	tc := &testCoordinator{ln: ln, conns: make(chan *proto.ShardConnection, 10)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			sc := proto.NewShardConnection(netutil.NetConn{Conn: conn}, nil)
			tc.conns <- sc
			go tc.serve(sc)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return tc
}

func (tc *testCoordinator) serve(sc *proto.ShardConnection) {
	defer sc.Close()
	for {
		var msgtype proto.MsgType
		pkt, err := sc.Recv(&msgtype)
		if err != nil {
			return
		}
		switch msgtype {
		case proto.MT_REGISTER_SHARD:
			reqID := pkt.ReadUint32()
			var pi proto.PeerInfo
			pkt.ReadData(&pi)
			if err := pi.Validate(); err != nil {
				sc.SendResponse(reqID, err.Error(), nil)
			} else {
				sc.SendResponse(reqID, "", &pi)
			}
		case proto.MT_CHAT:
			var msg proto.ChatMessage
			pkt.ReadData(&msg)
			sc.SendMessage(proto.MT_CHAT, &msg)
		}
		pkt.Release()
	}
}

func startTestClient(t *testing.T, addr string, d Delegate) *Client {
	c := New(addr, d)
	c.Start(context.Background())
	t.Cleanup(c.Close)
	return c
}

func waitConnect(t *testing.T, d *testDelegate) bool {
	select {
	case isReconnect := <-d.connects:
		return isReconnect
	case <-time.After(time.Second * 10):
		t.Fatal("not connected")
	}
	return false
}

func TestCallAndSend(t *testing.T) {
	tc := startTestCoordinator(t)
	d := newTestDelegate()
	c := startTestClient(t, tc.ln.Addr().String(), d)
	assert.Equal(t, false, waitConnect(t, d))
	assert.T(t, c.IsConnected())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	var ack proto.PeerInfo
	pi := proto.PeerInfo{Address: "127.0.0.1:7001", Kind: proto.MapServer, ChannelID: "ch1", RefID: "town", MapName: "town"}
	assert.Equal(t, nil, c.Call(ctx, proto.MT_REGISTER_SHARD, &pi, &ack))
	assert.Equal(t, pi, ack)

	err := c.Call(ctx, proto.MT_REGISTER_SHARD, &proto.PeerInfo{}, nil)
	_, isRemote := err.(*RemoteError)
	assert.T(t, isRemote)

	assert.Equal(t, nil, c.Send(proto.MT_CHAT, &proto.ChatMessage{Message: "hi"}))
	select {
	case msgtype := <-d.packets:
		assert.Equal(t, proto.MT_CHAT, msgtype)
	case <-time.After(time.Second * 5):
		t.Fatal("chat not echoed")
	}
}

func TestReconnect(t *testing.T) {
	tc := startTestCoordinator(t)
	d := newTestDelegate()
	c := startTestClient(t, tc.ln.Addr().String(), d)
	assert.Equal(t, false, waitConnect(t, d))

	// coordinator drops the connection
	(<-tc.conns).Close()
	select {
	case <-d.disconnects:
	case <-time.After(time.Second * 10):
		t.Fatal("disconnect not noticed")
	}
	assert.Equal(t, true, waitConnect(t, d))
	assert.T(t, c.IsConnected())
}

func TestNotConnected(t *testing.T) {
	// nothing listens on the address
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := startTestClient(t, addr, newTestDelegate())
	assert.Equal(t, false, c.IsConnected())
	assert.Equal(t, ErrNotConnected, c.Send(proto.MT_CHAT, &proto.ChatMessage{}))
	err = c.Call(context.Background(), proto.MT_REGISTER_SHARD, &proto.PeerInfo{}, nil)
	assert.T(t, errors.Is(err, ErrNotConnected))
}
