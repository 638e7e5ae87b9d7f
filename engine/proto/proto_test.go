package proto

import (
	"net"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/xiaonanln/mapshard/engine/netutil"
	"github.com/xiaonanln/mapshard/engine/social"
)

func newTestConnectionPair() (*ShardConnection, *ShardConnection) {
	c1, c2 := net.Pipe()
	return NewShardConnection(netutil.NetConn{Conn: c1}, nil), NewShardConnection(netutil.NetConn{Conn: c2}, nil)
}

func TestMessageRoundTrip(t *testing.T) {
	sender, receiver := newTestConnectionPair()
	defer sender.Close()
	defer receiver.Close()

	sent := UpdateMapUserMessage{
		Type:      UpdateMapUserOnline,
		Character: social.Character{ID: "c1", UserID: "u1", DisplayName: "alice", PartyID: 3},
	}
	go sender.SendMessage(MT_UPDATE_MAP_USER, &sent)

	var msgtype MsgType
	pkt, err := receiver.Recv(&msgtype)
	assert.Equal(t, nil, err)
	assert.Equal(t, MT_UPDATE_MAP_USER, msgtype)
	var recv UpdateMapUserMessage
	pkt.ReadData(&recv)
	pkt.Release()
	assert.Equal(t, sent, recv)
}

func TestRequestResponse(t *testing.T) {
	shard, coordinator := newTestConnectionPair()
	defer shard.Close()
	defer coordinator.Close()

	go shard.SendRequest(MT_RUN_MAP_REQUEST, 42, &RunMapRequest{MapName: "dungeon", ChannelID: "ch1"})

	var msgtype MsgType
	pkt, err := coordinator.Recv(&msgtype)
	assert.Equal(t, nil, err)
	assert.T(t, msgtype.IsRequest())
	reqID := pkt.ReadUint32()
	var req RunMapRequest
	pkt.ReadData(&req)
	assert.Equal(t, uint32(42), reqID)
	assert.Equal(t, "dungeon", req.MapName)

	go coordinator.SendResponse(reqID, "map mismatch", nil)
	pkt, err = shard.Recv(&msgtype)
	assert.Equal(t, nil, err)
	assert.Equal(t, MT_RESPONSE, msgtype)
	respID, errText := ReadResponse(pkt)
	assert.Equal(t, uint32(42), respID)
	assert.Equal(t, "map mismatch", errText)
}

func TestPeerInfo(t *testing.T) {
	pi := PeerInfo{Address: "127.0.0.1:7001", Kind: MapServer, ChannelID: "ch1", RefID: "town", MapName: "town"}
	assert.Equal(t, nil, pi.Validate())
	assert.Equal(t, "ch1$town", pi.Key())

	assert.T(t, PeerInfo{Kind: MapServer, MapName: "town", RefID: "town"}.Validate() != nil)
	assert.T(t, PeerInfo{Address: "a", Kind: InstanceMapServer}.Validate() != nil)
	assert.T(t, PeerInfo{Address: "a", Kind: ShardKind(9)}.Validate() != nil)
	assert.Equal(t, nil, PeerInfo{Address: "a", Kind: AllocateMapServer}.Validate())
}

func TestMsgTypeString(t *testing.T) {
	assert.Equal(t, "RUN_MAP_REQUEST", MT_RUN_MAP_REQUEST.String())
	assert.Equal(t, "MT<777>", MsgType(777).String())
	assert.Equal(t, false, MT_CHAT.IsRequest())
}

func TestChatIsCommand(t *testing.T) {
	assert.T(t, (&ChatMessage{Message: "/kick bob"}).IsCommand())
	assert.T(t, !(&ChatMessage{Message: "/"}).IsCommand())
	assert.T(t, !(&ChatMessage{Message: "hello"}).IsCommand())
}
