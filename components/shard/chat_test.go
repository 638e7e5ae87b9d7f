package shard

import (
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/proto"
)

// newChatShard admits alice (GM, party 1) and bob
func newChatShard(t *testing.T) (*testShard, common.ConnectionID, common.ConnectionID) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")
	ts.persistence.addCharacter("u2", "ch2", "bob")
	ts.persistence.userLevels["u1"] = 1

	conn1, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)
	conn2, err := ts.enter(t, "u2", "ch2")
	assert.Equal(t, nil, err)
	ts.Characters().Get("ch1").SetPartyID(1)
	return ts, conn1, conn2
}

func TestLocalChat(t *testing.T) {
	ts, conn1, conn2 := newChatShard(t)
	ts.HandleChatFromClient(conn2, &proto.ChatMessage{Channel: proto.ChatLocal, Message: "hi", SenderName: "spoofed"})

	assert.Equal(t, 1, ts.clients.count(conn1, proto.MT_CHAT_ON_CLIENT))
	assert.Equal(t, 1, ts.clients.count(conn2, proto.MT_CHAT_ON_CLIENT))
	out := ts.clients.last(conn1, proto.MT_CHAT_ON_CLIENT).(*proto.ChatMessage)
	assert.Equal(t, "bob", out.SenderName)
	assert.Equal(t, "", out.SenderUserID)
	assert.Equal(t, "", out.SenderAccessToken)
	assert.Equal(t, 0, len(ts.cluster.sentOf(proto.MT_CHAT)), "local chat stays on the shard")
}

func TestMutedChat(t *testing.T) {
	ts, conn1, conn2 := newChatShard(t)
	ts.entity("ch2").SetMuting(true)
	ts.HandleChatFromClient(conn2, &proto.ChatMessage{Channel: proto.ChatGlobal, Message: "spam"})

	assert.Equal(t, 0, ts.clients.count(conn1, proto.MT_CHAT_ON_CLIENT))
	assert.Equal(t, mutedMessage, ts.clients.last(conn2, proto.MT_SYSTEM_MESSAGE_ON_CLIENT).(*proto.SystemMessage).Message)
	assert.Equal(t, 0, len(ts.cluster.sentOf(proto.MT_CHAT)))
}

func TestGlobalChatRelayed(t *testing.T) {
	ts, conn1, conn2 := newChatShard(t)
	ts.HandleChatFromClient(conn2, &proto.ChatMessage{Channel: proto.ChatGlobal, Message: "hello all"})

	assert.Equal(t, 1, ts.clients.count(conn1, proto.MT_CHAT_ON_CLIENT))
	assert.Equal(t, 1, ts.clients.count(conn2, proto.MT_CHAT_ON_CLIENT))
	relayed := ts.cluster.sentOf(proto.MT_CHAT)
	assert.Equal(t, 1, len(relayed))
	assert.Equal(t, "u2", relayed[0].(*proto.ChatMessage).SenderUserID)
	assert.Equal(t, "", relayed[0].(*proto.ChatMessage).SenderAccessToken)
}

func TestPartyAndWhisperChat(t *testing.T) {
	ts, conn1, conn2 := newChatShard(t)

	ts.HandleChatFromClient(conn1, &proto.ChatMessage{Channel: proto.ChatParty, Message: "party"})
	assert.Equal(t, 1, ts.clients.count(conn1, proto.MT_CHAT_ON_CLIENT))
	assert.Equal(t, 0, ts.clients.count(conn2, proto.MT_CHAT_ON_CLIENT))

	// bob has no party, his party chat reaches nobody here
	ts.HandleChatFromClient(conn2, &proto.ChatMessage{Channel: proto.ChatParty, Message: "anyone?"})
	assert.Equal(t, 1, ts.clients.count(conn1, proto.MT_CHAT_ON_CLIENT))
	assert.Equal(t, 0, ts.clients.count(conn2, proto.MT_CHAT_ON_CLIENT))

	ts.HandleChatFromClient(conn1, &proto.ChatMessage{Channel: proto.ChatWhisper, Message: "psst", ReceiverName: "bob"})
	assert.Equal(t, 1, ts.clients.count(conn1, proto.MT_CHAT_ON_CLIENT))
	assert.Equal(t, 1, ts.clients.count(conn2, proto.MT_CHAT_ON_CLIENT))
	assert.Equal(t, 3, len(ts.cluster.sentOf(proto.MT_CHAT)))
}

func TestSystemChatNeedsGM(t *testing.T) {
	ts, conn1, conn2 := newChatShard(t)
	ts.HandleChatFromClient(conn2, &proto.ChatMessage{Channel: proto.ChatSystem, Message: "fake notice"})
	assert.Equal(t, 0, ts.clients.count(conn1, proto.MT_CHAT_ON_CLIENT))

	ts.HandleChatFromClient(conn1, &proto.ChatMessage{Channel: proto.ChatSystem, Message: "maintenance"})
	assert.Equal(t, 1, ts.clients.count(conn2, proto.MT_CHAT_ON_CLIENT))
	assert.Equal(t, 1, len(ts.cluster.sentOf(proto.MT_CHAT)))
}

func TestGMCommands(t *testing.T) {
	ts, conn1, conn2 := newChatShard(t)

	// not a GM, the command is plain chat
	ts.HandleChatFromClient(conn2, &proto.ChatMessage{Channel: proto.ChatLocal, Message: "/kick alice"})
	_, kicked := ts.clients.kickReason(conn1)
	assert.T(t, !kicked)
	assert.Equal(t, 1, ts.clients.count(conn1, proto.MT_CHAT_ON_CLIENT))

	ts.HandleChatFromClient(conn1, &proto.ChatMessage{Channel: proto.ChatLocal, Message: "/notice server restarts soon"})
	notice := ts.clients.last(conn2, proto.MT_CHAT_ON_CLIENT).(*proto.ChatMessage)
	assert.Equal(t, proto.ChatSystem, notice.Channel)
	assert.Equal(t, "server restarts soon", notice.Message)

	ts.HandleChatFromClient(conn1, &proto.ChatMessage{Channel: proto.ChatLocal, Message: "/kick bob"})
	reason, kicked := ts.clients.kickReason(conn2)
	assert.T(t, kicked)
	assert.Equal(t, proto.KickByCoordinator, reason)
	assert.Equal(t, 1, ts.Sessions().Count())
	relayed := ts.cluster.sentOf(proto.MT_CHAT)
	assert.Equal(t, 2, len(relayed), "commands run on every shard")
	assert.Equal(t, "token-u1", relayed[1].(*proto.ChatMessage).SenderAccessToken)
}

func TestChatFromCoordinator(t *testing.T) {
	ts, conn1, conn2 := newChatShard(t)

	ts.HandleChatFromCoordinator(&proto.ChatMessage{Channel: proto.ChatGlobal, Message: "from afar", SenderName: "zed"})
	assert.Equal(t, 1, ts.clients.count(conn1, proto.MT_CHAT_ON_CLIENT))
	assert.Equal(t, 1, ts.clients.count(conn2, proto.MT_CHAT_ON_CLIENT))

	// plain local chat of another shard is not shown here
	ts.HandleChatFromCoordinator(&proto.ChatMessage{Channel: proto.ChatLocal, Message: "nearby"})
	assert.Equal(t, 1, ts.clients.count(conn1, proto.MT_CHAT_ON_CLIENT))

	// a forged command is dropped after the privilege check
	ts.HandleChatFromCoordinator(&proto.ChatMessage{Channel: proto.ChatLocal, Message: "/kick alice", SenderUserID: "u2", SenderAccessToken: "token-u2"})
	time.Sleep(time.Millisecond * 50)
	_, kicked := ts.clients.kickReason(conn1)
	assert.T(t, !kicked)

	ts.HandleChatFromCoordinator(&proto.ChatMessage{Channel: proto.ChatLocal, Message: "/kick bob", SenderUserID: "u1", SenderAccessToken: "token-u1"})
	assert.T(t, waitFor(t, time.Second, func() bool {
		_, kicked := ts.clients.kickReason(conn2)
		return kicked
	}))

	ts.HandleChatFromCoordinator(&proto.ChatMessage{Channel: proto.ChatLocal, Message: "/notice bye", SentByServer: true})
	assert.Equal(t, "bye", ts.clients.last(conn1, proto.MT_CHAT_ON_CLIENT).(*proto.ChatMessage).Message)
}

func TestSendSystemMessage(t *testing.T) {
	ts, conn1, _ := newChatShard(t)
	ts.SendSystemMessage("welcome")
	out := ts.clients.last(conn1, proto.MT_CHAT_ON_CLIENT).(*proto.ChatMessage)
	assert.Equal(t, proto.ChatSystem, out.Channel)
	assert.T(t, out.SentByServer)
	assert.Equal(t, 1, len(ts.cluster.sentOf(proto.MT_CHAT)))
}
