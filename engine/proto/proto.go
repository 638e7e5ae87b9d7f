package proto

import "strconv"

// MsgType is the type of message types
type MsgType uint16

// Message types between map shards and the coordinator
const (
	// MT_INVALID is the invalid message type
	MT_INVALID MsgType = iota
	// MT_RESPONSE answers any request, it carries the request id, an error text and a payload
	MT_RESPONSE
	// MT_REGISTER_SHARD is sent by shard to announce its PeerInfo
	MT_REGISTER_SHARD
	// MT_NOTIFY_PEER_INFO is sent by coordinator to tell shards about another shard
	MT_NOTIFY_PEER_INFO
	// MT_NOTIFY_PEER_REMOVED is sent by coordinator when a shard is gone
	MT_NOTIFY_PEER_REMOVED
	// MT_RUN_MAP_REQUEST is sent by coordinator to activate an allocate-only shard
	MT_RUN_MAP_REQUEST
	// MT_REQUEST_INSTANCE is sent by shard to ask the coordinator for an instance shard
	MT_REQUEST_INSTANCE
	// MT_FORCE_DESPAWN_CHARACTER is sent by coordinator when the character is needed elsewhere
	MT_FORCE_DESPAWN_CHARACTER
	// MT_KICK_USER is sent by coordinator to kick a user from whichever shard holds it
	MT_KICK_USER
	// MT_CHAT is relayed in both directions
	MT_CHAT
	// MT_UPDATE_MAP_USER carries presence of a character
	MT_UPDATE_MAP_USER
	// MT_UPDATE_PARTY_MEMBER carries party roster changes
	MT_UPDATE_PARTY_MEMBER
	// MT_UPDATE_PARTY carries party leader, setting and termination
	MT_UPDATE_PARTY
	// MT_UPDATE_GUILD_MEMBER carries guild roster changes
	MT_UPDATE_GUILD_MEMBER
	// MT_UPDATE_GUILD carries every other guild mutation
	MT_UPDATE_GUILD
	// MT_SHARD_LOAD_INFO contains shard load balancing info
	MT_SHARD_LOAD_INFO
)

// Messages types between clients and map shards
const (
	// MT_CLIENT_MSG_TYPE_START is the first message type between client and shard
	MT_CLIENT_MSG_TYPE_START MsgType = 1000 + iota
	// MT_ENTER_GAME_FROM_CLIENT asks to admit the character
	MT_ENTER_GAME_FROM_CLIENT
	// MT_CHAT_FROM_CLIENT sends a chat message
	MT_CHAT_FROM_CLIENT
	// MT_HEARTBEAT_FROM_CLIENT is sent by client to notify the shard that the client is alive
	MT_HEARTBEAT_FROM_CLIENT
)

const (
	// MT_ENTER_GAME_RESULT_ON_CLIENT answers MT_ENTER_GAME_FROM_CLIENT
	MT_ENTER_GAME_RESULT_ON_CLIENT MsgType = 1501 + iota
	// MT_KICK_ON_CLIENT is sent right before the shard closes the client connection
	MT_KICK_ON_CLIENT
	// MT_CHAT_ON_CLIENT delivers a chat message
	MT_CHAT_ON_CLIENT
	// MT_SYSTEM_MESSAGE_ON_CLIENT delivers a system message
	MT_SYSTEM_MESSAGE_ON_CLIENT
	// MT_PARTY_ON_CLIENT sends the full party aggregate
	MT_PARTY_ON_CLIENT
	// MT_PARTY_MEMBER_ON_CLIENT notifies a party roster change
	MT_PARTY_MEMBER_ON_CLIENT
	// MT_PARTY_UPDATE_ON_CLIENT notifies a party leader, setting or termination change
	MT_PARTY_UPDATE_ON_CLIENT
	// MT_GUILD_ON_CLIENT sends the full guild aggregate
	MT_GUILD_ON_CLIENT
	// MT_GUILD_MEMBER_ON_CLIENT notifies a guild roster change
	MT_GUILD_MEMBER_ON_CLIENT
	// MT_GUILD_UPDATE_ON_CLIENT notifies any other guild change
	MT_GUILD_UPDATE_ON_CLIENT
	// MT_CLIENT_MSG_TYPE_STOP message type
	MT_CLIENT_MSG_TYPE_STOP MsgType = 1999
)

// IsRequest returns if the message carries a request id and expects MT_RESPONSE
func (mt MsgType) IsRequest() bool {
	switch mt {
	case MT_REGISTER_SHARD, MT_RUN_MAP_REQUEST, MT_REQUEST_INSTANCE, MT_FORCE_DESPAWN_CHARACTER:
		return true
	}
	return false
}

var msgTypeNames = map[MsgType]string{
	MT_INVALID:                     "INVALID",
	MT_RESPONSE:                    "RESPONSE",
	MT_REGISTER_SHARD:              "REGISTER_SHARD",
	MT_NOTIFY_PEER_INFO:            "NOTIFY_PEER_INFO",
	MT_NOTIFY_PEER_REMOVED:         "NOTIFY_PEER_REMOVED",
	MT_RUN_MAP_REQUEST:             "RUN_MAP_REQUEST",
	MT_REQUEST_INSTANCE:            "REQUEST_INSTANCE",
	MT_FORCE_DESPAWN_CHARACTER:     "FORCE_DESPAWN_CHARACTER",
	MT_KICK_USER:                   "KICK_USER",
	MT_CHAT:                        "CHAT",
	MT_UPDATE_MAP_USER:             "UPDATE_MAP_USER",
	MT_UPDATE_PARTY_MEMBER:         "UPDATE_PARTY_MEMBER",
	MT_UPDATE_PARTY:                "UPDATE_PARTY",
	MT_UPDATE_GUILD_MEMBER:         "UPDATE_GUILD_MEMBER",
	MT_UPDATE_GUILD:                "UPDATE_GUILD",
	MT_SHARD_LOAD_INFO:             "SHARD_LOAD_INFO",
	MT_ENTER_GAME_FROM_CLIENT:      "ENTER_GAME_FROM_CLIENT",
	MT_CHAT_FROM_CLIENT:            "CHAT_FROM_CLIENT",
	MT_HEARTBEAT_FROM_CLIENT:       "HEARTBEAT_FROM_CLIENT",
	MT_ENTER_GAME_RESULT_ON_CLIENT: "ENTER_GAME_RESULT_ON_CLIENT",
	MT_KICK_ON_CLIENT:              "KICK_ON_CLIENT",
	MT_CHAT_ON_CLIENT:              "CHAT_ON_CLIENT",
	MT_SYSTEM_MESSAGE_ON_CLIENT:    "SYSTEM_MESSAGE_ON_CLIENT",
	MT_PARTY_ON_CLIENT:             "PARTY_ON_CLIENT",
	MT_PARTY_MEMBER_ON_CLIENT:      "PARTY_MEMBER_ON_CLIENT",
	MT_PARTY_UPDATE_ON_CLIENT:      "PARTY_UPDATE_ON_CLIENT",
	MT_GUILD_ON_CLIENT:             "GUILD_ON_CLIENT",
	MT_GUILD_MEMBER_ON_CLIENT:      "GUILD_MEMBER_ON_CLIENT",
	MT_GUILD_UPDATE_ON_CLIENT:      "GUILD_UPDATE_ON_CLIENT",
}

func (mt MsgType) String() string {
	if name, ok := msgTypeNames[mt]; ok {
		return name
	}
	return "MT<" + strconv.Itoa(int(mt)) + ">"
}
