package proto

import (
	"fmt"

	"github.com/xiaonanln/mapshard/engine/social"
	"github.com/xiaonanln/mapshard/engine/world"
)

// ShardKind is the kind of a map shard
type ShardKind byte

const (
	// MapServer serves a persistent map of one channel
	MapServer ShardKind = iota
	// AllocateMapServer is idle until the coordinator runs a map on it
	AllocateMapServer
	// InstanceMapServer serves a temporary instance of a map
	InstanceMapServer
)

func (k ShardKind) String() string {
	switch k {
	case MapServer:
		return "MapServer"
	case AllocateMapServer:
		return "AllocateMapServer"
	case InstanceMapServer:
		return "InstanceMapServer"
	}
	return fmt.Sprintf("ShardKind<%d>", k)
}

// PeerInfo describes one shard in the cluster
type PeerInfo struct {
	Address    string    `msgpack:"addr"`
	Kind       ShardKind `msgpack:"kind"`
	ChannelID  string    `msgpack:"ch"`
	RefID      string    `msgpack:"ref"`
	MapName    string    `msgpack:"map"`
	InstanceID string    `msgpack:"inst"`
}

// Key returns the (channel, reference) key the shard serves
func (pi PeerInfo) Key() string {
	return pi.ChannelID + "$" + pi.RefID
}

// Validate checks a peer descriptor received from the network
func (pi PeerInfo) Validate() error {
	if pi.Address == "" {
		return fmt.Errorf("peer info without address")
	}
	switch pi.Kind {
	case AllocateMapServer:
		return nil
	case MapServer, InstanceMapServer:
		if pi.MapName == "" || pi.RefID == "" {
			return fmt.Errorf("peer info %s without map", pi.Address)
		}
		return nil
	}
	return fmt.Errorf("peer info %s with invalid kind %d", pi.Address, pi.Kind)
}

func (pi PeerInfo) String() string {
	return fmt.Sprintf("%s<%s|%s|%s>", pi.Kind, pi.Address, pi.ChannelID, pi.RefID)
}

// RunMapRequest asks an allocate-only shard to serve a map
type RunMapRequest struct {
	MapName    string `msgpack:"map"`
	ChannelID  string `msgpack:"ch"`
	InstanceID string `msgpack:"inst"`
	// WarpPosition is where entering characters are placed if HasWarpPosition
	HasWarpPosition bool          `msgpack:"haswarp"`
	WarpPosition    world.Vector3 `msgpack:"warp"`
}

// RequestInstanceRequest asks the coordinator for a shard running the instance
type RequestInstanceRequest struct {
	MapName    string `msgpack:"map"`
	ChannelID  string `msgpack:"ch"`
	InstanceID string `msgpack:"inst"`
}

// ForceDespawnRequest asks the shard to finalize the despawn of a character now
type ForceDespawnRequest struct {
	CharacterID string `msgpack:"cid"`
}

// KickUserMessage asks the shard to kick a user
type KickUserMessage struct {
	UserID string `msgpack:"uid"`
}

// ShardLoadInfo is reported by shards periodically
type ShardLoadInfo struct {
	CPUPercent float64 `msgpack:"cp"`
	Sessions   int     `msgpack:"ss"`
}

// ChatChannel is the channel of a chat message
type ChatChannel byte

const (
	ChatLocal ChatChannel = iota
	ChatGlobal
	ChatWhisper
	ChatParty
	ChatGuild
	ChatSystem
)

func (c ChatChannel) String() string {
	switch c {
	case ChatLocal:
		return "Local"
	case ChatGlobal:
		return "Global"
	case ChatWhisper:
		return "Whisper"
	case ChatParty:
		return "Party"
	case ChatGuild:
		return "Guild"
	case ChatSystem:
		return "System"
	}
	return fmt.Sprintf("ChatChannel<%d>", c)
}

// ChatMessage is a chat line
type ChatMessage struct {
	Channel      ChatChannel `msgpack:"ch"`
	Message      string      `msgpack:"msg"`
	SenderName   string      `msgpack:"sender"`
	ReceiverName string      `msgpack:"receiver"`
	PartyID      int         `msgpack:"party"`
	GuildID      int         `msgpack:"guild"`
	// SenderUserID and SenderAccessToken let the receiving shard verify GM privilege
	SenderUserID      string `msgpack:"uid"`
	SenderAccessToken string `msgpack:"token"`
	SentByServer      bool   `msgpack:"server"`
}

// IsCommand returns if the message is a GM command
func (cm *ChatMessage) IsCommand() bool {
	return len(cm.Message) > 1 && cm.Message[0] == '/'
}

// UpdateMapUserType is the kind of a presence update
type UpdateMapUserType byte

const (
	UpdateMapUserAdd UpdateMapUserType = iota
	UpdateMapUserRemove
	UpdateMapUserOnline
)

// UpdateMapUserMessage replicates the presence of a character
type UpdateMapUserMessage struct {
	Type      UpdateMapUserType `msgpack:"t"`
	Character social.Character  `msgpack:"c"`
}

// UpdateMemberType is the kind of a party or guild roster update
type UpdateMemberType byte

const (
	UpdateMemberAdd UpdateMemberType = iota
	UpdateMemberRemove
)

// UpdateSocialMemberMessage replicates a party or guild roster change
type UpdateSocialMemberMessage struct {
	Type      UpdateMemberType `msgpack:"t"`
	ID        int              `msgpack:"id"`
	Character social.Character `msgpack:"c"`
}

// UpdatePartyType is the kind of a party update
type UpdatePartyType byte

const (
	UpdatePartyChangeLeader UpdatePartyType = iota
	UpdatePartySetting
	UpdatePartyTerminate
)

// UpdatePartyMessage replicates a party mutation
type UpdatePartyMessage struct {
	Type        UpdatePartyType `msgpack:"t"`
	ID          int             `msgpack:"id"`
	CharacterID string          `msgpack:"cid"`
	ShareExp    bool            `msgpack:"sexp"`
	ShareItem   bool            `msgpack:"sitem"`
}

// UpdateGuildType is the kind of a guild update
type UpdateGuildType byte

const (
	UpdateGuildChangeLeader UpdateGuildType = iota
	UpdateGuildSetGuildMessage
	UpdateGuildSetGuildMessage2
	UpdateGuildSetGuildRole
	UpdateGuildSetGuildMemberRole
	UpdateGuildSetSkillLevel
	UpdateGuildSetGold
	UpdateGuildSetScore
	UpdateGuildSetOptions
	UpdateGuildSetAutoAcceptRequests
	UpdateGuildSetRank
	UpdateGuildLevelExpSkillPoint
	UpdateGuildTerminate
)

func (t UpdateGuildType) String() string {
	switch t {
	case UpdateGuildChangeLeader:
		return "ChangeLeader"
	case UpdateGuildSetGuildMessage:
		return "SetGuildMessage"
	case UpdateGuildSetGuildMessage2:
		return "SetGuildMessage2"
	case UpdateGuildSetGuildRole:
		return "SetGuildRole"
	case UpdateGuildSetGuildMemberRole:
		return "SetGuildMemberRole"
	case UpdateGuildSetSkillLevel:
		return "SetSkillLevel"
	case UpdateGuildSetGold:
		return "SetGold"
	case UpdateGuildSetScore:
		return "SetScore"
	case UpdateGuildSetOptions:
		return "SetOptions"
	case UpdateGuildSetAutoAcceptRequests:
		return "SetAutoAcceptRequests"
	case UpdateGuildSetRank:
		return "SetRank"
	case UpdateGuildLevelExpSkillPoint:
		return "LevelExpSkillPoint"
	case UpdateGuildTerminate:
		return "Terminate"
	}
	return fmt.Sprintf("UpdateGuildType<%d>", t)
}

// UpdateGuildMessage replicates a guild mutation, only the fields of its Type are meaningful
type UpdateGuildMessage struct {
	Type        UpdateGuildType  `msgpack:"t"`
	ID          int              `msgpack:"id"`
	CharacterID string           `msgpack:"cid"`
	Text        string           `msgpack:"text"`
	Role        byte             `msgpack:"role"`
	RoleData    social.GuildRole `msgpack:"roledata"`
	SkillID     int              `msgpack:"skill"`
	Level       int              `msgpack:"lv"`
	Exp         int              `msgpack:"exp"`
	SkillPoint  int              `msgpack:"sp"`
	Value       int              `msgpack:"value"`
	Flag        bool             `msgpack:"flag"`
}

// EnterGameRequest is sent by client right after connecting
type EnterGameRequest struct {
	UserID      string `msgpack:"uid"`
	AccessToken string `msgpack:"token"`
	CharacterID string `msgpack:"cid"`
}

// EnterGameResult answers EnterGameRequest, Error is empty on success
type EnterGameResult struct {
	Error string `msgpack:"err"`
}

// KickReason tells the client why it was kicked
type KickReason byte

const (
	KickNone KickReason = iota
	KickNotReady
	KickAlreadyRegistered
	KickInvalidToken
	KickLoadFailed
	KickByCoordinator
	KickShutdown
)

// KickMessage is sent to client before the shard closes its connection
type KickMessage struct {
	Reason KickReason `msgpack:"r"`
}

// SystemMessage is a message from the server
type SystemMessage struct {
	Message string `msgpack:"msg"`
}
