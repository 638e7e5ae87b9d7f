package shard

import (
	"context"

	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/netutil"
	"github.com/xiaonanln/mapshard/engine/proto"
)

// Cluster is the shard's channel to the coordinator, implemented by coordinatorclient.Client
type Cluster interface {
	IsConnected() bool
	Send(msgtype proto.MsgType, msg interface{}) error
	Call(ctx context.Context, msgtype proto.MsgType, req interface{}, resp interface{}) error
	Reply(reqID uint32, err error, msg interface{}) error
}

// Clients delivers typed messages to client connections, implemented by ClientService
type Clients interface {
	Send(conn common.ConnectionID, msgtype proto.MsgType, msg interface{})
	Kick(conn common.ConnectionID, reason proto.KickReason)
	IsConnected(conn common.ConnectionID) bool
}

// ClientHandler receives client connection events
type ClientHandler interface {
	OnConnect(conn common.ConnectionID)
	OnDisconnect(conn common.ConnectionID)
	OnMessage(conn common.ConnectionID, msgtype proto.MsgType, pkt *netutil.Packet)
}
