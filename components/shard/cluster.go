package shard

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/coordinatorclient"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/gwutils"
	"github.com/xiaonanln/mapshard/engine/netutil"
	"github.com/xiaonanln/mapshard/engine/proto"
)

// OnCoordinatorConnect registers the shard, then announces the characters
// playing here so the coordinator can rebuild its presence view
func (s *ShardService) OnCoordinatorConnect(isReconnect bool) {
	gwlog.Infof("%s: coordinator connected, reconnect=%v", s, isReconnect)
	go gwutils.RunPanicless(func() {
		if err := s.register(s.ctx); err != nil {
			gwlog.Errorf("%s: register failed: %s", s, err)
		}
	})
}

// OnCoordinatorDisconnect puts the shard into degraded mode until it registers again
func (s *ShardService) OnCoordinatorDisconnect() {
	s.registered.Store(false)
	gwlog.Warnf("%s: coordinator disconnected, admissions paused", s)
}

// register announces the current identity of the shard until the coordinator
// acknowledges it or the connection is lost
func (s *ShardService) register(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = consts.COORDINATOR_RECONNECT_MAX_INTERVAL
	ack, err := backoff.Retry(ctx, func() (proto.PeerInfo, error) {
		var ack proto.PeerInfo
		if !s.cluster.IsConnected() {
			// registering again on the next connect
			return ack, backoff.Permanent(coordinatorclient.ErrNotConnected)
		}
		pi := s.PeerInfo()
		if err := pi.Validate(); err != nil {
			return ack, backoff.Permanent(err)
		}
		err := s.cluster.Call(ctx, proto.MT_REGISTER_SHARD, &pi, &ack)
		return ack, err
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0), backoff.WithNotify(func(err error, d time.Duration) {
		gwlog.Warnf("%s: register failed: %s, retry in %s", s, err, d)
	}))
	if err != nil {
		return err
	}

	s.registered.Store(true)
	gwlog.Infof("%s: registered as %s", s, ack)
	s.reannounce()
	return nil
}

func (s *ShardService) reannounce() {
	for _, session := range s.sessions.List() {
		pc := s.characters.Get(session.CharacterID)
		if pc == nil {
			continue
		}
		s.sendCluster(proto.MT_UPDATE_MAP_USER, &proto.UpdateMapUserMessage{Type: proto.UpdateMapUserAdd, Character: pc.Snapshot()})
	}
}

// HandleCoordinatorPacket decodes a packet from the coordinator. Handlers which
// block on I/O run in their own goroutines.
func (s *ShardService) HandleCoordinatorPacket(msgtype proto.MsgType, pkt *netutil.Packet) {
	switch msgtype {
	case proto.MT_RUN_MAP_REQUEST:
		reqID := pkt.ReadUint32()
		var req proto.RunMapRequest
		pkt.ReadData(&req)
		go gwutils.RunPanicless(func() {
			err := s.RunMap(s.ctx, &req)
			if err != nil {
				gwlog.Warnf("%s: run map %s rejected: %s", s, req.MapName, err)
			}
			s.reply(reqID, err, s.PeerInfo())
		})
	case proto.MT_FORCE_DESPAWN_CHARACTER:
		reqID := pkt.ReadUint32()
		var req proto.ForceDespawnRequest
		pkt.ReadData(&req)
		go gwutils.RunPanicless(func() {
			ctx, cancel := context.WithTimeout(s.ctx, consts.CLUSTER_REQUEST_TIMEOUT)
			defer cancel()
			s.reply(reqID, s.ForceDespawnCharacter(ctx, req.CharacterID), nil)
		})
	case proto.MT_KICK_USER:
		var msg proto.KickUserMessage
		pkt.ReadData(&msg)
		s.KickUser(msg.UserID)
	case proto.MT_CHAT:
		var msg proto.ChatMessage
		pkt.ReadData(&msg)
		s.HandleChatFromCoordinator(&msg)
	case proto.MT_UPDATE_MAP_USER:
		var msg proto.UpdateMapUserMessage
		pkt.ReadData(&msg)
		s.ApplyUpdateMapUser(&msg)
	case proto.MT_UPDATE_PARTY_MEMBER:
		var msg proto.UpdateSocialMemberMessage
		pkt.ReadData(&msg)
		s.ApplyUpdatePartyMember(&msg)
	case proto.MT_UPDATE_PARTY:
		var msg proto.UpdatePartyMessage
		pkt.ReadData(&msg)
		s.ApplyUpdateParty(&msg)
	case proto.MT_UPDATE_GUILD_MEMBER:
		var msg proto.UpdateSocialMemberMessage
		pkt.ReadData(&msg)
		s.ApplyUpdateGuildMember(&msg)
	case proto.MT_UPDATE_GUILD:
		var msg proto.UpdateGuildMessage
		pkt.ReadData(&msg)
		s.ApplyUpdateGuild(&msg)
	case proto.MT_NOTIFY_PEER_INFO:
		var pi proto.PeerInfo
		pkt.ReadData(&pi)
		s.setPeer(pi)
	case proto.MT_NOTIFY_PEER_REMOVED:
		var pi proto.PeerInfo
		pkt.ReadData(&pi)
		s.removePeer(pi)
	default:
		gwlog.TraceError("%s: unknown msgtype %s from coordinator", s, msgtype)
	}
}

func (s *ShardService) reply(reqID uint32, err error, msg interface{}) {
	if rerr := s.cluster.Reply(reqID, err, msg); rerr != nil {
		gwlog.Warnf("%s: reply %d failed: %s", s, reqID, rerr)
	}
}

// RunMap turns an allocate-only shard into the server of the requested map or
// instance. A shard which already runs a map, or which was provisioned for
// another map, rejects the request and stays as it is.
func (s *ShardService) RunMap(ctx context.Context, req *proto.RunMapRequest) error {
	s.mu.Lock()
	if !s.allocateOnly.Load() {
		s.mu.Unlock()
		return ErrNotAllocatable
	}
	if req.MapName != s.peerInfo.MapName {
		provisioned := s.peerInfo.MapName
		s.mu.Unlock()
		return errors.Wrapf(ErrMapMismatch, "requested %s, provisioned %s", req.MapName, provisioned)
	}

	s.peerInfo.ChannelID = req.ChannelID
	s.peerInfo.InstanceID = req.InstanceID
	if req.InstanceID != "" {
		s.peerInfo.Kind = proto.InstanceMapServer
		s.peerInfo.RefID = req.InstanceID
		s.despawns.SetDelay(0)
	} else {
		s.peerInfo.Kind = proto.MapServer
		s.peerInfo.RefID = req.MapName
	}
	if req.HasWarpPosition {
		pos := req.WarpPosition
		s.warpPosition = &pos
	}
	s.lastSessionTime = time.Now()
	s.allocateOnly.Store(false)
	s.mu.Unlock()

	gwlog.Infof("%s: running map %s", s, s.PeerInfo())
	go gwutils.RunPanicless(func() {
		if err := s.LoadWorld(s.ctx); err != nil {
			gwlog.Errorf("%s: load world failed: %s", s, err)
		}
	})
	if err := s.register(ctx); err != nil {
		// the reply carries the new identity anyway
		gwlog.Warnf("%s: register after run map failed: %s", s, err)
	}
	return nil
}

// RequestInstance asks the coordinator for the shard serving the instance in
// the channel of this shard. An idle shard is activated if none serves it yet.
func (s *ShardService) RequestInstance(ctx context.Context, mapName string, instanceID string) (proto.PeerInfo, error) {
	var pi proto.PeerInfo
	req := proto.RequestInstanceRequest{
		MapName:    mapName,
		ChannelID:  s.PeerInfo().ChannelID,
		InstanceID: instanceID,
	}
	if err := s.cluster.Call(ctx, proto.MT_REQUEST_INSTANCE, &req, &pi); err != nil {
		return pi, err
	}
	s.setPeer(pi)
	return pi, nil
}

// ForceDespawnCharacter removes the character right now because it entered
// another shard. Any live session of the character is kicked first.
func (s *ShardService) ForceDespawnCharacter(ctx context.Context, characterID string) error {
	if session, ok := s.sessions.LookupByCharacter(characterID); ok {
		gwlog.Infof("%s: %s entered another shard, kicking %s", s, characterID, session.ConnectionID)
		s.clients.Kick(session.ConnectionID, proto.KickByCoordinator)
		s.OnDisconnect(session.ConnectionID)
	}
	return s.despawns.ForceDespawn(ctx, characterID)
}
