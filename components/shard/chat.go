package shard

import (
	"context"
	"strings"

	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/gwutils"
	"github.com/xiaonanln/mapshard/engine/proto"
)

const mutedMessage = "You are muted."

// HandleChatFromClient routes a chat line typed by a player on this shard
func (s *ShardService) HandleChatFromClient(conn common.ConnectionID, msg *proto.ChatMessage) {
	session, ok := s.sessions.Lookup(conn)
	if !ok {
		return
	}
	pc := s.characters.Get(session.CharacterID)
	if pc == nil {
		return
	}
	if pc.Entity.IsMuting() {
		s.clients.Send(conn, proto.MT_SYSTEM_MESSAGE_ON_CLIENT, &proto.SystemMessage{Message: mutedMessage})
		return
	}

	msg.SenderName = pc.DisplayName()
	msg.SenderUserID = session.UserID
	msg.SenderAccessToken = ""
	msg.SentByServer = false
	msg.PartyID = pc.PartyID()
	msg.GuildID = pc.GuildID()
	isGM := pc.Entity.UserLevel() >= s.cfg.GMLevel

	switch msg.Channel {
	case proto.ChatLocal:
		if msg.IsCommand() && isGM {
			s.runCommand(msg)
			// other shards check the privilege with the token
			msg.SenderAccessToken = session.AccessToken
			s.sendCluster(proto.MT_CHAT, msg)
			return
		}
		s.deliverToAll(msg)
	case proto.ChatSystem:
		if !isGM {
			gwlog.Warnf("%s: %s may not send system messages", s, pc)
			return
		}
		s.deliverChat(msg)
		s.sendCluster(proto.MT_CHAT, msg)
	default:
		s.deliverChat(msg)
		s.sendCluster(proto.MT_CHAT, msg)
	}
}

// SendSystemMessage announces a message to every player of the cluster
func (s *ShardService) SendSystemMessage(message string) {
	msg := &proto.ChatMessage{Channel: proto.ChatSystem, Message: message, SentByServer: true}
	s.deliverChat(msg)
	s.sendCluster(proto.MT_CHAT, msg)
}

// HandleChatFromCoordinator delivers a chat line relayed from another shard.
// A local-channel line is only ever a GM command, run once the sender's
// privilege is confirmed.
func (s *ShardService) HandleChatFromCoordinator(msg *proto.ChatMessage) {
	if msg.Channel != proto.ChatLocal {
		s.deliverChat(msg)
		return
	}
	if !msg.IsCommand() {
		return
	}
	if msg.SentByServer {
		s.runCommand(msg)
		return
	}
	go gwutils.RunPanicless(func() {
		ctx, cancel := context.WithTimeout(s.ctx, consts.CLUSTER_REQUEST_TIMEOUT)
		defer cancel()
		level, err := s.persistence.GetUserLevel(ctx, msg.SenderUserID, msg.SenderAccessToken)
		if err != nil {
			gwlog.Errorf("%s: verify command sender %s failed: %s", s, msg.SenderUserID, err)
			return
		}
		if level < s.cfg.GMLevel {
			gwlog.Warnf("%s: drop command of %s (user %s): not a GM", s, msg.SenderName, msg.SenderUserID)
			return
		}
		s.runCommand(msg)
	})
}

// runCommand runs a GM command: /kick <name> or /notice <text>
func (s *ShardService) runCommand(msg *proto.ChatMessage) {
	fields := strings.Fields(msg.Message[1:])
	if len(fields) == 0 {
		return
	}
	gwlog.Infof("%s: command %q by %s", s, msg.Message, msg.SenderName)
	switch strings.ToLower(fields[0]) {
	case "kick":
		if len(fields) < 2 {
			return
		}
		if pc := s.characterByName(fields[1]); pc != nil {
			s.KickUser(pc.Entity.UserID())
		}
	case "notice":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(msg.Message[1:]), fields[0]))
		s.deliverToAll(&proto.ChatMessage{Channel: proto.ChatSystem, Message: text, SentByServer: true})
	default:
		gwlog.Warnf("%s: unknown command %q", s, fields[0])
	}
}

func (s *ShardService) characterByName(name string) *PlayerCharacter {
	for _, session := range s.sessions.List() {
		if pc := s.characters.Get(session.CharacterID); pc != nil && pc.DisplayName() == name {
			return pc
		}
	}
	return nil
}

// deliverChat sends a non-local chat line to its recipients playing on this shard
func (s *ShardService) deliverChat(msg *proto.ChatMessage) {
	switch msg.Channel {
	case proto.ChatGlobal, proto.ChatSystem:
		s.deliverToAll(msg)
	case proto.ChatParty:
		s.deliverWhere(msg, func(pc *PlayerCharacter) bool {
			return msg.PartyID != 0 && pc.PartyID() == msg.PartyID
		})
	case proto.ChatGuild:
		s.deliverWhere(msg, func(pc *PlayerCharacter) bool {
			return msg.GuildID != 0 && pc.GuildID() == msg.GuildID
		})
	case proto.ChatWhisper:
		s.deliverWhere(msg, func(pc *PlayerCharacter) bool {
			return pc.DisplayName() == msg.ReceiverName
		})
	}
}

func (s *ShardService) deliverToAll(msg *proto.ChatMessage) {
	s.deliverWhere(msg, func(*PlayerCharacter) bool { return true })
}

func (s *ShardService) deliverWhere(msg *proto.ChatMessage, match func(pc *PlayerCharacter) bool) {
	out := *msg
	out.SenderUserID = ""
	out.SenderAccessToken = ""
	for _, session := range s.sessions.List() {
		pc := s.characters.Get(session.CharacterID)
		if pc == nil || !match(pc) {
			continue
		}
		s.clients.Send(session.ConnectionID, proto.MT_CHAT_ON_CLIENT, &out)
	}
}
