package shard

import (
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/proto"
	"github.com/xiaonanln/mapshard/engine/social"
)

// Social update handlers apply one replicated mutation to the cached aggregates
// and notify the resident members. They are idempotent: applying an update
// which does not change the aggregate sends nothing.

// PublishSocialUpdate applies a mutation made on this shard, then replicates it
// to the other shards
func (s *ShardService) PublishSocialUpdate(msgtype proto.MsgType, msg interface{}) {
	switch m := msg.(type) {
	case *proto.UpdateMapUserMessage:
		s.ApplyUpdateMapUser(m)
	case *proto.UpdateSocialMemberMessage:
		if msgtype == proto.MT_UPDATE_PARTY_MEMBER {
			s.ApplyUpdatePartyMember(m)
		} else {
			s.ApplyUpdateGuildMember(m)
		}
	case *proto.UpdatePartyMessage:
		s.ApplyUpdateParty(m)
	case *proto.UpdateGuildMessage:
		s.ApplyUpdateGuild(m)
	default:
		gwlog.TraceError("%s: %T is not a social update", s, msg)
		return
	}
	s.sendCluster(msgtype, msg)
}

// residents returns the connections of the members playing on this shard
func (s *ShardService) residents(members []social.Character, except string) []common.ConnectionID {
	var conns []common.ConnectionID
	for _, c := range members {
		if c.ID == except {
			continue
		}
		if conn, ok := s.connectionOf(c.ID); ok {
			conns = append(conns, conn)
		}
	}
	return conns
}

func (s *ShardService) notify(conns []common.ConnectionID, msgtype proto.MsgType, msg interface{}) {
	for _, conn := range conns {
		s.clients.Send(conn, msgtype, msg)
	}
}

// ApplyUpdateMapUser replicates the presence of a character playing on another shard
func (s *ShardService) ApplyUpdateMapUser(msg *proto.UpdateMapUserMessage) {
	socialUpdatesTotal.WithLabelValues("map_user").Inc()
	c := msg.Character
	switch msg.Type {
	case proto.UpdateMapUserAdd:
		s.socialCache.Track(c)
	case proto.UpdateMapUserRemove:
		s.socialCache.Untrack(c.ID)
	case proto.UpdateMapUserOnline:
		if !s.socialCache.MarkOnline(c) {
			return
		}
		if c.PartyID != 0 {
			s.socialCache.UpdateParty(c.PartyID, func(p *social.Party) bool {
				return p.IsMember(c.ID) && p.UpdateMember(c)
			})
		}
		if c.GuildID != 0 {
			s.socialCache.UpdateGuild(c.GuildID, func(g *social.Guild) bool {
				return g.IsMember(c.ID) && g.UpdateMember(c)
			})
		}
	default:
		gwlog.Warnf("%s: unknown map user update %d", s, msg.Type)
	}
}

// ApplyUpdatePartyMember replicates a party roster change
func (s *ShardService) ApplyUpdatePartyMember(msg *proto.UpdateSocialMemberMessage) {
	socialUpdatesTotal.WithLabelValues("party_member").Inc()
	c := msg.Character
	switch msg.Type {
	case proto.UpdateMemberAdd:
		if pc := s.characters.Get(c.ID); pc != nil {
			pc.SetPartyID(msg.ID)
		}
		party, changed, ok := s.socialCache.UpdateParty(msg.ID, func(p *social.Party) bool {
			return p.AddMember(c)
		})
		if !ok || !changed {
			return
		}
		if conn, ok := s.connectionOf(c.ID); ok {
			s.clients.Send(conn, proto.MT_PARTY_ON_CLIENT, party)
		}
		s.notify(s.residents(party.MemberList(), c.ID), proto.MT_PARTY_MEMBER_ON_CLIENT, msg)
	case proto.UpdateMemberRemove:
		if pc := s.characters.Get(c.ID); pc != nil && pc.PartyID() == msg.ID {
			pc.SetPartyID(0)
		}
		party, changed, ok := s.socialCache.UpdateParty(msg.ID, func(p *social.Party) bool {
			return p.RemoveMember(c.ID)
		})
		if !ok || !changed {
			return
		}
		conns := s.residents(party.MemberList(), "")
		if conn, ok := s.connectionOf(c.ID); ok {
			conns = append(conns, conn)
		}
		s.notify(conns, proto.MT_PARTY_MEMBER_ON_CLIENT, msg)
	default:
		gwlog.Warnf("%s: unknown party member update %d", s, msg.Type)
	}
}

// ApplyUpdateParty replicates a party mutation
func (s *ShardService) ApplyUpdateParty(msg *proto.UpdatePartyMessage) {
	socialUpdatesTotal.WithLabelValues("party").Inc()
	if msg.Type == proto.UpdatePartyTerminate {
		party, ok := s.socialCache.RemoveParty(msg.ID)
		if !ok {
			return
		}
		for _, c := range party.MemberList() {
			if pc := s.characters.Get(c.ID); pc != nil && pc.PartyID() == msg.ID {
				pc.SetPartyID(0)
			}
		}
		s.notify(s.residents(party.MemberList(), ""), proto.MT_PARTY_UPDATE_ON_CLIENT, msg)
		return
	}

	party, changed, ok := s.socialCache.UpdateParty(msg.ID, func(p *social.Party) bool {
		switch msg.Type {
		case proto.UpdatePartyChangeLeader:
			return p.IsMember(msg.CharacterID) && p.SetLeader(msg.CharacterID)
		case proto.UpdatePartySetting:
			return p.Setting(msg.ShareExp, msg.ShareItem)
		}
		gwlog.Warnf("%s: unknown party update %d", s, msg.Type)
		return false
	})
	if !ok || !changed {
		return
	}
	s.notify(s.residents(party.MemberList(), ""), proto.MT_PARTY_UPDATE_ON_CLIENT, msg)
}

// ApplyUpdateGuildMember replicates a guild roster change
func (s *ShardService) ApplyUpdateGuildMember(msg *proto.UpdateSocialMemberMessage) {
	socialUpdatesTotal.WithLabelValues("guild_member").Inc()
	c := msg.Character
	switch msg.Type {
	case proto.UpdateMemberAdd:
		guild, changed, ok := s.socialCache.UpdateGuild(msg.ID, func(g *social.Guild) bool {
			return g.AddMember(c)
		})
		if pc := s.characters.Get(c.ID); pc != nil {
			role := c.GuildRole
			if ok {
				role = guild.MemberRole(c.ID)
			}
			pc.SetGuild(msg.ID, role)
		}
		if !ok || !changed {
			return
		}
		if conn, ok := s.connectionOf(c.ID); ok {
			s.clients.Send(conn, proto.MT_GUILD_ON_CLIENT, guild)
		}
		s.notify(s.residents(guild.MemberList(), c.ID), proto.MT_GUILD_MEMBER_ON_CLIENT, msg)
	case proto.UpdateMemberRemove:
		if pc := s.characters.Get(c.ID); pc != nil && pc.GuildID() == msg.ID {
			pc.SetGuild(0, 0)
		}
		guild, changed, ok := s.socialCache.UpdateGuild(msg.ID, func(g *social.Guild) bool {
			return g.RemoveMember(c.ID)
		})
		if !ok || !changed {
			return
		}
		conns := s.residents(guild.MemberList(), "")
		if conn, ok := s.connectionOf(c.ID); ok {
			conns = append(conns, conn)
		}
		s.notify(conns, proto.MT_GUILD_MEMBER_ON_CLIENT, msg)
	default:
		gwlog.Warnf("%s: unknown guild member update %d", s, msg.Type)
	}
}

// ApplyUpdateGuild replicates a guild mutation
func (s *ShardService) ApplyUpdateGuild(msg *proto.UpdateGuildMessage) {
	socialUpdatesTotal.WithLabelValues("guild").Inc()
	if msg.Type == proto.UpdateGuildTerminate {
		guild, ok := s.socialCache.RemoveGuild(msg.ID)
		if !ok {
			return
		}
		for _, c := range guild.MemberList() {
			if pc := s.characters.Get(c.ID); pc != nil && pc.GuildID() == msg.ID {
				pc.SetGuild(0, 0)
			}
		}
		s.notify(s.residents(guild.MemberList(), ""), proto.MT_GUILD_UPDATE_ON_CLIENT, msg)
		return
	}

	guild, changed, ok := s.socialCache.UpdateGuild(msg.ID, func(g *social.Guild) bool {
		return applyGuildUpdate(g, msg)
	})
	if !ok || !changed {
		return
	}
	if msg.Type == proto.UpdateGuildChangeLeader || msg.Type == proto.UpdateGuildSetGuildMemberRole {
		// roles of resident members live on their entities too
		for _, c := range guild.MemberList() {
			if pc := s.characters.Get(c.ID); pc != nil {
				pc.SetGuild(guild.ID, guild.MemberRole(c.ID))
			}
		}
	}
	s.notify(s.residents(guild.MemberList(), ""), proto.MT_GUILD_UPDATE_ON_CLIENT, msg)
}

func applyGuildUpdate(g *social.Guild, msg *proto.UpdateGuildMessage) bool {
	switch msg.Type {
	case proto.UpdateGuildChangeLeader:
		return g.IsMember(msg.CharacterID) && g.SetLeader(msg.CharacterID)
	case proto.UpdateGuildSetGuildMessage:
		return g.SetGuildMessage(msg.Text)
	case proto.UpdateGuildSetGuildMessage2:
		return g.SetGuildMessage2(msg.Text)
	case proto.UpdateGuildSetGuildRole:
		return g.SetRole(msg.Role, msg.RoleData)
	case proto.UpdateGuildSetGuildMemberRole:
		return g.SetMemberRole(msg.CharacterID, msg.Role)
	case proto.UpdateGuildSetSkillLevel:
		return g.SetSkillLevel(msg.SkillID, msg.Level)
	case proto.UpdateGuildSetGold:
		return g.SetGold(msg.Value)
	case proto.UpdateGuildSetScore:
		return g.SetScore(msg.Value)
	case proto.UpdateGuildSetOptions:
		return g.SetOptions(msg.Text)
	case proto.UpdateGuildSetAutoAcceptRequests:
		return g.SetAutoAcceptRequests(msg.Flag)
	case proto.UpdateGuildSetRank:
		return g.SetRank(msg.Value)
	case proto.UpdateGuildLevelExpSkillPoint:
		return g.SetLevelExpSkillPoint(msg.Level, msg.Exp, msg.SkillPoint)
	}
	gwlog.Warnf("unknown guild update %s", msg.Type)
	return false
}
