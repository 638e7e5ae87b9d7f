package shard

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/opmon"
	"github.com/xiaonanln/mapshard/engine/proto"
	"github.com/xiaonanln/mapshard/engine/storage"
	"github.com/xiaonanln/mapshard/engine/world"
)

const storageLoadPollInterval = time.Millisecond * 100

// Admit runs the enter-game pipeline of a client connection. On success the
// connection owns a session and a spawned character. On failure nothing is left
// registered or spawned for it, and the caller kicks the connection.
func (s *ShardService) Admit(ctx context.Context, conn common.ConnectionID, userID string, accessToken string, characterID string) (err error) {
	op := opmon.StartOperation("shard.Admit")
	defer op.Finish(time.Second)
	defer func() {
		admissionsTotal.WithLabelValues(admissionResult(err)).Inc()
	}()

	if !s.IsReady() {
		return ErrNotReady
	}
	if s.sessions.IsRegistered(userID, characterID) {
		return ErrAlreadyRegistered
	}
	valid, err := s.persistence.ValidateAccessToken(ctx, userID, accessToken)
	if err != nil {
		return errors.Wrap(err, "validate access token")
	}
	if !valid {
		return ErrInvalidToken
	}

	session := Session{ConnectionID: conn, UserID: userID, AccessToken: accessToken, CharacterID: characterID}
	if err := s.sessions.Admit(session); err != nil {
		return err
	}
	sessionsGauge.Set(float64(s.sessions.Count()))

	pc, err := s.enterCharacter(ctx, session)
	if err != nil {
		s.unregister(conn)
		return err
	}

	if !s.clients.IsConnected(conn) {
		s.rollbackAdmission(ctx, session, pc)
		return ErrConnectionLost
	}
	if cur, ok := s.sessions.LookupByCharacter(characterID); !ok || cur.ConnectionID != conn {
		s.rollbackAdmission(ctx, session, pc)
		return ErrNestedLogin
	}

	snapshot := pc.Snapshot()
	s.socialCache.Track(snapshot)
	s.socialCache.MarkOnline(snapshot)

	s.clients.Send(conn, proto.MT_ENTER_GAME_RESULT_ON_CLIENT, &proto.EnterGameResult{})
	if party, ok := s.socialCache.TryGetParty(snapshot.PartyID); ok {
		s.clients.Send(conn, proto.MT_PARTY_ON_CLIENT, party)
	}
	if guild, ok := s.socialCache.TryGetGuild(snapshot.GuildID); ok {
		s.clients.Send(conn, proto.MT_GUILD_ON_CLIENT, guild)
	}
	s.sendCluster(proto.MT_UPDATE_MAP_USER, &proto.UpdateMapUserMessage{Type: proto.UpdateMapUserAdd, Character: snapshot})
	s.sendCluster(proto.MT_UPDATE_MAP_USER, &proto.UpdateMapUserMessage{Type: proto.UpdateMapUserOnline, Character: snapshot})
	gwlog.Infof("%s: %s entered as %s", s, conn, pc)
	return nil
}

func (s *ShardService) unregister(conn common.ConnectionID) {
	if _, ok := s.sessions.Unregister(conn); ok {
		sessionsGauge.Set(float64(s.sessions.Count()))
	}
}

// rollbackAdmission undoes an admission whose connection is gone or whose
// character was claimed by another session. The character may have been
// reclaimed from a pending despawn, so it is saved before it is destroyed.
func (s *ShardService) rollbackAdmission(ctx context.Context, session Session, pc *PlayerCharacter) {
	s.unregister(session.ConnectionID)
	if pc.Entity.OwnerConnection() != session.ConnectionID || s.despawns.IsPending(pc.ID()) {
		// the disconnect handler or the other session owns the character now
		return
	}
	pc.Entity.SetOwnerConnection("")
	if err := s.saveCharacter(ctx, pc); err != nil {
		gwlog.Errorf("%s: save %s before rollback failed: %s", s, pc, err)
	}
	s.destroyCharacter(pc)
}

// enterCharacter binds the character to the session, reusing a lingering
// entity or loading it from persistence
func (s *ShardService) enterCharacter(ctx context.Context, session Session) (*PlayerCharacter, error) {
	if pc, ok := s.despawns.Reclaim(session.CharacterID); ok {
		pc.Entity.SetOwnerConnection(session.ConnectionID)
		gwlog.Infof("%s: %s reclaimed by %s", s, pc, session.ConnectionID)
		return pc, nil
	}
	if pc := s.characters.Get(session.CharacterID); pc != nil {
		owner := pc.Entity.OwnerConnection()
		if !owner.IsNil() && s.clients.IsConnected(owner) {
			return nil, ErrNestedLogin
		}
		pc.Entity.SetOwnerConnection(session.ConnectionID)
		return pc, nil
	}

	data, err := s.persistence.ReadCharacter(ctx, session.UserID, session.CharacterID)
	if err != nil {
		return nil, errors.Wrap(err, "read character")
	}
	if data == nil {
		return nil, ErrCharacterMissing
	}
	s.applyInstanceWarp(data)

	entity, err := s.world.SpawnCharacter(data.ID, world.CharacterSpawnData{
		UserID:      session.UserID,
		CharacterID: data.ID,
		DisplayName: data.DisplayName,
		DataID:      data.DataID,
		Level:       data.Level,
		Position:    data.Position,
		Rotation:    data.Rotation,
		Connection:  session.ConnectionID,
	})
	if err != nil {
		s.forgetLocation(data.ID)
		return nil, errors.Wrap(err, "spawn character")
	}
	pc := newPlayerCharacter(entity, data)
	if !s.characters.Add(pc) {
		s.world.DestroyEntity(entity)
		s.forgetLocation(data.ID)
		return nil, ErrNestedLogin
	}
	if err := s.loadCharacterState(ctx, session, pc); err != nil {
		s.characters.Remove(pc)
		s.world.DestroyEntity(entity)
		s.forgetLocation(data.ID)
		return nil, err
	}
	return pc, nil
}

// loadCharacterState fills the freshly spawned character with account, social,
// storage and buff state
func (s *ShardService) loadCharacterState(ctx context.Context, session Session, pc *PlayerCharacter) error {
	gold, err := s.persistence.GetGold(ctx, session.UserID)
	if err != nil {
		return errors.Wrap(err, "get gold")
	}
	pc.Entity.SetGold(gold)
	cash, err := s.persistence.GetCash(ctx, session.UserID)
	if err != nil {
		return errors.Wrap(err, "get cash")
	}
	pc.Entity.SetCash(cash)
	level, err := s.persistence.GetUserLevel(ctx, session.UserID, session.AccessToken)
	if err != nil {
		return errors.Wrap(err, "get user level")
	}
	pc.Entity.SetUserLevel(level)

	if err := s.loadParty(ctx, pc); err != nil {
		return err
	}
	if err := s.loadGuild(ctx, pc); err != nil {
		return err
	}
	if err := s.loadPlayerStorage(ctx, session.UserID); err != nil {
		return err
	}

	if !pc.Entity.IsDead() {
		buffs, err := s.persistence.GetSummonBuffs(ctx, pc.ID())
		if err != nil {
			return errors.Wrap(err, "get summon buffs")
		}
		pc.Entity.SetSummonBuffs(buffs)
	}
	return nil
}

func (s *ShardService) loadParty(ctx context.Context, pc *PlayerCharacter) error {
	partyID := pc.PartyID()
	if partyID == 0 {
		return nil
	}
	if _, ok := s.socialCache.TryGetParty(partyID); !ok {
		party, err := s.persistence.ReadParty(ctx, partyID)
		if err != nil {
			return errors.Wrapf(err, "read party %d", partyID)
		}
		if party == nil || !party.IsMember(pc.ID()) {
			gwlog.Warnf("%s: %s left party %d while offline", s, pc, partyID)
			pc.SetPartyID(0)
			return nil
		}
		s.socialCache.SetPartyIfAbsent(party)
	}
	pc.SetPartyID(partyID)
	return nil
}

func (s *ShardService) loadGuild(ctx context.Context, pc *PlayerCharacter) error {
	guildID := pc.GuildID()
	if guildID == 0 {
		return nil
	}
	guild, ok := s.socialCache.TryGetGuild(guildID)
	if !ok {
		var err error
		if guild, err = s.persistence.ReadGuild(ctx, guildID); err != nil {
			return errors.Wrapf(err, "read guild %d", guildID)
		}
		if guild == nil || !guild.IsMember(pc.ID()) {
			gwlog.Warnf("%s: %s left guild %d while offline", s, pc, guildID)
			pc.SetGuild(0, 0)
			return nil
		}
		guild = s.socialCache.SetGuildIfAbsent(guild)
	}
	pc.SetGuild(guildID, guild.MemberRole(pc.ID()))
	return nil
}

// loadPlayerStorage loads the storage of the user unless it is cached. A load
// or save in flight, like the one of a previous session, is waited for instead
// of overlapped.
func (s *ShardService) loadPlayerStorage(ctx context.Context, userID string) error {
	id := common.StorageID{Kind: common.PlayerStorage, OwnerID: userID}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := s.storages.Load(ctx, id)
		if err != nil && !errors.Is(err, ErrStorageLoading) && !errors.Is(err, ErrStorageBusy) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewConstantBackOff(storageLoadPollInterval)), backoff.WithMaxElapsedTime(0))
	return err
}

// applyInstanceWarp moves a character entering an instance to the warp
// target and remembers where it came from
func (s *ShardService) applyInstanceWarp(data *storage.CharacterData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peerInfo.Kind != proto.InstanceMapServer {
		return
	}
	if _, ok := s.locationBeforeInstance[data.ID]; !ok && data.MapName != s.peerInfo.MapName {
		s.locationBeforeInstance[data.ID] = Location{MapName: data.MapName, Position: data.Position}
	}
	data.MapName = s.peerInfo.MapName
	if s.warpPosition != nil {
		data.Position = *s.warpPosition
	}
}

// LocationBeforeInstance returns where the character was before entering this instance
func (s *ShardService) LocationBeforeInstance(characterID string) (Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locationBeforeInstance[characterID]
	return loc, ok
}

func (s *ShardService) forgetLocation(characterID string) {
	s.mu.Lock()
	delete(s.locationBeforeInstance, characterID)
	s.mu.Unlock()
}
