package shard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	timer "github.com/xiaonanln/goTimer"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/config"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/gwutils"
	"github.com/xiaonanln/mapshard/engine/netutil"
	"github.com/xiaonanln/mapshard/engine/proto"
	"github.com/xiaonanln/mapshard/engine/social"
	"github.com/xiaonanln/mapshard/engine/storage"
	"github.com/xiaonanln/mapshard/engine/world"
)

const (
	rsNotRunning = iota
	rsRunning
	rsTerminating
	rsTerminated
)

// Location is a place on a map
type Location struct {
	MapName  string
	Position world.Vector3
}

// Building is a building spawned on this shard
type Building struct {
	Entity world.BuildingEntity
	Data   *storage.BuildingData
}

// StorageID returns the id of the storage container owned by the building
func (b *Building) StorageID() common.StorageID {
	return common.StorageID{Kind: common.BuildingStorage, OwnerID: b.Data.ID}
}

// ShardService hosts one map (or instance) of one channel. It admits client
// connections, keeps their characters alive across short disconnects and
// replicates social state with the other shards through the coordinator.
type ShardService struct {
	id          uint16
	cfg         *config.ShardConfig
	persistence storage.Persistence
	world       world.World
	cluster     Cluster
	clients     Clients

	sessions    *SessionRegistry
	characters  *CharacterIndex
	despawns    *DespawnScheduler
	socialCache *SocialCache
	storages    *StorageLoadCoordinator

	registered   xnsyncutil.AtomicBool
	worldLoaded  xnsyncutil.AtomicBool
	allocateOnly xnsyncutil.AtomicBool
	runState     xnsyncutil.AtomicInt
	terminated   *xnsyncutil.OneTimeCond
	autoSaving   atomic.Bool

	mu                     sync.RWMutex
	peerInfo               proto.PeerInfo
	warpPosition           *world.Vector3
	buildings              map[string]*Building
	peers                  map[string]proto.PeerInfo
	locationBeforeInstance map[string]Location
	lastSessionTime        time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewShardService creates the shard service of the config section shardN
func NewShardService(id uint16, cfg *config.ShardConfig, persistence storage.Persistence, w world.World) *ShardService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &ShardService{
		id:                     id,
		cfg:                    cfg,
		persistence:            persistence,
		world:                  w,
		sessions:               NewSessionRegistry(),
		characters:             NewCharacterIndex(),
		socialCache:            NewSocialCache(),
		storages:               NewStorageLoadCoordinator(persistence),
		terminated:             xnsyncutil.NewOneTimeCond(),
		buildings:              map[string]*Building{},
		peers:                  map[string]proto.PeerInfo{},
		locationBeforeInstance: map[string]Location{},
		lastSessionTime:        time.Now(),
		ctx:                    ctx,
		cancel:                 cancel,
	}
	s.despawns = NewDespawnScheduler(cfg.DespawnDelay, s.saveCharacter, s.destroyCharacter)
	s.peerInfo = peerInfoOf(cfg)
	s.allocateOnly.Store(cfg.Allocate)
	return s
}

func peerInfoOf(cfg *config.ShardConfig) proto.PeerInfo {
	addr := cfg.MachineAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	pi := proto.PeerInfo{
		Address:    addr,
		ChannelID:  cfg.ChannelID,
		MapName:    cfg.MapName,
		InstanceID: cfg.InstanceID,
	}
	switch {
	case cfg.Allocate:
		pi.Kind = proto.AllocateMapServer
	case cfg.IsInstance():
		pi.Kind = proto.InstanceMapServer
		pi.RefID = cfg.InstanceID
	default:
		pi.Kind = proto.MapServer
		pi.RefID = cfg.MapName
	}
	return pi
}

func (s *ShardService) String() string {
	return fmt.Sprintf("ShardService<%d>", s.id)
}

// SetCluster sets the coordinator channel
func (s *ShardService) SetCluster(cluster Cluster) {
	s.cluster = cluster
}

// SetClients sets the client delivery
func (s *ShardService) SetClients(clients Clients) {
	s.clients = clients
}

// PeerInfo returns the current identity of the shard
func (s *ShardService) PeerInfo() proto.PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerInfo
}

func (s *ShardService) isInstance() bool {
	return s.PeerInfo().Kind == proto.InstanceMapServer
}

// IsReady returns if the shard admits players
func (s *ShardService) IsReady() bool {
	return s.registered.Load() && s.worldLoaded.Load() && !s.allocateOnly.Load() && s.cluster != nil && s.cluster.IsConnected()
}

// IsAllocateOnly returns if the shard still waits for a RunMap request
func (s *ShardService) IsAllocateOnly() bool {
	return s.allocateOnly.Load()
}

// IsRegistered returns if the coordinator acknowledged the shard
func (s *ShardService) IsRegistered() bool {
	return s.registered.Load()
}

// IsWorldLoaded returns if the buildings of the map are spawned
func (s *ShardService) IsWorldLoaded() bool {
	return s.worldLoaded.Load()
}

// Sessions returns the session registry
func (s *ShardService) Sessions() *SessionRegistry {
	return s.sessions
}

// Characters returns the spawned player characters
func (s *ShardService) Characters() *CharacterIndex {
	return s.characters
}

// Despawns returns the despawn scheduler
func (s *ShardService) Despawns() *DespawnScheduler {
	return s.despawns
}

// SocialCache returns the replicated social state
func (s *ShardService) SocialCache() *SocialCache {
	return s.socialCache
}

// Storages returns the storage load coordinator
func (s *ShardService) Storages() *StorageLoadCoordinator {
	return s.storages
}

// PeerAddress returns the address of the shard serving refID on the channel
func (s *ShardService) PeerAddress(channelID string, refID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pi, ok := s.peers[channelID+"$"+refID]
	return pi.Address, ok
}

func (s *ShardService) setPeer(pi proto.PeerInfo) {
	if err := pi.Validate(); err != nil {
		gwlog.Warnf("%s: ignore peer: %s", s, err)
		return
	}
	s.mu.Lock()
	s.peers[pi.Key()] = pi
	s.mu.Unlock()
	gwlog.Debugf("%s: peer %s", s, pi)
}

func (s *ShardService) removePeer(pi proto.PeerInfo) {
	s.mu.Lock()
	if cur, ok := s.peers[pi.Key()]; ok && cur.Address == pi.Address {
		delete(s.peers, pi.Key())
	}
	s.mu.Unlock()
}

// Run runs the shard routine until ctx is done or the shard terminates itself
func (s *ShardService) Run(ctx context.Context) {
	s.runState.Store(rsRunning)
	gwlog.Infof("%s: running as %s", s, s.PeerInfo())

	if s.cfg.AutoSaveInterval > 0 {
		timer.AddTimer(s.cfg.AutoSaveInterval, func() {
			go gwutils.RunPanicless(func() {
				s.AutoSave(s.ctx)
			})
		})
	}
	if s.cfg.StorageFlushInterval > 0 {
		timer.AddTimer(s.cfg.StorageFlushInterval, func() {
			go gwutils.RunPanicless(func() {
				s.storages.FlushPendingSaves(s.ctx)
			})
		})
	}

	ticker := time.NewTicker(consts.SHARD_SERVICE_TICK_INTERVAL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Terminate()
		case <-ticker.C:
		}

		if s.runState.Load() == rsTerminating {
			s.doTerminate()
			return
		}
		s.OnTick()
	}
}

// OnTick runs timers and checks if an empty instance should terminate
func (s *ShardService) OnTick() {
	timer.Tick()
	if s.isInstance() && s.instanceExpired(time.Now()) {
		gwlog.Infof("%s: instance without players for %s, terminating", s, s.cfg.TerminateInstanceDelay)
		s.Terminate()
	}
}

func (s *ShardService) instanceExpired(now time.Time) bool {
	if s.sessions.Count() > 0 {
		s.touchSessionTime(now)
		return false
	}
	s.mu.RLock()
	idle := now.Sub(s.lastSessionTime)
	s.mu.RUnlock()
	return idle >= s.cfg.TerminateInstanceDelay
}

func (s *ShardService) touchSessionTime(now time.Time) {
	s.mu.Lock()
	s.lastSessionTime = now
	s.mu.Unlock()
}

// Terminate asks the shard routine to quit
func (s *ShardService) Terminate() {
	if s.runState.Load() == rsRunning {
		s.runState.Store(rsTerminating)
	}
}

// WaitTerminated returns when the shard routine has quit
func (s *ShardService) WaitTerminated() {
	s.terminated.Wait()
}

func (s *ShardService) doTerminate() {
	gwlog.Infof("%s: terminating ...", s)
	ctx, cancel := context.WithTimeout(context.Background(), consts.SHUTDOWN_SAVE_TIMEOUT)
	s.ProceedBeforeQuit(ctx)
	cancel()
	s.cancel()
	s.runState.Store(rsTerminated)
	s.terminated.Signal()
	gwlog.Infof("%s: terminated", s)
}

// ProceedBeforeQuit kicks every client, saves all characters and buildings,
// finishes pending despawns and flushes pending storage saves
func (s *ShardService) ProceedBeforeQuit(ctx context.Context) {
	for _, session := range s.sessions.List() {
		if s.clients != nil {
			s.clients.Kick(session.ConnectionID, proto.KickShutdown)
		}
		s.OnDisconnect(session.ConnectionID)
	}
	s.despawns.FinalizeAll(ctx)
	s.saveAll(ctx, true)
	for s.storages.PendingSaveCount() > 0 && ctx.Err() == nil {
		if s.storages.FlushPendingSaves(ctx) == 0 {
			time.Sleep(consts.SAVE_RETRY_INTERVAL)
		}
	}
}

// AutoSave saves characters with a session, and buildings unless this is an instance
func (s *ShardService) AutoSave(ctx context.Context) {
	if s.allocateOnly.Load() {
		return
	}
	if !s.autoSaving.CompareAndSwap(false, true) {
		gwlog.Warnf("%s: previous auto save is still running", s)
		return
	}
	defer s.autoSaving.Store(false)
	s.saveAll(ctx, !s.isInstance())
}

func (s *ShardService) saveAll(ctx context.Context, withBuildings bool) {
	for _, session := range s.sessions.List() {
		pc := s.characters.Get(session.CharacterID)
		if pc == nil {
			continue
		}
		if err := s.saveCharacter(ctx, pc); err != nil {
			gwlog.Errorf("%s: save %s failed: %s", s, pc, err)
		}
	}
	if !withBuildings {
		return
	}
	for _, b := range s.Buildings() {
		if err := s.saveBuilding(ctx, b); err != nil {
			gwlog.Errorf("%s: save building %s failed: %s", s, b.Data.ID, err)
		}
		if b.Entity.HasStorage() {
			if err := s.storages.Save(ctx, b.StorageID()); err != nil && !errors.Is(err, ErrStorageLoading) && !errors.Is(err, ErrStorageBusy) {
				gwlog.Errorf("%s: save %s failed: %s", s, b.StorageID(), err)
			}
		}
	}
}

// Buildings returns the spawned buildings
func (s *ShardService) Buildings() []*Building {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buildings := make([]*Building, 0, len(s.buildings))
	for _, b := range s.buildings {
		buildings = append(buildings, b)
	}
	return buildings
}

func (s *ShardService) saveBuilding(ctx context.Context, b *Building) error {
	pi := s.PeerInfo()
	return s.persistence.UpdateBuilding(ctx, pi.ChannelID, pi.MapName, b.Data)
}

// saveCharacter persists the character, an instance visitor is saved at the
// location it had before entering
func (s *ShardService) saveCharacter(ctx context.Context, pc *PlayerCharacter) error {
	data := pc.SaveData()
	s.mu.RLock()
	loc, ok := s.locationBeforeInstance[data.ID]
	s.mu.RUnlock()
	if ok {
		data.MapName = loc.MapName
		data.Position = loc.Position
	}
	if consts.DEBUG_SAVE_LOAD {
		gwlog.Debugf("%s: saving %s at %s %v", s, pc, data.MapName, data.Position)
	}
	return s.persistence.UpdateCharacter(ctx, data)
}

// destroyCharacter removes the character from the world and releases what it holds
func (s *ShardService) destroyCharacter(pc *PlayerCharacter) {
	if !s.characters.Remove(pc) {
		gwlog.Warnf("%s: destroying %s which is not indexed", s, pc)
	}
	s.world.DestroyEntity(pc.Entity)
	s.mu.Lock()
	delete(s.locationBeforeInstance, pc.ID())
	s.mu.Unlock()

	id := common.StorageID{Kind: common.PlayerStorage, OwnerID: pc.Entity.UserID()}
	ctx, cancel := context.WithTimeout(context.Background(), consts.DESPAWN_SAVE_TIMEOUT)
	defer cancel()
	if err := s.storages.Release(ctx, id); err != nil {
		gwlog.Errorf("%s: release %s failed: %s", s, id, err)
	}
	gwlog.Debugf("%s: %s destroyed", s, pc)
}

// OnConnect is called when a client connects
func (s *ShardService) OnConnect(conn common.ConnectionID) {
	if consts.DEBUG_CLIENTS {
		gwlog.Debugf("%s: client %s connected", s, conn)
	}
}

// OnDisconnect unregisters the session of the connection and schedules the
// despawn of its character. Calling it again for the same connection is a no-op.
func (s *ShardService) OnDisconnect(conn common.ConnectionID) {
	session, ok := s.sessions.Unregister(conn)
	if !ok {
		return
	}
	sessionsGauge.Set(float64(s.sessions.Count()))
	s.touchSessionTime(time.Now())
	if consts.DEBUG_CLIENTS {
		gwlog.Debugf("%s: %s disconnected", s, session)
	}

	pc := s.characters.Get(session.CharacterID)
	if s.socialCache.Untrack(session.CharacterID) {
		c := social.Character{ID: session.CharacterID, UserID: session.UserID}
		if pc != nil {
			c = pc.Snapshot()
		}
		s.sendCluster(proto.MT_UPDATE_MAP_USER, &proto.UpdateMapUserMessage{Type: proto.UpdateMapUserRemove, Character: c})
	}
	if pc == nil || pc.Entity.OwnerConnection() != conn {
		return
	}
	pc.Entity.SetOwnerConnection("")
	s.despawns.Schedule(pc)
}

// OnMessage handles a message from a client
func (s *ShardService) OnMessage(conn common.ConnectionID, msgtype proto.MsgType, pkt *netutil.Packet) {
	switch msgtype {
	case proto.MT_ENTER_GAME_FROM_CLIENT:
		var req proto.EnterGameRequest
		pkt.ReadData(&req)
		s.handleEnterGame(conn, &req)
	case proto.MT_CHAT_FROM_CLIENT:
		var msg proto.ChatMessage
		pkt.ReadData(&msg)
		s.HandleChatFromClient(conn, &msg)
	case proto.MT_HEARTBEAT_FROM_CLIENT:
	default:
		gwlog.TraceError("%s: unknown msgtype %s from %s", s, msgtype, conn)
	}
}

func (s *ShardService) handleEnterGame(conn common.ConnectionID, req *proto.EnterGameRequest) {
	go gwutils.RunPanicless(func() {
		ctx, cancel := context.WithTimeout(s.ctx, consts.ADMISSION_TIMEOUT)
		defer cancel()
		if err := s.Admit(ctx, conn, req.UserID, req.AccessToken, req.CharacterID); err != nil {
			gwlog.Warnf("%s: admission of %s (user %s, character %s) failed: %s", s, conn, req.UserID, req.CharacterID, err)
			s.clients.Send(conn, proto.MT_ENTER_GAME_RESULT_ON_CLIENT, &proto.EnterGameResult{Error: err.Error()})
			s.clients.Kick(conn, kickReasonOf(err))
		}
	})
}

// KickUser kicks the connection of the user
func (s *ShardService) KickUser(userID string) bool {
	session, ok := s.sessions.LookupByUser(userID)
	if !ok {
		return false
	}
	gwlog.Infof("%s: kicking %s", s, session)
	s.clients.Kick(session.ConnectionID, proto.KickByCoordinator)
	s.OnDisconnect(session.ConnectionID)
	return true
}

func (s *ShardService) sendCluster(msgtype proto.MsgType, msg interface{}) {
	if s.cluster == nil {
		return
	}
	if err := s.cluster.Send(msgtype, msg); err != nil {
		// re-announced after reconnecting
		gwlog.Warnf("%s: send %s to coordinator failed: %s", s, msgtype, err)
	}
}

func (s *ShardService) connectionOf(characterID string) (common.ConnectionID, bool) {
	session, ok := s.sessions.LookupByCharacter(characterID)
	return session.ConnectionID, ok
}
