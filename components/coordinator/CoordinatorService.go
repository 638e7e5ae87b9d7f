package coordinator

import (
	"container/heap"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/gwutils"
	"github.com/xiaonanln/mapshard/engine/netutil"
	"github.com/xiaonanln/mapshard/engine/proto"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrKeyInUse is returned when another shard already serves the (channel, reference) key
	ErrKeyInUse = errors.New("key served by another shard")
	// ErrNoIdleShard is returned when no allocate-only shard can run the requested map
	ErrNoIdleShard = errors.New("no idle shard")
)

type characterLoc struct {
	shard  *ShardProxy
	userID string
}

// CoordinatorService tracks the shards of the cluster and where characters play
type CoordinatorService struct {
	sync.RWMutex

	ctx         context.Context
	nextProxyID int64
	shards      map[*ShardProxy]struct{}
	// shards serving a map or an instance, by PeerInfo.Key
	keyShards map[string]*ShardProxy
	// allocate-only shards, by the map they are provisioned for
	idleShards    map[string]*lbheap
	characterLocs map[string]characterLoc

	instanceAllocs singleflight.Group
}

// NewCoordinatorService creates the service, ctx bounds the requests it issues to shards
func NewCoordinatorService(ctx context.Context) *CoordinatorService {
	return &CoordinatorService{
		ctx:           ctx,
		shards:        map[*ShardProxy]struct{}{},
		keyShards:     map[string]*ShardProxy{},
		idleShards:    map[string]*lbheap{},
		characterLocs: map[string]characterLoc{},
	}
}

func (cs *CoordinatorService) String() string {
	return "CoordinatorService"
}

// ServeTCPConnection serves one shard until it disconnects
func (cs *CoordinatorService) ServeTCPConnection(conn net.Conn) {
	sp := newShardProxy(cs, conn, atomic.AddInt64(&cs.nextProxyID, 1))
	cs.Lock()
	cs.shards[sp] = struct{}{}
	cs.Unlock()
	shardsGauge.Inc()
	sp.serve()
}

// ShardCount returns the number of connected shards
func (cs *CoordinatorService) ShardCount() int {
	cs.RLock()
	defer cs.RUnlock()
	return len(cs.shards)
}

// Peers returns the registered shards which serve a map or an instance
func (cs *CoordinatorService) Peers() []proto.PeerInfo {
	cs.RLock()
	defer cs.RUnlock()
	peers := make([]proto.PeerInfo, 0, len(cs.keyShards))
	for _, sp := range cs.keyShards {
		peers = append(peers, sp.peerInfo)
	}
	return peers
}

// IdleShardCount returns the number of allocate-only shards provisioned for the map
func (cs *CoordinatorService) IdleShardCount(mapName string) int {
	cs.RLock()
	defer cs.RUnlock()
	if h := cs.idleShards[mapName]; h != nil {
		return h.Len()
	}
	return 0
}

// CharacterShard returns the address of the shard the character plays on
func (cs *CoordinatorService) CharacterShard(characterID string) (string, bool) {
	cs.RLock()
	defer cs.RUnlock()
	loc, ok := cs.characterLocs[characterID]
	if !ok {
		return "", false
	}
	return loc.shard.peerInfo.Address, true
}

func (cs *CoordinatorService) handleRegisterShard(sp *ShardProxy, reqID uint32, pi proto.PeerInfo) {
	if err := pi.Validate(); err != nil {
		gwlog.Warnf("%s: %s register failed: %s", cs, sp, err)
		sp.reply(reqID, err, &pi)
		return
	}

	cs.Lock()
	if pi.Kind != proto.AllocateMapServer {
		if other, ok := cs.keyShards[pi.Key()]; ok && other != sp {
			cs.Unlock()
			err := errors.Wrapf(ErrKeyInUse, "%s by %s", pi.Key(), other.peerInfo.Address)
			gwlog.Warnf("%s: %s register failed: %s", cs, sp, err)
			sp.reply(reqID, err, &pi)
			return
		}
	}

	old, wasServing := sp.peerInfo, sp.registered && sp.peerInfo.Kind != proto.AllocateMapServer
	if wasServing && old.Key() != pi.Key() && cs.keyShards[old.Key()] == sp {
		delete(cs.keyShards, old.Key())
	}
	cs.removeIdleLocked(sp)
	sp.peerInfo = pi
	sp.registered = true
	if pi.Kind == proto.AllocateMapServer {
		h := cs.idleShards[pi.MapName]
		if h == nil {
			h = &lbheap{}
			cs.idleShards[pi.MapName] = h
		}
		sp.lbentry = &lbheapentry{proxy: sp, load: sp.load}
		heap.Push(h, sp.lbentry)
	} else {
		cs.keyShards[pi.Key()] = sp
	}

	var peers []proto.PeerInfo
	var others []*ShardProxy
	for other := range cs.shards {
		if other == sp || !other.registered {
			continue
		}
		others = append(others, other)
		if other.peerInfo.Kind != proto.AllocateMapServer {
			peers = append(peers, other.peerInfo)
		}
	}
	cs.Unlock()

	gwlog.Infof("%s: %s registered as %s", cs, sp, pi)
	registersTotal.WithLabelValues(pi.Kind.String()).Inc()
	sp.reply(reqID, nil, &pi)
	for i := range peers {
		sp.send(proto.MT_NOTIFY_PEER_INFO, &peers[i])
	}
	if pi.Kind == proto.AllocateMapServer {
		return
	}
	if wasServing && old.Key() != pi.Key() {
		cs.broadcast(others, proto.MT_NOTIFY_PEER_REMOVED, &old)
	}
	cs.broadcast(others, proto.MT_NOTIFY_PEER_INFO, &pi)
}

func (cs *CoordinatorService) removeIdleLocked(sp *ShardProxy) {
	if sp.lbentry == nil {
		return
	}
	if h := cs.idleShards[sp.peerInfo.MapName]; h != nil && sp.lbentry.heapidx >= 0 {
		heap.Remove(h, sp.lbentry.heapidx)
		h.validateHeapIndexes()
	}
	sp.lbentry = nil
}

func (cs *CoordinatorService) handleShardDisconnect(sp *ShardProxy) {
	cs.Lock()
	delete(cs.shards, sp)
	cs.removeIdleLocked(sp)
	pi, serving := sp.peerInfo, sp.registered && sp.peerInfo.Kind != proto.AllocateMapServer
	if serving && cs.keyShards[pi.Key()] == sp {
		delete(cs.keyShards, pi.Key())
	}
	sp.registered = false
	dropped := 0
	for cid, loc := range cs.characterLocs {
		if loc.shard == sp {
			delete(cs.characterLocs, cid)
			dropped++
		}
	}
	others := cs.registeredShardsLocked(sp)
	cs.Unlock()

	shardsGauge.Dec()
	charactersGauge.Sub(float64(dropped))
	gwlog.Warnf("%s: %s disconnected, %d characters dropped", cs, sp, dropped)
	if serving {
		cs.broadcast(others, proto.MT_NOTIFY_PEER_REMOVED, &pi)
	}
}

func (cs *CoordinatorService) registeredShardsLocked(except *ShardProxy) []*ShardProxy {
	shards := make([]*ShardProxy, 0, len(cs.shards))
	for sp := range cs.shards {
		if sp != except && sp.registered {
			shards = append(shards, sp)
		}
	}
	return shards
}

func (cs *CoordinatorService) broadcast(shards []*ShardProxy, msgtype proto.MsgType, msg interface{}) {
	for _, sp := range shards {
		sp.send(msgtype, msg)
	}
}

// relay forwards the packet as it is to every other registered shard
func (cs *CoordinatorService) relay(from *ShardProxy, msgtype proto.MsgType, pkt *netutil.Packet) {
	cs.RLock()
	others := cs.registeredShardsLocked(from)
	cs.RUnlock()

	relayedTotal.WithLabelValues(msgtype.String()).Inc()
	for _, sp := range others {
		pkt.AddRefCount(1)
		if err := sp.SendPacketRelease(pkt); err != nil {
			gwlog.Warnf("%s: relay %s to %s failed: %s", cs, msgtype, sp, err)
		}
	}
}

// handleUpdateMapUser tracks where the character plays. A character showing up
// on a new shard is despawned from the old one right away. A Remove from a
// shard which no longer holds the character is stale and not relayed.
func (cs *CoordinatorService) handleUpdateMapUser(sp *ShardProxy, pkt *netutil.Packet, msg *proto.UpdateMapUserMessage) {
	cid := msg.Character.ID
	var previous *ShardProxy

	cs.Lock()
	loc, tracked := cs.characterLocs[cid]
	switch msg.Type {
	case proto.UpdateMapUserAdd:
		if tracked && loc.shard != sp {
			previous = loc.shard
		}
		cs.characterLocs[cid] = characterLoc{shard: sp, userID: msg.Character.UserID}
		if !tracked {
			charactersGauge.Inc()
		}
	case proto.UpdateMapUserRemove:
		if tracked && loc.shard != sp {
			cs.Unlock()
			gwlog.Debugf("%s: ignore stale remove of %s from %s", cs, cid, sp)
			return
		}
		if tracked {
			delete(cs.characterLocs, cid)
			charactersGauge.Dec()
		}
	}
	cs.Unlock()

	if previous != nil {
		gwlog.Infof("%s: %s moved from %s to %s", cs, cid, previous, sp)
		go gwutils.RunPanicless(func() {
			cs.forceDespawn(previous, cid)
		})
	}
	cs.relay(sp, proto.MT_UPDATE_MAP_USER, pkt)
}

func (cs *CoordinatorService) forceDespawn(sp *ShardProxy, characterID string) {
	ctx, cancel := context.WithTimeout(cs.ctx, consts.CLUSTER_REQUEST_TIMEOUT)
	defer cancel()
	err := sp.call(ctx, proto.MT_FORCE_DESPAWN_CHARACTER, &proto.ForceDespawnRequest{CharacterID: characterID}, nil)
	forceDespawnsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		gwlog.Warnf("%s: force despawn %s on %s failed: %s", cs, characterID, sp, err)
	}
}

func (cs *CoordinatorService) handleShardLoadInfo(sp *ShardProxy, info proto.ShardLoadInfo) {
	cs.Lock()
	defer cs.Unlock()
	sp.load = info
	if sp.lbentry != nil && sp.lbentry.heapidx >= 0 {
		sp.lbentry.load = info
		if h := cs.idleShards[sp.peerInfo.MapName]; h != nil {
			heap.Fix(h, sp.lbentry.heapidx)
		}
	}
}

func (cs *CoordinatorService) handleRequestInstance(sp *ShardProxy, reqID uint32, req *proto.RequestInstanceRequest) {
	go gwutils.RunPanicless(func() {
		pi, err := cs.RequestInstance(cs.ctx, req)
		if err != nil {
			gwlog.Warnf("%s: %s requested instance %s/%s: %s", cs, sp, req.MapName, req.InstanceID, err)
		}
		sp.reply(reqID, err, &pi)
	})
}

// RequestInstance returns the shard serving the instance. If there is none, the
// least loaded idle shard of the map is asked to run it. Concurrent requests for
// one instance share the same activation.
func (cs *CoordinatorService) RequestInstance(ctx context.Context, req *proto.RequestInstanceRequest) (proto.PeerInfo, error) {
	key := req.ChannelID + "$" + req.InstanceID
	v, err, _ := cs.instanceAllocs.Do(key, func() (interface{}, error) {
		return cs.runMap(ctx, key, &proto.RunMapRequest{
			MapName:    req.MapName,
			ChannelID:  req.ChannelID,
			InstanceID: req.InstanceID,
		})
	})
	if err != nil {
		return proto.PeerInfo{}, err
	}
	return v.(proto.PeerInfo), nil
}

func (cs *CoordinatorService) runMap(ctx context.Context, key string, req *proto.RunMapRequest) (proto.PeerInfo, error) {
	cs.Lock()
	if sp, ok := cs.keyShards[key]; ok {
		pi := sp.peerInfo
		cs.Unlock()
		return pi, nil
	}
	h := cs.idleShards[req.MapName]
	if h == nil || h.Len() == 0 {
		cs.Unlock()
		return proto.PeerInfo{}, errors.Wrap(ErrNoIdleShard, req.MapName)
	}
	entry := heap.Pop(h).(*lbheapentry)
	target := entry.proxy
	target.lbentry = nil
	cs.Unlock()

	gwlog.Infof("%s: running %s on %s (cpu %.1f%%)", cs, key, target, entry.load.CPUPercent)
	var pi proto.PeerInfo
	err := target.call(ctx, proto.MT_RUN_MAP_REQUEST, req, &pi)
	runMapsTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		cs.Lock()
		if _, ok := cs.shards[target]; ok && target.registered && target.peerInfo.Kind == proto.AllocateMapServer && target.lbentry == nil {
			target.lbentry = &lbheapentry{proxy: target, load: target.load}
			heap.Push(h, target.lbentry)
		}
		cs.Unlock()
		return pi, err
	}
	return pi, nil
}

// KickUser kicks the user from the shard it plays on, or from every shard if unknown
func (cs *CoordinatorService) KickUser(userID string) {
	cs.RLock()
	var target *ShardProxy
	for _, loc := range cs.characterLocs {
		if loc.userID == userID {
			target = loc.shard
			break
		}
	}
	shards := cs.registeredShardsLocked(nil)
	cs.RUnlock()

	msg := &proto.KickUserMessage{UserID: userID}
	if target != nil {
		target.send(proto.MT_KICK_USER, msg)
		return
	}
	cs.broadcast(shards, proto.MT_KICK_USER, msg)
}

// SendSystemChat sends a system chat line to every shard
func (cs *CoordinatorService) SendSystemChat(message string) {
	cs.RLock()
	shards := cs.registeredShardsLocked(nil)
	cs.RUnlock()
	cs.broadcast(shards, proto.MT_CHAT, &proto.ChatMessage{
		Channel:      proto.ChatSystem,
		Message:      message,
		SentByServer: true,
	})
}

// Terminate closes all shard connections
func (cs *CoordinatorService) Terminate() {
	cs.RLock()
	shards := make([]*ShardProxy, 0, len(cs.shards))
	for sp := range cs.shards {
		shards = append(shards, sp)
	}
	cs.RUnlock()
	for _, sp := range shards {
		sp.Close()
	}
}

func (cs *CoordinatorService) dump() string {
	cs.RLock()
	defer cs.RUnlock()
	idle := 0
	for _, h := range cs.idleShards {
		idle += h.Len()
	}
	return fmt.Sprintf("%d shards, %d serving, %d idle, %d characters", len(cs.shards), len(cs.keyShards), idle, len(cs.characterLocs))
}
