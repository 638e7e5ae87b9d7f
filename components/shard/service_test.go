package shard

import (
	"context"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/coordinatorclient"
	"github.com/xiaonanln/mapshard/engine/proto"
	"github.com/xiaonanln/mapshard/engine/world"
)

func (ts *testShard) entity(characterID string) *world.MemoryCharacter {
	pc := ts.Characters().Get(characterID)
	if pc == nil {
		return nil
	}
	return pc.Entity.(*world.MemoryCharacter)
}

func TestAdmitSuccess(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")

	conn, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, ts.Sessions().Count())
	assert.Equal(t, 1, ts.spawnedCharacters())

	session, ok := ts.Sessions().LookupByCharacter("ch1")
	assert.T(t, ok)
	assert.Equal(t, conn, session.ConnectionID)

	mc := ts.entity("ch1")
	assert.Equal(t, conn, mc.OwnerConnection())
	assert.Equal(t, 100, mc.Gold())
	assert.Equal(t, 10, mc.Cash())
	assert.T(t, ts.Storages().IsLoaded(common.StorageID{Kind: common.PlayerStorage, OwnerID: "u1"}))

	assert.Equal(t, 1, ts.clients.count(conn, proto.MT_ENTER_GAME_RESULT_ON_CLIENT))
	assert.Equal(t, "", ts.clients.last(conn, proto.MT_ENTER_GAME_RESULT_ON_CLIENT).(*proto.EnterGameResult).Error)
	assert.Equal(t, 1, ts.cluster.mapUserUpdates(proto.UpdateMapUserAdd, "ch1"))
	assert.Equal(t, 1, ts.cluster.mapUserUpdates(proto.UpdateMapUserOnline, "ch1"))
	assert.T(t, ts.SocialCache().IsTracked("ch1"))
}

func TestAdmitRejected(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")

	conn := ts.clients.connect()
	err := ts.Admit(context.Background(), conn, "u1", "bad-token", "ch1")
	assert.Equal(t, ErrInvalidToken, err)
	assert.Equal(t, proto.KickInvalidToken, kickReasonOf(err))

	_, err = ts.enter(t, "u2", "ch2")
	assert.Equal(t, ErrInvalidToken, err, "unknown user")

	ts.persistence.addCharacter("u3", "ch3", "carol")
	delete(ts.persistence.characters, "ch3")
	_, err = ts.enter(t, "u3", "ch3")
	assert.Equal(t, ErrCharacterMissing, err)

	ts.persistence.addCharacter("u4", "ch4", "dave")
	ts.persistence.failReadCharacter = true
	_, err = ts.enter(t, "u4", "ch4")
	assert.T(t, errors.Is(err, errFakeIO))
	assert.Equal(t, proto.KickLoadFailed, kickReasonOf(err))

	assert.Equal(t, 0, ts.Sessions().Count())
	assert.Equal(t, 0, ts.spawnedCharacters())
}

func TestAdmitNotReady(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")

	ts.registered.Store(false)
	_, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, ErrNotReady, err)

	ts.registered.Store(true)
	ts.cluster.setConnected(false)
	_, err = ts.enter(t, "u1", "ch1")
	assert.Equal(t, ErrNotReady, err, "coordinator connection lost")

	ts.cluster.setConnected(true)
	_, err = ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)
}

func TestAdmitDuplicate(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")
	_, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)

	_, err = ts.enter(t, "u1", "ch1")
	assert.Equal(t, ErrAlreadyRegistered, err)
	assert.Equal(t, 1, ts.Sessions().Count())
	assert.Equal(t, 1, ts.spawnedCharacters())
}

func TestAdmitConcurrentDuplicate(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")
	ts.persistence.readStorageDelay = time.Millisecond * 30

	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			_, err := ts.enter(t, "u1", "ch1")
			errs <- err
		}()
	}
	admitted := 0
	for i := 0; i < 5; i++ {
		if err := <-errs; err == nil {
			admitted++
		} else {
			assert.Equal(t, ErrAlreadyRegistered, err)
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, ts.Sessions().Count())
	assert.Equal(t, 1, ts.spawnedCharacters())
}

func TestAdmitConnectionLost(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")
	ts.persistence.readStorageDelay = time.Millisecond * 100

	conn := ts.clients.connect()
	errc := make(chan error, 1)
	go func() {
		errc <- ts.Admit(context.Background(), conn, "u1", "token-u1", "ch1")
	}()
	assert.T(t, waitFor(t, time.Second, func() bool { return ts.Characters().Get("ch1") != nil }))

	// the client leaves while its storage is loading
	ts.clients.disconnect(conn)
	ts.OnDisconnect(conn)

	assert.Equal(t, ErrConnectionLost, <-errc)
	assert.Equal(t, 0, ts.Sessions().Count())
	assert.T(t, waitFor(t, time.Second, func() bool { return ts.spawnedCharacters() == 0 }))
	assert.T(t, ts.Characters().Get("ch1") == nil)
	assert.Equal(t, 0, ts.cluster.mapUserUpdates(proto.UpdateMapUserAdd, "ch1"))
}

func TestDisconnectThenReclaim(t *testing.T) {
	cfg := testShardConfig()
	cfg.DespawnDelay = time.Millisecond * 200
	ts := newTestShard(t, cfg)
	ts.persistence.addCharacter("u1", "ch1", "alice")

	conn, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)
	first := ts.entity("ch1")

	ts.clients.disconnect(conn)
	ts.OnDisconnect(conn)
	ts.OnDisconnect(conn)
	assert.Equal(t, 1, ts.persistence.saves("ch1"), "saved on disconnect")
	assert.Equal(t, 1, ts.cluster.mapUserUpdates(proto.UpdateMapUserRemove, "ch1"))
	assert.T(t, ts.Despawns().IsPending("ch1"))
	assert.T(t, first.OwnerConnection().IsNil())

	conn2, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)
	assert.T(t, !ts.Despawns().IsPending("ch1"))
	assert.T(t, first == ts.entity("ch1"), "the lingering entity is reused")
	assert.Equal(t, conn2, first.OwnerConnection())

	time.Sleep(cfg.DespawnDelay + time.Millisecond*50)
	spawns, destroys := ts.world.Counts()
	assert.Equal(t, 1, spawns)
	assert.Equal(t, 0, destroys)
	assert.Equal(t, 1, ts.persistence.saves("ch1"))
}

func TestReclaimRollbackSaves(t *testing.T) {
	cfg := testShardConfig()
	cfg.DespawnDelay = time.Second * 10
	ts := newTestShard(t, cfg)
	ts.persistence.addCharacter("u1", "ch1", "alice")

	conn, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)
	ts.clients.disconnect(conn)
	ts.OnDisconnect(conn)
	assert.Equal(t, 1, ts.persistence.saves("ch1"))
	assert.T(t, ts.Despawns().IsPending("ch1"))

	// the reconnecting client is gone again before admission completes
	gone := common.GenConnectionID()
	assert.Equal(t, ErrConnectionLost, ts.Admit(context.Background(), gone, "u1", "token-u1", "ch1"))

	assert.Equal(t, 2, ts.persistence.saves("ch1"), "saved before destroy")
	assert.T(t, !ts.Despawns().IsPending("ch1"))
	_, destroys := ts.world.Counts()
	assert.Equal(t, 1, destroys)
	assert.T(t, ts.Characters().Get("ch1") == nil)
	assert.Equal(t, 0, ts.Sessions().Count())
}

func TestDisconnectThenExpire(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")

	conn, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)
	ts.clients.disconnect(conn)
	ts.OnDisconnect(conn)

	assert.T(t, waitFor(t, time.Second, func() bool {
		return ts.spawnedCharacters() == 0 && ts.Despawns().Count() == 0
	}))
	assert.Equal(t, 2, ts.persistence.saves("ch1"))
	assert.T(t, ts.Characters().Get("ch1") == nil)
	assert.T(t, !ts.Storages().IsLoaded(common.StorageID{Kind: common.PlayerStorage, OwnerID: "u1"}))

	// entering again spawns a fresh entity
	_, err = ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)
	spawns, _ := ts.world.Counts()
	assert.Equal(t, 2, spawns)
}

func TestForceDespawnCharacter(t *testing.T) {
	cfg := testShardConfig()
	cfg.DespawnDelay = time.Hour
	ts := newTestShard(t, cfg)
	ts.persistence.addCharacter("u1", "ch1", "alice")
	conn, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)

	assert.Equal(t, nil, ts.ForceDespawnCharacter(context.Background(), "ch1"))
	reason, kicked := ts.clients.kickReason(conn)
	assert.T(t, kicked)
	assert.Equal(t, proto.KickByCoordinator, reason)
	assert.Equal(t, 0, ts.Sessions().Count())
	assert.Equal(t, 0, ts.spawnedCharacters())
	assert.Equal(t, 2, ts.persistence.saves("ch1"))

	// unknown characters are already gone
	assert.Equal(t, nil, ts.ForceDespawnCharacter(context.Background(), "nobody"))
}

func TestKickUser(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")
	conn, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)

	assert.T(t, !ts.KickUser("u2"))
	assert.T(t, ts.KickUser("u1"))
	reason, _ := ts.clients.kickReason(conn)
	assert.Equal(t, proto.KickByCoordinator, reason)
	assert.Equal(t, 0, ts.Sessions().Count())
	assert.T(t, ts.Despawns().IsPending("ch1"))
}

func TestHandleEnterGameKicksOnFailure(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")
	conn := ts.clients.connect()

	ts.handleEnterGame(conn, &proto.EnterGameRequest{UserID: "u1", AccessToken: "bad", CharacterID: "ch1"})
	assert.T(t, waitFor(t, time.Second, func() bool {
		_, kicked := ts.clients.kickReason(conn)
		return kicked
	}))
	reason, _ := ts.clients.kickReason(conn)
	assert.Equal(t, proto.KickInvalidToken, reason)
	result := ts.clients.last(conn, proto.MT_ENTER_GAME_RESULT_ON_CLIENT).(*proto.EnterGameResult)
	assert.Equal(t, ErrInvalidToken.Error(), result.Error)
}

func TestRunMapMismatch(t *testing.T) {
	cfg := testShardConfig()
	cfg.Allocate = true
	ts := newTestShard(t, cfg)
	assert.T(t, ts.IsAllocateOnly())
	assert.T(t, !ts.IsReady())

	err := ts.RunMap(context.Background(), &proto.RunMapRequest{MapName: "map02", ChannelID: "ch1"})
	assert.T(t, errors.Is(err, ErrMapMismatch))
	assert.T(t, ts.IsAllocateOnly())
	assert.Equal(t, proto.AllocateMapServer, ts.PeerInfo().Kind)
	assert.Equal(t, 0, ts.cluster.callCount(proto.MT_REGISTER_SHARD))
}

func TestRunMapInstance(t *testing.T) {
	cfg := testShardConfig()
	cfg.Allocate = true
	ts := newTestShard(t, cfg)
	data := ts.persistence.addCharacter("u1", "ch1", "alice")
	data.MapName = "town"
	data.Position = world.Vector3{X: 5, Z: 5}

	warp := world.Vector3{X: 1, Y: 2, Z: 3}
	err := ts.RunMap(context.Background(), &proto.RunMapRequest{
		MapName:         "map01",
		ChannelID:       "ch2",
		InstanceID:      "inst1",
		HasWarpPosition: true,
		WarpPosition:    warp,
	})
	assert.Equal(t, nil, err)
	assert.T(t, !ts.IsAllocateOnly())
	assert.T(t, ts.IsRegistered())
	assert.Equal(t, 1, ts.cluster.callCount(proto.MT_REGISTER_SHARD))
	pi := ts.PeerInfo()
	assert.Equal(t, proto.InstanceMapServer, pi.Kind)
	assert.Equal(t, "inst1", pi.RefID)
	assert.Equal(t, "ch2", pi.ChannelID)
	assert.T(t, waitFor(t, time.Second, ts.IsReady))

	err = ts.RunMap(context.Background(), &proto.RunMapRequest{MapName: "map01", ChannelID: "ch2"})
	assert.Equal(t, ErrNotAllocatable, err)

	conn, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)
	assert.Equal(t, warp, ts.entity("ch1").Position())
	loc, ok := ts.LocationBeforeInstance("ch1")
	assert.T(t, ok)
	assert.Equal(t, Location{MapName: "town", Position: world.Vector3{X: 5, Z: 5}}, loc)

	// instances despawn right away, at the location before entering
	ts.clients.disconnect(conn)
	ts.OnDisconnect(conn)
	assert.T(t, waitFor(t, time.Second, func() bool { return ts.spawnedCharacters() == 0 }))
	saved := ts.persistence.saved("ch1")
	assert.Equal(t, "town", saved.MapName)
	assert.Equal(t, world.Vector3{X: 5, Z: 5}, saved.Position)
	_, ok = ts.LocationBeforeInstance("ch1")
	assert.T(t, !ok)
}

func TestRegister(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")
	_, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)

	ts.OnCoordinatorDisconnect()
	assert.T(t, !ts.IsRegistered())
	assert.T(t, !ts.IsReady())

	assert.Equal(t, nil, ts.register(context.Background()))
	assert.T(t, ts.IsRegistered())
	assert.Equal(t, 1, ts.cluster.callCount(proto.MT_REGISTER_SHARD))
	assert.Equal(t, 2, ts.cluster.mapUserUpdates(proto.UpdateMapUserAdd, "ch1"), "re-announced")

	ts.cluster.setConnected(false)
	ts.registered.Store(false)
	err = ts.register(context.Background())
	assert.T(t, errors.Is(err, coordinatorclient.ErrNotConnected))
	assert.T(t, !ts.IsRegistered())
}

func TestPeers(t *testing.T) {
	ts := newTestShard(t, nil)
	pi := proto.PeerInfo{Address: "10.0.0.2:14001", Kind: proto.MapServer, ChannelID: "ch1", MapName: "map02", RefID: "map02"}
	ts.setPeer(pi)
	addr, ok := ts.PeerAddress("ch1", "map02")
	assert.T(t, ok)
	assert.Equal(t, "10.0.0.2:14001", addr)

	ts.setPeer(proto.PeerInfo{Kind: proto.MapServer, ChannelID: "ch1", MapName: "map03", RefID: "map03"})
	_, ok = ts.PeerAddress("ch1", "map03")
	assert.T(t, !ok, "invalid peers are ignored")

	ts.removePeer(pi)
	_, ok = ts.PeerAddress("ch1", "map02")
	assert.T(t, !ok)
}

func TestRequestInstance(t *testing.T) {
	ts := newTestShard(t, nil)
	pi, err := ts.RequestInstance(context.Background(), "dungeon", "inst7")
	assert.Equal(t, nil, err)
	assert.Equal(t, "ch1$inst7", pi.Key())
	assert.Equal(t, 1, ts.cluster.callCount(proto.MT_REQUEST_INSTANCE))
	addr, ok := ts.PeerAddress("ch1", "inst7")
	assert.T(t, ok)
	assert.Equal(t, "instance:1", addr)

	ts.cluster.setConnected(false)
	_, err = ts.RequestInstance(context.Background(), "dungeon", "inst8")
	assert.T(t, err != nil)
}

func TestAutoSave(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.persistence.addCharacter("u1", "ch1", "alice")
	ts.persistence.addCharacter("u2", "ch2", "bob")
	_, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)
	_, err = ts.enter(t, "u2", "ch2")
	assert.Equal(t, nil, err)

	ts.AutoSave(context.Background())
	assert.Equal(t, 1, ts.persistence.saves("ch1"))
	assert.Equal(t, 1, ts.persistence.saves("ch2"))
}

func TestProceedBeforeQuit(t *testing.T) {
	cfg := testShardConfig()
	cfg.DespawnDelay = time.Hour
	ts := newTestShard(t, cfg)
	conns := map[string]common.ConnectionID{}
	for _, id := range []string{"1", "2"} {
		ts.persistence.addCharacter("u"+id, "ch"+id, "name"+id)
		conn, err := ts.enter(t, "u"+id, "ch"+id)
		assert.Equal(t, nil, err)
		conns[id] = conn
	}

	ts.ProceedBeforeQuit(context.Background())
	for id, conn := range conns {
		reason, kicked := ts.clients.kickReason(conn)
		assert.T(t, kicked)
		assert.Equal(t, proto.KickShutdown, reason)
		assert.Equal(t, 2, ts.persistence.saves("ch"+id))
	}
	assert.Equal(t, 0, ts.Sessions().Count())
	assert.Equal(t, 0, ts.Despawns().Count())
	assert.Equal(t, 0, ts.spawnedCharacters())
	assert.Equal(t, 0, ts.Storages().PendingSaveCount())
}

func TestInstanceTerminatesWhenEmpty(t *testing.T) {
	cfg := testShardConfig()
	cfg.InstanceID = "inst1"
	cfg.DespawnDelay = 0
	ts := newTestShard(t, cfg)
	assert.T(t, ts.isInstance())

	now := time.Now()
	assert.T(t, !ts.instanceExpired(now))
	assert.T(t, ts.instanceExpired(now.Add(cfg.TerminateInstanceDelay)))

	ts.persistence.addCharacter("u1", "ch1", "alice")
	_, err := ts.enter(t, "u1", "ch1")
	assert.Equal(t, nil, err)
	assert.T(t, !ts.instanceExpired(now.Add(time.Hour)), "players are still here")

	ts.KickUser("u1")
	done := make(chan struct{})
	go func() {
		ts.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatalf("empty instance did not terminate")
	}
	assert.T(t, ts.runState.Load() == rsTerminated)
	assert.Equal(t, 0, ts.spawnedCharacters())
}
