package shard

import (
	"context"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/storage"
)

func TestLoadWorld(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.worldLoaded.Store(false)
	ts.persistence.buildings = []*storage.BuildingData{
		{ID: "b1", DataID: 1, HasStorage: true},
		{ID: "b2", DataID: 2},
	}
	chest := common.StorageID{Kind: common.BuildingStorage, OwnerID: "b1"}
	ts.persistence.items[chest] = []storage.StorageItem{{DataID: 9, Amount: 1}}
	ts.persistence.readBuildingsFail = 1

	assert.T(t, !ts.IsReady())
	assert.Equal(t, nil, ts.LoadWorld(context.Background()))
	assert.T(t, ts.IsWorldLoaded())
	assert.T(t, ts.IsReady())
	assert.Equal(t, 2, len(ts.Buildings()))
	assert.T(t, ts.Storages().IsLoaded(chest))
	assert.T(t, ts.world.GetEntity("b1") != nil)

	ts.AutoSave(context.Background())
	assert.Equal(t, 1, ts.persistence.buildingSaves["b1"])
	assert.Equal(t, 1, ts.persistence.buildingSaves["b2"])
	assert.Equal(t, 1, ts.persistence.storageSaves[chest])
}

func TestLoadWorldGivesUp(t *testing.T) {
	ts := newTestShard(t, nil)
	ts.worldLoaded.Store(false)
	ts.persistence.readBuildingsFail = 1000

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*200)
	defer cancel()
	assert.T(t, ts.LoadWorld(ctx) != nil)
	assert.T(t, !ts.IsWorldLoaded())
	assert.T(t, !ts.IsReady())
}

func TestInstanceAutoSaveSkipsBuildings(t *testing.T) {
	cfg := testShardConfig()
	cfg.InstanceID = "inst1"
	ts := newTestShard(t, cfg)
	ts.persistence.buildings = []*storage.BuildingData{{ID: "b1"}}
	assert.Equal(t, nil, ts.LoadWorld(context.Background()))

	ts.AutoSave(context.Background())
	assert.Equal(t, 0, ts.persistence.buildingSaves["b1"])
}

func TestAllocateOnlySkipsAutoSave(t *testing.T) {
	cfg := testShardConfig()
	cfg.Allocate = true
	ts := newTestShard(t, cfg)
	ts.persistence.buildings = []*storage.BuildingData{{ID: "b1"}}
	ts.AutoSave(context.Background())
	assert.Equal(t, 0, ts.persistence.buildingSaves["b1"])
}
