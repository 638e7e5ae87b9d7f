package shard

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/opmon"
	"github.com/xiaonanln/mapshard/engine/storage"
	"github.com/xiaonanln/mapshard/engine/world"
	"golang.org/x/sync/errgroup"
)

// LoadWorld spawns the buildings of the map and loads their storages. Reading
// the buildings is retried until it succeeds, the shard is not ready before.
func (s *ShardService) LoadWorld(ctx context.Context) error {
	op := opmon.StartOperation("shard.LoadWorld")
	defer op.Finish(time.Second * 10)

	pi := s.PeerInfo()
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = consts.WORLD_LOAD_RETRY_MAX_INTERVAL
	buildings, err := backoff.Retry(ctx, func() ([]*storage.BuildingData, error) {
		return s.persistence.ReadBuildings(ctx, pi.ChannelID, pi.MapName)
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0), backoff.WithNotify(func(err error, d time.Duration) {
		gwlog.Warnf("%s: read buildings of %s failed: %s, retry in %s", s, pi.MapName, err, d)
	}))
	if err != nil {
		return errors.Wrap(err, "read buildings")
	}

	var spawned []*Building
	for _, data := range buildings {
		bld, err := s.spawnBuilding(data)
		if err != nil {
			gwlog.Errorf("%s: spawn building %s failed: %s", s, data.ID, err)
			continue
		}
		spawned = append(spawned, bld)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, bld := range spawned {
		if !bld.Entity.HasStorage() {
			continue
		}
		id := bld.StorageID()
		g.Go(func() error {
			sb := backoff.NewExponentialBackOff()
			sb.MaxInterval = consts.WORLD_LOAD_RETRY_MAX_INTERVAL
			_, err := backoff.Retry(gctx, func() (struct{}, error) {
				_, err := s.storages.Load(gctx, id)
				return struct{}{}, err
			}, backoff.WithBackOff(sb), backoff.WithMaxElapsedTime(0))
			return errors.Wrapf(err, "load %s", id)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.worldLoaded.Store(true)
	gwlog.Infof("%s: world loaded, %d buildings", s, len(spawned))
	return nil
}

func (s *ShardService) spawnBuilding(data *storage.BuildingData) (*Building, error) {
	entity, err := s.world.SpawnBuilding(data.ID, world.BuildingSpawnData{
		BuildingID: data.ID,
		DataID:     data.DataID,
		Position:   data.Position,
		Rotation:   data.Rotation,
		HasStorage: data.HasStorage,
	})
	if err != nil {
		return nil, err
	}
	bld := &Building{Entity: entity, Data: data}
	s.mu.Lock()
	s.buildings[data.ID] = bld
	s.mu.Unlock()
	return bld, nil
}
