package shard

import (
	"context"
	"sync"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/storage"
)

// StoragePersistence is the part of storage.Persistence used for storage containers
type StoragePersistence interface {
	ReadStorageItems(ctx context.Context, id common.StorageID) ([]storage.StorageItem, error)
	UpdateStorageItems(ctx context.Context, id common.StorageID, items []storage.StorageItem) error
}

// StorageLoadCoordinator makes sure a storage container is never loaded twice at the
// same time and that a load and a save of it never overlap. Saves which can not be
// issued are queued and flushed by FlushPendingSaves.
type StorageLoadCoordinator struct {
	persistence StoragePersistence

	mu           sync.Mutex
	loading      map[common.StorageID]struct{}
	saving       map[common.StorageID]struct{}
	items        map[common.StorageID][]storage.StorageItem
	// bumped by every Load, so Release keeps items claimed while it was saving
	claims       map[common.StorageID]uint64
	pendingSaves *queue.Queue
	pendingSet   map[common.StorageID]struct{}
}

func NewStorageLoadCoordinator(persistence StoragePersistence) *StorageLoadCoordinator {
	return &StorageLoadCoordinator{
		persistence:  persistence,
		loading:      map[common.StorageID]struct{}{},
		saving:       map[common.StorageID]struct{}{},
		items:        map[common.StorageID][]storage.StorageItem{},
		claims:       map[common.StorageID]uint64{},
		pendingSaves: queue.New(),
		pendingSet:   map[common.StorageID]struct{}{},
	}
}

// BeginLoad marks the storage as loading. It returns false and does nothing if a
// load or a save of the same storage is in flight.
func (slc *StorageLoadCoordinator) BeginLoad(id common.StorageID) bool {
	slc.mu.Lock()
	defer slc.mu.Unlock()
	return slc.beginLoadLocked(id) == nil
}

func (slc *StorageLoadCoordinator) beginLoadLocked(id common.StorageID) error {
	if _, ok := slc.loading[id]; ok {
		return ErrStorageLoading
	}
	if _, ok := slc.saving[id]; ok {
		return ErrStorageBusy
	}
	slc.loading[id] = struct{}{}
	loadingStoragesGauge.Set(float64(len(slc.loading)))
	return nil
}

// EndLoad clears the loading mark of the storage
func (slc *StorageLoadCoordinator) EndLoad(id common.StorageID) {
	slc.mu.Lock()
	delete(slc.loading, id)
	loadingStoragesGauge.Set(float64(len(slc.loading)))
	slc.mu.Unlock()
}

// IsLoading returns if a load of the storage is in flight
func (slc *StorageLoadCoordinator) IsLoading(id common.StorageID) bool {
	slc.mu.Lock()
	defer slc.mu.Unlock()
	_, ok := slc.loading[id]
	return ok
}

// Load returns the storage items, reading and caching them unless they are cached
// already. It fails with ErrStorageLoading if the storage is being loaded by
// somebody else, and with ErrStorageBusy if it is being saved.
func (slc *StorageLoadCoordinator) Load(ctx context.Context, id common.StorageID) ([]storage.StorageItem, error) {
	slc.mu.Lock()
	slc.claims[id]++
	if items, ok := slc.items[id]; ok {
		slc.mu.Unlock()
		return append([]storage.StorageItem(nil), items...), nil
	}
	err := slc.beginLoadLocked(id)
	slc.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer slc.EndLoad(id)

	items, err := slc.persistence.ReadStorageItems(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "load storage %s", id)
	}

	slc.mu.Lock()
	slc.items[id] = items
	slc.mu.Unlock()
	if consts.DEBUG_SAVE_LOAD {
		gwlog.Debugf("storage %s loaded: %d items", id, len(items))
	}
	return items, nil
}

// Items returns the cached items of a loaded storage
func (slc *StorageLoadCoordinator) Items(id common.StorageID) ([]storage.StorageItem, bool) {
	slc.mu.Lock()
	defer slc.mu.Unlock()
	items, ok := slc.items[id]
	if !ok {
		return nil, false
	}
	return append([]storage.StorageItem(nil), items...), true
}

// IsLoaded returns if the storage items are cached
func (slc *StorageLoadCoordinator) IsLoaded(id common.StorageID) bool {
	slc.mu.Lock()
	defer slc.mu.Unlock()
	_, ok := slc.items[id]
	return ok
}

// SetItems replaces the cached items of a loaded storage and marks it dirty
func (slc *StorageLoadCoordinator) SetItems(id common.StorageID, items []storage.StorageItem) error {
	slc.mu.Lock()
	if _, ok := slc.items[id]; !ok {
		slc.mu.Unlock()
		return errors.Errorf("storage %s not loaded", id)
	}
	slc.items[id] = append([]storage.StorageItem(nil), items...)
	slc.mu.Unlock()
	slc.MarkDirty(id)
	return nil
}

// MarkDirty queues a save of the storage for the next flush
func (slc *StorageLoadCoordinator) MarkDirty(id common.StorageID) {
	slc.mu.Lock()
	defer slc.mu.Unlock()
	slc.markDirtyLocked(id)
}

func (slc *StorageLoadCoordinator) markDirtyLocked(id common.StorageID) {
	if _, ok := slc.pendingSet[id]; ok {
		return
	}
	slc.pendingSet[id] = struct{}{}
	slc.pendingSaves.Add(id)
	pendingStorageSavesGauge.Set(float64(len(slc.pendingSet)))
}

// Save writes the cached items of the storage. A storage which is loading or
// already saving is not written, it is queued for the next flush instead.
func (slc *StorageLoadCoordinator) Save(ctx context.Context, id common.StorageID) error {
	slc.mu.Lock()
	if _, ok := slc.loading[id]; ok {
		slc.markDirtyLocked(id)
		slc.mu.Unlock()
		return ErrStorageLoading
	}
	if _, ok := slc.saving[id]; ok {
		slc.markDirtyLocked(id)
		slc.mu.Unlock()
		return ErrStorageBusy
	}
	items, ok := slc.items[id]
	if !ok {
		slc.mu.Unlock()
		return nil
	}
	slc.saving[id] = struct{}{}
	items = append([]storage.StorageItem(nil), items...)
	slc.mu.Unlock()

	err := slc.persistence.UpdateStorageItems(ctx, id, items)

	slc.mu.Lock()
	delete(slc.saving, id)
	if err != nil {
		slc.markDirtyLocked(id)
	}
	slc.mu.Unlock()
	return errors.Wrapf(err, "save storage %s", id)
}

// Release saves the storage and drops its cached items. Items loaded again while
// the save was running stay cached.
func (slc *StorageLoadCoordinator) Release(ctx context.Context, id common.StorageID) error {
	slc.mu.Lock()
	claim := slc.claims[id]
	slc.mu.Unlock()

	err := slc.Save(ctx, id)

	slc.mu.Lock()
	_, dirty := slc.pendingSet[id]
	_, loading := slc.loading[id]
	if !dirty && !loading && slc.claims[id] == claim {
		delete(slc.items, id)
		delete(slc.claims, id)
	}
	slc.mu.Unlock()
	return err
}

// FlushPendingSaves tries every queued save once and returns the number of storages written.
// Saves that still can not be issued stay queued.
func (slc *StorageLoadCoordinator) FlushPendingSaves(ctx context.Context) int {
	slc.mu.Lock()
	n := slc.pendingSaves.Length()
	ids := make([]common.StorageID, 0, n)
	for i := 0; i < n; i++ {
		id := slc.pendingSaves.Remove().(common.StorageID)
		delete(slc.pendingSet, id)
		ids = append(ids, id)
	}
	pendingStorageSavesGauge.Set(float64(len(slc.pendingSet)))
	slc.mu.Unlock()

	flushed := 0
	for _, id := range ids {
		err := slc.Save(ctx, id)
		if err == nil {
			flushed++
		} else if !errors.Is(err, ErrStorageLoading) && !errors.Is(err, ErrStorageBusy) {
			gwlog.Errorf("flush storage %s failed: %s", id, err)
		}
	}
	return flushed
}

// LoadingCount returns the number of loads in flight
func (slc *StorageLoadCoordinator) LoadingCount() int {
	slc.mu.Lock()
	defer slc.mu.Unlock()
	return len(slc.loading)
}

// PendingSaveCount returns the number of queued saves
func (slc *StorageLoadCoordinator) PendingSaveCount() int {
	slc.mu.Lock()
	defer slc.mu.Unlock()
	return len(slc.pendingSet)
}
