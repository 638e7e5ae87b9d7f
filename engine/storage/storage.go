package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/config"
	"github.com/xiaonanln/mapshard/engine/consts"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/kvdb"
	"github.com/xiaonanln/mapshard/engine/netutil"
	"github.com/xiaonanln/mapshard/engine/opmon"
	"github.com/xiaonanln/mapshard/engine/social"
	"github.com/xiaonanln/mapshard/engine/storage/backend/bolt"
	"github.com/xiaonanln/mapshard/engine/storage/backend/mongodb"
	"github.com/xiaonanln/mapshard/engine/storage/backend/redis"
	"github.com/xiaonanln/mapshard/engine/storage/storage_common"
	"github.com/xiaonanln/mapshard/engine/world"
)

const (
	_TYPE_CHARACTER    = "Character"
	_TYPE_SUMMON_BUFFS = "SummonBuffs"
	_TYPE_PARTY        = "Party"
	_TYPE_GUILD        = "Guild"
	_TYPE_STORAGE      = "Storage"
	_TYPE_BUILDING     = "Building"
)

// ErrClosed is returned for operations issued after Close
var ErrClosed = errors.New("storage closed")

// StorageOpener opens a document storage, it is called again after the storage reports EOF
type StorageOpener func() (storagecommon.DocumentStorage, error)

// Database implements Persistence upon a document storage and a KVDB.
//
// Document operations are executed one by one on the storage routine.
// Failed writes are retried until they succeed.
type Database struct {
	opener            StorageOpener
	storageEngine     storagecommon.DocumentStorage
	operationQueue    *xnsyncutil.SyncQueue
	routineTerminated *xnsyncutil.OneTimeCond
	closed            xnsyncutil.AtomicBool
	kv                *kvdb.KVDB
}

var _ Persistence = (*Database)(nil)

type storageOperation struct {
	name  string
	write bool
	fn    func(es storagecommon.DocumentStorage) error
	done  chan error
}

// Open opens the database configured by [storage] with accounts kept in kv
func Open(cfg *config.StorageConfig, kv *kvdb.KVDB) (*Database, error) {
	var opener StorageOpener
	switch cfg.Type {
	case "bolt":
		opener = func() (storagecommon.DocumentStorage, error) {
			return storagebolt.OpenBolt(cfg.Directory)
		}
	case "mongodb":
		opener = func() (storagecommon.DocumentStorage, error) {
			return storagemongodb.OpenMongoDB(cfg.Url, cfg.DB)
		}
	case "redis":
		dbindex, err := strconv.Atoi(cfg.DB)
		if err != nil {
			return nil, errors.Wrap(err, "redis db must be integer")
		}
		opener = func() (storagecommon.DocumentStorage, error) {
			return storageredis.OpenRedis(cfg.Url, dbindex)
		}
	default:
		return nil, errors.Errorf("unknown storage type: %s", cfg.Type)
	}
	return NewDatabase(opener, kv)
}

// NewDatabase opens the storage once and starts the storage routine
func NewDatabase(opener StorageOpener, kv *kvdb.KVDB) (*Database, error) {
	es, err := opener()
	if err != nil {
		return nil, errors.Wrap(err, "storage engine is not ready")
	}
	db := &Database{
		opener:            opener,
		storageEngine:     es,
		operationQueue:    xnsyncutil.NewSyncQueue(),
		routineTerminated: xnsyncutil.NewOneTimeCond(),
		kv:                kv,
	}
	go db.storageRoutine()
	return db, nil
}

// Close waits for all queued operations to finish and closes the storage
func (db *Database) Close() {
	if db.closed.Load() {
		return
	}
	db.closed.Store(true)
	db.operationQueue.Close()
	db.routineTerminated.Wait()
}

var recentWarnedQueueLen = 0

func (db *Database) checkOperationQueueLen() {
	qlen := db.operationQueue.Len()
	if qlen > consts.STORAGE_QUEUE_LEN_WARN_THRESHOLD && qlen%100 == 0 && recentWarnedQueueLen != qlen {
		gwlog.Warnf("Storage operation queue length = %d", qlen)
		recentWarnedQueueLen = qlen
	}
}

func (db *Database) execute(ctx context.Context, name string, write bool, fn func(es storagecommon.DocumentStorage) error) error {
	if db.closed.Load() {
		return ErrClosed
	}
	op := &storageOperation{name: name, write: write, fn: fn, done: make(chan error, 1)}
	db.operationQueue.Push(op)
	db.checkOperationQueueLen()

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), name)
	}
}

func (db *Database) assureStorageEngineReady() (err error) {
	if db.storageEngine != nil {
		return
	}
	db.storageEngine, err = db.opener()
	return
}

func (db *Database) storageRoutine() {
	defer func() {
		err := recover()
		if err != nil {
			gwlog.TraceError("storage routine paniced: %s, restarting ...", err)
			go db.storageRoutine() // restart the storage routine
		} else {
			// normal quit
			if db.storageEngine != nil {
				db.storageEngine.Close()
			}
			db.routineTerminated.Signal()
		}
	}()

	for {
		item := db.operationQueue.Pop()
		if item == nil { // queue closed
			break
		}
		op := item.(*storageOperation)
		op.done <- db.runOperation(op)
	}
}

func (db *Database) runOperation(op *storageOperation) error {
	monop := opmon.StartOperation("storage." + op.name)
	defer monop.Finish(consts.STORAGE_OPERATION_WARN_THRESHOLD)

	for {
		err := db.assureStorageEngineReady()
		if err == nil {
			err = op.fn(db.storageEngine)
			if err != nil && db.storageEngine.IsEOF(err) {
				db.storageEngine.Close()
				db.storageEngine = nil
			}
		}

		if err == nil || !op.write {
			return err
		}

		// always retry if write fails
		gwlog.Errorf("storage: %s failed: %s, retry after %s", op.name, err, consts.SAVE_RETRY_INTERVAL)
		if db.closed.Load() {
			return err
		}
		time.Sleep(consts.SAVE_RETRY_INTERVAL)
	}
}

func (db *Database) writeDocument(ctx context.Context, typeName string, id string, v interface{}) error {
	data, err := netutil.MSG_PACKER.PackMsg(v, nil)
	if err != nil {
		return errors.Wrapf(err, "pack %s %s", typeName, id)
	}
	if consts.DEBUG_SAVE_LOAD {
		gwlog.Debugf("storage: SAVING %s %s ...", typeName, id)
	}
	return db.execute(ctx, "write", true, func(es storagecommon.DocumentStorage) error {
		return es.Write(typeName, id, data)
	})
}

func (db *Database) readDocument(ctx context.Context, typeName string, id string, v interface{}) (found bool, err error) {
	var data []byte
	err = db.execute(ctx, "read", false, func(es storagecommon.DocumentStorage) (err error) {
		data, err = es.Read(typeName, id)
		return
	})
	if err != nil || data == nil {
		return false, err
	}
	if err = netutil.MSG_PACKER.UnpackMsg(data, v); err != nil {
		return false, errors.Wrapf(err, "unpack %s %s", typeName, id)
	}
	return true, nil
}

func (db *Database) listDocuments(ctx context.Context, typeName string) (ids []string, err error) {
	err = db.execute(ctx, "list", false, func(es storagecommon.DocumentStorage) (err error) {
		ids, err = es.List(typeName)
		return
	})
	return
}

func buildingTypeName(channelID string, mapName string) string {
	return _TYPE_BUILDING + "_" + channelID + "_" + mapName
}

// ReadCharacter reads the character, nil if it does not exist or belongs to another user
func (db *Database) ReadCharacter(ctx context.Context, userID string, characterID string) (*CharacterData, error) {
	var data CharacterData
	found, err := db.readDocument(ctx, _TYPE_CHARACTER, characterID, &data)
	if err != nil {
		return nil, errors.Wrap(err, "ReadCharacter")
	}
	if !found || data.UserID != userID {
		return nil, nil
	}
	return &data, nil
}

func (db *Database) UpdateCharacter(ctx context.Context, data *CharacterData) error {
	return errors.Wrap(db.writeDocument(ctx, _TYPE_CHARACTER, data.ID, data), "UpdateCharacter")
}

// ReadBuildings reads all buildings placed on the map of the channel
func (db *Database) ReadBuildings(ctx context.Context, channelID string, mapName string) ([]*BuildingData, error) {
	typeName := buildingTypeName(channelID, mapName)
	ids, err := db.listDocuments(ctx, typeName)
	if err != nil {
		return nil, errors.Wrap(err, "ReadBuildings")
	}
	buildings := make([]*BuildingData, 0, len(ids))
	for _, id := range ids {
		var data BuildingData
		found, err := db.readDocument(ctx, typeName, id, &data)
		if err != nil {
			return nil, errors.Wrap(err, "ReadBuildings")
		}
		if found {
			buildings = append(buildings, &data)
		}
	}
	return buildings, nil
}

func (db *Database) UpdateBuilding(ctx context.Context, channelID string, mapName string, data *BuildingData) error {
	return errors.Wrap(db.writeDocument(ctx, buildingTypeName(channelID, mapName), data.ID, data), "UpdateBuilding")
}

func (db *Database) GetSummonBuffs(ctx context.Context, characterID string) ([]world.Buff, error) {
	var buffs []world.Buff
	if _, err := db.readDocument(ctx, _TYPE_SUMMON_BUFFS, characterID, &buffs); err != nil {
		return nil, errors.Wrap(err, "GetSummonBuffs")
	}
	return buffs, nil
}

func (db *Database) UpdateSummonBuffs(ctx context.Context, characterID string, buffs []world.Buff) error {
	return errors.Wrap(db.writeDocument(ctx, _TYPE_SUMMON_BUFFS, characterID, buffs), "UpdateSummonBuffs")
}

func (db *Database) ReadParty(ctx context.Context, partyID int) (*social.Party, error) {
	var party social.Party
	found, err := db.readDocument(ctx, _TYPE_PARTY, strconv.Itoa(partyID), &party)
	if err != nil || !found {
		return nil, errors.Wrap(err, "ReadParty")
	}
	return &party, nil
}

func (db *Database) UpdateParty(ctx context.Context, party *social.Party) error {
	return errors.Wrap(db.writeDocument(ctx, _TYPE_PARTY, strconv.Itoa(party.ID), party), "UpdateParty")
}

func (db *Database) ReadGuild(ctx context.Context, guildID int) (*social.Guild, error) {
	var guild social.Guild
	found, err := db.readDocument(ctx, _TYPE_GUILD, strconv.Itoa(guildID), &guild)
	if err != nil || !found {
		return nil, errors.Wrap(err, "ReadGuild")
	}
	return &guild, nil
}

func (db *Database) UpdateGuild(ctx context.Context, guild *social.Guild) error {
	return errors.Wrap(db.writeDocument(ctx, _TYPE_GUILD, strconv.Itoa(guild.ID), guild), "UpdateGuild")
}

func (db *Database) ReadStorageItems(ctx context.Context, id common.StorageID) ([]StorageItem, error) {
	var items []StorageItem
	if _, err := db.readDocument(ctx, _TYPE_STORAGE, id.String(), &items); err != nil {
		return nil, errors.Wrap(err, "ReadStorageItems")
	}
	return items, nil
}

func (db *Database) UpdateStorageItems(ctx context.Context, id common.StorageID, items []StorageItem) error {
	return errors.Wrap(db.writeDocument(ctx, _TYPE_STORAGE, id.String(), items), "UpdateStorageItems")
}

func accountKey(field string, userID string) string {
	return field + "$" + userID
}

func (db *Database) getAccountInt(ctx context.Context, field string, userID string) (int, error) {
	val, err := db.kv.Get(ctx, accountKey(field, userID))
	if err != nil {
		return 0, err
	}
	if val == "" {
		return 0, nil
	}
	return strconv.Atoi(val)
}

func (db *Database) ValidateAccessToken(ctx context.Context, userID string, accessToken string) (bool, error) {
	if accessToken == "" {
		return false, nil
	}
	token, err := db.kv.Get(ctx, accountKey("token", userID))
	if err != nil {
		return false, errors.Wrap(err, "ValidateAccessToken")
	}
	return token == accessToken, nil
}

func (db *Database) GetGold(ctx context.Context, userID string) (int, error) {
	gold, err := db.getAccountInt(ctx, "gold", userID)
	return gold, errors.Wrap(err, "GetGold")
}

func (db *Database) GetCash(ctx context.Context, userID string) (int, error) {
	cash, err := db.getAccountInt(ctx, "cash", userID)
	return cash, errors.Wrap(err, "GetCash")
}

func (db *Database) GetUserLevel(ctx context.Context, userID string, accessToken string) (int, error) {
	valid, err := db.ValidateAccessToken(ctx, userID, accessToken)
	if err != nil || !valid {
		return 0, errors.Wrap(err, "GetUserLevel")
	}
	level, err := db.getAccountInt(ctx, "level", userID)
	return level, errors.Wrap(err, "GetUserLevel")
}

// UpdateAccount writes the account of the user
func (db *Database) UpdateAccount(ctx context.Context, userID string, account Account) error {
	fields := [][2]string{
		{"token", account.AccessToken},
		{"gold", strconv.Itoa(account.Gold)},
		{"cash", strconv.Itoa(account.Cash)},
		{"level", strconv.Itoa(account.UserLevel)},
	}
	for _, f := range fields {
		if err := db.kv.Put(ctx, accountKey(f[0], userID), f[1]); err != nil {
			return errors.Wrap(err, "UpdateAccount")
		}
	}
	return nil
}
