package kvdbbolt

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/kvdb/types"
	bbolt "go.etcd.io/bbolt"
)

var (
	bucketKV = []byte("kvdb")
)

type boltKVDB struct {
	db *bbolt.DB
}

// OpenBoltKVDB opens (or creates) a bbolt file in the directory as KVDB backend
func OpenBoltKVDB(directory string) (kvdbtypes.KVDBEngine, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.Wrap(err, "create kvdb directory failed")
	}

	db, err := bbolt.Open(filepath.Join(directory, "kvdb.db"), 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open bolt kvdb failed")
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketKV)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create kvdb bucket failed")
	}
	return &boltKVDB{db: db}, nil
}

func (kv *boltKVDB) Get(key string) (val string, err error) {
	err = kv.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketKV).Get([]byte(key)); v != nil {
			val = string(v)
		}
		return nil
	})
	return
}

func (kv *boltKVDB) Put(key string, val string) error {
	return kv.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), []byte(val))
	})
}

func (kv *boltKVDB) Close() {
	kv.db.Close()
}

func (kv *boltKVDB) IsConnectionError(err error) bool {
	return errors.Cause(err) == bbolt.ErrDatabaseNotOpen
}
