package storagebolt

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/storage/storage_common"
	bbolt "go.etcd.io/bbolt"
)

type boltDocumentStorage struct {
	db *bbolt.DB
}

// OpenBolt opens (or creates) a bbolt file in the directory as document storage.
// Each type name is stored in its own bucket.
func OpenBolt(directory string) (storagecommon.DocumentStorage, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, errors.Wrap(err, "create storage directory failed")
	}

	db, err := bbolt.Open(filepath.Join(directory, "storage.db"), 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open bolt storage failed")
	}
	return &boltDocumentStorage{db: db}, nil
}

func (es *boltDocumentStorage) Write(typeName string, id string, data []byte) error {
	return es.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(typeName))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

func (es *boltDocumentStorage) Read(typeName string, id string) (data []byte, err error) {
	err = es.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(typeName))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(id)); v != nil {
			// v is only valid during the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	return
}

func (es *boltDocumentStorage) List(typeName string) (ids []string, err error) {
	err = es.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(typeName))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return
}

func (es *boltDocumentStorage) Exists(typeName string, id string) (exists bool, err error) {
	err = es.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(typeName)); b != nil {
			exists = b.Get([]byte(id)) != nil
		}
		return nil
	})
	return
}

func (es *boltDocumentStorage) Close() {
	es.db.Close()
}

func (es *boltDocumentStorage) IsEOF(err error) bool {
	return errors.Cause(err) == bbolt.ErrDatabaseNotOpen
}
