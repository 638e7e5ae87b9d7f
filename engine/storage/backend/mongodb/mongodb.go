package storagemongodb

import (
	"io"

	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/gwlog"
	"github.com/xiaonanln/mapshard/engine/storage/storage_common"
	"gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"
)

const (
	_DEFAULT_DB_NAME = "mapshard"
)

type mongoDBDocumentStorage struct {
	db *mgo.Database
}

type document struct {
	ID   string `bson:"_id"`
	Data []byte `bson:"data"`
}

// OpenMongoDB opens mongodb as document storage
func OpenMongoDB(url string, dbname string) (storagecommon.DocumentStorage, error) {
	gwlog.Debugf("Connecting MongoDB ...")
	session, err := mgo.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "mongodb dial failed")
	}

	session.SetMode(mgo.Monotonic, true)
	if dbname == "" {
		// if db is not specified, use default
		dbname = _DEFAULT_DB_NAME
	}
	return &mongoDBDocumentStorage{
		db: session.DB(dbname),
	}, nil
}

func (es *mongoDBDocumentStorage) getCollection(typeName string) *mgo.Collection {
	return es.db.C(typeName)
}

func (es *mongoDBDocumentStorage) Write(typeName string, id string, data []byte) error {
	_, err := es.getCollection(typeName).UpsertId(id, bson.M{
		"data": data,
	})
	return err
}

func (es *mongoDBDocumentStorage) Read(typeName string, id string) ([]byte, error) {
	var doc document
	err := es.getCollection(typeName).FindId(id).One(&doc)
	if err == mgo.ErrNotFound {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return doc.Data, nil
}

func (es *mongoDBDocumentStorage) List(typeName string) ([]string, error) {
	var docs []bson.M
	err := es.getCollection(typeName).Find(nil).Select(bson.M{"_id": 1}).All(&docs)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc["_id"].(string)
	}
	return ids, nil
}

func (es *mongoDBDocumentStorage) Exists(typeName string, id string) (bool, error) {
	n, err := es.getCollection(typeName).FindId(id).Count()
	return n > 0, err
}

func (es *mongoDBDocumentStorage) Close() {
	es.db.Session.Close()
}

func (es *mongoDBDocumentStorage) IsEOF(err error) bool {
	err = errors.Cause(err)
	return err == io.EOF || err == io.ErrUnexpectedEOF
}
