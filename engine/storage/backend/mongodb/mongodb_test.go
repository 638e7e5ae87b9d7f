package storagemongodb

import (
	"testing"
	"time"

	"github.com/xiaonanln/mapshard/engine/storage/storagetest"
	"gopkg.in/mgo.v2"
)

func TestMongoDBDocumentStorage(t *testing.T) {
	if s, err := mgo.DialWithTimeout("mongodb://127.0.0.1:27017/", time.Second); err != nil {
		t.Skipf("mongodb is not available: %s", err)
	} else {
		s.Close()
	}

	es, err := OpenMongoDB("mongodb://127.0.0.1:27017/", "mapshard_test")
	if err != nil {
		t.Fatal(err)
	}
	defer es.Close()
	storagetest.TestDocumentStorage(t, es)
}
