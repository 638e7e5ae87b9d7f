package storageredis

import (
	"testing"

	"github.com/xiaonanln/mapshard/engine/storage/storagetest"
)

func TestRedisDocumentStorage(t *testing.T) {
	es, err := OpenRedis("redis://127.0.0.1:6379", 0)
	if err != nil {
		t.Skipf("redis is not available: %s", err)
	}
	defer es.Close()
	storagetest.TestDocumentStorage(t, es)
}
