// Package storagetest checks a DocumentStorage backend against the behaviour all backends share.
package storagetest

import (
	"sort"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/google/uuid"
	"github.com/xiaonanln/mapshard/engine/storage/storage_common"
)

// TestDocumentStorage runs the shared backend checks
func TestDocumentStorage(t *testing.T, es storagecommon.DocumentStorage) {
	typeName := "Test" + uuid.New().String()[:8]
	id := uuid.NewString()

	data, err := es.Read(typeName, id)
	assert.Equal(t, nil, err)
	assert.T(t, data == nil, "reading a missing document should return nil")

	exists, err := es.Exists(typeName, id)
	assert.Equal(t, nil, err)
	assert.T(t, !exists, "document should not exist")

	assert.Equal(t, nil, es.Write(typeName, id, []byte("hello")))
	assert.Equal(t, nil, es.Write(typeName, "other", []byte("world")))

	data, err = es.Read(typeName, id)
	assert.Equal(t, nil, err)
	assert.Equal(t, "hello", string(data))

	exists, err = es.Exists(typeName, id)
	assert.Equal(t, nil, err)
	assert.T(t, exists, "document should exist")

	ids, err := es.List(typeName)
	assert.Equal(t, nil, err)
	sort.Strings(ids)
	expected := []string{id, "other"}
	sort.Strings(expected)
	assert.Equal(t, expected, ids)
}
