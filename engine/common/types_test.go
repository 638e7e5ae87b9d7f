package common

import (
	"testing"

	"github.com/bmizerany/assert"
)

func TestGenConnectionID(t *testing.T) {
	id1 := GenConnectionID()
	id2 := GenConnectionID()
	assert.T(t, !id1.IsNil(), "connection id should not be nil")
	assert.T(t, id1 != id2, "connection ids should be unique")
	assert.T(t, ConnectionID("").IsNil(), "empty id should be nil")
}

func TestStorageID(t *testing.T) {
	id := StorageID{Kind: PlayerStorage, OwnerID: "u1"}
	assert.Equal(t, "Player$u1", id.String())
	assert.Equal(t, "Building$b7", StorageID{Kind: BuildingStorage, OwnerID: "b7"}.String())
	m := map[StorageID]int{id: 1}
	assert.Equal(t, 1, m[StorageID{Kind: PlayerStorage, OwnerID: "u1"}])
}
