package common

import (
	"fmt"

	"github.com/google/uuid"
)

// ConnectionID is the opaque identifier of a client connection on a shard
type ConnectionID string

// GenConnectionID generates a new connection ID
func GenConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// IsNil returns if ConnectionID is nil
func (id ConnectionID) IsNil() bool {
	return id == ""
}

// StorageKind is the kind of a storage container
type StorageKind uint8

const (
	// PlayerStorage is a player's inventory storage
	PlayerStorage StorageKind = iota + 1
	// BuildingStorage is the storage owned by a building
	BuildingStorage
)

func (k StorageKind) String() string {
	switch k {
	case PlayerStorage:
		return "Player"
	case BuildingStorage:
		return "Building"
	}
	return fmt.Sprintf("StorageKind<%d>", k)
}

// StorageID identifies one storage container
type StorageID struct {
	Kind    StorageKind `msgpack:"k"`
	OwnerID string      `msgpack:"o"`
}

func (id StorageID) String() string {
	return fmt.Sprintf("%s$%s", id.Kind, id.OwnerID)
}
