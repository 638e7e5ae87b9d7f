// Package world declares the game-object substrate consumed by a map shard.
//
// Spawning, rendering and physics live outside of this module; a shard only
// needs the handful of capabilities declared here.
package world

import (
	"fmt"

	"github.com/xiaonanln/mapshard/engine/common"
)

// EntityKind is resolved once when an entity is created
type EntityKind uint8

const (
	// PlayerKind is a player character
	PlayerKind EntityKind = iota + 1
	// BuildingKind is a building placed on the map
	BuildingKind
	// StorageKind is a building which owns a storage
	StorageKind
)

func (k EntityKind) String() string {
	switch k {
	case PlayerKind:
		return "Player"
	case BuildingKind:
		return "Building"
	case StorageKind:
		return "Storage"
	}
	return fmt.Sprintf("EntityKind<%d>", k)
}

// Vector3 is a position or rotation in world space
type Vector3 struct {
	X float32 `msgpack:"x"`
	Y float32 `msgpack:"y"`
	Z float32 `msgpack:"z"`
}

// MovementState is a bit set of directional movement flags
type MovementState uint32

const (
	MovementForward MovementState = 1 << iota
	MovementBackward
	MovementLeft
	MovementRight
	MovementJump
	MovementSprint
	MovementIsGrounded

	// MovementDirectionalMask covers the directional bits cleared when the owner leaves
	MovementDirectionalMask = MovementForward | MovementBackward | MovementLeft | MovementRight | MovementJump | MovementSprint
)

// Buff is an active buff on a character or summon
type Buff struct {
	DataID      int     `msgpack:"data"`
	Level       int     `msgpack:"lv"`
	RemainsTime float32 `msgpack:"remains"`
}

// Entity is the common capability of all spawned entities
type Entity interface {
	ID() string
	Kind() EntityKind
}

// CharacterEntity is the handle of a spawned player character
type CharacterEntity interface {
	Entity
	CharacterID() string
	UserID() string
	OwnerConnection() common.ConnectionID
	SetOwnerConnection(conn common.ConnectionID)

	IsDead() bool
	IsMuting() bool
	Position() Vector3
	SetPosition(pos Vector3)

	// StopTrading cancels dealing and vending
	StopTrading()
	// StopMoving stops any navigation and clears the given movement bits
	StopMoving(clear MovementState)

	SetGold(gold int)
	SetCash(cash int)
	SetUserLevel(level int)
	UserLevel() int
	SetPartyID(partyID int)
	SetGuild(guildID int, role byte)
	SetSummonBuffs(buffs []Buff)
}

// BuildingEntity is the handle of a spawned building
type BuildingEntity interface {
	Entity
	// HasStorage returns if the building owns a storage container
	HasStorage() bool
}

// World spawns and destroys entities. Implementations must be safe for concurrent use.
type World interface {
	SpawnCharacter(entityID string, data CharacterSpawnData) (CharacterEntity, error)
	SpawnBuilding(entityID string, data BuildingSpawnData) (BuildingEntity, error)
	DestroyEntity(entity Entity)
}

// CharacterSpawnData is what the world needs to spawn a character
type CharacterSpawnData struct {
	UserID      string
	CharacterID string
	DisplayName string
	DataID      int
	Level       int
	Position    Vector3
	Rotation    Vector3
	Connection  common.ConnectionID
}

// BuildingSpawnData is what the world needs to spawn a building
type BuildingSpawnData struct {
	BuildingID string
	DataID     int
	Position   Vector3
	Rotation   Vector3
	HasStorage bool
}
