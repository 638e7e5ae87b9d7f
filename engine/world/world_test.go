package world

import (
	"testing"

	"github.com/bmizerany/assert"
)

func TestMemoryWorldSpawnDestroy(t *testing.T) {
	w := NewMemoryWorld()
	c, err := w.SpawnCharacter("c1", CharacterSpawnData{UserID: "u1", CharacterID: "c1", Connection: "conn1"})
	assert.Equal(t, nil, err)
	assert.Equal(t, PlayerKind, c.Kind())
	assert.Equal(t, "u1", c.UserID())

	_, err = w.SpawnCharacter("c1", CharacterSpawnData{})
	assert.T(t, err != nil, "spawning twice should fail")

	b, err := w.SpawnBuilding("b1", BuildingSpawnData{BuildingID: "b1", HasStorage: true})
	assert.Equal(t, nil, err)
	assert.Equal(t, StorageKind, b.Kind())

	w.DestroyEntity(c)
	w.DestroyEntity(c)
	spawns, destroys := w.Counts()
	assert.Equal(t, 2, spawns)
	assert.Equal(t, 1, destroys)
	assert.T(t, w.GetEntity("c1") == nil, "c1 destroyed")
}

func TestMemoryCharacterStopMoving(t *testing.T) {
	w := NewMemoryWorld()
	ce, _ := w.SpawnCharacter("c1", CharacterSpawnData{CharacterID: "c1"})
	c := ce.(*MemoryCharacter)
	c.SetMovement(MovementForward | MovementLeft | MovementIsGrounded)
	c.StartTrading()
	c.StopTrading()
	c.StopMoving(MovementDirectionalMask)
	assert.Equal(t, MovementIsGrounded, c.Movement())
	assert.T(t, !c.IsTrading(), "should stop trading")
}

func TestEntityKinds(t *testing.T) {
	w := NewMemoryWorld()
	var b BuildingEntity
	b, err := w.SpawnBuilding("b2", BuildingSpawnData{BuildingID: "b2"})
	assert.Equal(t, nil, err)
	assert.Equal(t, BuildingKind, b.Kind())
	assert.Equal(t, "Building", BuildingKind.String())
	assert.Equal(t, "Player", PlayerKind.String())
	assert.Equal(t, "Storage", StorageKind.String())
	assert.Equal(t, "EntityKind<9>", EntityKind(9).String())
}
