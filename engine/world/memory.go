package world

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/gwlog"
)

// MemoryWorld is a World which only keeps entities in memory.
// It serves headless shards and tests.
type MemoryWorld struct {
	sync.RWMutex
	entities     map[string]Entity
	spawnCount   int
	destroyCount int
}

// NewMemoryWorld creates an empty MemoryWorld
func NewMemoryWorld() *MemoryWorld {
	return &MemoryWorld{
		entities: map[string]Entity{},
	}
}

// SpawnCharacter spawns a MemoryCharacter
func (w *MemoryWorld) SpawnCharacter(entityID string, data CharacterSpawnData) (CharacterEntity, error) {
	w.Lock()
	defer w.Unlock()
	if _, ok := w.entities[entityID]; ok {
		return nil, errors.Errorf("entity %s already spawned", entityID)
	}
	c := &MemoryCharacter{
		id:       entityID,
		data:     data,
		position: data.Position,
		owner:    data.Connection,
	}
	w.entities[entityID] = c
	w.spawnCount++
	return c, nil
}

// SpawnBuilding spawns a MemoryBuilding
func (w *MemoryWorld) SpawnBuilding(entityID string, data BuildingSpawnData) (BuildingEntity, error) {
	w.Lock()
	defer w.Unlock()
	if _, ok := w.entities[entityID]; ok {
		return nil, errors.Errorf("entity %s already spawned", entityID)
	}
	b := &MemoryBuilding{id: entityID, data: data}
	w.entities[entityID] = b
	w.spawnCount++
	return b, nil
}

// DestroyEntity removes the entity
func (w *MemoryWorld) DestroyEntity(entity Entity) {
	w.Lock()
	defer w.Unlock()
	if cur, ok := w.entities[entity.ID()]; !ok || cur != entity {
		gwlog.Warnf("MemoryWorld: destroy %s %s: not spawned", entity.Kind(), entity.ID())
		return
	}
	delete(w.entities, entity.ID())
	w.destroyCount++
}

// GetEntity returns the spawned entity by id
func (w *MemoryWorld) GetEntity(entityID string) Entity {
	w.RLock()
	defer w.RUnlock()
	return w.entities[entityID]
}

// Counts returns the number of spawns and destroys so far
func (w *MemoryWorld) Counts() (spawns int, destroys int) {
	w.RLock()
	defer w.RUnlock()
	return w.spawnCount, w.destroyCount
}

// MemoryCharacter is the CharacterEntity spawned by MemoryWorld
type MemoryCharacter struct {
	sync.Mutex
	id        string
	data      CharacterSpawnData
	owner     common.ConnectionID
	position  Vector3
	movement  MovementState
	trading   bool
	dead      bool
	muting    bool
	gold      int
	cash      int
	userLevel int
	partyID   int
	guildID   int
	guildRole byte
	buffs     []Buff
}

func (c *MemoryCharacter) ID() string          { return c.id }
func (c *MemoryCharacter) Kind() EntityKind    { return PlayerKind }
func (c *MemoryCharacter) CharacterID() string { return c.data.CharacterID }
func (c *MemoryCharacter) UserID() string      { return c.data.UserID }

func (c *MemoryCharacter) OwnerConnection() common.ConnectionID {
	c.Lock()
	defer c.Unlock()
	return c.owner
}

func (c *MemoryCharacter) SetOwnerConnection(conn common.ConnectionID) {
	c.Lock()
	c.owner = conn
	c.Unlock()
}

func (c *MemoryCharacter) IsDead() bool {
	c.Lock()
	defer c.Unlock()
	return c.dead
}

// SetDead marks the character dead or alive
func (c *MemoryCharacter) SetDead(dead bool) {
	c.Lock()
	c.dead = dead
	c.Unlock()
}

func (c *MemoryCharacter) IsMuting() bool {
	c.Lock()
	defer c.Unlock()
	return c.muting
}

// SetMuting mutes or unmutes the character
func (c *MemoryCharacter) SetMuting(muting bool) {
	c.Lock()
	c.muting = muting
	c.Unlock()
}

func (c *MemoryCharacter) Position() Vector3 {
	c.Lock()
	defer c.Unlock()
	return c.position
}

func (c *MemoryCharacter) SetPosition(pos Vector3) {
	c.Lock()
	c.position = pos
	c.Unlock()
}

// StartTrading marks the character as dealing or vending
func (c *MemoryCharacter) StartTrading() {
	c.Lock()
	c.trading = true
	c.Unlock()
}

// IsTrading returns if the character is dealing or vending
func (c *MemoryCharacter) IsTrading() bool {
	c.Lock()
	defer c.Unlock()
	return c.trading
}

func (c *MemoryCharacter) StopTrading() {
	c.Lock()
	c.trading = false
	c.Unlock()
}

// SetMovement sets the movement state bits
func (c *MemoryCharacter) SetMovement(state MovementState) {
	c.Lock()
	c.movement = state
	c.Unlock()
}

// Movement returns the movement state bits
func (c *MemoryCharacter) Movement() MovementState {
	c.Lock()
	defer c.Unlock()
	return c.movement
}

func (c *MemoryCharacter) StopMoving(clear MovementState) {
	c.Lock()
	c.movement &^= clear
	c.Unlock()
}

func (c *MemoryCharacter) SetGold(gold int) {
	c.Lock()
	c.gold = gold
	c.Unlock()
}

// Gold returns the gold of the owner user
func (c *MemoryCharacter) Gold() int {
	c.Lock()
	defer c.Unlock()
	return c.gold
}

func (c *MemoryCharacter) SetCash(cash int) {
	c.Lock()
	c.cash = cash
	c.Unlock()
}

// Cash returns the cash of the owner user
func (c *MemoryCharacter) Cash() int {
	c.Lock()
	defer c.Unlock()
	return c.cash
}

func (c *MemoryCharacter) SetUserLevel(level int) {
	c.Lock()
	c.userLevel = level
	c.Unlock()
}

func (c *MemoryCharacter) UserLevel() int {
	c.Lock()
	defer c.Unlock()
	return c.userLevel
}

func (c *MemoryCharacter) SetPartyID(partyID int) {
	c.Lock()
	c.partyID = partyID
	c.Unlock()
}

// PartyID returns the party the character belongs to
func (c *MemoryCharacter) PartyID() int {
	c.Lock()
	defer c.Unlock()
	return c.partyID
}

func (c *MemoryCharacter) SetGuild(guildID int, role byte) {
	c.Lock()
	c.guildID = guildID
	c.guildRole = role
	c.Unlock()
}

// GuildID returns the guild the character belongs to
func (c *MemoryCharacter) GuildID() int {
	c.Lock()
	defer c.Unlock()
	return c.guildID
}

func (c *MemoryCharacter) SetSummonBuffs(buffs []Buff) {
	c.Lock()
	c.buffs = buffs
	c.Unlock()
}

// MemoryBuilding is the BuildingEntity spawned by MemoryWorld
type MemoryBuilding struct {
	id   string
	data BuildingSpawnData
}

func (b *MemoryBuilding) ID() string { return b.id }

func (b *MemoryBuilding) Kind() EntityKind {
	if b.data.HasStorage {
		return StorageKind
	}
	return BuildingKind
}

func (b *MemoryBuilding) HasStorage() bool { return b.data.HasStorage }
