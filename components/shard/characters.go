package shard

import (
	"sync"

	"github.com/xiaonanln/mapshard/engine/social"
	"github.com/xiaonanln/mapshard/engine/storage"
	"github.com/xiaonanln/mapshard/engine/world"
)

// PlayerCharacter is a character spawned on this shard together with its persisted data
type PlayerCharacter struct {
	Entity world.CharacterEntity

	mu   sync.Mutex
	data storage.CharacterData
}

func newPlayerCharacter(entity world.CharacterEntity, data *storage.CharacterData) *PlayerCharacter {
	return &PlayerCharacter{Entity: entity, data: *data}
}

func (pc *PlayerCharacter) String() string {
	return pc.Entity.CharacterID()
}

// ID returns the character id
func (pc *PlayerCharacter) ID() string {
	return pc.Entity.CharacterID()
}

// SaveData returns the data to persist, the position is taken from the live entity
func (pc *PlayerCharacter) SaveData() *storage.CharacterData {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	data := pc.data
	data.Position = pc.Entity.Position()
	return &data
}

// Snapshot returns the presence snapshot of the character
func (pc *PlayerCharacter) Snapshot() social.Character {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.data.Snapshot()
}

func (pc *PlayerCharacter) DisplayName() string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.data.DisplayName
}

func (pc *PlayerCharacter) PartyID() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.data.PartyID
}

func (pc *PlayerCharacter) GuildID() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.data.GuildID
}

// SetPartyID attaches the character to the party, 0 clears the affiliation
func (pc *PlayerCharacter) SetPartyID(partyID int) {
	pc.mu.Lock()
	pc.data.PartyID = partyID
	pc.mu.Unlock()
	pc.Entity.SetPartyID(partyID)
}

// SetGuild attaches the character to the guild, 0 clears the affiliation
func (pc *PlayerCharacter) SetGuild(guildID int, role byte) {
	pc.mu.Lock()
	pc.data.GuildID = guildID
	pc.data.GuildRole = role
	pc.mu.Unlock()
	pc.Entity.SetGuild(guildID, role)
}

// CharacterIndex keeps the characters spawned on this shard by character id
type CharacterIndex struct {
	mu         sync.RWMutex
	characters map[string]*PlayerCharacter
}

func NewCharacterIndex() *CharacterIndex {
	return &CharacterIndex{characters: map[string]*PlayerCharacter{}}
}

// Add adds the character, returning false if another one with the same id exists
func (ci *CharacterIndex) Add(pc *PlayerCharacter) bool {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if _, ok := ci.characters[pc.ID()]; ok {
		return false
	}
	ci.characters[pc.ID()] = pc
	return true
}

// Remove removes the character only if it is still the indexed one
func (ci *CharacterIndex) Remove(pc *PlayerCharacter) bool {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	if ci.characters[pc.ID()] != pc {
		return false
	}
	delete(ci.characters, pc.ID())
	return true
}

func (ci *CharacterIndex) Get(characterID string) *PlayerCharacter {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return ci.characters[characterID]
}

func (ci *CharacterIndex) Count() int {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	return len(ci.characters)
}

func (ci *CharacterIndex) List() []*PlayerCharacter {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	list := make([]*PlayerCharacter, 0, len(ci.characters))
	for _, pc := range ci.characters {
		list = append(list, pc)
	}
	return list
}
