package storage

import (
	"context"

	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/social"
	"github.com/xiaonanln/mapshard/engine/world"
)

// Persistence is everything a map shard reads from and writes to storage.
//
// Every call may block on I/O and honors ctx. Readers return a nil payload
// without error when the record does not exist.
type Persistence interface {
	ValidateAccessToken(ctx context.Context, userID string, accessToken string) (bool, error)
	ReadCharacter(ctx context.Context, userID string, characterID string) (*CharacterData, error)
	UpdateCharacter(ctx context.Context, data *CharacterData) error
	ReadBuildings(ctx context.Context, channelID string, mapName string) ([]*BuildingData, error)
	UpdateBuilding(ctx context.Context, channelID string, mapName string, data *BuildingData) error
	GetGold(ctx context.Context, userID string) (int, error)
	GetCash(ctx context.Context, userID string) (int, error)
	// GetUserLevel returns 0 if the access token does not belong to the user
	GetUserLevel(ctx context.Context, userID string, accessToken string) (int, error)
	GetSummonBuffs(ctx context.Context, characterID string) ([]world.Buff, error)
	ReadParty(ctx context.Context, partyID int) (*social.Party, error)
	ReadGuild(ctx context.Context, guildID int) (*social.Guild, error)
	ReadStorageItems(ctx context.Context, id common.StorageID) ([]StorageItem, error)
	UpdateStorageItems(ctx context.Context, id common.StorageID, items []StorageItem) error
}

// CharacterData is the persisted state of a player character
type CharacterData struct {
	ID          string        `msgpack:"id"`
	UserID      string        `msgpack:"uid"`
	DisplayName string        `msgpack:"name"`
	DataID      int           `msgpack:"data"`
	Level       int           `msgpack:"lv"`
	Exp         int           `msgpack:"exp"`
	CurrentHP   int           `msgpack:"hp"`
	MaxHP       int           `msgpack:"mhp"`
	MapName     string        `msgpack:"map"`
	Position    world.Vector3 `msgpack:"pos"`
	Rotation    world.Vector3 `msgpack:"rot"`
	PartyID     int           `msgpack:"party"`
	GuildID     int           `msgpack:"guild"`
	GuildRole   byte          `msgpack:"grole"`
}

// Snapshot returns the presence snapshot of the character
func (cd *CharacterData) Snapshot() social.Character {
	return social.Character{
		ID:          cd.ID,
		UserID:      cd.UserID,
		DisplayName: cd.DisplayName,
		DataID:      cd.DataID,
		Level:       cd.Level,
		PartyID:     cd.PartyID,
		GuildID:     cd.GuildID,
		GuildRole:   cd.GuildRole,
		MapName:     cd.MapName,
		CurrentHP:   cd.CurrentHP,
		MaxHP:       cd.MaxHP,
	}
}

// BuildingData is the persisted state of a building placed on a map
type BuildingData struct {
	ID         string        `msgpack:"id"`
	DataID     int           `msgpack:"data"`
	CreatorID  string        `msgpack:"creator"`
	Position   world.Vector3 `msgpack:"pos"`
	Rotation   world.Vector3 `msgpack:"rot"`
	HasStorage bool          `msgpack:"storage"`
	CurrentHP  int           `msgpack:"hp"`
}

// StorageItem is one item stack in a storage container
type StorageItem struct {
	DataID int `msgpack:"data"`
	Amount int `msgpack:"amount"`
	Level  int `msgpack:"lv"`
	Slot   int `msgpack:"slot"`
}

// Account is the user-level record kept in KVDB
type Account struct {
	AccessToken string
	Gold        int
	Cash        int
	UserLevel   int
}
