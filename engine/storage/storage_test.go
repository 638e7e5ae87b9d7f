package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/config"
	"github.com/xiaonanln/mapshard/engine/kvdb"
	"github.com/xiaonanln/mapshard/engine/social"
	"github.com/xiaonanln/mapshard/engine/world"
)

func openTestDatabase(t *testing.T) *Database {
	dir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	kv, err := kvdb.Open(&config.KVDBConfig{Type: "bolt", Directory: dir + "/kvdb"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(kv.Close)

	db, err := Open(&config.StorageConfig{Type: "bolt", Directory: dir + "/storage"}, kv)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(db.Close)
	return db
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	t.Cleanup(cancel)
	return ctx
}

func TestCharacter(t *testing.T) {
	db := openTestDatabase(t)
	ctx := testContext(t)

	cd, err := db.ReadCharacter(ctx, "u1", "c1")
	assert.Equal(t, nil, err)
	assert.T(t, cd == nil)

	data := &CharacterData{
		ID:          "c1",
		UserID:      "u1",
		DisplayName: "alice",
		Level:       12,
		MapName:     "town",
		Position:    world.Vector3{X: 1, Y: 2, Z: 3},
		PartyID:     7,
	}
	assert.Equal(t, nil, db.UpdateCharacter(ctx, data))

	cd, err = db.ReadCharacter(ctx, "u1", "c1")
	assert.Equal(t, nil, err)
	assert.Equal(t, data, cd)
	assert.Equal(t, "alice", cd.Snapshot().DisplayName)
	assert.Equal(t, 7, cd.Snapshot().PartyID)

	// character of another user is not readable
	cd, err = db.ReadCharacter(ctx, "u2", "c1")
	assert.Equal(t, nil, err)
	assert.T(t, cd == nil)
}

func TestBuildings(t *testing.T) {
	db := openTestDatabase(t)
	ctx := testContext(t)

	buildings, err := db.ReadBuildings(ctx, "ch1", "town")
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(buildings))

	assert.Equal(t, nil, db.UpdateBuilding(ctx, "ch1", "town", &BuildingData{ID: "b1", DataID: 3, HasStorage: true}))
	assert.Equal(t, nil, db.UpdateBuilding(ctx, "ch1", "town", &BuildingData{ID: "b2", DataID: 4}))
	assert.Equal(t, nil, db.UpdateBuilding(ctx, "ch2", "town", &BuildingData{ID: "b3"}))

	buildings, err = db.ReadBuildings(ctx, "ch1", "town")
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(buildings))
	ids := common.StringSet{}
	for _, b := range buildings {
		ids.Add(b.ID)
	}
	assert.T(t, ids.Contains("b1") && ids.Contains("b2"))
}

func TestAccount(t *testing.T) {
	db := openTestDatabase(t)
	ctx := testContext(t)

	ok, err := db.ValidateAccessToken(ctx, "u1", "tok")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, ok)

	assert.Equal(t, nil, db.UpdateAccount(ctx, "u1", Account{AccessToken: "tok", Gold: 100, Cash: 5, UserLevel: 2}))

	ok, err = db.ValidateAccessToken(ctx, "u1", "tok")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, ok)
	ok, _ = db.ValidateAccessToken(ctx, "u1", "")
	assert.Equal(t, false, ok)

	gold, err := db.GetGold(ctx, "u1")
	assert.Equal(t, nil, err)
	assert.Equal(t, 100, gold)
	cash, _ := db.GetCash(ctx, "u1")
	assert.Equal(t, 5, cash)
	level, _ := db.GetUserLevel(ctx, "u1", "tok")
	assert.Equal(t, 2, level)
	level, _ = db.GetUserLevel(ctx, "u1", "bad")
	assert.Equal(t, 0, level)

	gold, err = db.GetGold(ctx, "nobody")
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, gold)
}

func TestSocialAndStorage(t *testing.T) {
	db := openTestDatabase(t)
	ctx := testContext(t)

	party, err := db.ReadParty(ctx, 1)
	assert.Equal(t, nil, err)
	assert.T(t, party == nil)

	p := social.NewParty(1, true, false, social.Character{ID: "c1", DisplayName: "alice"})
	p.AddMember(social.Character{ID: "c2", DisplayName: "bob"})
	assert.Equal(t, nil, db.UpdateParty(ctx, p))
	party, err = db.ReadParty(ctx, 1)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, party.MemberCount())
	assert.T(t, party.IsLeader("c1"))

	g := social.NewGuild(9, "knights", []social.GuildRole{{Name: "master"}, {Name: "member"}}, social.Character{ID: "c1"})
	assert.Equal(t, nil, db.UpdateGuild(ctx, g))
	guild, err := db.ReadGuild(ctx, 9)
	assert.Equal(t, nil, err)
	assert.Equal(t, "knights", guild.Name)
	assert.T(t, guild.IsLeader("c1"))

	assert.Equal(t, nil, db.UpdateSummonBuffs(ctx, "c1", []world.Buff{{DataID: 1, Level: 2}}))
	buffs, err := db.GetSummonBuffs(ctx, "c1")
	assert.Equal(t, nil, err)
	assert.Equal(t, []world.Buff{{DataID: 1, Level: 2}}, buffs)

	sid := common.StorageID{Kind: common.PlayerStorage, OwnerID: "u1"}
	items, err := db.ReadStorageItems(ctx, sid)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, len(items))
	assert.Equal(t, nil, db.UpdateStorageItems(ctx, sid, []StorageItem{{DataID: 5, Amount: 10}}))
	items, err = db.ReadStorageItems(ctx, sid)
	assert.Equal(t, nil, err)
	assert.Equal(t, []StorageItem{{DataID: 5, Amount: 10}}, items)
}

func TestClosed(t *testing.T) {
	db := openTestDatabase(t)
	db.Close()
	_, err := db.ReadParty(context.Background(), 1)
	assert.T(t, err != nil)
}
