package shard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/mapshard/engine/common"
	"github.com/xiaonanln/mapshard/engine/config"
	"github.com/xiaonanln/mapshard/engine/proto"
	"github.com/xiaonanln/mapshard/engine/social"
	"github.com/xiaonanln/mapshard/engine/storage"
	"github.com/xiaonanln/mapshard/engine/world"
)

var errFakeIO = errors.New("fake io failure")

type fakePersistence struct {
	sync.Mutex
	tokens     map[string]string
	userLevels map[string]int
	characters map[string]*storage.CharacterData
	buildings  []*storage.BuildingData
	parties    map[int]*social.Party
	guilds     map[int]*social.Guild
	items      map[common.StorageID][]storage.StorageItem

	characterSaves    map[string]int
	savedCharacters   map[string]*storage.CharacterData
	storageSaves      map[common.StorageID]int
	storageReads      map[common.StorageID]int
	buildingSaves     map[string]int
	readBuildingsFail int
	readStorageDelay  time.Duration
	failReadCharacter bool
	// when set, UpdateStorageItems signals saveStarted and waits for saveRelease
	saveStarted       chan struct{}
	saveRelease       chan struct{}
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		tokens:          map[string]string{},
		userLevels:      map[string]int{},
		characters:      map[string]*storage.CharacterData{},
		parties:         map[int]*social.Party{},
		guilds:          map[int]*social.Guild{},
		items:           map[common.StorageID][]storage.StorageItem{},
		characterSaves:  map[string]int{},
		savedCharacters: map[string]*storage.CharacterData{},
		storageSaves:    map[common.StorageID]int{},
		storageReads:    map[common.StorageID]int{},
		buildingSaves:   map[string]int{},
	}
}

// addCharacter creates user with token "token-<user>" owning the character
func (p *fakePersistence) addCharacter(userID string, characterID string, name string) *storage.CharacterData {
	p.Lock()
	defer p.Unlock()
	p.tokens[userID] = "token-" + userID
	data := &storage.CharacterData{
		ID:          characterID,
		UserID:      userID,
		DisplayName: name,
		Level:       1,
		CurrentHP:   100,
		MaxHP:       100,
		MapName:     "map01",
	}
	p.characters[characterID] = data
	return data
}

func (p *fakePersistence) saves(characterID string) int {
	p.Lock()
	defer p.Unlock()
	return p.characterSaves[characterID]
}

func (p *fakePersistence) saved(characterID string) *storage.CharacterData {
	p.Lock()
	defer p.Unlock()
	return p.savedCharacters[characterID]
}

func (p *fakePersistence) ValidateAccessToken(ctx context.Context, userID string, accessToken string) (bool, error) {
	p.Lock()
	defer p.Unlock()
	token, ok := p.tokens[userID]
	return ok && token == accessToken, nil
}

func (p *fakePersistence) ReadCharacter(ctx context.Context, userID string, characterID string) (*storage.CharacterData, error) {
	p.Lock()
	defer p.Unlock()
	if p.failReadCharacter {
		return nil, errFakeIO
	}
	data, ok := p.characters[characterID]
	if !ok || data.UserID != userID {
		return nil, nil
	}
	cp := *data
	return &cp, nil
}

func (p *fakePersistence) UpdateCharacter(ctx context.Context, data *storage.CharacterData) error {
	p.Lock()
	defer p.Unlock()
	p.characterSaves[data.ID]++
	cp := *data
	p.savedCharacters[data.ID] = &cp
	return nil
}

func (p *fakePersistence) ReadBuildings(ctx context.Context, channelID string, mapName string) ([]*storage.BuildingData, error) {
	p.Lock()
	defer p.Unlock()
	if p.readBuildingsFail > 0 {
		p.readBuildingsFail--
		return nil, errFakeIO
	}
	return p.buildings, nil
}

func (p *fakePersistence) UpdateBuilding(ctx context.Context, channelID string, mapName string, data *storage.BuildingData) error {
	p.Lock()
	defer p.Unlock()
	p.buildingSaves[data.ID]++
	return nil
}

func (p *fakePersistence) GetGold(ctx context.Context, userID string) (int, error) {
	return 100, nil
}

func (p *fakePersistence) GetCash(ctx context.Context, userID string) (int, error) {
	return 10, nil
}

func (p *fakePersistence) GetUserLevel(ctx context.Context, userID string, accessToken string) (int, error) {
	p.Lock()
	defer p.Unlock()
	if p.tokens[userID] != accessToken {
		return 0, nil
	}
	return p.userLevels[userID], nil
}

func (p *fakePersistence) GetSummonBuffs(ctx context.Context, characterID string) ([]world.Buff, error) {
	return []world.Buff{{DataID: 1, Level: 1, RemainsTime: 10}}, nil
}

func (p *fakePersistence) ReadParty(ctx context.Context, partyID int) (*social.Party, error) {
	p.Lock()
	defer p.Unlock()
	if party, ok := p.parties[partyID]; ok {
		return party.Clone(), nil
	}
	return nil, nil
}

func (p *fakePersistence) ReadGuild(ctx context.Context, guildID int) (*social.Guild, error) {
	p.Lock()
	defer p.Unlock()
	if guild, ok := p.guilds[guildID]; ok {
		return guild.Clone(), nil
	}
	return nil, nil
}

func (p *fakePersistence) ReadStorageItems(ctx context.Context, id common.StorageID) ([]storage.StorageItem, error) {
	p.Lock()
	delay := p.readStorageDelay
	p.storageReads[id]++
	items := p.items[id]
	p.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return items, nil
}

func (p *fakePersistence) UpdateStorageItems(ctx context.Context, id common.StorageID, items []storage.StorageItem) error {
	p.Lock()
	started, release := p.saveStarted, p.saveRelease
	p.Unlock()
	if started != nil {
		started <- struct{}{}
		<-release
	}
	p.Lock()
	defer p.Unlock()
	p.storageSaves[id]++
	p.items[id] = items
	return nil
}

type sentMessage struct {
	msgtype proto.MsgType
	msg     interface{}
}

type fakeCluster struct {
	sync.Mutex
	connected bool
	sent      []sentMessage
	calls     map[proto.MsgType]int
	replies   map[uint32]error
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		connected: true,
		calls:     map[proto.MsgType]int{},
		replies:   map[uint32]error{},
	}
}

func (c *fakeCluster) IsConnected() bool {
	c.Lock()
	defer c.Unlock()
	return c.connected
}

func (c *fakeCluster) setConnected(connected bool) {
	c.Lock()
	c.connected = connected
	c.Unlock()
}

func (c *fakeCluster) Send(msgtype proto.MsgType, msg interface{}) error {
	c.Lock()
	defer c.Unlock()
	if !c.connected {
		return errors.New("not connected")
	}
	c.sent = append(c.sent, sentMessage{msgtype, msg})
	return nil
}

// Call acknowledges every request, a register request is answered with the sent identity
func (c *fakeCluster) Call(ctx context.Context, msgtype proto.MsgType, req interface{}, resp interface{}) error {
	c.Lock()
	defer c.Unlock()
	if !c.connected {
		return errors.New("not connected")
	}
	c.calls[msgtype]++
	if pi, ok := req.(*proto.PeerInfo); ok {
		if ack, ok := resp.(*proto.PeerInfo); ok {
			*ack = *pi
		}
	}
	if ri, ok := req.(*proto.RequestInstanceRequest); ok {
		if pi, ok := resp.(*proto.PeerInfo); ok {
			*pi = proto.PeerInfo{
				Address:    "instance:1",
				Kind:       proto.InstanceMapServer,
				ChannelID:  ri.ChannelID,
				MapName:    ri.MapName,
				InstanceID: ri.InstanceID,
				RefID:      ri.InstanceID,
			}
		}
	}
	return nil
}

func (c *fakeCluster) Reply(reqID uint32, err error, msg interface{}) error {
	c.Lock()
	defer c.Unlock()
	c.replies[reqID] = err
	return nil
}

func (c *fakeCluster) callCount(msgtype proto.MsgType) int {
	c.Lock()
	defer c.Unlock()
	return c.calls[msgtype]
}

func (c *fakeCluster) sentOf(msgtype proto.MsgType) []interface{} {
	c.Lock()
	defer c.Unlock()
	var msgs []interface{}
	for _, m := range c.sent {
		if m.msgtype == msgtype {
			msgs = append(msgs, m.msg)
		}
	}
	return msgs
}

func (c *fakeCluster) mapUserUpdates(typ proto.UpdateMapUserType, characterID string) int {
	n := 0
	for _, msg := range c.sentOf(proto.MT_UPDATE_MAP_USER) {
		m := msg.(*proto.UpdateMapUserMessage)
		if m.Type == typ && m.Character.ID == characterID {
			n++
		}
	}
	return n
}

type fakeClients struct {
	sync.Mutex
	connected map[common.ConnectionID]bool
	sent      map[common.ConnectionID][]sentMessage
	kicked    map[common.ConnectionID]proto.KickReason
}

func newFakeClients() *fakeClients {
	return &fakeClients{
		connected: map[common.ConnectionID]bool{},
		sent:      map[common.ConnectionID][]sentMessage{},
		kicked:    map[common.ConnectionID]proto.KickReason{},
	}
}

func (c *fakeClients) connect() common.ConnectionID {
	conn := common.GenConnectionID()
	c.Lock()
	c.connected[conn] = true
	c.Unlock()
	return conn
}

func (c *fakeClients) disconnect(conn common.ConnectionID) {
	c.Lock()
	delete(c.connected, conn)
	c.Unlock()
}

func (c *fakeClients) Send(conn common.ConnectionID, msgtype proto.MsgType, msg interface{}) {
	c.Lock()
	defer c.Unlock()
	if !c.connected[conn] {
		return
	}
	c.sent[conn] = append(c.sent[conn], sentMessage{msgtype, msg})
}

func (c *fakeClients) Kick(conn common.ConnectionID, reason proto.KickReason) {
	c.Lock()
	defer c.Unlock()
	c.kicked[conn] = reason
	delete(c.connected, conn)
}

func (c *fakeClients) IsConnected(conn common.ConnectionID) bool {
	c.Lock()
	defer c.Unlock()
	return c.connected[conn]
}

func (c *fakeClients) count(conn common.ConnectionID, msgtype proto.MsgType) int {
	c.Lock()
	defer c.Unlock()
	n := 0
	for _, m := range c.sent[conn] {
		if m.msgtype == msgtype {
			n++
		}
	}
	return n
}

func (c *fakeClients) last(conn common.ConnectionID, msgtype proto.MsgType) interface{} {
	c.Lock()
	defer c.Unlock()
	msgs := c.sent[conn]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].msgtype == msgtype {
			return msgs[i].msg
		}
	}
	return nil
}

func (c *fakeClients) kickReason(conn common.ConnectionID) (proto.KickReason, bool) {
	c.Lock()
	defer c.Unlock()
	reason, ok := c.kicked[conn]
	return reason, ok
}

type testShard struct {
	*ShardService
	persistence *fakePersistence
	world       *world.MemoryWorld
	cluster     *fakeCluster
	clients     *fakeClients
}

func testShardConfig() *config.ShardConfig {
	return &config.ShardConfig{
		ListenAddr:             "127.0.0.1:0",
		MapName:                "map01",
		ChannelID:              "ch1",
		DespawnDelay:           time.Millisecond * 50,
		TerminateInstanceDelay: time.Millisecond * 100,
		GMLevel:                1,
	}
}

// newTestShard creates a registered shard with its world loaded
func newTestShard(t *testing.T, cfg *config.ShardConfig) *testShard {
	if cfg == nil {
		cfg = testShardConfig()
	}
	ts := &testShard{
		persistence: newFakePersistence(),
		world:       world.NewMemoryWorld(),
		cluster:     newFakeCluster(),
		clients:     newFakeClients(),
	}
	ts.ShardService = NewShardService(1, cfg, ts.persistence, ts.world)
	ts.SetCluster(ts.cluster)
	ts.SetClients(ts.clients)
	if !cfg.Allocate {
		ts.registered.Store(true)
		ts.worldLoaded.Store(true)
	}
	t.Cleanup(ts.cancel)
	return ts
}

// enter connects a client and admits it as the user's character
func (ts *testShard) enter(t *testing.T, userID string, characterID string) (common.ConnectionID, error) {
	conn := ts.clients.connect()
	ts.OnConnect(conn)
	err := ts.Admit(context.Background(), conn, userID, "token-"+userID, characterID)
	return conn, err
}

func (ts *testShard) spawnedCharacters() int {
	spawns, destroys := ts.world.Counts()
	return spawns - destroys
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond * 5)
	}
	return cond()
}
