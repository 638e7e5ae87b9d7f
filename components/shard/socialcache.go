package shard

import (
	"sync"

	"github.com/xiaonanln/mapshard/engine/social"
)

// Presence is the last known snapshot of a character known to this shard
type Presence struct {
	Character social.Character
	Online    bool
}

// SocialCache caches party and guild aggregates and the presence of characters.
//
// Aggregates are only mutated through UpdateParty and UpdateGuild, which apply the
// mutation under the cache lock and hand out clones for notifications.
type SocialCache struct {
	mu       sync.RWMutex
	parties  map[int]*social.Party
	guilds   map[int]*social.Guild
	presence map[string]*Presence
}

func NewSocialCache() *SocialCache {
	return &SocialCache{
		parties:  map[int]*social.Party{},
		guilds:   map[int]*social.Guild{},
		presence: map[string]*Presence{},
	}
}

// TryGetParty returns a copy of the cached party
func (sc *SocialCache) TryGetParty(partyID int) (*social.Party, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	p, ok := sc.parties[partyID]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// SetParty replaces the cached party
func (sc *SocialCache) SetParty(p *social.Party) {
	sc.mu.Lock()
	sc.parties[p.ID] = p.Clone()
	cachedPartiesGauge.Set(float64(len(sc.parties)))
	sc.mu.Unlock()
}

// SetPartyIfAbsent caches the party unless it is cached already, returning the cached copy
func (sc *SocialCache) SetPartyIfAbsent(p *social.Party) *social.Party {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if cur, ok := sc.parties[p.ID]; ok {
		return cur.Clone()
	}
	sc.parties[p.ID] = p.Clone()
	cachedPartiesGauge.Set(float64(len(sc.parties)))
	return p.Clone()
}

// RemoveParty evicts the party, returning the evicted copy
func (sc *SocialCache) RemoveParty(partyID int) (*social.Party, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	p, ok := sc.parties[partyID]
	if !ok {
		return nil, false
	}
	delete(sc.parties, partyID)
	cachedPartiesGauge.Set(float64(len(sc.parties)))
	return p, true
}

// UpdateParty applies mutate to the cached party. It returns a copy of the party
// after the mutation, whether mutate reported a change and whether the party is cached.
func (sc *SocialCache) UpdateParty(partyID int, mutate func(p *social.Party) bool) (*social.Party, bool, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	p, ok := sc.parties[partyID]
	if !ok {
		return nil, false, false
	}
	changed := mutate(p)
	return p.Clone(), changed, true
}

func (sc *SocialCache) TryGetGuild(guildID int) (*social.Guild, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	g, ok := sc.guilds[guildID]
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

func (sc *SocialCache) SetGuild(g *social.Guild) {
	sc.mu.Lock()
	sc.guilds[g.ID] = g.Clone()
	cachedGuildsGauge.Set(float64(len(sc.guilds)))
	sc.mu.Unlock()
}

func (sc *SocialCache) SetGuildIfAbsent(g *social.Guild) *social.Guild {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if cur, ok := sc.guilds[g.ID]; ok {
		return cur.Clone()
	}
	sc.guilds[g.ID] = g.Clone()
	cachedGuildsGauge.Set(float64(len(sc.guilds)))
	return g.Clone()
}

func (sc *SocialCache) RemoveGuild(guildID int) (*social.Guild, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	g, ok := sc.guilds[guildID]
	if !ok {
		return nil, false
	}
	delete(sc.guilds, guildID)
	cachedGuildsGauge.Set(float64(len(sc.guilds)))
	return g, true
}

func (sc *SocialCache) UpdateGuild(guildID int, mutate func(g *social.Guild) bool) (*social.Guild, bool, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	g, ok := sc.guilds[guildID]
	if !ok {
		return nil, false, false
	}
	changed := mutate(g)
	return g.Clone(), changed, true
}

// Track starts tracking the character if it is not tracked yet
func (sc *SocialCache) Track(c social.Character) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, ok := sc.presence[c.ID]; ok {
		return false
	}
	sc.presence[c.ID] = &Presence{Character: c}
	return true
}

// Untrack stops tracking the character, returning if it was tracked
func (sc *SocialCache) Untrack(characterID string) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, ok := sc.presence[characterID]; !ok {
		return false
	}
	delete(sc.presence, characterID)
	return true
}

// MarkOnline refreshes the snapshot of a tracked character and marks it online.
// It returns false if the character is not tracked.
func (sc *SocialCache) MarkOnline(c social.Character) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	p, ok := sc.presence[c.ID]
	if !ok {
		return false
	}
	p.Character = c
	p.Online = true
	return true
}

func (sc *SocialCache) Presence(characterID string) (Presence, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	p, ok := sc.presence[characterID]
	if !ok {
		return Presence{}, false
	}
	return *p, true
}

func (sc *SocialCache) IsTracked(characterID string) bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	_, ok := sc.presence[characterID]
	return ok
}

// Tracked returns the snapshots of all tracked characters
func (sc *SocialCache) Tracked() []social.Character {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	list := make([]social.Character, 0, len(sc.presence))
	for _, p := range sc.presence {
		list = append(list, p.Character)
	}
	return list
}
