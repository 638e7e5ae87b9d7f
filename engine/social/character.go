package social

import "fmt"

// Character is the presence snapshot of a character which is replicated between shards
type Character struct {
	ID          string `msgpack:"id"`
	UserID      string `msgpack:"uid"`
	DisplayName string `msgpack:"name"`
	DataID      int    `msgpack:"data"`
	Level       int    `msgpack:"lv"`
	PartyID     int    `msgpack:"party"`
	GuildID     int    `msgpack:"guild"`
	GuildRole   byte   `msgpack:"grole"`
	MapName     string `msgpack:"map"`
	ChannelID   string `msgpack:"ch"`
	CurrentHP   int    `msgpack:"hp"`
	MaxHP       int    `msgpack:"mhp"`
}

func (c Character) String() string {
	return fmt.Sprintf("Character<%s|%s>", c.ID, c.DisplayName)
}

// Roster is the ordered member set shared by parties and guilds
type Roster struct {
	MemberIDs []string             `msgpack:"ids"`
	Members   map[string]Character `msgpack:"members"`
}

// IsMember returns if the character is a member
func (r *Roster) IsMember(characterID string) bool {
	_, ok := r.Members[characterID]
	return ok
}

// Member returns the member snapshot
func (r *Roster) Member(characterID string) (Character, bool) {
	c, ok := r.Members[characterID]
	return c, ok
}

// MemberCount returns the number of members
func (r *Roster) MemberCount() int {
	return len(r.MemberIDs)
}

// MemberList returns members in joining order
func (r *Roster) MemberList() []Character {
	list := make([]Character, 0, len(r.MemberIDs))
	for _, id := range r.MemberIDs {
		list = append(list, r.Members[id])
	}
	return list
}

// addMember adds or refreshes a member, returns false if nothing changed
func (r *Roster) addMember(c Character) bool {
	if r.Members == nil {
		r.Members = map[string]Character{}
	}
	old, ok := r.Members[c.ID]
	if ok {
		if old == c {
			return false
		}
		r.Members[c.ID] = c
		return true
	}
	r.Members[c.ID] = c
	r.MemberIDs = append(r.MemberIDs, c.ID)
	return true
}

// updateMember refreshes the snapshot of an existing member only
func (r *Roster) updateMember(c Character) bool {
	old, ok := r.Members[c.ID]
	if !ok || old == c {
		return false
	}
	r.Members[c.ID] = c
	return true
}

func (r *Roster) removeMember(characterID string) bool {
	if _, ok := r.Members[characterID]; !ok {
		return false
	}
	delete(r.Members, characterID)
	for i, id := range r.MemberIDs {
		if id == characterID {
			r.MemberIDs = append(r.MemberIDs[:i:i], r.MemberIDs[i+1:]...)
			break
		}
	}
	return true
}

func (r *Roster) cloneRoster() Roster {
	cp := Roster{
		MemberIDs: append([]string(nil), r.MemberIDs...),
		Members:   make(map[string]Character, len(r.Members)),
	}
	for id, c := range r.Members {
		cp.Members[id] = c
	}
	return cp
}
