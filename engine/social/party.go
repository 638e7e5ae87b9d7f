package social

// Party is the shard-local copy of a party
type Party struct {
	ID        int    `msgpack:"id"`
	LeaderID  string `msgpack:"leader"`
	ShareExp  bool   `msgpack:"shareExp"`
	ShareItem bool   `msgpack:"shareItem"`
	Roster `msgpack:",inline"`
}

// NewParty creates a party led by the leader
func NewParty(id int, shareExp bool, shareItem bool, leader Character) *Party {
	p := &Party{
		ID:        id,
		LeaderID:  leader.ID,
		ShareExp:  shareExp,
		ShareItem: shareItem,
	}
	p.AddMember(leader)
	return p
}

// IsLeader returns if the character leads the party
func (p *Party) IsLeader(characterID string) bool {
	return p.LeaderID == characterID
}

// AddMember adds the character to the party
func (p *Party) AddMember(c Character) bool {
	c.PartyID = p.ID
	return p.addMember(c)
}

// UpdateMember refreshes the snapshot of a member
func (p *Party) UpdateMember(c Character) bool {
	c.PartyID = p.ID
	return p.updateMember(c)
}

// RemoveMember removes the character from the party
func (p *Party) RemoveMember(characterID string) bool {
	return p.removeMember(characterID)
}

// SetLeader changes the leader
func (p *Party) SetLeader(characterID string) bool {
	if p.LeaderID == characterID {
		return false
	}
	p.LeaderID = characterID
	return true
}

// Setting changes the sharing rules
func (p *Party) Setting(shareExp bool, shareItem bool) bool {
	if p.ShareExp == shareExp && p.ShareItem == shareItem {
		return false
	}
	p.ShareExp = shareExp
	p.ShareItem = shareItem
	return true
}

// Clone returns a deep copy
func (p *Party) Clone() *Party {
	cp := *p
	cp.Roster = p.cloneRoster()
	return &cp
}
