package social

const (
	// GuildLeaderRole is the role of the guild leader
	GuildLeaderRole byte = 0
)

// GuildRole is the permission set of one guild role
type GuildRole struct {
	Name               string `msgpack:"name"`
	CanInvite          bool   `msgpack:"invite"`
	CanKick            bool   `msgpack:"kick"`
	ShareExpPercentage int    `msgpack:"shareExp"`
}

// Guild is the shard-local copy of a guild
type Guild struct {
	ID                 int             `msgpack:"id"`
	Name               string          `msgpack:"name"`
	LeaderID           string          `msgpack:"leader"`
	Level              int             `msgpack:"lv"`
	Exp                int             `msgpack:"exp"`
	SkillPoint         int             `msgpack:"sp"`
	GuildMessage       string          `msgpack:"msg"`
	GuildMessage2      string          `msgpack:"msg2"`
	Gold               int             `msgpack:"gold"`
	Score              int             `msgpack:"score"`
	Options            string          `msgpack:"options"`
	AutoAcceptRequests bool            `msgpack:"autoAccept"`
	Rank               int             `msgpack:"rank"`
	Roles              []GuildRole     `msgpack:"roles"`
	MemberRoles        map[string]byte `msgpack:"memberRoles"`
	Skills             map[int]int     `msgpack:"skills"`
	Roster `msgpack:",inline"`
}

// NewGuild creates a guild led by the leader
func NewGuild(id int, name string, roles []GuildRole, leader Character) *Guild {
	g := &Guild{
		ID:          id,
		Name:        name,
		LeaderID:    leader.ID,
		Level:       1,
		Roles:       roles,
		MemberRoles: map[string]byte{},
		Skills:      map[int]int{},
	}
	leader.GuildRole = GuildLeaderRole
	g.AddMember(leader)
	return g
}

// LowestRole returns the role assigned to fresh members
func (g *Guild) LowestRole() byte {
	if len(g.Roles) == 0 {
		return GuildLeaderRole
	}
	return byte(len(g.Roles) - 1)
}

// IsLeader returns if the character leads the guild
func (g *Guild) IsLeader(characterID string) bool {
	return g.LeaderID == characterID
}

// MemberRole returns the role of a member
func (g *Guild) MemberRole(characterID string) byte {
	if role, ok := g.MemberRoles[characterID]; ok {
		return role
	}
	return g.LowestRole()
}

// AddMember adds the character to the guild, keeping its role if already known
func (g *Guild) AddMember(c Character) bool {
	if g.MemberRoles == nil {
		g.MemberRoles = map[string]byte{}
	}
	c.GuildID = g.ID
	if _, ok := g.MemberRoles[c.ID]; !ok {
		if c.ID == g.LeaderID {
			c.GuildRole = GuildLeaderRole
		} else if int(c.GuildRole) >= len(g.Roles) || c.GuildRole == GuildLeaderRole {
			c.GuildRole = g.LowestRole()
		}
		g.MemberRoles[c.ID] = c.GuildRole
	} else {
		c.GuildRole = g.MemberRoles[c.ID]
	}
	return g.addMember(c)
}

// UpdateMember refreshes the snapshot of a member
func (g *Guild) UpdateMember(c Character) bool {
	c.GuildID = g.ID
	c.GuildRole = g.MemberRole(c.ID)
	return g.updateMember(c)
}

// RemoveMember removes the character from the guild
func (g *Guild) RemoveMember(characterID string) bool {
	delete(g.MemberRoles, characterID)
	return g.removeMember(characterID)
}

// SetLeader transfers leadership, the old leader falls to the lowest role
func (g *Guild) SetLeader(characterID string) bool {
	if g.LeaderID == characterID {
		return false
	}
	old := g.LeaderID
	g.LeaderID = characterID
	if g.IsMember(old) {
		g.SetMemberRole(old, g.LowestRole())
	}
	g.SetMemberRole(characterID, GuildLeaderRole)
	return true
}

// SetMemberRole changes the role of a member
func (g *Guild) SetMemberRole(characterID string, role byte) bool {
	if !g.IsMember(characterID) {
		return false
	}
	if r, ok := g.MemberRoles[characterID]; ok && r == role {
		return false
	}
	g.MemberRoles[characterID] = role
	c := g.Members[characterID]
	c.GuildRole = role
	g.Members[characterID] = c
	return true
}

// SetRole replaces the permission set of a role
func (g *Guild) SetRole(role byte, data GuildRole) bool {
	idx := int(role)
	if idx < len(g.Roles) && g.Roles[idx] == data {
		return false
	}
	for len(g.Roles) <= idx {
		g.Roles = append(g.Roles, GuildRole{})
	}
	g.Roles[idx] = data
	return true
}

// SetGuildMessage sets the guild message
func (g *Guild) SetGuildMessage(msg string) bool {
	if g.GuildMessage == msg {
		return false
	}
	g.GuildMessage = msg
	return true
}

// SetGuildMessage2 sets the secondary guild message
func (g *Guild) SetGuildMessage2(msg string) bool {
	if g.GuildMessage2 == msg {
		return false
	}
	g.GuildMessage2 = msg
	return true
}

// SetSkillLevel sets the level of a guild skill
func (g *Guild) SetSkillLevel(skillID int, level int) bool {
	if g.Skills == nil {
		g.Skills = map[int]int{}
	}
	if lv, ok := g.Skills[skillID]; ok && lv == level {
		return false
	}
	g.Skills[skillID] = level
	return true
}

func (g *Guild) SetGold(gold int) bool {
	if g.Gold == gold {
		return false
	}
	g.Gold = gold
	return true
}

func (g *Guild) SetScore(score int) bool {
	if g.Score == score {
		return false
	}
	g.Score = score
	return true
}

func (g *Guild) SetOptions(options string) bool {
	if g.Options == options {
		return false
	}
	g.Options = options
	return true
}

func (g *Guild) SetAutoAcceptRequests(autoAccept bool) bool {
	if g.AutoAcceptRequests == autoAccept {
		return false
	}
	g.AutoAcceptRequests = autoAccept
	return true
}

func (g *Guild) SetRank(rank int) bool {
	if g.Rank == rank {
		return false
	}
	g.Rank = rank
	return true
}

// SetLevelExpSkillPoint sets level, exp and skill point at once
func (g *Guild) SetLevelExpSkillPoint(level int, exp int, skillPoint int) bool {
	if g.Level == level && g.Exp == exp && g.SkillPoint == skillPoint {
		return false
	}
	g.Level = level
	g.Exp = exp
	g.SkillPoint = skillPoint
	return true
}

// Clone returns a deep copy
func (g *Guild) Clone() *Guild {
	cp := *g
	cp.Roles = append([]GuildRole(nil), g.Roles...)
	cp.MemberRoles = make(map[string]byte, len(g.MemberRoles))
	for id, r := range g.MemberRoles {
		cp.MemberRoles[id] = r
	}
	cp.Skills = make(map[int]int, len(g.Skills))
	for id, lv := range g.Skills {
		cp.Skills[id] = lv
	}
	cp.Roster = g.cloneRoster()
	return &cp
}
