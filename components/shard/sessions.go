package shard

import (
	"fmt"
	"sync"

	"github.com/xiaonanln/mapshard/engine/common"
)

// Session binds a client connection to the user and character it plays
type Session struct {
	ConnectionID common.ConnectionID
	UserID       string
	AccessToken  string
	CharacterID  string
}

func (s Session) String() string {
	return fmt.Sprintf("Session<%s|%s|%s>", s.ConnectionID, s.UserID, s.CharacterID)
}

// SessionRegistry knows who is online on this shard.
// Each user and each character has at most one session.
type SessionRegistry struct {
	mu          sync.RWMutex
	byConn      map[common.ConnectionID]Session
	byUser      map[string]common.ConnectionID
	byCharacter map[string]common.ConnectionID
}

// NewSessionRegistry creates an empty registry
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		byConn:      map[common.ConnectionID]Session{},
		byUser:      map[string]common.ConnectionID{},
		byCharacter: map[string]common.ConnectionID{},
	}
}

// Admit registers the session, failing with ErrAlreadyRegistered if the connection,
// the user or the character already has one. An existing session is never replaced.
func (r *SessionRegistry) Admit(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byConn[s.ConnectionID]; ok {
		return ErrAlreadyRegistered
	}
	if _, ok := r.byUser[s.UserID]; ok {
		return ErrAlreadyRegistered
	}
	if _, ok := r.byCharacter[s.CharacterID]; ok {
		return ErrAlreadyRegistered
	}
	r.byConn[s.ConnectionID] = s
	r.byUser[s.UserID] = s.ConnectionID
	r.byCharacter[s.CharacterID] = s.ConnectionID
	return nil
}

// Unregister removes the session of the connection, calling it again is a no-op
func (r *SessionRegistry) Unregister(conn common.ConnectionID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[conn]
	if !ok {
		return Session{}, false
	}
	delete(r.byConn, conn)
	if r.byUser[s.UserID] == conn {
		delete(r.byUser, s.UserID)
	}
	if r.byCharacter[s.CharacterID] == conn {
		delete(r.byCharacter, s.CharacterID)
	}
	return s, true
}

// IsRegistered returns if the user or the character has a session
func (r *SessionRegistry) IsRegistered(userID string, characterID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, userOnline := r.byUser[userID]
	_, characterOnline := r.byCharacter[characterID]
	return userOnline || characterOnline
}

func (r *SessionRegistry) Lookup(conn common.ConnectionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[conn]
	return s, ok
}

func (r *SessionRegistry) LookupByCharacter(characterID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byCharacter[characterID]
	if !ok {
		return Session{}, false
	}
	return r.byConn[conn], true
}

func (r *SessionRegistry) LookupByUser(userID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.byUser[userID]
	if !ok {
		return Session{}, false
	}
	return r.byConn[conn], true
}

// Count returns the number of sessions
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// List returns a snapshot of all sessions
func (r *SessionRegistry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]Session, 0, len(r.byConn))
	for _, s := range r.byConn {
		sessions = append(sessions, s)
	}
	return sessions
}
