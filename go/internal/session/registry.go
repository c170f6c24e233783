package session

import (
	"sync"

	"github.com/mcdev12/teamsync/go/internal/models"
)

// Session is the live association between a connection and the topic it joined
type Session struct {
	ConnectionID string
	TopicID      string
	Kind         models.TopicKind
	Name         string
}

// Registry tracks which topic each live connection joined. It is
// process-local; connections never survive a restart.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]Session)}
}

// Register stores the session for a connection, replacing any previous one.
// A connection belongs to at most one topic.
func (r *Registry) Register(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ConnectionID] = s
}

// Lookup returns the session of a connection
func (r *Registry) Lookup(connectionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connectionID]
	return s, ok
}

// Unregister removes and returns the session of a connection. Only the
// first call for a given session reports ok.
func (r *Registry) Unregister(connectionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connectionID]
	if ok {
		delete(r.sessions, connectionID)
	}
	return s, ok
}

// Rename updates the display name of a registered connection
func (r *Registry) Rename(connectionID, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[connectionID]
	if !ok {
		return false
	}
	s.Name = name
	r.sessions[connectionID] = s
	return true
}

// Members returns the connection IDs registered to a topic
func (r *Registry) Members(topicID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, s := range r.sessions {
		if s.TopicID == topicID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
