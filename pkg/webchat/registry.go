package webchat

import (
	"sort"
	"sync"

	"github.com/go-go-golems/chat-relay/pkg/chat"
)

// Participant is what the relay knows about a live connection.
type Participant struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"user_name"`
}

// UnknownParticipant is returned for connections that never joined.
var UnknownParticipant = Participant{SessionID: chat.DefaultSessionID, DisplayName: chat.DefaultDisplayName}

// ConnectionRegistry maps live connection ids to their session and display
// name. A connection belongs to at most one session at a time.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	conns map[string]Participant
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: map[string]Participant{}}
}

// Register associates connID with a session, replacing any prior
// association. The previous association is returned when there was one.
func (r *ConnectionRegistry) Register(connID, sessionID, displayName string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.conns[connID]
	r.conns[connID] = Participant{SessionID: sessionID, DisplayName: displayName}
	return prev, ok
}

// Unregister drops the association for connID. Unknown ids are a no-op.
func (r *ConnectionRegistry) Unregister(connID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.conns[connID]
	delete(r.conns, connID)
	return prev, ok
}

// Lookup never fails: unknown connections resolve to UnknownParticipant.
func (r *ConnectionRegistry) Lookup(connID string) Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.conns[connID]; ok {
		return p
	}
	return UnknownParticipant
}

func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Connections lists the connection ids registered to sessionID, sorted.
func (r *ConnectionRegistry) Connections(sessionID string) []string {
	r.mu.RLock()
	ids := make([]string, 0)
	for id, p := range r.conns {
		if p.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
