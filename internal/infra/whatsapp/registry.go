package whatsapp

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-wide mapping from instance id to live session
// handle. It performs no I/O and never blocks; every read-then-write
// sequence against it happens under the controller's start guard, not here.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
	}
}

func (r *Registry) Get(instanceID uuid.UUID) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[instanceID]
}

func (r *Registry) Set(instanceID uuid.UUID, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[instanceID] = sess
}

func (r *Registry) Delete(instanceID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, instanceID)
}

// Values returns a snapshot of every live session, used at process shutdown
// to close all connections.
func (r *Registry) Values() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = make(map[uuid.UUID]*Session)
}
