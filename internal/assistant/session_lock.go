package assistant

import (
	"context"
	"log"
	"sync"
)

// SessionLockManager serializes calls that share a provider-side conversation.
// A second turn must not start before the first one has stored its conversation id.
type SessionLockManager struct {
	locks map[string]chan struct{}
	mu    sync.Mutex
}

// NewSessionLockManager creates a new SessionLockManager
func NewSessionLockManager() *SessionLockManager {
	return &SessionLockManager{
		locks: make(map[string]chan struct{}),
	}
}

func sessionKey(actorID, personaID string) string {
	return actorID + "\x00" + personaID
}

// getLock returns the lock for a session, creating one if needed
func (m *SessionLockManager) getLock(key string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locks[key] == nil {
		m.locks[key] = make(chan struct{}, 1)
	}
	return m.locks[key]
}

// Lock acquires the lock for the (actor, persona) session. It returns ctx.Err() if the
// context ends first; otherwise the returned func releases the lock.
func (m *SessionLockManager) Lock(ctx context.Context, actorID, personaID string) (func(), error) {
	lock := m.getLock(sessionKey(actorID, personaID))

	select {
	case lock <- struct{}{}:
		log.Printf("[SessionLock] Acquired lock actor_id=%s persona_id=%s", actorID, personaID)
	case <-ctx.Done():
		log.Printf("[SessionLock] Context ended while acquiring lock actor_id=%s persona_id=%s", actorID, personaID)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock
			log.Printf("[SessionLock] Released lock actor_id=%s persona_id=%s", actorID, personaID)
		})
	}, nil
}
