package assistant

import (
	"sync"

	"github.com/google/uuid"
)

// accumulation is the running result of one in-flight call. It is owned by the goroutine
// running that call.
type accumulation struct {
	id        string
	personaID string
	text      string
}

// accumulatorRegistry tracks in-flight calls by request id, so two calls for the same persona
// never share state
type accumulatorRegistry struct {
	mu      sync.Mutex
	entries map[string]*accumulation
}

func newAccumulatorRegistry() *accumulatorRegistry {
	return &accumulatorRegistry{
		entries: make(map[string]*accumulation),
	}
}

// acquire registers a fresh entry for personaID
func (r *accumulatorRegistry) acquire(personaID string) *accumulation {
	acc := &accumulation{
		id:        uuid.NewString(),
		personaID: personaID,
	}

	r.mu.Lock()
	r.entries[acc.id] = acc
	r.mu.Unlock()

	inFlightCalls.Inc()
	return acc
}

// release removes the entry; releasing twice is a no-op
func (r *accumulatorRegistry) release(acc *accumulation) {
	r.mu.Lock()
	_, ok := r.entries[acc.id]
	delete(r.entries, acc.id)
	r.mu.Unlock()

	if ok {
		inFlightCalls.Dec()
	}
}

// inFlight returns the number of registered entries
func (r *accumulatorRegistry) inFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
