package workspace

import (
	"sync"

	"github.com/hubslotph/kiro-whatsapp-integration/internal/wire"
)

// pendingResult is delivered to the waiter for one correlation id.
type pendingResult struct {
	resp wire.CommandResponse
	err  error
}

// pendingTable tracks in-flight requests by correlation id.
//
// Exactly one entry exists per in-flight id; the table is owned by a single
// Conn. Channels are buffered so resolvers never block on a waiter that has
// already given up.
type pendingTable struct {
	mu   sync.Mutex
	reqs map[string]chan pendingResult
}

func newPendingTable() *pendingTable {
	return &pendingTable{reqs: make(map[string]chan pendingResult)}
}

// register creates the wait channel for a new correlation id.
func (t *pendingTable) register(id string) <-chan pendingResult {
	ch := make(chan pendingResult, 1)
	t.mu.Lock()
	t.reqs[id] = ch
	t.mu.Unlock()
	return ch
}

// resolve delivers a response to the waiter for id. It returns false when the
// id is unknown (already timed out or never registered).
func (t *pendingTable) resolve(id string, resp wire.CommandResponse) bool {
	t.mu.Lock()
	ch, ok := t.reqs[id]
	if ok {
		delete(t.reqs, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- pendingResult{resp: resp}
	return true
}

// remove discards the entry for id without delivering anything. It returns
// false when the id is no longer present.
func (t *pendingTable) remove(id string) bool {
	t.mu.Lock()
	_, ok := t.reqs[id]
	if ok {
		delete(t.reqs, id)
	}
	t.mu.Unlock()
	return ok
}

// failAll rejects every in-flight request with err and empties the table.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	reqs := t.reqs
	t.reqs = make(map[string]chan pendingResult)
	t.mu.Unlock()
	for _, ch := range reqs {
		ch <- pendingResult{err: err}
	}
}

// size returns the number of in-flight requests.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reqs)
}
