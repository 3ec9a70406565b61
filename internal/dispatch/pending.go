package dispatch

import (
	"sync"
	"time"

	"github.com/cwygoda/dropprint/internal/domain"
)

type pendingJob struct {
	job      *domain.PrintJob
	callback Callback
	timer    *time.Timer
}

// pendingTable maps job IDs to their registered callbacks. Removal is
// idempotent: the first take wins, later takes see nothing.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingJob
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingJob)}
}

// add registers p under id. When timeout is positive, onExpire is scheduled
// to run after it. Returns false if id is already registered.
func (t *pendingTable) add(id string, p *pendingJob, timeout time.Duration, onExpire func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[id]; exists {
		return false
	}
	t.entries[id] = p
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, onExpire)
	}
	return true
}

// take removes and returns the entry for id, or nil if there is none.
func (t *pendingTable) take(id string) *pendingJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	if p.timer != nil {
		p.timer.Stop()
	}
	return p
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
