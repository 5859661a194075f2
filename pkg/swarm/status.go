package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/warrenet/nebula/pkg/models"
)

// statusGracePeriod is how long a terminal SwarmStatus remains visible to
// status/WS readers before eviction.
const statusGracePeriod = 30 * time.Second

// statusRegistry tracks in-flight swarm statuses and the cancel function of
// each running mission. Mutated by engine workers, read concurrently by the
// status and WebSocket endpoints.
type statusRegistry struct {
	mu       sync.RWMutex
	statuses map[string]*models.SwarmStatus
	cancels  map[string]context.CancelFunc
	grace    time.Duration
}

func newStatusRegistry(grace time.Duration) *statusRegistry {
	return &statusRegistry{
		statuses: make(map[string]*models.SwarmStatus),
		cancels:  make(map[string]context.CancelFunc),
		grace:    grace,
	}
}

func (r *statusRegistry) put(status *models.SwarmStatus, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[status.TraceID] = status
	if cancel != nil {
		r.cancels[status.TraceID] = cancel
	}
}

// get returns a deep copy so callers never observe partial engine mutations.
func (r *statusRegistry) get(traceID string) (*models.SwarmStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[traceID]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (r *statusRegistry) active() []*models.SwarmStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.SwarmStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		out = append(out, s.Clone())
	}
	return out
}

// mutate applies fn to the live status under the write lock.
func (r *statusRegistry) mutate(traceID string, fn func(*models.SwarmStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.statuses[traceID]; ok {
		fn(s)
	}
}

// cancel invokes the mission's cancel function if it is still running.
func (r *statusRegistry) cancel(traceID string) bool {
	r.mu.RLock()
	cancelFn, ok := r.cancels[traceID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	cancelFn()
	return true
}

// settle drops the cancel registration and schedules eviction of the
// terminal status after the grace period. evicted is invoked after removal
// (the engine uses it to tear down bus subscriptions).
func (r *statusRegistry) settle(traceID string, evicted func()) {
	r.mu.Lock()
	delete(r.cancels, traceID)
	r.mu.Unlock()

	time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		delete(r.statuses, traceID)
		r.mu.Unlock()
		if evicted != nil {
			evicted()
		}
	})
}
