// Package session owns live sessions: the registry of agent clients bound to
// sessions, the orchestrator resolving a turn to a session, and the tool
// execution loop that drives a turn.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/Rrens/agent-bridge/internal/agent"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a live handle is reused after it was built
const DefaultTTL = 24 * time.Hour

// Handle is a live session: an initialized agent client bound to the
// session's working directory
type Handle struct {
	ID          string
	WorkDirName string
	WorkDir     string
	Client      agent.Client
	Executor    agent.ToolExecutor
	CreatedAt   time.Time

	mu      sync.Mutex
	busy    bool
	retired bool
	closed  bool
}

// TryAcquire claims the handle for one turn. It returns false while another
// turn holds it or once the registry has let go of the handle.
func (h *Handle) TryAcquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.busy || h.retired {
		return false
	}
	h.busy = true
	return true
}

// Release ends the turn. A handle retired during the turn is closed here.
func (h *Handle) Release() {
	h.mu.Lock()
	h.busy = false
	closeNow := h.retired && !h.closed
	h.closed = h.closed || closeNow
	h.mu.Unlock()

	if closeNow {
		h.close()
	}
}

func (h *Handle) Busy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.busy
}

// retire takes the handle out of service. The client is closed now, or when
// the running turn releases it.
func (h *Handle) retire() {
	h.mu.Lock()
	h.retired = true
	closeNow := !h.busy && !h.closed
	h.closed = h.closed || closeNow
	h.mu.Unlock()

	if closeNow {
		h.close()
	}
}

func (h *Handle) close() {
	if err := h.Client.Close(); err != nil {
		log.Warn().Err(err).Str("session_id", h.ID).Msg("failed to close agent client")
	}
}

// Registry caches live handles by session id. A handle older than the TTL
// is not returned and gets replaced on the next build, unless a turn holds
// it: a session keeps one live handle for as long as a turn runs.
type Registry struct {
	ttl   time.Duration
	clock clockwork.Clock

	mu      sync.RWMutex
	handles map[string]*Handle
	group   singleflight.Group
}

func NewRegistry(ttl time.Duration, clock clockwork.Clock) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		ttl:     ttl,
		clock:   clock,
		handles: make(map[string]*Handle),
	}
}

func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

func (r *Registry) fresh(h *Handle) bool {
	return h.Busy() || r.clock.Since(h.CreatedAt) < r.ttl
}

// Get returns the live handle of id if it is within the TTL
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	if !ok || !r.fresh(h) {
		return nil, false
	}
	return h, true
}

// GetOrBuild returns the live handle of id, calling build at most once per id
// across concurrent callers when there is none. The built handle is cached.
func (r *Registry) GetOrBuild(ctx context.Context, id string, build func(ctx context.Context) (*Handle, error)) (*Handle, error) {
	if h, ok := r.Get(id); ok {
		return h, nil
	}

	v, err, _ := r.group.Do(id, func() (any, error) {
		if h, ok := r.Get(id); ok {
			return h, nil
		}
		h, err := build(ctx)
		if err != nil {
			return nil, err
		}
		r.Put(h)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// Put caches h, replacing any stale handle of the same session
func (r *Registry) Put(h *Handle) {
	r.mu.Lock()
	old, ok := r.handles[h.ID]
	r.handles[h.ID] = h
	r.mu.Unlock()

	if ok && old != h {
		old.retire()
	}
}

// Remove evicts the handle of id and closes its client once no turn holds it
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()

	if ok {
		h.retire()
	}
	return ok
}

// Sweep evicts expired handles that are not running a turn and returns how
// many were evicted
func (r *Registry) Sweep() int {
	var expired []*Handle

	r.mu.Lock()
	for id, h := range r.handles {
		if !r.fresh(h) && !h.Busy() {
			expired = append(expired, h)
			delete(r.handles, id)
		}
	}
	r.mu.Unlock()

	for _, h := range expired {
		h.retire()
	}
	return len(expired)
}

// RunSweeper sweeps every interval until ctx is done
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := r.Sweep(); n > 0 {
				log.Info().Int("evicted", n).Int("live", r.Len()).Msg("swept expired sessions")
			}
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// CloseAll evicts every handle
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.retire()
	}
}
