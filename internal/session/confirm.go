package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Rrens/agent-bridge/internal/domain"
	"github.com/jonboulle/clockwork"
)

var (
	ErrToolRejected        = errors.New("tool call rejected by user")
	ErrConfirmationTimeout = errors.New("tool call confirmation timed out")
)

// Confirmations pairs tool calls that wait for approval with the decisions
// posted for them. A call is registered when it is announced to the client,
// so a decision may arrive before the loop starts waiting.
type Confirmations struct {
	clock clockwork.Clock

	mu      sync.Mutex
	pending map[string]chan bool
}

func NewConfirmations(clock clockwork.Clock) *Confirmations {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Confirmations{clock: clock, pending: make(map[string]chan bool)}
}

func (c *Confirmations) Register(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[callID]; !ok {
		c.pending[callID] = make(chan bool, 1)
	}
}

// Resolve records the decision for a registered call
func (c *Confirmations) Resolve(callID string, approved bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[callID]
	if !ok {
		return domain.ErrToolCallNotFound
	}
	select {
	case ch <- approved:
	default:
	}
	return nil
}

// Await blocks until callID is decided, timeout elapses or ctx is done. The
// call is unregistered on return. A timeout of zero waits indefinitely.
func (c *Confirmations) Await(ctx context.Context, callID string, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	ch, ok := c.pending[callID]
	c.mu.Unlock()
	if !ok {
		return false, domain.ErrToolCallNotFound
	}
	defer c.Cancel(callID)

	var expired <-chan time.Time
	if timeout > 0 {
		expired = c.clock.After(timeout)
	}

	select {
	case approved := <-ch:
		if !approved {
			return false, ErrToolRejected
		}
		return true, nil
	case <-expired:
		return false, ErrConfirmationTimeout
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Cancel unregisters callID
func (c *Confirmations) Cancel(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, callID)
}

func (c *Confirmations) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
