package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"steady-hand/internal/domain"
)

// ErrIntakeFull is returned when the buffer is at capacity.
var ErrIntakeFull = errors.New("signal intake buffer full")

const maxSignalAge = 30 * time.Minute

// Intake buffers signals pushed by external producers (webhook, bot) until
// the next trading cycle drains them. Bounded; stale entries are dropped at
// drain time.
type Intake struct {
	name string
	cap  int

	mu      sync.Mutex
	pending []domain.SourceSignal
}

func NewIntake(name string, capacity int) *Intake {
	if capacity < 1 {
		capacity = 64
	}
	return &Intake{name: name, cap: capacity}
}

func (i *Intake) Name() string { return i.name }

// Push queues one signal for the next cycle.
func (i *Intake) Push(sig domain.SourceSignal) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.pending) >= i.cap {
		return ErrIntakeFull
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	i.pending = append(i.pending, sig)
	return nil
}

// Pending reports the current buffer depth.
func (i *Intake) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.pending)
}

// Fetch drains the buffer, discarding signals older than the staleness limit.
func (i *Intake) Fetch(ctx context.Context) ([]domain.SourceSignal, error) {
	i.mu.Lock()
	pending := i.pending
	i.pending = nil
	i.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxSignalAge)
	fresh := pending[:0]
	for _, sig := range pending {
		if sig.Timestamp.After(cutoff) {
			fresh = append(fresh, sig)
		}
	}
	return fresh, nil
}
