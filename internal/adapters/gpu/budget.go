// Package gpu models GPU-memory admission control as an explicit token
// pool rather than ambient global state, so tests can simulate contention
// deterministically.
//
// A Budget is sized to a configured fraction of the device memory. GPU
// stages declare their peak requirement before running; requests that do
// not fit block in FIFO order until capacity frees or the maximum wait is
// exceeded.
package gpu

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/pkg/metrics"
)

// Budget admits GPU work against a fixed memory ceiling.
type Budget struct {
	mu       sync.Mutex
	capacity uint64
	inUse    uint64
	waiters  *list.List // of chan struct{}, FIFO
	maxWait  time.Duration
	quiet    bool
}

// Option applies a configuration option to the Budget.
type Option func(*Budget)

// WithMaxWait bounds how long an admission request may block before it
// fails with resource exhaustion. Zero means wait until ctx expires.
func WithMaxWait(d time.Duration) Option {
	return func(b *Budget) {
		if d > 0 {
			b.maxWait = d
		}
	}
}

// WithQuietMetrics suppresses gauge updates. Used for per-job sub-budgets
// so they do not clobber the process-level gauges.
func WithQuietMetrics() Option {
	return func(b *Budget) {
		b.quiet = true
	}
}

// NewBudget creates a Budget of fraction × deviceBytes.
func NewBudget(deviceBytes uint64, fraction float64, opts ...Option) *Budget {
	capacity := uint64(float64(deviceBytes) * fraction)
	b := &Budget{
		capacity: capacity,
		waiters:  list.New(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if !b.quiet {
		metrics.UpdateGPUBudget(capacity)
		metrics.UpdateGPUInUse(0)
	}
	return b
}

// Capacity returns the total admitted ceiling in bytes.
func (b *Budget) Capacity() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// InUse returns the currently admitted bytes.
func (b *Budget) InUse() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inUse
}

// Lease is an admitted slice of the budget. Release returns it; safe to
// call more than once.
type Lease struct {
	budget *Budget
	bytes  uint64
	once   sync.Once
}

// Bytes returns the admitted size of the lease.
func (l *Lease) Bytes() uint64 {
	return l.bytes
}

// Release returns the lease to the budget and wakes waiters.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.budget.release(l.bytes)
	})
}

// Acquire blocks until bytes fit the remaining budget, the context is
// done, or the maximum wait elapses. Requests larger than total capacity
// fail immediately: they could never be admitted.
func (b *Budget) Acquire(ctx context.Context, bytes uint64) (*Lease, error) {
	if bytes == 0 {
		return &Lease{budget: b, bytes: 0}, nil
	}

	b.mu.Lock()
	if bytes > b.capacity {
		b.mu.Unlock()
		b.rejection()
		return nil, fmt.Errorf("%w: requested %d bytes exceeds budget of %d",
			model.ErrResourceExhausted, bytes, b.capacity)
	}

	start := time.Now()
	var deadline <-chan time.Time
	if b.maxWait > 0 {
		t := time.NewTimer(b.maxWait)
		defer t.Stop()
		deadline = t.C
	}

	for {
		// Admit only at the head of the line so waiters are served FIFO
		// and a small request cannot starve a large one indefinitely.
		if b.inUse+bytes <= b.capacity && b.waiters.Len() == 0 {
			b.inUse += bytes
			b.gaugeInUse()
			b.mu.Unlock()
			b.admitLatency(time.Since(start).Seconds())
			return &Lease{budget: b, bytes: bytes}, nil
		}

		wake := make(chan struct{})
		elem := b.waiters.PushBack(wake)
		b.gaugeWaiters()
		b.mu.Unlock()

		select {
		case <-wake:
			b.mu.Lock()
			if b.inUse+bytes <= b.capacity {
				b.inUse += bytes
				b.gaugeInUse()
				b.mu.Unlock()
				b.admitLatency(time.Since(start).Seconds())
				return &Lease{budget: b, bytes: bytes}, nil
			}
			// Capacity was taken again before we ran; requeue.
		case <-ctx.Done():
			b.dropWaiter(elem)
			b.rejection()
			return nil, fmt.Errorf("%w: %w", model.ErrResourceExhausted, ctx.Err())
		case <-deadline:
			b.dropWaiter(elem)
			b.rejection()
			return nil, fmt.Errorf("%w: admission wait exceeded %s",
				model.ErrResourceExhausted, b.maxWait)
		}
	}
}

// release returns bytes to the pool and wakes the head waiter.
func (b *Budget) release(bytes uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bytes > b.inUse {
		b.inUse = 0
	} else {
		b.inUse -= bytes
	}
	b.gaugeInUse()
	b.wakeHead()
}

// dropWaiter removes a waiter that gave up, then wakes the next in line.
func (b *Budget) dropWaiter(elem *list.Element) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.waiters.Remove(elem)
	b.gaugeWaiters()
	b.wakeHead()
}

// wakeHead signals the first waiter. Must be called with b.mu held.
func (b *Budget) wakeHead() {
	if front := b.waiters.Front(); front != nil {
		b.waiters.Remove(front)
		b.gaugeWaiters()
		close(front.Value.(chan struct{}))
	}
}

// Metric helpers honoring the quiet flag. gaugeInUse and gaugeWaiters
// must be called with b.mu held.
func (b *Budget) gaugeInUse() {
	if !b.quiet {
		metrics.UpdateGPUInUse(b.inUse)
	}
}

func (b *Budget) gaugeWaiters() {
	if !b.quiet {
		metrics.UpdateGPUWaiters(b.waiters.Len())
	}
}

func (b *Budget) admitLatency(seconds float64) {
	if !b.quiet {
		metrics.RecordGPUAdmitLatency(seconds)
	}
}

func (b *Budget) rejection() {
	if !b.quiet {
		metrics.RecordGPURejection()
	}
}
