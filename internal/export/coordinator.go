package export

import (
	"context"
	"sync/atomic"
)

// Pool is a counting semaphore bounding how many operations of one class
// may run at the same time.
type Pool struct {
	slots       chan struct{}
	inFlight    int64
	maxInFlight int64
}

// NewPool creates a pool with the given capacity. A non-positive limit
// is clamped to 1.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{
		slots: make(chan struct{}, limit),
	}
}

// Acquire blocks until a slot is free or the context is cancelled.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.slots <- struct{}{}:
		n := atomic.AddInt64(&p.inFlight, 1)
		for {
			max := atomic.LoadInt64(&p.maxInFlight)
			if n <= max || atomic.CompareAndSwapInt64(&p.maxInFlight, max, n) {
				break
			}
		}
		return nil
	}
}

// Release frees a previously acquired slot.
func (p *Pool) Release() {
	atomic.AddInt64(&p.inFlight, -1)
	<-p.slots
}

// InFlight returns the number of currently held slots.
func (p *Pool) InFlight() int {
	return int(atomic.LoadInt64(&p.inFlight))
}

// MaxInFlight returns the highest number of slots ever held at once.
func (p *Pool) MaxInFlight() int {
	return int(atomic.LoadInt64(&p.maxInFlight))
}

// Capacity returns the configured slot limit.
func (p *Pool) Capacity() int {
	return cap(p.slots)
}

// Coordinator holds the two independent capacity pools shared by all
// concurrent work for one instance run: download-class slots cover a
// project's whole export workflow (trigger, poll, download) end to end,
// API-class slots cover individual listing and metadata requests.
type Coordinator struct {
	Downloads *Pool
	API       *Pool
}

// NewCoordinator creates a coordinator with the given pool limits.
func NewCoordinator(maxDownloads, maxAPICalls int) *Coordinator {
	return &Coordinator{
		Downloads: NewPool(maxDownloads),
		API:       NewPool(maxAPICalls),
	}
}
