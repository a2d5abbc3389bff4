// Package workpool runs tasks under a fixed number of permits.
package workpool

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is the permit count used when a pool is built with size <= 0.
const DefaultSize = 10

// Pool bounds the number of tasks running at once. A task acquires a permit
// before it starts and releases it when it returns.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
	wg   sync.WaitGroup

	inFlight atomic.Int64
	peak     atomic.Int64
}

// New returns a pool with size permits.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Size is the permit count.
func (p *Pool) Size() int {
	return int(p.size)
}

// Go blocks until a permit is free, then runs fn on its own goroutine.
// It returns ctx.Err() without running fn when ctx ends first.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	current := p.inFlight.Add(1)
	p.recordPeak(current)

	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer p.inFlight.Add(-1)
		fn(ctx)
	}()
	return nil
}

// Wait blocks until every started task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// InFlight is the number of running tasks.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Peak is the highest InFlight value observed.
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}

func (p *Pool) recordPeak(current int64) {
	for {
		peak := p.peak.Load()
		if current <= peak || p.peak.CompareAndSwap(peak, current) {
			return
		}
	}
}
