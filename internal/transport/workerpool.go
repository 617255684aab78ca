package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned when submitting to a closed worker pool.
var ErrPoolClosed = errors.New("transport: worker pool closed")

// WorkerPool runs submitted calls on a fixed set of workers. The
// impersonating transport uses a synchronous call convention, so its calls
// are funneled here so they never block the caller's goroutine; each
// call's result is handed back over a one-shot channel.
type WorkerPool struct {
	tasks chan func()

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewWorkerPool starts a pool with n workers. n values below 1 are
// clamped to 1.
func NewWorkerPool(n int) *WorkerPool {
	if n < 1 {
		n = 1
	}
	p := &WorkerPool{
		tasks: make(chan func()),
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Close stops accepting work and waits for in-flight calls to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

// submit enqueues a task, honoring context cancellation while the pool is
// saturated.
func (p *WorkerPool) submit(ctx context.Context, task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn on a pool worker and hands its result back exactly once.
// If ctx is cancelled before a worker picks the call up, Call returns the
// context error; a call already running is not interrupted, its result is
// discarded.
func Call[T any](ctx context.Context, p *WorkerPool, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	resultCh := make(chan outcome, 1)

	err := p.submit(ctx, func() {
		v, err := fn()
		resultCh <- outcome{value: v, err: err}
	})
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case out := <-resultCh:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
