package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/voicegate-lab/internal/logging"
)

var (
	ErrPoolClosed = errors.New("worker pool closed")
	ErrQueueFull  = errors.New("worker queue full")
)

// Pool runs blocking work (model calls, codec transcode, provider HTTP) off
// the per-session orchestration goroutines. All heavy work in the gateway
// goes through one Pool so concurrency stays bounded and cancellation is
// uniform.
type Pool struct {
	tasks  chan task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// New starts size workers with a bounded queue.
func New(size, queue int) *Pool {
	if size <= 0 {
		size = 4
	}
	if queue <= 0 {
		queue = size * 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:  make(chan task, queue),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			// Skip work whose owner already gave up.
			if err := t.ctx.Err(); err != nil {
				t.done <- err
				continue
			}
			t.done <- t.fn(t.ctx)
		}
	}
}

// Submit enqueues fn and returns a channel that yields its result. The
// channel is buffered; abandoning it does not leak a goroutine. Returns
// ErrQueueFull immediately instead of blocking the caller.
func (p *Pool) Submit(ctx context.Context, fn func(context.Context) error) (<-chan error, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.tasks <- t:
		return t.done, nil
	default:
		logging.Warnw("worker: queue full, rejecting task")
		return nil, ErrQueueFull
	}
}

// Do submits fn and waits for completion or for ctx cancellation, whichever
// comes first. On cancellation the task keeps its slot until a worker
// observes the dead context and discards it.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	done, err := p.Submit(ctx, fn)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work and waits for in-flight tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}
