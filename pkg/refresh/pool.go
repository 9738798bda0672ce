package refresh

import (
	"context"
	"errors"
	"sync"
)

var errPoolClosed = errors.New("worker pool is closed")

// pool runs submitted tasks on a fixed number of workers fed by a bounded
// queue.
type pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newPool(workers, queueSize int) *pool {
	if workers < 1 {
		workers = 1
	}

	if queueSize < 0 {
		queueSize = 0
	}

	p := &pool{tasks: make(chan func(), queueSize)}

	p.wg.Add(workers)

	for range workers {
		go func() {
			defer p.wg.Done()

			for task := range p.tasks {
				task()
			}
		}()
	}

	return p
}

// submit queues task, blocking while the queue is full.
func (p *pool) submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting tasks and waits for queued ones to finish.
func (p *pool) close() {
	p.mu.Lock()

	if !p.closed {
		p.closed = true
		close(p.tasks)
	}

	p.mu.Unlock()

	p.wg.Wait()
}
