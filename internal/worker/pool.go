// Package worker runs update handling on a fixed number of goroutines
package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Submit after Stop
var ErrClosed = errors.New("worker pool is closed")

// Job is one unit of work
type Job func(ctx context.Context)

// Pool is a bounded worker pool. A panicking job is logged and does not
// take its worker down.
type Pool struct {
	jobs   chan Job
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts size workers sharing a queue of the given capacity
func NewPool(size, queue int, logger *logrus.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queue < 0 {
		queue = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:   make(chan Job, queue),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work(i)
	}
	return p
}

// Submit queues a job, waiting for room while ctx allows
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrClosed
	}
}

// Stop stops accepting jobs, lets the queued ones finish and waits for
// the workers. Jobs see their context cancelled when ctx expires first.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"worker": id,
				"panic":  r,
				"stack":  string(debug.Stack()),
			}).Error("Job panicked")
		}
	}()
	job(p.ctx)
}
