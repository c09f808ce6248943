// Package async provides panic-safe goroutine helpers and a bounded
// worker pool for outbound delivery fan-out.
package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dealerhub/hookrelay/pkg/observability"
)

// SafeGo executes fn in a goroutine with context cancellation, panic
// recovery, and timeout enforcement. Use this instead of a bare
// `go func()` for fire-and-forget work.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("panic in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithError(err).Warnf("background task %s failed", taskName)
		}
	}()
}

// Pool is a bounded worker pool. Tasks are executed with a per-task
// timeout and panic recovery; a full queue blocks Submit rather than
// dropping work.
type Pool struct {
	workers  int
	taskName string
	timeout  time.Duration
	logger   *observability.Logger

	workCh chan func(context.Context)
	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewPool creates and starts a worker pool
func NewPool(ctx context.Context, workers int, taskName string, timeout time.Duration, logger *observability.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   logger,
		workCh:   make(chan func(context.Context), workers*2),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.worker()
			}()
		}
		wg.Wait()
		close(p.doneCh)
	}()

	return p
}

// Submit queues a task. Returns an error when the pool has shut down.
func (p *Pool) Submit(fn func(context.Context)) (err error) {
	// Shutdown may close workCh between the ctx check and the send.
	defer func() {
		if recover() != nil {
			err = fmt.Errorf("worker pool %s shut down", p.taskName)
		}
	}()

	select {
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool %s shut down", p.taskName)
	case p.workCh <- fn:
		return nil
	}
}

// Shutdown stops accepting work and waits up to timeout for in-flight
// tasks to finish
func (p *Pool) Shutdown(timeout time.Duration) error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		close(p.workCh)
		select {
		case <-p.doneCh:
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool %s shutdown timed out after %v", p.taskName, timeout)
		}
	})
	return err
}

func (p *Pool) worker() {
	for fn := range p.workCh {
		p.run(fn)
	}
}

func (p *Pool) run(fn func(context.Context)) {
	// Per-task context is detached from pool cancellation so shutdown
	// lets in-flight deliveries finish.
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(map[string]interface{}{
				"task":  p.taskName,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("panic in worker pool task")
		}
	}()

	fn(ctx)
}
