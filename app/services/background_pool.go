package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jaecopzm/trakpilot/utils"
)

// ErrPoolStopped is returned by Stop when called twice
var ErrPoolStopped = errors.New("background pool stopped")

// BackgroundTask is detached work; its result is never observed by the caller
type BackgroundTask func(ctx context.Context)

// BackgroundPool runs detached tasks on a fixed number of workers with a bounded queue
type BackgroundPool struct {
	tasks       chan BackgroundTask
	taskTimeout time.Duration
	wg          sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewBackgroundPool(workers, queueSize int, taskTimeout time.Duration) *BackgroundPool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if taskTimeout <= 0 {
		taskTimeout = utils.TrackingTaskTimeout
	}
	p := &BackgroundPool{
		tasks:       make(chan BackgroundTask, queueSize),
		taskTimeout: taskTimeout,
	}
	for range workers {
		p.wg.Go(p.work)
	}
	return p
}

func (p *BackgroundPool) work() {
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *BackgroundPool) run(task BackgroundTask) {
	ctx, cancel := context.WithTimeout(context.Background(), p.taskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			utils.LogError("background_task_panic", errors.New("panic in background task"), map[string]any{"panic": r})
		}
	}()
	task(ctx)
}

// TrySubmit queues task; false when the queue is full or the pool stopped
func (p *BackgroundPool) TrySubmit(task BackgroundTask) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		backgroundTasks.WithLabelValues("dropped").Inc()
		return false
	}
	select {
	case p.tasks <- task:
		backgroundTasks.WithLabelValues("queued").Inc()
		return true
	default:
		backgroundTasks.WithLabelValues("dropped").Inc()
		return false
	}
}

// Go queues task or, when saturated, runs it on the calling goroutine
func (p *BackgroundPool) Go(task BackgroundTask) {
	p.mu.RLock()
	closed := p.closed
	if !closed {
		select {
		case p.tasks <- task:
			p.mu.RUnlock()
			backgroundTasks.WithLabelValues("queued").Inc()
			return
		default:
		}
	}
	p.mu.RUnlock()

	backgroundTasks.WithLabelValues("inline").Inc()
	p.run(task)
}

// Stop refuses new work and waits for queued tasks until ctx ends
func (p *BackgroundPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
