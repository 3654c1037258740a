package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const submitTimeout = 100 * time.Millisecond

// Task is a fire-and-forget side effect. Failures are the task's own business
// to log; they never propagate to the caller that submitted it.
type Task func(ctx context.Context)

// Runner executes background tasks on a fixed worker pool. It models
// best-effort side effects (usage line items, notification fan-out) that must
// not block or fail the main response.
type Runner struct {
	queue   chan Task
	workers int
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewRunner creates a runner with the given worker count and queue depth.
func NewRunner(workers, depth int) *Runner {
	if workers <= 0 {
		workers = 2
	}
	if depth <= 0 {
		depth = 64
	}
	return &Runner{
		queue:   make(chan Task, depth),
		workers: workers,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the workers.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.running = true
	log.Infof("[tasks] starting %d workers", r.workers)

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Stop drains in-flight tasks and stops the workers.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	close(r.stopCh)
	r.running = false
	r.wg.Wait()
	log.Info("[tasks] all workers stopped")
}

// Submit enqueues a task. When the queue is saturated or the runner is
// stopped the task is dropped with a warning; callers rely on the durable
// state, not on the task, for correctness.
func (r *Runner) Submit(task Task) {
	select {
	case r.queue <- task:
	case <-r.stopCh:
		log.Warn("[tasks] runner stopped, dropping task")
	case <-time.After(submitTimeout):
		log.Warn("[tasks] queue saturated, dropping task")
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		select {
		case task := <-r.queue:
			r.run(task)
		case <-r.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case task := <-r.queue:
					r.run(task)
				default:
					return
				}
			}
		}
	}
}

func (r *Runner) run(task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("[tasks] task panicked: %v", rec)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	task(ctx)
}
