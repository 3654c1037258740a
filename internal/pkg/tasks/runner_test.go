package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunnerExecutesSubmittedTasks(t *testing.T) {
	r := NewRunner(2, 16)
	r.Start()

	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		r.Submit(func(ctx context.Context) {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		})
	}
	wg.Wait()
	r.Stop()

	assert.Equal(t, int64(10), atomic.LoadInt64(&count))
}

func TestRunnerStopDrainsQueue(t *testing.T) {
	r := NewRunner(1, 16)
	r.Start()

	block := make(chan struct{})
	r.Submit(func(ctx context.Context) { <-block })

	var count int64
	for i := 0; i < 5; i++ {
		r.Submit(func(ctx context.Context) { atomic.AddInt64(&count, 1) })
	}

	close(block)
	r.Stop()

	assert.Equal(t, int64(5), atomic.LoadInt64(&count), "queued tasks must run before shutdown completes")
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	r := NewRunner(1, 4)
	r.Start()

	done := make(chan struct{})
	r.Submit(func(ctx context.Context) { panic("worker must survive this") })
	r.Submit(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after a panicking task")
	}
	r.Stop()
}

func TestRunnerDropsTasksAfterStop(t *testing.T) {
	r := NewRunner(1, 4)
	r.Start()
	r.Stop()

	var ran atomic.Bool
	r.Submit(func(ctx context.Context) { ran.Store(true) })
	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestRunnerStartIsIdempotent(t *testing.T) {
	r := NewRunner(2, 4)
	r.Start()
	r.Start()

	done := make(chan struct{})
	r.Submit(func(ctx context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}
	r.Stop()
	r.Stop()
}
