/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package executor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"

	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/metrics"
	"github.com/llm-d/llm-d-servable-state-manager/pkg/serving/servable"
)

const defaultWorkers = 4

// Config holds the configuration for a ThreadPool.
type Config struct {
	// Name labels the pool in log lines and queue metrics.
	Name string `json:"name"`
	// Workers is the number of goroutines draining the queue.
	Workers int `json:"workers"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Name:    "serving-executor",
		Workers: defaultWorkers,
	}
}

// task wraps a scheduled closure. Closures are not comparable, so the queue
// carries pointers; each Schedule allocates a distinct item.
type task struct {
	fn func()
}

// ThreadPool is an Executor backed by a fixed number of workers draining a
// shared unbounded FIFO queue. Schedule never blocks and never rejects while
// the pool is open. With one worker, tasks run exactly in submission order.
type ThreadPool struct {
	name    string
	queue   workqueue.TypedInterface[*task]
	wg      sync.WaitGroup
	pending atomic.Int64

	closeOnce sync.Once
}

var _ Executor = &ThreadPool{}

// NewThreadPool creates a pool from cfg, falling back to defaults for a nil
// config or an empty name. The worker count is fixed for the pool's lifetime.
func NewThreadPool(cfg *Config) (*ThreadPool, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	name := cfg.Name
	if name == "" {
		name = DefaultConfig().Name
	}

	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("thread pool %q requires a positive worker count, got %d: %w",
			name, cfg.Workers, servable.ErrInvalidArgument)
	}

	pool := &ThreadPool{
		name:  name,
		queue: workqueue.NewTypedWithConfig(workqueue.TypedQueueConfig[*task]{Name: name}),
	}

	pool.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go pool.workerLoop()
	}

	return pool, nil
}

// Schedule enqueues fn. Tasks scheduled after Close are dropped with a log
// line.
func (pool *ThreadPool) Schedule(fn func()) {
	if pool.queue.ShuttingDown() {
		klog.Background().WithName("executor").Info("dropping task scheduled after close", "pool", pool.name)
		return
	}

	pool.pending.Add(1)
	metrics.ScheduledTasks.Inc()
	metrics.PendingTasks.Inc()
	pool.queue.Add(&task{fn: fn})
}

// HasPending reports whether any scheduled task has not yet finished,
// whether still queued or currently running.
func (pool *ThreadPool) HasPending() bool {
	return pool.pending.Load() > 0
}

// Close stops intake and blocks until every already-scheduled task has run
// to completion. Idempotent.
func (pool *ThreadPool) Close() {
	pool.closeOnce.Do(func() {
		pool.queue.ShutDown()
		pool.wg.Wait()

		// Tasks that raced Close into a closed queue were never run.
		if leftover := pool.pending.Swap(0); leftover > 0 {
			metrics.PendingTasks.Sub(float64(leftover))
			klog.Background().WithName("executor").Info("tasks dropped at close",
				"pool", pool.name, "count", leftover)
		}
	})
}

// workerLoop drains the shared queue until shutdown. The queue keeps handing
// out buffered items after ShutDown, so Close drains rather than discards.
func (pool *ThreadPool) workerLoop() {
	defer pool.wg.Done()
	for {
		t, shutdown := pool.queue.Get()
		if shutdown {
			return
		}

		func(t *task) {
			defer pool.queue.Done(t)
			t.fn()
			pool.pending.Add(-1)
			metrics.CompletedTasks.Inc()
			metrics.PendingTasks.Dec()
		}(t)
	}
}
