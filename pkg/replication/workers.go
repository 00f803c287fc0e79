// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-objsync.
//
// go-objsync is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package replication

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jeremyhahn/go-objsync/pkg/adapters"
)

// WorkItem is one store to process.
type WorkItem struct {
	Store string
}

// WorkResult is the outcome of processing a work item.
type WorkResult struct {
	Store     string
	Records   int
	Err       error
	Succeeded bool
}

// WorkerPool runs per-store work in parallel. Stores are independent, so
// results arrive in completion order.
type WorkerPool struct {
	workerCount int
	workQueue   chan WorkItem
	resultQueue chan WorkResult
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      adapters.Logger

	shuttingDown atomic.Bool

	storesProcessed atomic.Int64
	storesSucceeded atomic.Int64
	storesFailed    atomic.Int64
}

// WorkerPoolConfig contains configuration for the worker pool.
type WorkerPoolConfig struct {
	WorkerCount int
	QueueSize   int
	Logger      adapters.Logger
}

// NewWorkerPool creates a worker pool bound to ctx.
func NewWorkerPool(ctx context.Context, config WorkerPoolConfig) *WorkerPool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		workerCount: config.WorkerCount,
		workQueue:   make(chan WorkItem, config.QueueSize),
		resultQueue: make(chan WorkResult, config.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
		logger:      config.Logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(processor func(context.Context, WorkItem) WorkResult) {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i, processor)
	}
}

func (wp *WorkerPool) worker(id int, processor func(context.Context, WorkItem) WorkResult) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug(wp.ctx, "Worker shutting down",
				adapters.Field{Key: "worker_id", Value: id})
			return

		case item, ok := <-wp.workQueue:
			if !ok {
				return
			}

			result := processor(wp.ctx, item)

			wp.storesProcessed.Add(1)
			if result.Succeeded {
				wp.storesSucceeded.Add(1)
			} else {
				wp.storesFailed.Add(1)
			}

			select {
			case wp.resultQueue <- result:
			case <-wp.ctx.Done():
				return
			}
		}
	}
}

// Submit adds a work item to the queue.
// Returns an error if the pool has been shut down.
func (wp *WorkerPool) Submit(item WorkItem) error {
	if wp.shuttingDown.Load() {
		return fmt.Errorf("worker pool is shutting down")
	}

	select {
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool context cancelled: %w", wp.ctx.Err())
	case wp.workQueue <- item:
		return nil
	}
}

// Results returns the result channel for consuming worker outputs.
func (wp *WorkerPool) Results() <-chan WorkResult {
	return wp.resultQueue
}

// Shutdown closes the work queue, waits for the workers to drain it and
// closes the result channel.
func (wp *WorkerPool) Shutdown() {
	if !wp.shuttingDown.CompareAndSwap(false, true) {
		return
	}
	close(wp.workQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	wp.logger.Debug(wp.ctx, "Worker pool shutdown complete",
		adapters.Field{Key: "processed", Value: wp.storesProcessed.Load()},
		adapters.Field{Key: "succeeded", Value: wp.storesSucceeded.Load()},
		adapters.Field{Key: "failed", Value: wp.storesFailed.Load()})
}

// GetMetrics returns the current worker pool metrics.
func (wp *WorkerPool) GetMetrics() WorkerPoolMetrics {
	return WorkerPoolMetrics{
		StoresProcessed: wp.storesProcessed.Load(),
		StoresSucceeded: wp.storesSucceeded.Load(),
		StoresFailed:    wp.storesFailed.Load(),
	}
}

// WorkerPoolMetrics contains metrics about worker pool activity.
type WorkerPoolMetrics struct {
	StoresProcessed int64
	StoresSucceeded int64
	StoresFailed    int64
}
