// Copyright 2022 MatrixOrigin.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package bulk

import (
	"context"
	"sync"

	"github.com/matrixorigin/bulkcube/components/log"
	"github.com/matrixorigin/bulkcube/metric"
	"github.com/matrixorigin/bulkcube/routing"
	"github.com/matrixorigin/bulkcube/throttle"
	"go.uber.org/zap"
)

const (
	triggerFull     = "full"
	triggerTimer    = "timer"
	triggerOverflow = "overflow"
)

// streamer owns the open batch of one partition. A batch is detached from
// the streamer under the lock when it is flushed, so a new batch starts
// accumulating while the previous one is dispatching. The gate bounds the
// concurrent dispatches of the partition.
type streamer struct {
	logger     *zap.Logger
	e          *Executor
	collection string
	route      routing.PartitionRoute
	gate       *throttle.Gate
	controller *throttle.Controller

	mu struct {
		sync.Mutex
		closed  bool
		current *batch
	}
}

func newStreamer(e *Executor, collection string, route routing.PartitionRoute) *streamer {
	s := &streamer{
		logger: e.logger.Named("streamer").With(log.CollectionField(collection),
			log.PartitionField(route.ID)),
		e:          e,
		collection: collection,
		route:      route,
		gate:       throttle.NewGate(1, e.cfg.Bulk.MaxConcurrencyPerPartition),
	}
	s.controller = throttle.NewController(route.ID, s.gate, e.wheel,
		e.cfg.Bulk.CongestionInterval.Duration, e.logger)
	s.controller.Start()
	return s
}

// add puts the operation into the open batch. A batch that rejects the
// operation or becomes full is flushed immediately.
func (s *streamer) add(oc *operationContext) bool {
	var flushed []*batch

	s.mu.Lock()
	if s.mu.closed {
		s.mu.Unlock()
		return false
	}

	if s.mu.current == nil {
		s.mu.current = s.openBatchLocked()
	}
	if !s.mu.current.tryAdd(oc) {
		flushed = append(flushed, s.detachLocked())
		s.mu.current = s.openBatchLocked()
		s.mu.current.tryAdd(oc)
	}
	if s.mu.current.isFull() {
		flushed = append(flushed, s.detachLocked())
	}
	s.mu.Unlock()

	for _, b := range flushed {
		s.dispatch(b, triggerFull)
	}
	return true
}

func (s *streamer) openBatchLocked() *batch {
	b := newBatch(s.route.ID, s.e.cfg.Bulk.MaxOperationCount, s.e.cfg.Bulk.MaxBatchBytes.Bytes())
	timeout, err := s.e.wheel.Schedule(s.e.cfg.Bulk.DispatchTimerInterval.Duration, s.onTimer, b)
	if err == nil {
		b.timeout = timeout
	}
	return b
}

func (s *streamer) detachLocked() *batch {
	b := s.mu.current
	s.mu.current = nil
	b.stopTimer()
	return b
}

func (s *streamer) onTimer(arg interface{}) {
	b := arg.(*batch)

	s.mu.Lock()
	if s.mu.current != b {
		// flushed by size already
		s.mu.Unlock()
		return
	}
	s.mu.current = nil
	s.mu.Unlock()

	if !b.isEmpty() {
		s.dispatch(b, triggerTimer)
	}
}

func (s *streamer) dispatch(b *batch, trigger string) {
	metric.IncBatchDispatched(trigger)
	if ce := s.logger.Check(zap.DebugLevel, "batch flushed"); ce != nil {
		ce.Write(zap.String("trigger", trigger),
			log.BatchField("batch", b.partition, b.count(), b.size))
	}

	err := s.e.stopper.RunNamedTask(context.Background(), "dispatch-"+s.route.ID, func(ctx context.Context) {
		s.e.batcher.execute(ctx, s, b)
	})
	if err != nil {
		for _, oc := range b.ops {
			oc.fail(ErrExecutorClosed)
		}
	}
}

// dispatchOverflow dispatches the operations cut from a batch at encode time
// as batches of their own, without waiting for the open batch.
func (s *streamer) dispatchOverflow(ops []*operationContext) {
	if len(ops) == 0 {
		return
	}

	b := newBatch(s.route.ID, s.e.cfg.Bulk.MaxOperationCount, s.e.cfg.Bulk.MaxBatchBytes.Bytes())
	for _, oc := range ops {
		if !b.tryAdd(oc) {
			s.dispatch(b, triggerOverflow)
			b = newBatch(s.route.ID, s.e.cfg.Bulk.MaxOperationCount, s.e.cfg.Bulk.MaxBatchBytes.Bytes())
			b.tryAdd(oc)
		}
	}
	s.dispatch(b, triggerOverflow)
}

// close fails the operations of the open batch, batches already detached
// are abandoned with the dispatch tasks.
func (s *streamer) close() {
	s.mu.Lock()
	s.mu.closed = true
	b := s.mu.current
	s.mu.current = nil
	s.mu.Unlock()

	s.controller.Stop()
	if b != nil {
		b.stopTimer()
		for _, oc := range b.ops {
			oc.fail(ErrExecutorClosed)
		}
	}
}
