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
	"sync/atomic"

	"github.com/matrixorigin/bulkcube/metric"
	"github.com/matrixorigin/bulkcube/routing"
)

// operationContext is the state of an accepted operation. It lives until the
// future completes and is reused by every retry of the operation.
type operationContext struct {
	ctx    context.Context
	id     uint64
	op     *Operation
	epk    []byte
	size   int
	policy RetryPolicy
	future *Future

	attempts   int32
	stopCancel func() bool

	mu struct {
		sync.Mutex
		// owner is the batch holding the operation, replaced when the
		// operation is added to another batch
		owner *batch
		// routingMap is the map the current route was resolved from
		routingMap *routing.RoutingMap
	}
}

func newOperationContext(ctx context.Context, id uint64, op *Operation, epk []byte,
	size int, policy RetryPolicy) *operationContext {
	oc := &operationContext{
		ctx:    ctx,
		id:     id,
		op:     op,
		epk:    epk,
		size:   size,
		policy: policy,
		future: newFuture(),
	}
	oc.stopCancel = context.AfterFunc(ctx, func() {
		if oc.future.done(Result{Attempts: oc.getAttempts()}, ctx.Err()) {
			metric.IncOperationFailed()
		}
	})
	return oc
}

func (oc *operationContext) setOwner(b *batch) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.mu.owner = b
}

func (oc *operationContext) owner() *batch {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.mu.owner
}

func (oc *operationContext) setRoutingMap(m *routing.RoutingMap) {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	oc.mu.routingMap = m
}

func (oc *operationContext) routingMap() *routing.RoutingMap {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.mu.routingMap
}

func (oc *operationContext) incAttempts() int {
	return int(atomic.AddInt32(&oc.attempts, 1))
}

func (oc *operationContext) getAttempts() int {
	return int(atomic.LoadInt32(&oc.attempts))
}

func (oc *operationContext) isDone() bool {
	return oc.future.IsDone()
}

func (oc *operationContext) complete(result Result) {
	if oc.future.done(result, nil) {
		oc.stopCancel()
		metric.IncOperationCompleted()
	}
}

func (oc *operationContext) completeWithError(result Result, err error) {
	if oc.future.done(result, err) {
		oc.stopCancel()
		metric.IncOperationFailed()
	}
}

func (oc *operationContext) fail(err error) {
	oc.completeWithError(Result{Attempts: oc.getAttempts()}, err)
}
