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
	"github.com/matrixorigin/bulkcube/util/timewheel"
)

// batch is the ordered operations of one partition. It is filled by the
// streamer under the streamer's lock and dispatched exactly once.
type batch struct {
	partition string
	maxCount  int
	maxBytes  int

	ops     []*operationContext
	size    int
	timeout *timewheel.Timeout
}

func newBatch(partition string, maxCount, maxBytes int) *batch {
	return &batch{
		partition: partition,
		maxCount:  maxCount,
		maxBytes:  maxBytes,
	}
}

// tryAdd appends the operation unless the batch is full. The byte limit is
// only checked on a non empty batch, so an oversized operation still gets a
// batch of its own.
func (b *batch) tryAdd(oc *operationContext) bool {
	if len(b.ops) >= b.maxCount {
		return false
	}
	if len(b.ops) > 0 && b.size+oc.size > b.maxBytes {
		return false
	}

	b.ops = append(b.ops, oc)
	b.size += oc.size
	oc.setOwner(b)
	return true
}

func (b *batch) isEmpty() bool {
	return len(b.ops) == 0
}

func (b *batch) isFull() bool {
	return len(b.ops) >= b.maxCount || b.size >= b.maxBytes
}

func (b *batch) count() int {
	return len(b.ops)
}

func (b *batch) stopTimer() {
	if b.timeout != nil {
		b.timeout.Stop()
	}
}
