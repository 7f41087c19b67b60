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
	"time"

	"github.com/cockroachdb/errors"
	"github.com/matrixorigin/bulkcube/components/log"
	"github.com/matrixorigin/bulkcube/metric"
	"go.uber.org/zap"
)

// batcher turns a flushed batch into a wire request, sends it and hands
// every operation result back to the executor.
type batcher struct {
	logger         *zap.Logger
	transport      Transport
	serializer     Serializer
	maxWireBytes   int
	requestTimeout time.Duration
	// handle completes or retries an operation by its result
	handle func(s *streamer, oc *operationContext, result OperationResult)
}

func (bc *batcher) execute(ctx context.Context, s *streamer, b *batch) {
	if err := s.gate.Acquire(ctx); err != nil {
		for _, oc := range b.ops {
			oc.fail(ErrExecutorClosed)
		}
		return
	}
	acquired := true
	release := func() {
		if acquired {
			acquired = false
			s.gate.Release()
		}
	}
	defer release()

	ops, records := bc.serialize(b)
	n := fitRecords(records, bc.maxWireBytes)
	if n < len(ops) {
		metric.IncOverflowSplit()
		rest := ops[n:]
		if n == 0 {
			// the first operation does not fit even alone
			ops[0].fail(errors.Wrapf(ErrOperationTooLarge, "operation %s of %d bytes, limit %d",
				ops[0].op.ID, recordHeaderSize+len(records[0])+batchHeaderSize, bc.maxWireBytes))
			rest = ops[1:]
		}
		if ce := s.logger.Check(zap.DebugLevel, "batch split at encode time"); ce != nil {
			ce.Write(zap.Int("sent", n), zap.Int("overflow", len(rest)))
		}
		s.dispatchOverflow(rest)
		ops, records = ops[:n], records[:n]
	}
	if len(ops) == 0 {
		return
	}

	body, err := encodeBatch(records)
	if err != nil {
		bc.failAll(ops, errors.Wrap(err, "encode batch"))
		return
	}

	req := WireRequest{
		Collection:  s.collection,
		PartitionID: s.route.ID,
		Address:     s.route.Address,
		Count:       len(ops),
		Body:        body,
	}
	for _, oc := range ops {
		oc.incAttempts()
	}

	start := time.Now()
	metric.ObserveBatch(len(ops), len(body))
	sendCtx, cancel := context.WithTimeout(ctx, bc.requestTimeout)
	resp, err := bc.transport.Send(sendCtx, req)
	cancel()
	metric.ObserveDispatchDuration(start)
	// the slot is not held while results are handled and retries wait
	release()

	if err != nil {
		s.logger.Error("fail to send batch",
			log.BatchField("batch", s.route.ID, len(ops), len(body)),
			log.AddressField(s.route.Address),
			zap.Error(err))
		bc.failAll(ops, errors.Wrapf(err, "send batch to partition %s", s.route.ID))
		return
	}

	results := make([]*OperationResult, len(ops))
	for i := range resp.Results {
		r := &resp.Results[i]
		if int(r.Index) < len(results) && results[r.Index] == nil {
			results[r.Index] = r
		}
	}

	throttled := 0
	for i, oc := range ops {
		r := results[i]
		if r == nil {
			oc.fail(errors.Wrapf(ErrMissingResult, "operation %s index %d", oc.op.ID, i))
			continue
		}
		if r.Status == StatusTooManyRequests {
			throttled++
		}
		bc.handle(s, oc, *r)
	}
	s.controller.RecordProcessed(len(resp.Results))
	if throttled > 0 {
		s.controller.RecordThrottled(throttled)
	}
}

// serialize drops the operations completed while the batch was waiting, e.g.
// cancelled by their callers, and serializes the rest.
func (bc *batcher) serialize(b *batch) ([]*operationContext, [][]byte) {
	ops := make([]*operationContext, 0, len(b.ops))
	records := make([][]byte, 0, len(b.ops))
	for _, oc := range b.ops {
		if oc.isDone() {
			continue
		}

		data, err := bc.serializer.Serialize(oc.op)
		if err != nil {
			oc.fail(errors.Wrapf(err, "serialize operation %s", oc.op.ID))
			continue
		}
		ops = append(ops, oc)
		records = append(records, data)
	}
	return ops, records
}

func (bc *batcher) failAll(ops []*operationContext, err error) {
	for _, oc := range ops {
		oc.fail(err)
	}
}
