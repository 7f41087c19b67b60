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
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		status    int
		subStatus int
		outcome   Outcome
	}{
		{StatusOK, 0, Outcome{Kind: OutcomeSuccess}},
		{StatusCreated, 0, Outcome{Kind: OutcomeSuccess}},
		{StatusNoContent, 0, Outcome{Kind: OutcomeSuccess}},
		{StatusNotModified, 0, Outcome{Kind: OutcomeSuccess}},
		{StatusTooManyRequests, 0, Outcome{Kind: OutcomeRetryable, Reason: ReasonThrottled}},
		{StatusTooManyRequests, 3200, Outcome{Kind: OutcomeRetryable, Reason: ReasonThrottled}},
		{StatusGone, SubStatusPartitionKeyRangeGone, Outcome{Kind: OutcomeRetryable, Reason: ReasonPartitionGone}},
		{StatusGone, SubStatusCompletingSplit, Outcome{Kind: OutcomeRetryable, Reason: ReasonPartitionGone}},
		{StatusGone, SubStatusCompletingPartitionMigration, Outcome{Kind: OutcomeRetryable, Reason: ReasonPartitionGone}},
		{StatusGone, SubStatusNameCacheIsStale, Outcome{Kind: OutcomeRetryable, Reason: ReasonPartitionGone}},
		{StatusGone, 0, Outcome{Kind: OutcomeFatal}},
		{StatusServiceUnavailable, 0, Outcome{Kind: OutcomeRetryable, Reason: ReasonServiceUnavailable}},
		{StatusRequestEntityTooLarge, SubStatusResponseSizeExceeded, Outcome{Kind: OutcomeRetryable, Reason: ReasonResponseTooLarge}},
		{StatusRequestEntityTooLarge, 0, Outcome{Kind: OutcomeFatal}},
		{StatusBadRequest, 0, Outcome{Kind: OutcomeFatal}},
		{StatusNotFound, 0, Outcome{Kind: OutcomeFatal}},
		{StatusConflict, 0, Outcome{Kind: OutcomeFatal}},
		{StatusPreconditionFailed, 0, Outcome{Kind: OutcomeFatal}},
		{StatusInternalServerError, 0, Outcome{Kind: OutcomeFatal}},
	}

	for i, c := range cases {
		assert.Equal(t, c.outcome, Classify(OperationResult{Status: c.status, SubStatus: c.subStatus}), "case %d", i)
	}
}

func TestRetryPolicyThrottleBudget(t *testing.T) {
	opts := DefaultRetryOptions()
	opts.MaxThrottleRetries = 2
	opts.MaxThrottleWait = time.Second
	p := NewRetryPolicyFactory(opts)()

	r := OperationResult{Status: StatusTooManyRequests, RetryAfter: time.Millisecond * 400}
	delay, ok := p.ShouldRetry(r)
	assert.True(t, ok)
	assert.Equal(t, time.Millisecond*400, delay)
	_, ok = p.ShouldRetry(r)
	assert.True(t, ok)
	_, ok = p.ShouldRetry(r)
	assert.False(t, ok)

	// cumulative wait
	p = NewRetryPolicyFactory(opts)()
	r.RetryAfter = time.Millisecond * 600
	_, ok = p.ShouldRetry(r)
	assert.True(t, ok)
	_, ok = p.ShouldRetry(r)
	assert.False(t, ok)
}

func TestRetryPolicyBudgets(t *testing.T) {
	opts := DefaultRetryOptions()
	p := NewRetryPolicyFactory(opts)()

	gone := OperationResult{Status: StatusGone, SubStatus: SubStatusPartitionKeyRangeGone}
	for i := 0; i < opts.MaxGoneRetries; i++ {
		delay, ok := p.ShouldRetry(gone)
		assert.True(t, ok)
		assert.Equal(t, time.Duration(0), delay)
	}
	_, ok := p.ShouldRetry(gone)
	assert.False(t, ok)

	unavailable := OperationResult{Status: StatusServiceUnavailable}
	delay, ok := p.ShouldRetry(unavailable)
	assert.True(t, ok)
	assert.Equal(t, opts.ServiceUnavailableBackoff, delay)
	_, ok = p.ShouldRetry(unavailable)
	assert.False(t, ok)

	_, ok = p.ShouldRetry(OperationResult{Status: StatusNotFound})
	assert.False(t, ok)

	// budgets are per policy instance
	p = NewRetryPolicyFactory(opts)()
	_, ok = p.ShouldRetry(unavailable)
	assert.True(t, ok)
}

func TestStatusError(t *testing.T) {
	err := errors.Wrap(&StatusError{Status: StatusNotFound}, "read item")
	assert.True(t, IsStatus(err, StatusNotFound))
	assert.False(t, IsStatus(err, StatusConflict))
	assert.False(t, IsStatus(errors.New("other"), StatusNotFound))
}

func TestOperationValidate(t *testing.T) {
	pk := []byte(`"a"`)
	cases := []struct {
		op    *Operation
		valid bool
	}{
		{nil, false},
		{&Operation{Kind: Read, ID: "1", PartitionKey: pk}, false},
		{&Operation{Kind: OperationKind(100), Collection: "c", ID: "1", PartitionKey: pk}, false},
		{&Operation{Kind: Read, Collection: "c", ID: "1", PartitionKey: pk,
			Options: OperationOptions{SessionToken: "0:1"}}, false},
		{&Operation{Kind: Read, Collection: "c", PartitionKey: pk}, false},
		{&Operation{Kind: Upsert, Collection: "c", ID: "1", PartitionKey: pk}, false},
		{&Operation{Kind: Delete, Collection: "c", ID: "1"}, false},
		{&Operation{Kind: Read, Collection: "c", ID: "1", PartitionKey: pk}, true},
		{&Operation{Kind: Create, Collection: "c", Payload: []byte(`{"id":"1","pk":"a"}`)}, true},
		{&Operation{Kind: Delete, Collection: "c", ID: "1", PartitionKey: pk}, true},
	}

	for i, c := range cases {
		err := c.op.validate()
		if c.valid {
			assert.NoError(t, err, "case %d", i)
		} else {
			assert.True(t, errors.Is(err, ErrInvalidOperation), "case %d", i)
		}
	}
}
