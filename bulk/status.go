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
	"time"
)

// Status codes of per operation results
const (
	StatusOK                    = 200
	StatusCreated               = 201
	StatusNoContent             = 204
	StatusNotModified           = 304
	StatusBadRequest            = 400
	StatusNotFound              = 404
	StatusRequestTimeout        = 408
	StatusConflict              = 409
	StatusGone                  = 410
	StatusPreconditionFailed    = 412
	StatusRequestEntityTooLarge = 413
	StatusTooManyRequests       = 429
	StatusInternalServerError   = 500
	StatusServiceUnavailable    = 503
)

// Sub status codes that change the retry decision
const (
	SubStatusNone                         = 0
	SubStatusNameCacheIsStale             = 1000
	SubStatusPartitionKeyRangeGone        = 1002
	SubStatusCompletingSplit              = 1007
	SubStatusCompletingPartitionMigration = 1008
	SubStatusResponseSizeExceeded         = 3402
)

// OperationResult is the structured result of one operation in a wire
// response. Index is the tag the operation got when the request was built.
type OperationResult struct {
	Index         uint32
	Status        int
	SubStatus     int
	RetryAfter    time.Duration
	ETag          string
	Payload       []byte
	RequestCharge float64
}

// Result is the terminal result of an operation delivered by its Future
type Result struct {
	Status        int
	SubStatus     int
	ETag          string
	Payload       []byte
	RequestCharge float64
	// Attempts is the number of times the operation was sent
	Attempts int
}

func newResult(r OperationResult, attempts int) Result {
	return Result{
		Status:        r.Status,
		SubStatus:     r.SubStatus,
		ETag:          r.ETag,
		Payload:       r.Payload,
		RequestCharge: r.RequestCharge,
		Attempts:      attempts,
	}
}

// OutcomeKind is the class of a per operation result
type OutcomeKind int

const (
	// OutcomeSuccess the operation is done
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryable the operation may be sent again
	OutcomeRetryable
	// OutcomeFatal the operation failed and must not be retried
	OutcomeFatal
)

// RetryReason is why a result is retryable
type RetryReason int

const (
	// ReasonNone not retryable
	ReasonNone RetryReason = iota
	// ReasonThrottled the partition is rate limited, 429
	ReasonThrottled
	// ReasonPartitionGone the partition split or moved, 410 with a topology
	// sub status; the route must be refreshed before the retry
	ReasonPartitionGone
	// ReasonServiceUnavailable 503
	ReasonServiceUnavailable
	// ReasonResponseTooLarge the batch response exceeded the server limit,
	// 413/3402; the operation fits in a smaller batch
	ReasonResponseTooLarge
)

var reasonNames = map[RetryReason]string{
	ReasonNone:               "none",
	ReasonThrottled:          "throttled",
	ReasonPartitionGone:      "partition-gone",
	ReasonServiceUnavailable: "service-unavailable",
	ReasonResponseTooLarge:   "response-too-large",
}

func (r RetryReason) String() string {
	return reasonNames[r]
}

// Outcome is the classification of a result, evaluated once per result
type Outcome struct {
	Kind   OutcomeKind
	Reason RetryReason
}

// Classify classifies a per operation result
func Classify(r OperationResult) Outcome {
	switch {
	case r.Status >= 200 && r.Status < 300, r.Status == StatusNotModified:
		return Outcome{Kind: OutcomeSuccess}
	case r.Status == StatusTooManyRequests:
		return Outcome{Kind: OutcomeRetryable, Reason: ReasonThrottled}
	case r.Status == StatusGone && isTopologyChange(r.SubStatus):
		return Outcome{Kind: OutcomeRetryable, Reason: ReasonPartitionGone}
	case r.Status == StatusServiceUnavailable:
		return Outcome{Kind: OutcomeRetryable, Reason: ReasonServiceUnavailable}
	case r.Status == StatusRequestEntityTooLarge && r.SubStatus == SubStatusResponseSizeExceeded:
		return Outcome{Kind: OutcomeRetryable, Reason: ReasonResponseTooLarge}
	}
	return Outcome{Kind: OutcomeFatal}
}

func isTopologyChange(subStatus int) bool {
	switch subStatus {
	case SubStatusPartitionKeyRangeGone,
		SubStatusCompletingSplit,
		SubStatusCompletingPartitionMigration,
		SubStatusNameCacheIsStale:
		return true
	}
	return false
}
