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

// RetryPolicy decides whether a failed operation is sent again. A policy
// instance belongs to one operation and keeps its retry budget.
type RetryPolicy interface {
	// ShouldRetry returns the delay before the next attempt and true if
	// the operation may be retried.
	ShouldRetry(result OperationResult) (time.Duration, bool)
}

// RetryPolicyFactory creates the retry policy of a new operation
type RetryPolicyFactory func() RetryPolicy

// RetryOptions bounds the retries of the default policy
type RetryOptions struct {
	// MaxThrottleRetries is the max retries of throttled results
	MaxThrottleRetries int
	// MaxThrottleWait is the max cumulative wait on throttled results
	MaxThrottleWait time.Duration
	// MaxGoneRetries is the max retries after topology changes
	MaxGoneRetries int
	// MaxServiceUnavailableRetries is the max retries of 503 results
	MaxServiceUnavailableRetries int
	// ServiceUnavailableBackoff is the delay before retrying a 503 result
	ServiceUnavailableBackoff time.Duration
	// MaxResponseTooLargeRetries is the max retries of 413/3402 results
	MaxResponseTooLargeRetries int
}

// DefaultRetryOptions returns the default retry options
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxThrottleRetries:           9,
		MaxThrottleWait:              time.Second * 30,
		MaxGoneRetries:               10,
		MaxServiceUnavailableRetries: 1,
		ServiceUnavailableBackoff:    time.Millisecond * 100,
		MaxResponseTooLargeRetries:   10,
	}
}

// NewRetryPolicyFactory returns a factory of the default policy
func NewRetryPolicyFactory(opts RetryOptions) RetryPolicyFactory {
	return func() RetryPolicy {
		return &defaultRetryPolicy{opts: opts}
	}
}

type defaultRetryPolicy struct {
	opts RetryOptions

	throttleRetries     int
	throttleWait        time.Duration
	goneRetries         int
	unavailableRetries  int
	responseSizeRetries int
}

func (p *defaultRetryPolicy) ShouldRetry(result OperationResult) (time.Duration, bool) {
	outcome := Classify(result)
	if outcome.Kind != OutcomeRetryable {
		return 0, false
	}

	switch outcome.Reason {
	case ReasonThrottled:
		if p.throttleRetries >= p.opts.MaxThrottleRetries ||
			p.throttleWait+result.RetryAfter > p.opts.MaxThrottleWait {
			return 0, false
		}
		p.throttleRetries++
		p.throttleWait += result.RetryAfter
		return result.RetryAfter, true
	case ReasonPartitionGone:
		if p.goneRetries >= p.opts.MaxGoneRetries {
			return 0, false
		}
		p.goneRetries++
		return 0, true
	case ReasonServiceUnavailable:
		if p.unavailableRetries >= p.opts.MaxServiceUnavailableRetries {
			return 0, false
		}
		p.unavailableRetries++
		return p.opts.ServiceUnavailableBackoff, true
	case ReasonResponseTooLarge:
		if p.responseSizeRetries >= p.opts.MaxResponseTooLargeRetries {
			return 0, false
		}
		p.responseSizeRetries++
		return 0, true
	}
	return 0, false
}
