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
)

// Future is used to obtain the result of an operation. It completes exactly
// once, with the result of the operation's final attempt.
type Future struct {
	c      chan struct{}
	result Result
	err    error

	mu struct {
		sync.Mutex
		done bool
	}
}

func newFuture() *Future {
	return &Future{c: make(chan struct{})}
}

// Get blocks until the operation completes or ctx is done. Operations that
// completed with a non retryable status return the result together with a
// *StatusError.
func (f *Future) Get(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-f.c:
		return f.result, f.err
	}
}

// Done returns a channel that is closed when the operation completes
func (f *Future) Done() <-chan struct{} {
	return f.c
}

// IsDone returns true if the operation completed
func (f *Future) IsDone() bool {
	select {
	case <-f.c:
		return true
	default:
		return false
	}
}

// done completes the future, only the first call has effect
func (f *Future) done(result Result, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mu.done {
		return false
	}
	f.mu.done = true
	f.result = result
	f.err = err
	close(f.c)
	return true
}
