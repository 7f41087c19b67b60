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

package throttle

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the concurrent dispatches of one partition. The semaphore has
// max units, the units above the current degree are held by the gate itself.
// Shrinking the degree while all slots are busy is recorded as debt that is
// paid back by the next releases.
type Gate struct {
	sem *semaphore.Weighted
	max int

	mu struct {
		sync.Mutex
		degree int
		debt   int
	}
}

// NewGate returns a gate admitting initial concurrent holders, adjustable
// up to max.
func NewGate(initial, max int) *Gate {
	if max < 1 {
		max = 1
	}
	if initial < 1 {
		initial = 1
	}
	if initial > max {
		initial = max
	}

	g := &Gate{
		sem: semaphore.NewWeighted(int64(max)),
		max: max,
	}
	g.mu.degree = initial
	if reserved := max - initial; reserved > 0 {
		g.sem.TryAcquire(int64(reserved))
	}
	return g
}

// Acquire blocks until a slot is free or ctx is done
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire acquires a slot without blocking
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release returns a slot acquired by Acquire
func (g *Gate) Release() {
	g.mu.Lock()
	if g.mu.debt > 0 {
		g.mu.debt--
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	g.sem.Release(1)
}

// Degree returns the current degree of concurrency
func (g *Gate) Degree() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mu.degree
}

// Max returns the ceiling of the degree of concurrency
func (g *Gate) Max() int {
	return g.max
}

// Increase raises the degree by one, returns false at the ceiling
func (g *Gate) Increase() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.mu.degree >= g.max {
		return false
	}
	g.mu.degree++
	if g.mu.debt > 0 {
		g.mu.debt--
		return true
	}
	g.sem.Release(1)
	return true
}

// Decrease lowers the degree by at most n, never below 1. Returns the
// number of slots removed.
func (g *Gate) Decrease(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for ; removed < n && g.mu.degree > 1; removed++ {
		g.mu.degree--
		if !g.sem.TryAcquire(1) {
			g.mu.debt++
		}
	}
	return removed
}
