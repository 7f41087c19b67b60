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

package timewheel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/matrixorigin/bulkcube/components/log"
	"github.com/matrixorigin/bulkcube/metric"
	"github.com/matrixorigin/bulkcube/util/stop"
	"go.uber.org/zap"
)

var (
	// ErrStopped the wheel is stopped and can not accept new timeouts
	ErrStopped = errors.New("timewheel is stopped")
)

const (
	defaultResolution = time.Millisecond * 50
	defaultBuckets    = 512
)

const (
	pending int32 = iota
	fired
	cancelled
)

// Option timewheel option
type Option func(*Wheel)

// WithResolution set the tick interval of the wheel
func WithResolution(resolution time.Duration) Option {
	return func(w *Wheel) {
		w.resolution = resolution
	}
}

// WithBuckets set the number of buckets of the wheel
func WithBuckets(buckets int) Option {
	return func(w *Wheel) {
		w.size = buckets
	}
}

// WithLogger set logger
func WithLogger(logger *zap.Logger) Option {
	return func(w *Wheel) {
		w.logger = logger
	}
}

// Timeout is the handle of a scheduled callback. It is owned by exactly one
// bucket until it fires or is cancelled.
type Timeout struct {
	state  int32
	wheel  *Wheel
	rounds int
	bucket int
	prev   *Timeout
	next   *Timeout
	fn     func(interface{})
	arg    interface{}
}

// Stop cancels the timeout. Returns false if the callback has already fired
// or was cancelled before.
func (t *Timeout) Stop() bool {
	if t == nil || !atomic.CompareAndSwapInt32(&t.state, pending, cancelled) {
		return false
	}

	w := t.wheel
	w.mu.Lock()
	if t.bucket >= 0 {
		w.unlink(t)
	}
	w.mu.Unlock()
	return true
}

// Fired returns true if the callback was handed to its goroutine.
func (t *Timeout) Fired() bool {
	return atomic.LoadInt32(&t.state) == fired
}

// Wheel is a hashed timing wheel. A callback scheduled after delay d lands
// in bucket (cursor + ceil(d/resolution)) mod N and carries the number of full
// revolutions it has to wait. A single goroutine advances one bucket per tick,
// so the precision is one resolution.
type Wheel struct {
	logger     *zap.Logger
	resolution time.Duration
	size       int
	stopper    *stop.Stopper

	mu struct {
		sync.Mutex
		stopped bool
		cursor  int
		// buckets[i] is the sentinel of a circular doubly linked list
		buckets []Timeout
		count   int
	}
}

// New creates and starts a wheel
func New(opts ...Option) *Wheel {
	w := &Wheel{}
	for _, opt := range opts {
		opt(w)
	}
	if w.resolution <= 0 {
		w.resolution = defaultResolution
	}
	if w.size <= 0 {
		w.size = defaultBuckets
	}
	w.logger = log.Adjust(w.logger).Named("timewheel")
	w.stopper = stop.NewStopper("timewheel", stop.WithLogger(w.logger))

	w.mu.buckets = make([]Timeout, w.size)
	for i := range w.mu.buckets {
		head := &w.mu.buckets[i]
		head.prev = head
		head.next = head
		head.bucket = i
	}

	if err := w.stopper.RunNamedTask(context.Background(), "timewheel-loop", w.run); err != nil {
		w.logger.Fatal("failed to start timewheel", zap.Error(err))
	}
	return w
}

// Pending returns the number of callbacks waiting in the buckets
func (w *Wheel) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mu.count
}

// Schedule schedules fn(arg) to be called once after delay. The callback runs
// in its own goroutine and never blocks the wheel.
func (w *Wheel) Schedule(delay time.Duration, fn func(interface{}), arg interface{}) (*Timeout, error) {
	ticks := int((delay + w.resolution - 1) / w.resolution)
	if ticks < 1 {
		ticks = 1
	}

	t := &Timeout{
		wheel:  w,
		fn:     fn,
		arg:    arg,
		rounds: (ticks - 1) / w.size,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mu.stopped {
		return nil, ErrStopped
	}

	t.bucket = (w.mu.cursor + ticks) % w.size
	head := &w.mu.buckets[t.bucket]
	t.prev = head.prev
	t.next = head
	head.prev.next = t
	head.prev = t
	w.mu.count++
	return t, nil
}

// Stop stops the wheel, pending callbacks are dropped without firing.
func (w *Wheel) Stop() {
	w.mu.Lock()
	if w.mu.stopped {
		w.mu.Unlock()
		return
	}
	w.mu.stopped = true
	w.mu.Unlock()

	w.stopper.Stop()

	w.mu.Lock()
	for i := range w.mu.buckets {
		head := &w.mu.buckets[i]
		for t := head.next; t != head; {
			next := t.next
			atomic.CompareAndSwapInt32(&t.state, pending, cancelled)
			w.unlink(t)
			t = next
		}
	}
	w.mu.Unlock()
	metric.SetPendingTimersGauge(0)
}

func (w *Wheel) run(ctx context.Context) {
	ticker := time.NewTicker(w.resolution)
	defer ticker.Stop()

	w.logger.Debug("timewheel started",
		zap.Duration("resolution", w.resolution),
		zap.Int("buckets", w.size))
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("timewheel stopped")
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Wheel) tick() {
	var expired []*Timeout

	w.mu.Lock()
	w.mu.cursor = (w.mu.cursor + 1) % w.size
	head := &w.mu.buckets[w.mu.cursor]
	for t := head.next; t != head; {
		next := t.next
		if t.rounds > 0 {
			t.rounds--
		} else {
			w.unlink(t)
			expired = append(expired, t)
		}
		t = next
	}
	count := w.mu.count
	w.mu.Unlock()

	metric.SetPendingTimersGauge(count)
	for _, t := range expired {
		if atomic.CompareAndSwapInt32(&t.state, pending, fired) {
			go t.fn(t.arg)
		}
	}
}

// unlink must be called with w.mu held
func (w *Wheel) unlink(t *Timeout) {
	t.prev.next = t.next
	t.next.prev = t.prev
	t.prev = nil
	t.next = nil
	t.bucket = -1
	w.mu.count--
}
