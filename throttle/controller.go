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
	"sync"
	"sync/atomic"
	"time"

	"github.com/matrixorigin/bulkcube/components/log"
	"github.com/matrixorigin/bulkcube/metric"
	"github.com/matrixorigin/bulkcube/util/timewheel"
	"go.uber.org/zap"
)

const (
	maxDecreaseStep = 5
)

// Controller adapts the degree of a Gate to the observed congestion. Every
// interval it shrinks the degree by min(5, degree/2) if any operation was
// throttled since the last tick, otherwise it grows the degree by one if any
// operation was processed.
type Controller struct {
	logger    *zap.Logger
	partition string
	gate      *Gate
	wheel     *timewheel.Wheel
	interval  time.Duration

	throttled int64
	processed int64

	mu struct {
		sync.Mutex
		stopped bool
		timeout *timewheel.Timeout
	}
}

// NewController returns a controller of the partition's gate, ticks are
// scheduled on the wheel.
func NewController(partition string, gate *Gate, wheel *timewheel.Wheel,
	interval time.Duration, logger *zap.Logger) *Controller {
	return &Controller{
		logger:    log.Adjust(logger).Named("congestion").With(log.PartitionField(partition)),
		partition: partition,
		gate:      gate,
		wheel:     wheel,
		interval:  interval,
	}
}

// Start schedules the first tick
func (c *Controller) Start() {
	metric.SetPartitionConcurrencyGauge(c.partition, c.gate.Degree())
	c.schedule()
}

// Stop cancels the pending tick
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.stopped = true
	c.mu.timeout.Stop()
}

// RecordThrottled records throttled operations
func (c *Controller) RecordThrottled(n int) {
	atomic.AddInt64(&c.throttled, int64(n))
}

// RecordProcessed records operations that got a response
func (c *Controller) RecordProcessed(n int) {
	atomic.AddInt64(&c.processed, int64(n))
}

func (c *Controller) schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mu.stopped {
		return
	}

	timeout, err := c.wheel.Schedule(c.interval, c.onTick, nil)
	if err != nil {
		// wheel stopped, the executor is closing
		return
	}
	c.mu.timeout = timeout
}

func (c *Controller) onTick(interface{}) {
	c.adjust()
	c.schedule()
}

func (c *Controller) adjust() {
	throttled := atomic.SwapInt64(&c.throttled, 0)
	processed := atomic.SwapInt64(&c.processed, 0)

	before := c.gate.Degree()
	if throttled > 0 {
		step := before / 2
		if step > maxDecreaseStep {
			step = maxDecreaseStep
		}
		c.gate.Decrease(step)
	} else if processed > 0 {
		c.gate.Increase()
	}

	after := c.gate.Degree()
	if after != before {
		metric.SetPartitionConcurrencyGauge(c.partition, after)
		if ce := c.logger.Check(zap.DebugLevel, "degree of concurrency changed"); ce != nil {
			ce.Write(zap.Int("from", before),
				zap.Int("to", after),
				zap.Int64("throttled", throttled),
				zap.Int64("processed", processed))
		}
	}
}
