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
	"testing"
	"time"

	"github.com/matrixorigin/bulkcube/util/timewheel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateInitialDegree(t *testing.T) {
	g := NewGate(1, 3)
	assert.Equal(t, 1, g.Degree())
	assert.Equal(t, 3, g.Max())

	assert.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())

	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestGateIncrease(t *testing.T) {
	g := NewGate(1, 2)
	require.True(t, g.TryAcquire())

	assert.True(t, g.Increase())
	assert.False(t, g.Increase())
	assert.Equal(t, 2, g.Degree())
	assert.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
}

func TestGateDecreaseWithBusySlots(t *testing.T) {
	g := NewGate(3, 3)
	for i := 0; i < 3; i++ {
		require.True(t, g.TryAcquire())
	}

	// all slots are busy, the removed slots become debt
	assert.Equal(t, 2, g.Decrease(5))
	assert.Equal(t, 1, g.Degree())

	g.Release()
	g.Release()
	assert.False(t, g.TryAcquire())

	g.Release()
	assert.True(t, g.TryAcquire())
	assert.False(t, g.TryAcquire())
}

func TestGateIncreasePaysDebt(t *testing.T) {
	g := NewGate(2, 2)
	require.True(t, g.TryAcquire())
	require.True(t, g.TryAcquire())

	assert.Equal(t, 1, g.Decrease(1))
	assert.True(t, g.Increase())
	g.Release()
	assert.True(t, g.TryAcquire())
}

func TestGateAcquireHonorsContext(t *testing.T) {
	g := NewGate(1, 1)
	require.True(t, g.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*10)
	defer cancel()
	assert.Error(t, g.Acquire(ctx))
}

func TestControllerDecreaseOnThrottle(t *testing.T) {
	w := timewheel.New(timewheel.WithResolution(time.Millisecond * 5))
	defer w.Stop()

	g := NewGate(10, 10)
	c := NewController("p1", g, w, time.Millisecond*10, nil)
	c.RecordThrottled(1)
	c.adjust()
	assert.Equal(t, 5, g.Degree())

	c.RecordThrottled(1)
	c.adjust()
	assert.Equal(t, 3, g.Degree())

	c.RecordThrottled(1)
	c.adjust()
	c.adjust()
	assert.Equal(t, 2, g.Degree())

	c.RecordThrottled(3)
	c.adjust()
	assert.Equal(t, 1, g.Degree())
	c.RecordThrottled(3)
	c.adjust()
	assert.Equal(t, 1, g.Degree())
}

func TestControllerIncreaseOnProgress(t *testing.T) {
	w := timewheel.New(timewheel.WithResolution(time.Millisecond * 5))
	defer w.Stop()

	g := NewGate(1, 3)
	c := NewController("p1", g, w, time.Millisecond*10, nil)
	c.adjust()
	assert.Equal(t, 1, g.Degree())

	c.Start()
	defer c.Stop()
	for i := 0; i < 3; i++ {
		c.RecordProcessed(1)
		time.Sleep(time.Millisecond * 30)
	}
	assert.Eventually(t, func() bool {
		return g.Degree() == 3
	}, time.Second, time.Millisecond*10)
}
