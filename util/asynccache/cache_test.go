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

package asynccache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFetchesOnce(t *testing.T) {
	c := New[int](context.Background())

	var fetches int32
	fetch := func(ctx context.Context, key string, old int, ok bool) (int, error) {
		atomic.AddInt32(&fetches, 1)
		return 1, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.Get(context.Background(), "c1", fetch)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

func TestConcurrentRefreshCoalesced(t *testing.T) {
	c := New[int](context.Background())

	var fetches int32
	release := make(chan struct{})
	fetch := func(ctx context.Context, key string, old int, ok bool) (int, error) {
		<-release
		return int(atomic.AddInt32(&fetches, 1)), nil
	}

	var wg sync.WaitGroup
	values := make([]int, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Refresh(context.Background(), "c1", fetch)
			assert.NoError(t, err)
			values[i] = v
		}(i)
	}

	// give both callers the chance to join the flight
	time.Sleep(time.Millisecond * 50)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
	assert.Equal(t, values[0], values[1])
}

func TestKeysDoNotBlockEachOther(t *testing.T) {
	c := New[string](context.Background())

	block := make(chan struct{})
	defer close(block)
	go c.Get(context.Background(), "slow", func(ctx context.Context, key string, old string, ok bool) (string, error) {
		<-block
		return key, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := c.Get(ctx, "fast", func(ctx context.Context, key string, old string, ok bool) (string, error) {
		return key, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fast", v)
}

func TestFetchErrorKeepsOldValue(t *testing.T) {
	c := New[int](context.Background())
	c.Set("c1", 7)

	errFetch := errors.New("fetch failed")
	_, err := c.Refresh(context.Background(), "c1", func(ctx context.Context, key string, old int, ok bool) (int, error) {
		assert.True(t, ok)
		assert.Equal(t, 7, old)
		return 0, errFetch
	})
	assert.Equal(t, errFetch, err)

	v, ok := c.Peek("c1")
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestRefreshIf(t *testing.T) {
	c := New[int](context.Background())
	c.Set("c1", 2)

	fetch := func(ctx context.Context, key string, old int, ok bool) (int, error) {
		return old + 1, nil
	}
	v, err := c.RefreshIf(context.Background(), "c1", func(old int) bool { return old == 1 }, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = c.RefreshIf(context.Background(), "c1", func(old int) bool { return old == 2 }, fetch)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestCallerCancelDoesNotFailFetch(t *testing.T) {
	c := New[int](context.Background())

	release := make(chan struct{})
	fetch := func(ctx context.Context, key string, old int, ok bool) (int, error) {
		<-release
		return 5, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Refresh(ctx, "c1", fetch)
		done <- err
	}()
	time.Sleep(time.Millisecond * 20)
	cancel()
	assert.Equal(t, context.Canceled, <-done)

	close(release)
	assert.Eventually(t, func() bool {
		v, ok := c.Peek("c1")
		return ok && v == 5
	}, time.Second, time.Millisecond*10)
}

func TestRefreshJoinsFreshRefreshIf(t *testing.T) {
	c := New[int](context.Background())
	c.Set("c1", 1)

	var fetches int32
	fetch := func(ctx context.Context, key string, old int, ok bool) (int, error) {
		atomic.AddInt32(&fetches, 1)
		return old + 1, nil
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	stale := func(v int) bool {
		close(entered)
		<-release
		return false
	}

	var wg sync.WaitGroup
	values := make([]int, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		v, err := c.RefreshIf(context.Background(), "c1", stale, fetch)
		assert.NoError(t, err)
		values[0] = v
	}()
	<-entered
	go func() {
		defer wg.Done()
		v, err := c.Refresh(context.Background(), "c1", fetch)
		assert.NoError(t, err)
		values[1] = v
	}()

	time.Sleep(time.Millisecond * 50)
	close(release)
	wg.Wait()

	assert.Equal(t, []int{1, 1}, values)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fetches))
}
