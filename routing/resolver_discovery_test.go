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

package routing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/bulkcube/mock/mockrouting"
	"github.com/matrixorigin/bulkcube/routing"
)

func fullPage(ids ...string) routing.RangePage {
	page := routing.RangePage{Continuation: "1", Final: true}
	switch len(ids) {
	case 1:
		page.Ranges = []routing.PartitionRoute{{ID: ids[0], Address: "addr-" + ids[0]}}
	case 2:
		page.Ranges = []routing.PartitionRoute{
			{ID: ids[0], End: []byte("m"), Address: "addr-" + ids[0]},
			{ID: ids[1], Start: []byte("m"), Address: "addr-" + ids[1]},
		}
	}
	return page
}

func TestConcurrentRefreshFetchesOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	block := make(chan struct{})
	d := mockrouting.NewMockDiscovery(ctrl)
	d.EXPECT().FetchRanges(gomock.Any(), "c1", "").DoAndReturn(
		func(ctx context.Context, collection, continuation string) (routing.RangePage, error) {
			<-block
			return fullPage("1"), nil
		}).Times(1)

	r := routing.NewResolver(d)
	var wg sync.WaitGroup
	maps := make([]*routing.RoutingMap, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := r.Refresh(context.Background(), "c1", true)
			assert.NoError(t, err)
			maps[i] = m
		}(i)
	}

	time.Sleep(time.Millisecond * 50)
	close(block)
	wg.Wait()

	require.NotNil(t, maps[0])
	assert.True(t, maps[0] == maps[1])
}

func TestResolveRetriesFailedFetch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	d := mockrouting.NewMockDiscovery(ctrl)
	gomock.InOrder(
		d.EXPECT().FetchRanges(gomock.Any(), "c1", "").
			Return(routing.RangePage{}, errors.New("unavailable")).Times(3),
		d.EXPECT().FetchRanges(gomock.Any(), "c1", "").
			Return(fullPage("1"), nil).Times(1),
	)

	r := routing.NewResolver(d, routing.WithRefreshRetries(2, time.Millisecond))
	_, _, err := r.Resolve(context.Background(), "c1", []byte("a"))
	assert.Error(t, err)

	route, _, err := r.Resolve(context.Background(), "c1", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", route.ID)

	// cached, no more fetches
	route, _, err = r.Resolve(context.Background(), "c1", []byte("z"))
	require.NoError(t, err)
	assert.Equal(t, "1", route.ID)
}

func TestResolveSplitsKeySpace(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	d := mockrouting.NewMockDiscovery(ctrl)
	d.EXPECT().FetchRanges(gomock.Any(), "c1", "").Return(fullPage("1", "2"), nil).Times(1)

	r := routing.NewResolver(d)
	route, m, err := r.Resolve(context.Background(), "c1", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", route.ID)
	assert.Equal(t, "addr-1", route.Address)
	assert.Equal(t, 2, m.Len())

	route, _, err = r.Resolve(context.Background(), "c1", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "2", route.ID)
}
