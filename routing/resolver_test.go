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

package routing

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDiscovery serves one full feed and optional incremental pages keyed
// by continuation.
type testDiscovery struct {
	sync.Mutex
	pages   map[string][]RangePage
	fetches int
}

func newTestDiscovery() *testDiscovery {
	return &testDiscovery{pages: make(map[string][]RangePage)}
}

func (d *testDiscovery) addPages(continuation string, pages ...RangePage) {
	d.Lock()
	defer d.Unlock()
	d.pages[continuation] = pages
}

func (d *testDiscovery) FetchRanges(ctx context.Context, collection string, continuation string) (RangePage, error) {
	d.Lock()
	defer d.Unlock()
	if continuation == "" {
		d.fetches++
	}

	pages, ok := d.pages[continuation]
	if !ok || len(pages) == 0 {
		return RangePage{Continuation: continuation, NotModified: true}, nil
	}
	page := pages[0]
	d.pages[continuation] = pages[1:]
	return page, nil
}

func (d *testDiscovery) getFetches() int {
	d.Lock()
	defer d.Unlock()
	return d.fetches
}

func TestResolve(t *testing.T) {
	d := newTestDiscovery()
	d.addPages("",
		RangePage{Ranges: []PartitionRoute{newTestRoute("1", "", "m")}, Continuation: "p1"},
	)
	d.addPages("p1",
		RangePage{Ranges: []PartitionRoute{newTestRoute("2", "m", "")}, Continuation: "1", Final: true},
	)

	r := NewResolver(d)
	route, m, err := r.Resolve(context.Background(), "c1", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "2", route.ID)
	assert.Equal(t, "1", m.ChangeMarker())
	assert.Equal(t, 1, d.getFetches())

	// cached
	route, _, err = r.Resolve(context.Background(), "c1", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "1", route.ID)
	assert.Equal(t, 1, d.getFetches())
}

func TestIncrementalRefreshAfterSplit(t *testing.T) {
	d := newTestDiscovery()
	d.addPages("", RangePage{Ranges: []PartitionRoute{
		newTestRoute("1", "", "m"),
		newTestRoute("2", "m", ""),
	}, Continuation: "1", Final: true})

	r := NewResolver(d)
	m1, err := r.Refresh(context.Background(), "c1", false)
	require.NoError(t, err)

	d.addPages("1", RangePage{Ranges: []PartitionRoute{
		newTestRoute("3", "m", "t", "2"),
		newTestRoute("4", "t", "", "2"),
	}, Continuation: "2", Final: true})

	m2, err := r.RefreshStale(context.Background(), "c1", m1)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "4"}, m2.PartitionIDs())

	// a caller still holding m1 does not refetch the newer map
	m3, err := r.RefreshStale(context.Background(), "c1", m1)
	require.NoError(t, err)
	assert.True(t, m2 == m3)

	// nothing changed
	m4, err := r.Refresh(context.Background(), "c1", true)
	require.NoError(t, err)
	assert.True(t, m2 == m4)
}

func TestIncompleteRefreshKeepsStaleMap(t *testing.T) {
	d := newTestDiscovery()
	d.addPages("", RangePage{Ranges: []PartitionRoute{newTestRoute("1", "", "")}, Continuation: "1", Final: true})

	r := NewResolver(d)
	m1, err := r.Refresh(context.Background(), "c1", false)
	require.NoError(t, err)

	// incremental and full feeds both miss a child
	d.addPages("1", RangePage{Ranges: []PartitionRoute{newTestRoute("2", "", "m", "1")}, Continuation: "2", Final: true})
	d.addPages("", RangePage{Ranges: []PartitionRoute{newTestRoute("2", "", "m", "1")}, Continuation: "2", Final: true})
	_, err = r.Refresh(context.Background(), "c1", true)
	assert.True(t, errors.Is(err, ErrIncompleteRoutingMap))

	cached, ok := r.Cached("c1")
	assert.True(t, ok)
	assert.True(t, m1 == cached)
}

func TestInvalidate(t *testing.T) {
	d := newTestDiscovery()
	d.addPages("", RangePage{Ranges: []PartitionRoute{newTestRoute("1", "", "")}, Continuation: "1", Final: true})

	r := NewResolver(d)
	_, err := r.Refresh(context.Background(), "c1", false)
	require.NoError(t, err)

	r.Invalidate("c1")
	_, ok := r.Cached("c1")
	assert.False(t, ok)
}
