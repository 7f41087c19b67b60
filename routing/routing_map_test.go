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
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoute(id string, start, end string, parents ...string) PartitionRoute {
	return PartitionRoute{
		ID:      id,
		Start:   []byte(start),
		End:     []byte(end),
		Parents: parents,
		Address: "addr-" + id,
	}
}

func TestNewRoutingMap(t *testing.T) {
	m, err := NewRoutingMap("c1", []PartitionRoute{
		newTestRoute("2", "m", ""),
		newTestRoute("1", "", "m"),
	}, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"1", "2"}, m.PartitionIDs())
	assert.Equal(t, "1", m.ChangeMarker())
	assert.Equal(t, "c1", m.Collection())

	route, ok := m.Lookup([]byte("a"))
	assert.True(t, ok)
	assert.Equal(t, "1", route.ID)

	route, ok = m.Lookup([]byte("m"))
	assert.True(t, ok)
	assert.Equal(t, "2", route.ID)

	route, ok = m.Lookup([]byte("zzzz"))
	assert.True(t, ok)
	assert.Equal(t, "2", route.ID)

	route, ok = m.Lookup(nil)
	assert.True(t, ok)
	assert.Equal(t, "1", route.ID)
}

func TestNewRoutingMapRejectsIncompleteCover(t *testing.T) {
	cases := []struct {
		name   string
		ranges []PartitionRoute
	}{
		{name: "empty"},
		{name: "not start at min", ranges: []PartitionRoute{newTestRoute("1", "a", "")}},
		{name: "not end at max", ranges: []PartitionRoute{newTestRoute("1", "", "m")}},
		{name: "gap", ranges: []PartitionRoute{newTestRoute("1", "", "c"), newTestRoute("2", "d", "")}},
		{name: "overlap", ranges: []PartitionRoute{newTestRoute("1", "", "e"), newTestRoute("2", "d", "")}},
		{name: "two open ended", ranges: []PartitionRoute{newTestRoute("1", "", ""), newTestRoute("2", "d", "")}},
	}

	for _, c := range cases {
		_, err := NewRoutingMap("c1", c.ranges, "")
		assert.True(t, errors.Is(err, ErrIncompleteRoutingMap), c.name)
	}
}

func TestNewRoutingMapDiscardsGoneParents(t *testing.T) {
	m, err := NewRoutingMap("c1", []PartitionRoute{
		newTestRoute("1", "", ""),
		newTestRoute("2", "", "m", "1"),
		newTestRoute("3", "m", "", "1"),
	}, "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, m.PartitionIDs())
	_, ok := m.Route("1")
	assert.False(t, ok)
}

func TestTryCombineSplit(t *testing.T) {
	m, err := NewRoutingMap("c1", []PartitionRoute{
		newTestRoute("1", "", "m"),
		newTestRoute("2", "m", ""),
	}, "1")
	require.NoError(t, err)

	// 2 splits into 3 and 4
	m2, err := m.TryCombine([]PartitionRoute{
		newTestRoute("3", "m", "t", "2"),
		newTestRoute("4", "t", "", "2"),
	}, "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3", "4"}, m2.PartitionIDs())
	assert.Equal(t, "2", m2.ChangeMarker())

	route, ok := m2.Lookup([]byte("u"))
	assert.True(t, ok)
	assert.Equal(t, "4", route.ID)

	// the old map is untouched
	assert.Equal(t, []string{"1", "2"}, m.PartitionIDs())
}

func TestTryCombineMerge(t *testing.T) {
	m, err := NewRoutingMap("c1", []PartitionRoute{
		newTestRoute("1", "", "m"),
		newTestRoute("2", "m", "t"),
		newTestRoute("3", "t", ""),
	}, "1")
	require.NoError(t, err)

	m2, err := m.TryCombine([]PartitionRoute{
		newTestRoute("4", "", "t", "1", "2"),
	}, "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "3"}, m2.PartitionIDs())
}

func TestTryCombineIncomplete(t *testing.T) {
	m, err := NewRoutingMap("c1", []PartitionRoute{
		newTestRoute("1", "", "m"),
		newTestRoute("2", "m", ""),
	}, "1")
	require.NoError(t, err)

	// only one child of the split is visible
	_, err = m.TryCombine([]PartitionRoute{
		newTestRoute("3", "m", "t", "2"),
	}, "2")
	assert.True(t, errors.Is(err, ErrIncompleteRoutingMap))
}

func TestOverlapping(t *testing.T) {
	m, err := NewRoutingMap("c1", []PartitionRoute{
		newTestRoute("1", "", "f"),
		newTestRoute("2", "f", "m"),
		newTestRoute("3", "m", ""),
	}, "1")
	require.NoError(t, err)

	var ids []string
	for _, r := range m.Overlapping([]byte("g"), []byte("n")) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"2", "3"}, ids)

	ids = ids[:0]
	for _, r := range m.Overlapping([]byte("a"), nil) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}
