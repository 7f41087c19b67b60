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
	"bytes"
	"sort"

	"github.com/cockroachdb/errors"
)

var (
	// ErrIncompleteRoutingMap the ranges do not cover the whole key space
	// exactly once, the map can not be published
	ErrIncompleteRoutingMap = errors.New("incomplete routing map")
)

// RoutingMap is an immutable snapshot of the partitions of a collection. The
// routes cover the effective partition key space from the empty key to
// positive infinity with no gaps and no overlaps.
type RoutingMap struct {
	collection   string
	changeMarker string
	routes       []PartitionRoute
	byID         map[string]int
	tree         *routeTree
}

// NewRoutingMap builds a map from a full range set. Ranges that are parents of
// other ranges in the set are discarded.
func NewRoutingMap(collection string, ranges []PartitionRoute, changeMarker string) (*RoutingMap, error) {
	return buildRoutingMap(collection, nil, ranges, changeMarker)
}

// TryCombine returns a new map with the ranges of an incremental refresh
// merged over the current ranges. The receiver is not modified. Children
// replace the parents they name, so splits and merges are handled alike.
func (m *RoutingMap) TryCombine(ranges []PartitionRoute, changeMarker string) (*RoutingMap, error) {
	return buildRoutingMap(m.collection, m.routes, ranges, changeMarker)
}

func buildRoutingMap(collection string, current, ranges []PartitionRoute, changeMarker string) (*RoutingMap, error) {
	byID := make(map[string]PartitionRoute, len(current)+len(ranges))
	for _, r := range current {
		byID[r.ID] = r
	}
	for _, r := range ranges {
		byID[r.ID] = r.clone()
	}

	gone := make(map[string]struct{})
	for _, r := range byID {
		for _, parent := range r.Parents {
			gone[parent] = struct{}{}
		}
	}

	routes := make([]PartitionRoute, 0, len(byID))
	for id, r := range byID {
		if _, ok := gone[id]; ok {
			continue
		}
		routes = append(routes, r)
	}
	sort.Slice(routes, func(i, j int) bool {
		return bytes.Compare(routes[i].Start, routes[j].Start) < 0
	})

	if err := checkCoverage(routes); err != nil {
		return nil, errors.Wrapf(err, "collection %s", collection)
	}

	m := &RoutingMap{
		collection:   collection,
		changeMarker: changeMarker,
		routes:       routes,
		byID:         make(map[string]int, len(routes)),
		tree:         newRouteTree(),
	}
	for idx, r := range routes {
		m.byID[r.ID] = idx
		m.tree.insert(r)
	}
	return m, nil
}

// checkCoverage requires sorted routes starting at the minimum key, each
// starting where the previous one ends, and the last one open ended.
func checkCoverage(routes []PartitionRoute) error {
	if len(routes) == 0 {
		return errors.Wrap(ErrIncompleteRoutingMap, "no ranges")
	}
	if len(routes[0].Start) != 0 {
		return errors.Wrapf(ErrIncompleteRoutingMap, "first range %s does not start at the minimum key",
			routes[0].ID)
	}

	for i := 1; i < len(routes); i++ {
		prev, cur := routes[i-1], routes[i]
		if len(prev.End) == 0 {
			return errors.Wrapf(ErrIncompleteRoutingMap, "range %s overlaps open ended range %s",
				cur.ID, prev.ID)
		}
		switch c := bytes.Compare(prev.End, cur.Start); {
		case c < 0:
			return errors.Wrapf(ErrIncompleteRoutingMap, "gap between range %s and %s",
				prev.ID, cur.ID)
		case c > 0:
			return errors.Wrapf(ErrIncompleteRoutingMap, "range %s overlaps range %s",
				prev.ID, cur.ID)
		}
		if len(cur.End) > 0 && bytes.Compare(cur.Start, cur.End) >= 0 {
			return errors.Wrapf(ErrIncompleteRoutingMap, "range %s is empty", cur.ID)
		}
	}

	if last := routes[len(routes)-1]; len(last.End) != 0 {
		return errors.Wrapf(ErrIncompleteRoutingMap, "last range %s does not end at positive infinity",
			last.ID)
	}
	return nil
}

// Collection returns the collection of the map
func (m *RoutingMap) Collection() string {
	return m.collection
}

// ChangeMarker returns the continuation of the discovery feed this map is based on
func (m *RoutingMap) ChangeMarker() string {
	return m.changeMarker
}

// Len returns the number of partitions
func (m *RoutingMap) Len() int {
	return len(m.routes)
}

// Lookup returns the route that contains the effective partition key
func (m *RoutingMap) Lookup(epk []byte) (PartitionRoute, bool) {
	return m.tree.search(epk)
}

// Route returns the route of the partition id
func (m *RoutingMap) Route(id string) (PartitionRoute, bool) {
	idx, ok := m.byID[id]
	if !ok {
		return PartitionRoute{}, false
	}
	return m.routes[idx], true
}

// Overlapping returns the routes intersecting [start, end) in key order
func (m *RoutingMap) Overlapping(start, end []byte) []PartitionRoute {
	return m.tree.overlapping(start, end)
}

// Routes returns the routes in key order. The result must not be modified.
func (m *RoutingMap) Routes() []PartitionRoute {
	return m.routes
}

// PartitionIDs returns the partition ids in key order
func (m *RoutingMap) PartitionIDs() []string {
	ids := make([]string, 0, len(m.routes))
	for _, r := range m.routes {
		ids = append(ids, r.ID)
	}
	return ids
}
