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

	"github.com/google/btree"
)

const (
	defaultBTreeDegree = 64
)

type routeItem struct {
	route PartitionRoute
}

// Less returns true if the route start key is greater than the other.
// So we will sort the routes with start key reversely.
func (r *routeItem) Less(other btree.Item) bool {
	return bytes.Compare(r.route.Start, other.(*routeItem).route.Start) > 0
}

// routeTree is the btree index of a RoutingMap. It is only written while
// the map is built, so it needs no lock.
type routeTree struct {
	tree *btree.BTree
}

func newRouteTree() *routeTree {
	return &routeTree{
		tree: btree.New(defaultBTreeDegree),
	}
}

func (t *routeTree) insert(route PartitionRoute) {
	t.tree.ReplaceOrInsert(&routeItem{route: route})
}

// search returns the route that contains the key
func (t *routeTree) search(key []byte) (PartitionRoute, bool) {
	var result *routeItem
	// reversed order: the first item >= pivot is the greatest start <= key
	t.tree.AscendGreaterOrEqual(&routeItem{route: PartitionRoute{Start: key}}, func(i btree.Item) bool {
		result = i.(*routeItem)
		return false
	})

	if result == nil || !result.route.Contains(key) {
		return PartitionRoute{}, false
	}
	return result.route, true
}

// ascend iterates the routes in ascending start key order until fn returns false
func (t *routeTree) ascend(fn func(route PartitionRoute) bool) {
	t.tree.Descend(func(i btree.Item) bool {
		return fn(i.(*routeItem).route)
	})
}

// overlapping returns the routes intersecting [start, end) in ascending order
func (t *routeTree) overlapping(start, end []byte) []PartitionRoute {
	var routes []PartitionRoute
	t.ascend(func(route PartitionRoute) bool {
		if len(end) > 0 && bytes.Compare(route.Start, end) >= 0 {
			return false
		}
		if len(route.End) == 0 || bytes.Compare(route.End, start) > 0 {
			routes = append(routes, route)
		}
		return true
	})
	return routes
}
