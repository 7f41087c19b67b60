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
)

// PartitionRoute maps the effective partition key range [Start, End) to a
// physical partition. An empty End is positive infinity. Routes are never
// modified after they are published in a RoutingMap.
type PartitionRoute struct {
	ID    string
	Start []byte
	End   []byte
	// Parents are the ids of the ranges this range was split from or merged
	// from. A range listed as a parent is gone.
	Parents []string
	// Address is the endpoint that serves the partition
	Address string
}

// Contains returns true if key is in [Start, End)
func (r PartitionRoute) Contains(key []byte) bool {
	// len(end) == 0: max field is positive infinity
	return bytes.Compare(key, r.Start) >= 0 && (len(r.End) == 0 || bytes.Compare(key, r.End) < 0)
}

func (r PartitionRoute) clone() PartitionRoute {
	v := r
	v.Start = append([]byte(nil), r.Start...)
	v.End = append([]byte(nil), r.End...)
	v.Parents = append([]string(nil), r.Parents...)
	return v
}
