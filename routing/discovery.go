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
)

// RangePage is one page of the partition ranges feed of a collection
type RangePage struct {
	Ranges []PartitionRoute
	// Continuation is the change marker after this page, passing it to the
	// next fetch returns only the ranges changed since.
	Continuation string
	// Final is true on the last page of the current feed
	Final bool
	// NotModified is true if nothing changed since the continuation
	NotModified bool
}

// Discovery is the partition discovery service
type Discovery interface {
	// FetchRanges returns the page of ranges after continuation, an empty
	// continuation starts from the beginning of the feed.
	FetchRanges(ctx context.Context, collection string, continuation string) (RangePage, error)
}
