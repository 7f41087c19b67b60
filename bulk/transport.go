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

package bulk

import (
	"context"
)

// WireRequest is an encoded batch for one partition
type WireRequest struct {
	Collection  string
	PartitionID string
	// Address is the endpoint of the partition from the routing map
	Address string
	// Count is the number of operations encoded in Body
	Count int
	Body  []byte
}

// WireResponse is the structured response of a WireRequest, one result per
// operation tagged with the operation's index in the request.
type WireResponse struct {
	Results []OperationResult
}

// Transport sends wire requests. An error means the request failed as a
// whole and no structured response exists.
type Transport interface {
	Send(ctx context.Context, req WireRequest) (WireResponse, error)
}

// CollectionProperties are the properties of a collection needed to route
// its operations
type CollectionProperties struct {
	// PartitionKeyPath is the json pointer of the partition key in an item,
	// e.g. "/tenantId"
	PartitionKeyPath string
}

// CollectionReader reads collection properties
type CollectionReader interface {
	ReadCollection(ctx context.Context, collection string) (CollectionProperties, error)
}
