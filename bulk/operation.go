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
	"strconv"
)

// OperationKind is the kind of an item operation
type OperationKind int

const (
	// Create inserts a new item
	Create OperationKind = iota + 1
	// Read reads an item by id
	Read
	// Replace replaces an existing item
	Replace
	// Upsert inserts or replaces an item
	Upsert
	// Delete deletes an item by id
	Delete
	// Patch applies a partial update to an item
	Patch
)

var kindNames = map[OperationKind]string{
	Create:  "create",
	Read:    "read",
	Replace: "replace",
	Upsert:  "upsert",
	Delete:  "delete",
	Patch:   "patch",
}

func (k OperationKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

func (k OperationKind) valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k OperationKind) hasPayload() bool {
	return k == Create || k == Replace || k == Upsert || k == Patch
}

// OperationOptions per operation options
type OperationOptions struct {
	// IfMatchETag makes a write conditional on the item's current etag
	IfMatchETag string
	// SessionToken pins the operation to a session, bulk execution spans
	// many partitions concurrently so it is rejected.
	SessionToken string
}

// Operation is one item operation submitted to the executor
type Operation struct {
	Kind       OperationKind
	Collection string
	// ID is the item id, required by all kinds but Create, whose payload
	// carries the id.
	ID string
	// PartitionKey is the canonical json of the partition key value. If
	// empty it is extracted from the payload.
	PartitionKey []byte
	Payload      []byte
	Options      OperationOptions
}

func (op *Operation) validate() error {
	if op == nil {
		return newValidationError("nil operation")
	}
	if op.Collection == "" {
		return newValidationError("missing collection")
	}
	if !op.Kind.valid() {
		return newValidationError("unsupported kind %s", op.Kind)
	}
	if op.Options.SessionToken != "" {
		return newValidationError("session token is not supported in bulk mode")
	}
	if op.Kind != Create && op.ID == "" {
		return newValidationError("%s requires an item id", op.Kind)
	}
	if op.Kind.hasPayload() && len(op.Payload) == 0 {
		return newValidationError("%s requires a payload", op.Kind)
	}
	if len(op.PartitionKey) == 0 && len(op.Payload) == 0 {
		return newValidationError("%s requires a partition key", op.Kind)
	}
	return nil
}
