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
	"encoding/binary"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
)

var (
	// ErrPartitionKeyNotFound the payload has no value at the partition key path
	ErrPartitionKeyNotFound = errors.New("partition key not found in payload")
	// ErrInvalidPartitionKeyPath the partition key path is not a json pointer like "/a/b"
	ErrInvalidPartitionKeyPath = errors.New("invalid partition key path")
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

const (
	// EffectivePartitionKeySize is the length of an effective partition key
	EffectivePartitionKeySize = 8
)

// EffectivePartitionKey hashes the canonical json partition key into the
// effective partition key space, 8 bytes big endian.
func EffectivePartitionKey(partitionKey []byte) []byte {
	epk := make([]byte, EffectivePartitionKeySize)
	binary.BigEndian.PutUint64(epk, xxhash.Sum64(partitionKey))
	return epk
}

// EffectivePartitionKeyOf returns the effective partition key at hash value,
// used to build range boundaries.
func EffectivePartitionKeyOf(hash uint64) []byte {
	epk := make([]byte, EffectivePartitionKeySize)
	binary.BigEndian.PutUint64(epk, hash)
	return epk
}

// PartitionKeyPath is a parsed partition key path, e.g. "/address/city"
type PartitionKeyPath []interface{}

// ParsePartitionKeyPath parses a json pointer style path
func ParsePartitionKeyPath(path string) (PartitionKeyPath, error) {
	if !strings.HasPrefix(path, "/") || len(path) == 1 {
		return nil, errors.Wrapf(ErrInvalidPartitionKeyPath, "path %q", path)
	}

	var parts PartitionKeyPath
	for _, part := range strings.Split(path[1:], "/") {
		if part == "" {
			return nil, errors.Wrapf(ErrInvalidPartitionKeyPath, "path %q", path)
		}
		part = strings.ReplaceAll(strings.ReplaceAll(part, "~1", "/"), "~0", "~")
		parts = append(parts, part)
	}
	return parts, nil
}

// ExtractPartitionKey returns the canonical json of the value at path in payload.
func ExtractPartitionKey(payload []byte, path PartitionKeyPath) ([]byte, error) {
	value := json.Get(payload, path...)
	switch value.ValueType() {
	case jsoniter.InvalidValue:
		return nil, ErrPartitionKeyNotFound
	case jsoniter.NumberValue:
		// keep the literal, float64 round trips lose precision
		return []byte(strings.TrimSpace(value.ToString())), nil
	default:
		data, err := json.Marshal(value.GetInterface())
		if err != nil {
			return nil, errors.Wrap(err, "marshal partition key")
		}
		return data, nil
	}
}

// CanonicalPartitionKey returns the canonical json of a partition key value
// supplied by the caller.
func CanonicalPartitionKey(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "marshal partition key")
	}
	return data, nil
}
