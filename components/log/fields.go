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

package log

import (
	"bytes"
	"encoding/hex"
	"strconv"

	"github.com/fagongzi/util/hack"
	"go.uber.org/zap"
)

// ReasonField returns zap.StringField
func ReasonField(why string) zap.Field {
	return zap.String("reason", why)
}

// CollectionField returns zap.StringField
func CollectionField(collection string) zap.Field {
	return zap.String("collection", collection)
}

// PartitionField returns zap.StringField
func PartitionField(id string) zap.Field {
	return zap.String("partition", id)
}

// AddressField returns zap.StringField
func AddressField(address string) zap.Field {
	return zap.String("address", address)
}

// OperationIDField returns zap.StringField
func OperationIDField(id string) zap.Field {
	return zap.String("operation-id", id)
}

// OperationKindField returns zap.StringField
func OperationKindField(kind string) zap.Field {
	return zap.String("operation-kind", kind)
}

// AttemptField returns zap.IntField
func AttemptField(attempt int) zap.Field {
	return zap.Int("attempt", attempt)
}

// RequestIDField returns zap.Uint64Field
func RequestIDField(id uint64) zap.Field {
	return zap.Uint64("request-id", id)
}

// HexField returns zap.StringField, use hex.EncodeToString as string value
func HexField(key string, data []byte) zap.Field {
	if len(data) == 0 {
		return zap.String(key, "")
	}
	return zap.String(key, hex.EncodeToString(data))
}

// StatusField returns the status and sub status as one string field, e.g. "410/1002"
func StatusField(status, subStatus int) zap.Field {
	var info bytes.Buffer
	info.WriteString(strconv.Itoa(status))
	info.WriteString("/")
	info.WriteString(strconv.Itoa(subStatus))
	return zap.String("status", hack.SliceToString(info.Bytes()))
}

// KeyRangeField returns formated [start, end) zap string field, an empty end
// means positive infinity
func KeyRangeField(key string, start, end []byte) zap.Field {
	var info bytes.Buffer
	appendKeyRange(start, end, &info)
	return zap.String(key, hack.SliceToString(info.Bytes()))
}

// BatchField returns formated batch summary zap string field
func BatchField(key string, partition string, count int, size int) zap.Field {
	var info bytes.Buffer
	info.WriteString("partition: ")
	info.WriteString(partition)
	info.WriteString(", operations: ")
	info.WriteString(strconv.Itoa(count))
	info.WriteString(", bytes: ")
	info.WriteString(strconv.Itoa(size))
	return zap.String(key, hack.SliceToString(info.Bytes()))
}

// RoutingMapField returns formated routing map summary zap string field
func RoutingMapField(key string, changeMarker string, partitions int) zap.Field {
	var info bytes.Buffer
	info.WriteString("change-marker: ")
	info.WriteString(changeMarker)
	info.WriteString(", partitions: ")
	info.WriteString(strconv.Itoa(partitions))
	return zap.String(key, hack.SliceToString(info.Bytes()))
}

// PartitionIDsField returns zap.StringField
func PartitionIDsField(key string, ids []string) zap.Field {
	if len(ids) == 0 {
		return zap.String(key, "")
	}

	var info bytes.Buffer
	for idx, id := range ids {
		if idx > 0 {
			info.WriteString(" ")
		}
		info.WriteString(id)
	}
	return zap.String(key, hack.SliceToString(info.Bytes()))
}

func appendKeyRange(start, end []byte, info *bytes.Buffer) {
	info.WriteString("[")
	info.WriteString(hex.EncodeToString(start))
	info.WriteString(", ")
	if len(end) == 0 {
		info.WriteString("+inf")
	} else {
		info.WriteString(hex.EncodeToString(end))
	}
	info.WriteString(")")
}
