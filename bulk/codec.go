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
	"github.com/cockroachdb/errors"
	"github.com/fagongzi/goetty/buf"
)

// Serializer converts operations into the bytes of a wire batch
type Serializer interface {
	// EstimateSize returns the approximate serialized size of the operation,
	// used to bound the bytes of a batch before encoding.
	EstimateSize(op *Operation) int
	// Serialize returns the bytes of the operation
	Serialize(op *Operation) ([]byte, error)
}

var (
	errCorruptedBatch = errors.New("corrupted batch body")
)

const (
	batchVersion     byte = 1
	batchHeaderSize       = 5 // version + count
	recordHeaderSize      = 8 // body length + index
	fieldHeaderSize       = 4
	operationFields       = 4 // id, partition key, if-match etag, payload
)

type binarySerializer struct {
}

// NewBinarySerializer returns the default serializer. The size estimate
// counts the operation's data only, framing is known at encode time.
func NewBinarySerializer() Serializer {
	return binarySerializer{}
}

func (binarySerializer) EstimateSize(op *Operation) int {
	return len(op.ID) + len(op.PartitionKey) + len(op.Options.IfMatchETag) + len(op.Payload)
}

func (s binarySerializer) Serialize(op *Operation) ([]byte, error) {
	size := 1 + operationFields*fieldHeaderSize + s.EstimateSize(op)
	buffer := buf.NewByteBuf(size)
	defer buffer.Release()

	if err := buffer.WriteByte(byte(op.Kind)); err != nil {
		return nil, err
	}
	for _, field := range [][]byte{[]byte(op.ID), op.PartitionKey, []byte(op.Options.IfMatchETag), op.Payload} {
		if err := writeField(buffer, field); err != nil {
			return nil, err
		}
	}
	_, data, err := buffer.ReadBytes(buffer.Readable())
	return data, err
}

func writeField(buffer *buf.ByteBuf, field []byte) error {
	if _, err := buffer.WriteUInt32(uint32(len(field))); err != nil {
		return err
	}
	if len(field) == 0 {
		return nil
	}
	_, err := buffer.Write(field)
	return err
}

// encodedSize returns the size of a batch holding the records
func encodedSize(records [][]byte) int {
	size := batchHeaderSize
	for _, r := range records {
		size += recordHeaderSize + len(r)
	}
	return size
}

// fitRecords returns how many leading records fit in maxWireBytes
func fitRecords(records [][]byte, maxWireBytes int) int {
	size := batchHeaderSize
	for i, r := range records {
		size += recordHeaderSize + len(r)
		if size > maxWireBytes {
			return i
		}
	}
	return len(records)
}

// encodeBatch writes the records, record i is tagged with index i
func encodeBatch(records [][]byte) ([]byte, error) {
	buffer := buf.NewByteBuf(encodedSize(records))
	defer buffer.Release()

	if err := buffer.WriteByte(batchVersion); err != nil {
		return nil, err
	}
	if _, err := buffer.WriteUInt32(uint32(len(records))); err != nil {
		return nil, err
	}
	for i, r := range records {
		if _, err := buffer.WriteUInt32(uint32(len(r))); err != nil {
			return nil, err
		}
		if _, err := buffer.WriteUInt32(uint32(i)); err != nil {
			return nil, err
		}
		if _, err := buffer.Write(r); err != nil {
			return nil, err
		}
	}
	_, data, err := buffer.ReadBytes(buffer.Readable())
	return data, err
}

// EncodeBatch serializes the operations into a batch body, operation i is
// tagged with index i.
func EncodeBatch(s Serializer, ops []*Operation) ([]byte, error) {
	records := make([][]byte, 0, len(ops))
	for _, op := range ops {
		data, err := s.Serialize(op)
		if err != nil {
			return nil, err
		}
		records = append(records, data)
	}
	return encodeBatch(records)
}

// WireOperation is an operation decoded from a wire batch
type WireOperation struct {
	Index     uint32
	Operation Operation
}

// DecodeBatch decodes a batch body written with the binary serializer
func DecodeBatch(body []byte) ([]WireOperation, error) {
	if len(body) < batchHeaderSize || body[0] != batchVersion {
		return nil, errCorruptedBatch
	}
	count := int(buf.Byte2UInt32(body[1:batchHeaderSize]))
	body = body[batchHeaderSize:]

	ops := make([]WireOperation, 0, count)
	for i := 0; i < count; i++ {
		if len(body) < recordHeaderSize {
			return nil, errors.Wrapf(errCorruptedBatch, "record %d header", i)
		}
		size := int(buf.Byte2UInt32(body[:4]))
		index := buf.Byte2UInt32(body[4:recordHeaderSize])
		body = body[recordHeaderSize:]
		if len(body) < size {
			return nil, errors.Wrapf(errCorruptedBatch, "record %d body", i)
		}

		op, err := decodeOperation(body[:size])
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		ops = append(ops, WireOperation{Index: index, Operation: op})
		body = body[size:]
	}
	return ops, nil
}

func decodeOperation(data []byte) (Operation, error) {
	if len(data) < 1 {
		return Operation{}, errCorruptedBatch
	}
	op := Operation{Kind: OperationKind(data[0])}
	data = data[1:]

	fields := make([][]byte, operationFields)
	for i := range fields {
		if len(data) < fieldHeaderSize {
			return Operation{}, errCorruptedBatch
		}
		size := int(buf.Byte2UInt32(data[:fieldHeaderSize]))
		data = data[fieldHeaderSize:]
		if len(data) < size {
			return Operation{}, errCorruptedBatch
		}
		if size > 0 {
			fields[i] = append([]byte(nil), data[:size]...)
		}
		data = data[size:]
	}

	op.ID = string(fields[0])
	op.PartitionKey = fields[1]
	op.Options.IfMatchETag = string(fields[2])
	op.Payload = fields[3]
	return op, nil
}
