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

package transport

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fagongzi/goetty/buf"
	gcodec "github.com/fagongzi/goetty/codec"
	"github.com/fagongzi/goetty/codec/length"
	"github.com/matrixorigin/bulkcube/bulk"
)

const (
	typeRequest  byte = 1
	typeResponse byte = 2
)

var (
	// ErrBadMessage the incoming message is corrupted
	ErrBadMessage = errors.New("invalid message")
)

// Request is a wire request with the id used to match its response
type Request struct {
	ID          uint64
	Collection  string
	PartitionID string
	Count       uint32
	Body        []byte
}

// Response is the response of the request with the same id. Error is set if
// the server failed to serve the request as a whole.
type Response struct {
	ID      uint64
	Error   string
	Results []bulk.OperationResult
}

var (
	c = &messageCodec{}
)

// newCodec returns the length field based codec used on both sides
func newCodec(maxBodySize int) (gcodec.Encoder, gcodec.Decoder) {
	return length.NewWithSize(c, c, 0, 0, 0, maxBodySize)
}

type messageCodec struct {
}

func (c *messageCodec) Decode(in *buf.ByteBuf) (bool, interface{}, error) {
	r := &reader{data: in.GetMarkedRemindData()}
	var msg interface{}
	switch t := r.byte(); t {
	case typeRequest:
		msg = decodeRequest(r)
	case typeResponse:
		msg = decodeResponse(r)
	default:
		return false, nil, errors.Wrapf(ErrBadMessage, "type %d", t)
	}
	if r.err != nil {
		return false, nil, r.err
	}

	in.MarkedBytesReaded()
	return true, msg, nil
}

func (c *messageCodec) Encode(data interface{}, out *buf.ByteBuf) error {
	switch msg := data.(type) {
	case *Request:
		out.WriteByte(typeRequest)
		out.WriteUInt64(msg.ID)
		writeBytes(out, []byte(msg.Collection))
		writeBytes(out, []byte(msg.PartitionID))
		out.WriteUInt32(msg.Count)
		writeBytes(out, msg.Body)
		return nil
	case *Response:
		out.WriteByte(typeResponse)
		out.WriteUInt64(msg.ID)
		writeBytes(out, []byte(msg.Error))
		out.WriteUInt32(uint32(len(msg.Results)))
		for _, r := range msg.Results {
			out.WriteUInt32(r.Index)
			out.WriteUInt32(uint32(r.Status))
			out.WriteUInt32(uint32(r.SubStatus))
			out.WriteUInt64(uint64(r.RetryAfter))
			writeBytes(out, []byte(r.ETag))
			writeBytes(out, r.Payload)
			out.WriteUInt64(math.Float64bits(r.RequestCharge))
		}
		return nil
	}

	return errors.Newf("not support %T %+v", data, data)
}

func decodeRequest(r *reader) *Request {
	return &Request{
		ID:          r.uint64(),
		Collection:  string(r.bytes()),
		PartitionID: string(r.bytes()),
		Count:       r.uint32(),
		Body:        r.bytes(),
	}
}

func decodeResponse(r *reader) *Response {
	resp := &Response{
		ID:    r.uint64(),
		Error: string(r.bytes()),
	}
	n := int(r.uint32())
	for i := 0; i < n && r.err == nil; i++ {
		resp.Results = append(resp.Results, bulk.OperationResult{
			Index:         r.uint32(),
			Status:        int(r.uint32()),
			SubStatus:     int(r.uint32()),
			RetryAfter:    time.Duration(r.uint64()),
			ETag:          string(r.bytes()),
			Payload:       r.bytes(),
			RequestCharge: math.Float64frombits(r.uint64()),
		})
	}
	return resp
}

func writeBytes(out *buf.ByteBuf, data []byte) {
	out.WriteUInt32(uint32(len(data)))
	if len(data) > 0 {
		out.Write(data)
	}
}

// reader reads the fields of a message, the first error sticks
type reader struct {
	data []byte
	err  error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.data) < n {
		r.err = errors.Wrapf(ErrBadMessage, "need %d bytes, %d left", n, len(r.data))
		return nil
	}
	v := r.data[:n]
	r.data = r.data[n:]
	return v
}

func (r *reader) byte() byte {
	if v := r.next(1); v != nil {
		return v[0]
	}
	return 0
}

func (r *reader) uint32() uint32 {
	if v := r.next(4); v != nil {
		return buf.Byte2UInt32(v)
	}
	return 0
}

func (r *reader) uint64() uint64 {
	if v := r.next(8); v != nil {
		return buf.Byte2UInt64(v)
	}
	return 0
}

// bytes returns a copy, the decoded buffer is reused
func (r *reader) bytes() []byte {
	n := int(r.uint32())
	if n == 0 {
		return nil
	}
	if v := r.next(n); v != nil {
		return append([]byte(nil), v...)
	}
	return nil
}
