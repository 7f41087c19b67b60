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
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fagongzi/goetty/buf"
	"github.com/matrixorigin/bulkcube/bulk"
	"github.com/matrixorigin/bulkcube/config"
	"github.com/matrixorigin/bulkcube/mock"
	"github.com/matrixorigin/bulkcube/util/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (string, *mock.Cluster) {
	addr := testutil.GenTestAddr(t)
	c := mock.NewCluster(mock.WithAddress(addr))
	c.CreateCollection("c", "/pk", 2)

	s, err := NewServer(addr, c, config.NewDefault().Transport)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		assert.NoError(t, s.Stop())
	})
	return addr, c
}

func TestCodec(t *testing.T) {
	resp := &Response{
		ID:    10,
		Error: "",
		Results: []bulk.OperationResult{
			{Index: 1, Status: 429, SubStatus: 3200, RetryAfter: time.Millisecond * 5,
				ETag: `"1"`, Payload: []byte("{}"), RequestCharge: 1.5},
			{Index: 0, Status: 201},
		},
	}

	out := buf.NewByteBuf(64)
	defer out.Release()
	require.NoError(t, c.Encode(resp, out))
	_, data, err := out.ReadBytes(out.Readable())
	require.NoError(t, err)

	r := &reader{data: data}
	assert.Equal(t, typeResponse, r.byte())
	decoded := decodeResponse(r)
	require.NoError(t, r.err)
	assert.Equal(t, resp.ID, decoded.ID)
	assert.Equal(t, resp.Results[0], decoded.Results[0])
	assert.Equal(t, 201, decoded.Results[1].Status)
	assert.Empty(t, decoded.Results[1].Payload)

	r = &reader{data: data[:len(data)-3]}
	r.byte()
	decodeResponse(r)
	assert.Error(t, r.err)
}

func TestSendOverTCP(t *testing.T) {
	addr, _ := newTestServer(t)
	tr := NewTCPTransport(config.NewDefault().Transport)
	defer tr.Close()

	var ops []*bulk.Operation
	for i := 0; i < 10; i++ {
		ops = append(ops, &bulk.Operation{Kind: bulk.Upsert, Collection: "c", ID: fmt.Sprintf("%d", i),
			PartitionKey: []byte(`"a"`), Payload: []byte(`{"v":1}`)})
	}
	body, err := bulk.EncodeBatch(bulk.NewBinarySerializer(), ops)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	// "a" is in one of the two partitions, the other answers gone
	statuses := make(map[int]int)
	for _, id := range []string{"1", "2"} {
		resp, err := tr.Send(ctx, bulk.WireRequest{Collection: "c", PartitionID: id, Address: addr,
			Count: len(ops), Body: body})
		require.NoError(t, err)
		require.Equal(t, len(ops), len(resp.Results))
		for i, r := range resp.Results {
			assert.Equal(t, uint32(i), r.Index)
			statuses[r.Status]++
		}
	}
	assert.Equal(t, map[int]int{bulk.StatusCreated: 10, bulk.StatusGone: 10}, statuses)

	_, err = tr.Send(ctx, bulk.WireRequest{Collection: "missing", PartitionID: "1", Address: addr, Body: body})
	assert.Error(t, err)
}

func TestSendToUnreachableAddress(t *testing.T) {
	cfg := config.NewDefault().Transport
	cfg.ConnectTimeout.Duration = time.Millisecond * 200
	tr := NewTCPTransport(cfg)
	defer tr.Close()

	_, err := tr.Send(context.Background(), bulk.WireRequest{Address: testutil.GenTestAddr(t)})
	assert.Error(t, err)
}

func TestSendAfterClose(t *testing.T) {
	tr := NewTCPTransport(config.NewDefault().Transport)
	require.NoError(t, tr.Close())
	_, err := tr.Send(context.Background(), bulk.WireRequest{Address: "127.0.0.1:1"})
	assert.Equal(t, ErrClosed, err)
}

func TestExecutorOverTCP(t *testing.T) {
	_, c := newTestServer(t)
	cfg := config.NewDefault()
	cfg.Bulk.DispatchTimerInterval.Duration = time.Millisecond * 10
	cfg.Bulk.TimerResolution.Duration = time.Millisecond * 5
	tr := NewTCPTransport(cfg.Transport)
	defer tr.Close()

	e, err := bulk.NewExecutor(cfg, tr, c, c)
	require.NoError(t, err)
	defer e.Close()

	var futures []*bulk.Future
	for i := 0; i < 100; i++ {
		f, err := e.Submit(context.Background(), &bulk.Operation{
			Kind:       bulk.Create,
			Collection: "c",
			Payload:    []byte(fmt.Sprintf(`{"id":"%d","pk":"%d"}`, i, i%13)),
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	for _, f := range futures {
		result, err := f.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, bulk.StatusCreated, result.Status)
	}
	assert.Equal(t, 100, c.Count("c"))
}
