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

package mock

import (
	"context"
	"testing"

	"github.com/matrixorigin/bulkcube/bulk"
	"github.com/matrixorigin/bulkcube/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoveryFeed(t *testing.T) {
	c := NewCluster(WithPageSize(2))
	c.CreateCollection("c", "/pk", 3)

	r := routing.NewResolver(c)
	m, err := r.Refresh(context.Background(), "c", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, m.PartitionIDs())
	// 2 pages
	assert.Equal(t, 2, c.Fetches())

	children, err := c.Split("c", "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5"}, children)

	m, err = r.RefreshStale(context.Background(), "c", m)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "4", "5", "3"}, m.PartitionIDs())

	page, err := c.FetchRanges(context.Background(), "c", m.ChangeMarker())
	require.NoError(t, err)
	assert.True(t, page.NotModified)
}

func TestSplitMovesItems(t *testing.T) {
	c := NewCluster()
	c.CreateCollection("c", "/pk", 1)

	var ops []*bulk.Operation
	for _, pk := range []string{`"a"`, `"b"`, `"c"`, `"d"`, `"e"`, `"f"`} {
		ops = append(ops, &bulk.Operation{Kind: bulk.Upsert, Collection: "c", ID: pk,
			PartitionKey: []byte(pk), Payload: []byte(`{}`)})
	}
	resp := send(t, c, "1", ops)
	for _, r := range resp.Results {
		assert.Equal(t, bulk.StatusCreated, r.Status)
	}

	_, err := c.Split("c", "1")
	require.NoError(t, err)
	assert.Equal(t, 6, c.Count("c"))

	resp = send(t, c, "1", ops[:1])
	assert.Equal(t, bulk.StatusGone, resp.Results[0].Status)
	assert.Equal(t, bulk.SubStatusPartitionKeyRangeGone, resp.Results[0].SubStatus)

	_, err = c.Split("c", "1")
	assert.Error(t, err)
}

func TestApplyOperations(t *testing.T) {
	c := NewCluster()
	c.CreateCollection("c", "/pk", 1)
	pk := []byte(`"a"`)

	resp := send(t, c, "1", []*bulk.Operation{
		{Kind: bulk.Create, Collection: "c", PartitionKey: pk, Payload: []byte(`{"id":"1","v":1}`)},
		{Kind: bulk.Create, Collection: "c", ID: "1", PartitionKey: pk, Payload: []byte(`{"id":"1"}`)},
		{Kind: bulk.Patch, Collection: "c", ID: "1", PartitionKey: pk, Payload: []byte(`{"w":2}`)},
		{Kind: bulk.Replace, Collection: "c", ID: "1", PartitionKey: pk, Payload: []byte(`{}`),
			Options: bulk.OperationOptions{IfMatchETag: `"1"`}},
		{Kind: bulk.Read, Collection: "c", ID: "1", PartitionKey: pk},
		{Kind: bulk.Delete, Collection: "c", ID: "1", PartitionKey: pk},
		{Kind: bulk.Read, Collection: "c", ID: "1", PartitionKey: pk},
	})
	var statuses []int
	for i, r := range resp.Results {
		assert.Equal(t, uint32(i), r.Index)
		statuses = append(statuses, r.Status)
	}
	assert.Equal(t, []int{201, 409, 200, 412, 200, 204, 404}, statuses)
	assert.JSONEq(t, `{"id":"1","v":1,"w":2}`, string(resp.Results[4].Payload))
	assert.Equal(t, `"2"`, resp.Results[4].ETag)
}

func TestInjectedFailures(t *testing.T) {
	c := NewCluster()
	c.CreateCollection("c", "/pk", 1)
	op := &bulk.Operation{Kind: bulk.Read, Collection: "c", ID: "1", PartitionKey: []byte(`"a"`)}

	c.InjectFault("1", 1, Fault{Status: bulk.StatusTooManyRequests})
	resp := send(t, c, "1", []*bulk.Operation{op})
	assert.Equal(t, bulk.StatusTooManyRequests, resp.Results[0].Status)
	resp = send(t, c, "1", []*bulk.Operation{op})
	assert.Equal(t, bulk.StatusNotFound, resp.Results[0].Status)

	c.DropResults(1)
	resp = send(t, c, "1", []*bulk.Operation{op, op})
	require.Equal(t, 1, len(resp.Results))
	assert.Equal(t, uint32(1), resp.Results[0].Index)

	c.FailRequests(1, ErrPartitionNotFound)
	_, err := c.Send(context.Background(), request(t, "1", []*bulk.Operation{op}))
	assert.Error(t, err)
	assert.Equal(t, 4, len(c.Requests()))
}

func request(t *testing.T, partition string, ops []*bulk.Operation) bulk.WireRequest {
	body, err := bulk.EncodeBatch(bulk.NewBinarySerializer(), ops)
	require.NoError(t, err)
	return bulk.WireRequest{Collection: "c", PartitionID: partition, Count: len(ops), Body: body}
}

func send(t *testing.T, c *Cluster, partition string, ops []*bulk.Operation) bulk.WireResponse {
	resp, err := c.Send(context.Background(), request(t, partition, ops))
	require.NoError(t, err)
	return resp
}
