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
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"
	"github.com/matrixorigin/bulkcube/bulk"
	"github.com/matrixorigin/bulkcube/components/log"
	"github.com/matrixorigin/bulkcube/routing"
	"go.uber.org/zap"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	// ErrCollectionNotFound the collection does not exist
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrPartitionNotFound the partition never existed
	ErrPartitionNotFound = errors.New("partition not found")
)

const (
	defaultPageSize = 100
)

// Option cluster option
type Option func(*Cluster)

// WithLogger set logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cluster) {
		c.logger = logger
	}
}

// WithPageSize set the max ranges of a discovery page
func WithPageSize(size int) Option {
	return func(c *Cluster) {
		c.pageSize = size
	}
}

// WithLatency set the latency of every request
func WithLatency(latency time.Duration) Option {
	return func(c *Cluster) {
		c.latency = latency
	}
}

// WithAddress serves every partition at addr, by default partition i is
// served at "partition-i"
func WithAddress(addr string) Option {
	return func(c *Cluster) {
		c.address = addr
	}
}

// Fault is a status injected into the result of an operation
type Fault struct {
	Status     int
	SubStatus  int
	RetryAfter time.Duration
}

// Request is a request received by the cluster
type Request struct {
	Collection  string
	PartitionID string
	Operations  []string
	Bytes       int
}

type fault struct {
	Fault
	times int
}

type item struct {
	epk     []byte
	payload []byte
	version uint64
}

type partition struct {
	route routing.PartitionRoute
	gone  bool
	items map[string]*item
}

type collection struct {
	name       string
	pkPath     string
	changes    []routing.PartitionRoute
	partitions map[string]*partition
}

// Cluster is an in-memory partitioned document store. It implements
// bulk.Transport, routing.Discovery and bulk.CollectionReader, and can
// split partitions and inject failures.
type Cluster struct {
	logger   *zap.Logger
	pageSize int
	latency  time.Duration
	address  string

	mu struct {
		sync.Mutex
		nextID       uint64
		collections  map[string]*collection
		faults       map[string]*fault
		failRequests int
		failErr      error
		dropResults  int
		requests     []Request
		fetches      int
	}
}

// NewCluster returns an empty cluster
func NewCluster(opts ...Option) *Cluster {
	c := &Cluster{}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.Adjust(c.logger).Named("mock-cluster")
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	c.mu.collections = make(map[string]*collection)
	c.mu.faults = make(map[string]*fault)
	return c
}

// CreateCollection creates a collection whose key space is split evenly into
// n partitions.
func (c *Cluster) CreateCollection(name, pkPath string, n int) {
	if n <= 0 {
		n = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	col := &collection{
		name:       name,
		pkPath:     pkPath,
		partitions: make(map[string]*partition),
	}
	step := ^uint64(0) / uint64(n)
	for i := 0; i < n; i++ {
		var start, end []byte
		if i > 0 {
			start = routing.EffectivePartitionKeyOf(step * uint64(i))
		}
		if i < n-1 {
			end = routing.EffectivePartitionKeyOf(step * uint64(i+1))
		}
		c.addPartitionLocked(col, start, end, nil)
	}
	c.mu.collections[name] = col
	c.logger.Info("collection created",
		log.CollectionField(name),
		zap.Int("partitions", n))
}

// Split splits the partition into two halves. The partition answers every
// later operation with 410/1002 and the new partitions show up in the
// discovery feed.
func (c *Cluster) Split(name, partitionID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	col, ok := c.mu.collections[name]
	if !ok {
		return nil, errors.Wrapf(ErrCollectionNotFound, "collection %s", name)
	}
	p, ok := col.partitions[partitionID]
	if !ok || p.gone {
		return nil, errors.Wrapf(ErrPartitionNotFound, "partition %s", partitionID)
	}

	start := uint64(0)
	if len(p.route.Start) > 0 {
		start = binary.BigEndian.Uint64(p.route.Start)
	}
	end := ^uint64(0)
	if len(p.route.End) > 0 {
		end = binary.BigEndian.Uint64(p.route.End)
	}
	mid := routing.EffectivePartitionKeyOf(start + (end-start)/2)

	p.gone = true
	left := c.addPartitionLocked(col, p.route.Start, mid, []string{partitionID})
	right := c.addPartitionLocked(col, mid, p.route.End, []string{partitionID})
	for id, it := range p.items {
		if right.route.Contains(it.epk) {
			right.items[id] = it
		} else {
			left.items[id] = it
		}
	}
	p.items = nil

	c.logger.Info("partition split",
		log.CollectionField(name),
		log.PartitionField(partitionID),
		log.PartitionIDsField("children", []string{left.route.ID, right.route.ID}))
	return []string{left.route.ID, right.route.ID}, nil
}

func (c *Cluster) addPartitionLocked(col *collection, start, end []byte, parents []string) *partition {
	c.mu.nextID++
	id := strconv.FormatUint(c.mu.nextID, 10)
	addr := c.address
	if addr == "" {
		addr = fmt.Sprintf("partition-%s", id)
	}
	p := &partition{
		route: routing.PartitionRoute{
			ID:      id,
			Start:   start,
			End:     end,
			Parents: parents,
			Address: addr,
		},
		items: make(map[string]*item),
	}
	col.partitions[id] = p
	col.changes = append(col.changes, p.route)
	return p
}

// InjectFault makes the next times operations with the id fail with the
// fault. An empty id matches any operation.
func (c *Cluster) InjectFault(id string, times int, f Fault) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.faults[id] = &fault{Fault: f, times: times}
}

// FailRequests makes the next n requests fail as a whole with err
func (c *Cluster) FailRequests(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.failRequests = n
	c.mu.failErr = err
}

// DropResults omits the results of the next n operations from the responses
func (c *Cluster) DropResults(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.dropResults = n
}

// Requests returns the requests received so far
func (c *Cluster) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.mu.requests...)
}

// Fetches returns the number of discovery fetches
func (c *Cluster) Fetches() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.fetches
}

// Get returns the payload of the item
func (c *Cluster) Get(name, id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.mu.collections[name]; ok {
		for _, p := range col.partitions {
			if it, ok := p.items[id]; ok {
				return it.payload, true
			}
		}
	}
	return nil, false
}

// Count returns the number of items in the collection
func (c *Cluster) Count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	if col, ok := c.mu.collections[name]; ok {
		for _, p := range col.partitions {
			n += len(p.items)
		}
	}
	return n
}

// ReadCollection implements bulk.CollectionReader
func (c *Cluster) ReadCollection(ctx context.Context, name string) (bulk.CollectionProperties, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	col, ok := c.mu.collections[name]
	if !ok {
		return bulk.CollectionProperties{}, errors.Wrapf(ErrCollectionNotFound, "collection %s", name)
	}
	return bulk.CollectionProperties{PartitionKeyPath: col.pkPath}, nil
}

// FetchRanges implements routing.Discovery. The continuation is the offset
// in the change feed of the collection.
func (c *Cluster) FetchRanges(ctx context.Context, name string, continuation string) (routing.RangePage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mu.fetches++

	col, ok := c.mu.collections[name]
	if !ok {
		return routing.RangePage{}, errors.Wrapf(ErrCollectionNotFound, "collection %s", name)
	}

	offset := 0
	if continuation != "" {
		v, err := strconv.Atoi(continuation)
		if err != nil || v < 0 || v > len(col.changes) {
			return routing.RangePage{}, errors.Newf("invalid continuation %q", continuation)
		}
		if v == len(col.changes) {
			return routing.RangePage{NotModified: true, Continuation: continuation}, nil
		}
		offset = v
	}

	end := offset + c.pageSize
	if end > len(col.changes) {
		end = len(col.changes)
	}
	return routing.RangePage{
		Ranges:       append([]routing.PartitionRoute(nil), col.changes[offset:end]...),
		Continuation: strconv.Itoa(end),
		Final:        end == len(col.changes),
	}, nil
}

// Send implements bulk.Transport
func (c *Cluster) Send(ctx context.Context, req bulk.WireRequest) (bulk.WireResponse, error) {
	if c.latency > 0 {
		select {
		case <-ctx.Done():
			return bulk.WireResponse{}, ctx.Err()
		case <-time.After(c.latency):
		}
	}

	ops, err := bulk.DecodeBatch(req.Body)
	if err != nil {
		return bulk.WireResponse{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	record := Request{
		Collection:  req.Collection,
		PartitionID: req.PartitionID,
		Bytes:       len(req.Body),
	}
	for _, op := range ops {
		record.Operations = append(record.Operations, op.Operation.ID)
	}
	c.mu.requests = append(c.mu.requests, record)

	if c.mu.failRequests > 0 {
		c.mu.failRequests--
		return bulk.WireResponse{}, c.mu.failErr
	}

	col, ok := c.mu.collections[req.Collection]
	if !ok {
		return bulk.WireResponse{}, errors.Wrapf(ErrCollectionNotFound, "collection %s", req.Collection)
	}
	p, ok := col.partitions[req.PartitionID]
	if !ok {
		return bulk.WireResponse{}, errors.Wrapf(ErrPartitionNotFound, "partition %s", req.PartitionID)
	}

	resp := bulk.WireResponse{}
	for _, op := range ops {
		if c.mu.dropResults > 0 {
			c.mu.dropResults--
			continue
		}
		result := c.applyLocked(p, &op.Operation)
		result.Index = op.Index
		resp.Results = append(resp.Results, result)
	}
	return resp, nil
}

func (c *Cluster) applyLocked(p *partition, op *bulk.Operation) bulk.OperationResult {
	if f := c.takeFaultLocked(op.ID); f != nil {
		return bulk.OperationResult{Status: f.Status, SubStatus: f.SubStatus, RetryAfter: f.RetryAfter}
	}
	epk := routing.EffectivePartitionKey(op.PartitionKey)
	if p.gone || !p.route.Contains(epk) {
		return bulk.OperationResult{Status: bulk.StatusGone, SubStatus: bulk.SubStatusPartitionKeyRangeGone}
	}

	id := op.ID
	if id == "" {
		id = json.Get(op.Payload, "id").ToString()
	}
	if id == "" {
		return bulk.OperationResult{Status: bulk.StatusBadRequest}
	}

	it, exists := p.items[id]
	if exists && op.Options.IfMatchETag != "" && op.Options.IfMatchETag != etag(it) {
		return bulk.OperationResult{Status: bulk.StatusPreconditionFailed}
	}

	switch op.Kind {
	case bulk.Create:
		if exists {
			return bulk.OperationResult{Status: bulk.StatusConflict}
		}
		it = &item{epk: epk, payload: op.Payload, version: 1}
		p.items[id] = it
		return result(bulk.StatusCreated, it)
	case bulk.Read:
		if !exists {
			return bulk.OperationResult{Status: bulk.StatusNotFound}
		}
		return result(bulk.StatusOK, it)
	case bulk.Replace:
		if !exists {
			return bulk.OperationResult{Status: bulk.StatusNotFound}
		}
		it.payload = op.Payload
		it.version++
		return result(bulk.StatusOK, it)
	case bulk.Upsert:
		if !exists {
			it = &item{epk: epk, payload: op.Payload, version: 1}
			p.items[id] = it
			return result(bulk.StatusCreated, it)
		}
		it.payload = op.Payload
		it.version++
		return result(bulk.StatusOK, it)
	case bulk.Delete:
		if !exists {
			return bulk.OperationResult{Status: bulk.StatusNotFound}
		}
		delete(p.items, id)
		return bulk.OperationResult{Status: bulk.StatusNoContent, RequestCharge: 1}
	case bulk.Patch:
		if !exists {
			return bulk.OperationResult{Status: bulk.StatusNotFound}
		}
		payload, err := merge(it.payload, op.Payload)
		if err != nil {
			return bulk.OperationResult{Status: bulk.StatusBadRequest}
		}
		it.payload = payload
		it.version++
		return result(bulk.StatusOK, it)
	}
	return bulk.OperationResult{Status: bulk.StatusBadRequest}
}

func (c *Cluster) takeFaultLocked(id string) *Fault {
	for _, key := range []string{id, ""} {
		if f, ok := c.mu.faults[key]; ok && f.times > 0 {
			f.times--
			if f.times == 0 {
				delete(c.mu.faults, key)
			}
			v := f.Fault
			return &v
		}
	}
	return nil
}

func result(status int, it *item) bulk.OperationResult {
	return bulk.OperationResult{
		Status:        status,
		ETag:          etag(it),
		Payload:       it.payload,
		RequestCharge: float64(len(it.payload)+1023) / 1024,
	}
}

func etag(it *item) string {
	return strconv.Quote(strconv.FormatUint(it.version, 10))
}

// merge applies the top level fields of patch to doc
func merge(doc, patch []byte) ([]byte, error) {
	var target, fields map[string]interface{}
	if err := json.Unmarshal(doc, &target); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		target[k] = v
	}
	return json.Marshal(target)
}
