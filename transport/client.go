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
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/fagongzi/goetty"
	gcodec "github.com/fagongzi/goetty/codec"
	"github.com/matrixorigin/bulkcube/bulk"
	"github.com/matrixorigin/bulkcube/components/log"
	"github.com/matrixorigin/bulkcube/config"
	"github.com/matrixorigin/bulkcube/util/stop"
	"go.uber.org/zap"
)

var (
	// ErrClosed the transport is closed
	ErrClosed = errors.New("transport closed")

	errConnect = errors.New("not connected")
)

// TCPTransport sends wire requests to the partition addresses over
// long-lived tcp connections, one per address. Requests on a connection are
// pipelined and matched to their responses by id.
type TCPTransport struct {
	logger  *zap.Logger
	opts    *options
	encoder gcodec.Encoder
	decoder gcodec.Decoder
	id      uint64

	mu struct {
		sync.Mutex
		closed   bool
		backends map[string]*backend
	}
}

var _ bulk.Transport = (*TCPTransport)(nil)

// NewTCPTransport returns a tcp transport
func NewTCPTransport(cfg config.TransportConfig, opts ...Option) *TCPTransport {
	t := &TCPTransport{opts: newOptions(cfg)}
	for _, opt := range opts {
		opt(t.opts)
	}
	t.logger = log.Adjust(t.opts.logger).Named("transport")
	t.encoder, t.decoder = newCodec(t.opts.maxBodySize)
	t.mu.backends = make(map[string]*backend)
	return t
}

// Send implements bulk.Transport
func (t *TCPTransport) Send(ctx context.Context, req bulk.WireRequest) (bulk.WireResponse, error) {
	b, err := t.getBackend(req.Address)
	if err != nil {
		return bulk.WireResponse{}, err
	}

	resp, err := b.send(ctx, &Request{
		ID:          atomic.AddUint64(&t.id, 1),
		Collection:  req.Collection,
		PartitionID: req.PartitionID,
		Count:       uint32(req.Count),
		Body:        req.Body,
	})
	if err != nil {
		return bulk.WireResponse{}, err
	}
	if resp.Error != "" {
		return bulk.WireResponse{}, errors.Newf("remote %s: %s", req.Address, resp.Error)
	}
	return bulk.WireResponse{Results: resp.Results}, nil
}

// Close closes all connections, requests waiting for responses fail with
// ErrClosed
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.mu.closed {
		t.mu.Unlock()
		return nil
	}
	t.mu.closed = true
	backends := t.mu.backends
	t.mu.backends = nil
	t.mu.Unlock()

	for _, b := range backends {
		b.close()
	}
	return nil
}

func (t *TCPTransport) getBackend(addr string) (*backend, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mu.closed {
		return nil, ErrClosed
	}
	if b, ok := t.mu.backends[addr]; ok {
		return b, nil
	}

	b := newBackend(t.logger, addr, t.opts,
		goetty.NewIOSession(goetty.WithCodec(t.encoder, t.decoder),
			goetty.WithLogger(t.logger.Named("session"))))
	t.mu.backends[addr] = b
	return b, nil
}

type call struct {
	req  *Request
	once sync.Once
	c    chan struct{}
	resp *Response
	err  error
}

func newCall(req *Request) *call {
	return &call{req: req, c: make(chan struct{})}
}

func (c *call) done(resp *Response, err error) {
	c.once.Do(func() {
		c.resp = resp
		c.err = err
		close(c.c)
	})
}

type backend struct {
	logger  *zap.Logger
	addr    string
	opts    *options
	conn    goetty.IOSession
	stopper *stop.Stopper
	writeC  chan *call
	// calls waiting for responses, id -> *call
	pending sync.Map

	mu sync.Mutex
}

func newBackend(logger *zap.Logger, addr string, opts *options, conn goetty.IOSession) *backend {
	b := &backend{
		logger: logger.With(log.AddressField(addr)),
		addr:   addr,
		opts:   opts,
		conn:   conn,
		writeC: make(chan *call, opts.sendBatch),
	}
	b.stopper = stop.NewStopper("backend-"+addr, stop.WithLogger(b.logger))
	if err := b.stopper.RunNamedTask(context.Background(), "write-loop", b.writeLoop); err != nil {
		b.logger.Fatal("fail to start write loop", zap.Error(err))
	}
	return b
}

func (b *backend) send(ctx context.Context, req *Request) (*Response, error) {
	if !b.checkConnect() {
		return nil, errors.Wrapf(errConnect, "backend %s", b.addr)
	}

	c := newCall(req)
	b.pending.Store(req.ID, c)
	defer b.pending.Delete(req.ID)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case b.writeC <- c:
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.c:
		return c.resp, c.err
	}
}

func (b *backend) checkConnect() bool {
	if b.conn.Connected() {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn.Connected() {
		return true
	}

	ok, err := b.conn.Connect(b.addr, b.opts.connectTimeout)
	if err != nil {
		b.logger.Error("fail to connect to backend",
			zap.Error(err))
		return false
	}
	if err := b.stopper.RunNamedTask(context.Background(), "read-loop", b.readLoop); err != nil {
		b.conn.Close()
		return false
	}
	return ok
}

func (b *backend) writeLoop(ctx context.Context) {
	b.logger.Info("backend write loop started")
	defer b.logger.Info("backend write loop stopped")

	calls := make([]*call, 0, b.opts.sendBatch)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-b.writeC:
			calls = append(calls[:0], c)
		}
	DRAIN:
		for int64(len(calls)) < b.opts.sendBatch {
			select {
			case c := <-b.writeC:
				calls = append(calls, c)
			default:
				break DRAIN
			}
		}

		var err error
		for _, c := range calls {
			if ce := b.logger.Check(zap.DebugLevel, "send request"); ce != nil {
				ce.Write(log.RequestIDField(c.req.ID),
					log.PartitionField(c.req.PartitionID))
			}
			if err = b.conn.Write(c.req); err != nil {
				break
			}
		}
		if err == nil {
			err = b.conn.Flush()
		}
		if err != nil {
			b.logger.Error("fail to send requests",
				zap.Int("requests", len(calls)),
				zap.Error(err))
			for _, c := range calls {
				c.done(nil, err)
			}
		}
	}
}

func (b *backend) readLoop(ctx context.Context) {
	b.logger.Info("backend read loop started")
	for {
		data, err := b.conn.Read()
		if err != nil {
			b.logger.Info("backend read loop stopped",
				zap.Error(err))
			b.conn.Close()
			b.failPending(errors.Wrapf(err, "connection to %s closed", b.addr))
			return
		}

		resp, ok := data.(*Response)
		if !ok {
			continue
		}
		if ce := b.logger.Check(zap.DebugLevel, "receive response"); ce != nil {
			ce.Write(log.RequestIDField(resp.ID))
		}
		if v, ok := b.pending.Load(resp.ID); ok {
			v.(*call).done(resp, nil)
		}
	}
}

func (b *backend) failPending(err error) {
	b.pending.Range(func(key, value interface{}) bool {
		value.(*call).done(nil, err)
		return true
	})
}

func (b *backend) close() {
	b.conn.Close()
	b.stopper.Stop()
	b.failPending(ErrClosed)
}
