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

	"github.com/fagongzi/goetty"
	"github.com/matrixorigin/bulkcube/bulk"
	"github.com/matrixorigin/bulkcube/components/log"
	"github.com/matrixorigin/bulkcube/config"
	"github.com/matrixorigin/bulkcube/util/stop"
	"go.uber.org/zap"
)

// Server serves the requests of TCPTransport clients with a bulk.Transport,
// e.g. a mock cluster. Every request is served in its own task, responses
// are written in completion order.
type Server struct {
	logger  *zap.Logger
	addr    string
	handler bulk.Transport
	app     goetty.NetApplication
	stopper *stop.Stopper
}

// NewServer returns a server listening on addr
func NewServer(addr string, handler bulk.Transport, cfg config.TransportConfig, opts ...Option) (*Server, error) {
	o := newOptions(cfg)
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{
		logger:  log.Adjust(o.logger).Named("transport-server").With(log.AddressField(addr)),
		addr:    addr,
		handler: handler,
	}
	s.stopper = stop.NewStopper("transport-server", stop.WithLogger(s.logger))

	encoder, decoder := newCodec(o.maxBodySize)
	app, err := goetty.NewTCPApplication(addr, s.onMessage,
		goetty.WithAppSessionOptions(goetty.WithCodec(encoder, decoder),
			goetty.WithEnableAsyncWrite(o.sendBatch),
			goetty.WithLogger(s.logger.Named("session"))))
	if err != nil {
		return nil, err
	}
	s.app = app
	return s, nil
}

// Start starts listening
func (s *Server) Start() error {
	if err := s.app.Start(); err != nil {
		return err
	}
	s.logger.Info("transport server started")
	return nil
}

// Stop stops listening and cancels the requests being served
func (s *Server) Stop() error {
	s.stopper.Stop()
	err := s.app.Stop()
	s.logger.Info("transport server stopped")
	return err
}

func (s *Server) onMessage(rs goetty.IOSession, msg interface{}, received uint64) error {
	req, ok := msg.(*Request)
	if !ok {
		return nil
	}
	if ce := s.logger.Check(zap.DebugLevel, "request received"); ce != nil {
		ce.Write(log.RequestIDField(req.ID),
			log.PartitionField(req.PartitionID),
			zap.String("from", rs.RemoteAddr()))
	}

	return s.stopper.RunNamedTask(context.Background(), "serve", func(ctx context.Context) {
		resp := &Response{ID: req.ID}
		wr, err := s.handler.Send(ctx, bulk.WireRequest{
			Collection:  req.Collection,
			PartitionID: req.PartitionID,
			Address:     s.addr,
			Count:       int(req.Count),
			Body:        req.Body,
		})
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Results = wr.Results
		}

		if err := rs.WriteAndFlush(resp); err != nil {
			s.logger.Error("fail to write response",
				log.RequestIDField(req.ID),
				zap.Error(err))
		}
	})
}
