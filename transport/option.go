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
	"time"

	"github.com/matrixorigin/bulkcube/config"
	"go.uber.org/zap"
)

// Option transport option
type Option func(*options)

type options struct {
	logger         *zap.Logger
	connectTimeout time.Duration
	maxBodySize    int
	sendBatch      int64
}

func newOptions(cfg config.TransportConfig) *options {
	return &options{
		connectTimeout: cfg.ConnectTimeout.Duration,
		maxBodySize:    cfg.MaxBodySize.Bytes(),
		sendBatch:      cfg.SendBatch,
	}
}

// WithLogger set logger
func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}
