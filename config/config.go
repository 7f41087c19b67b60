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

package config

import (
	"reflect"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/matrixorigin/bulkcube/metric"
	"github.com/matrixorigin/bulkcube/util/typeutil"
)

var (
	kb = 1024
	mb = 1024 * kb

	defaultMaxOperationCount          = 100
	defaultMaxBatchBytes              = 220 * kb
	defaultMaxWireBytes               = 2 * mb
	defaultDispatchTimerInterval      = time.Second
	defaultMaxConcurrencyPerPartition = 50
	defaultCongestionInterval         = time.Second
	defaultTimerResolution            = time.Millisecond * 50
	defaultTimerBuckets               = 512

	defaultMaxThrottleRetries           = 9
	defaultMaxThrottleWait              = time.Second * 30
	defaultMaxGoneRetries               = 10
	defaultMaxServiceUnavailableRetries = 1
	defaultServiceUnavailableBackoff    = time.Millisecond * 100
	defaultMaxResponseTooLargeRetries   = 10
	defaultRoutingRefreshRetries        = 3
	defaultRoutingRefreshBackoff        = time.Millisecond * 100

	defaultConnectTimeout = time.Second * 10
	defaultRequestTimeout = time.Second * 30
	defaultMaxBodySize    = 4 * mb
	defaultSendBatch      = int64(64)

	defaultDiscoveryPageSize = 100
	defaultDiscoveryTimeout  = time.Second * 10
)

var (
	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(typeutil.Duration); ok {
			return d.Duration
		}
		return nil
	}, typeutil.Duration{})
	return v
}

// Config bulkcube config
type Config struct {
	Bulk      BulkConfig      `toml:"bulk"`
	Retry     RetryConfig     `toml:"retry"`
	Transport TransportConfig `toml:"transport"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Metric    metric.Cfg      `toml:"metric"`
}

// BulkConfig batching and dispatch config
type BulkConfig struct {
	// MaxOperationCount max operations in a batch
	MaxOperationCount int `toml:"max-operation-count" validate:"min=1"`
	// MaxBatchBytes max estimated bytes of the operations in a batch
	MaxBatchBytes typeutil.ByteSize `toml:"max-batch-bytes" validate:"min=1"`
	// MaxWireBytes max encoded bytes of a wire request, including framing
	MaxWireBytes typeutil.ByteSize `toml:"max-wire-bytes" validate:"min=1"`
	// DispatchTimerInterval a non empty batch is flushed at the latest after this interval
	DispatchTimerInterval typeutil.Duration `toml:"dispatch-timer-interval" validate:"min=1ms"`
	// MaxConcurrencyPerPartition max concurrent dispatches of a partition
	MaxConcurrencyPerPartition int `toml:"max-concurrency-per-partition" validate:"min=1"`
	// CongestionInterval the degree of concurrency is adjusted every interval
	CongestionInterval typeutil.Duration `toml:"congestion-interval" validate:"min=1ms"`
	TimerResolution    typeutil.Duration `toml:"timer-resolution" validate:"min=1ms"`
	TimerBuckets       int               `toml:"timer-buckets" validate:"min=1"`
	// MaxOperationsPerSecond limits the submit rate, 0 means unlimited
	MaxOperationsPerSecond int `toml:"max-operations-per-second" validate:"min=0"`
}

func (c *BulkConfig) adjust() {
	if c.MaxOperationCount == 0 {
		c.MaxOperationCount = defaultMaxOperationCount
	}
	if c.MaxBatchBytes == 0 {
		c.MaxBatchBytes = typeutil.ByteSize(defaultMaxBatchBytes)
	}
	if c.MaxWireBytes == 0 {
		c.MaxWireBytes = typeutil.ByteSize(defaultMaxWireBytes)
	}
	if c.DispatchTimerInterval.Duration == 0 {
		c.DispatchTimerInterval.Duration = defaultDispatchTimerInterval
	}
	if c.MaxConcurrencyPerPartition == 0 {
		c.MaxConcurrencyPerPartition = defaultMaxConcurrencyPerPartition
	}
	if c.CongestionInterval.Duration == 0 {
		c.CongestionInterval.Duration = defaultCongestionInterval
	}
	if c.TimerResolution.Duration == 0 {
		c.TimerResolution.Duration = defaultTimerResolution
	}
	if c.TimerBuckets == 0 {
		c.TimerBuckets = defaultTimerBuckets
	}
}

// RetryConfig retry config
type RetryConfig struct {
	MaxThrottleRetries           int               `toml:"max-throttle-retries" validate:"min=0"`
	MaxThrottleWait              typeutil.Duration `toml:"max-throttle-wait" validate:"min=0"`
	MaxGoneRetries               int               `toml:"max-gone-retries" validate:"min=0"`
	MaxServiceUnavailableRetries int               `toml:"max-service-unavailable-retries" validate:"min=0"`
	ServiceUnavailableBackoff    typeutil.Duration `toml:"service-unavailable-backoff" validate:"min=0"`
	MaxResponseTooLargeRetries   int               `toml:"max-response-too-large-retries" validate:"min=0"`
	RoutingRefreshRetries        int               `toml:"routing-refresh-retries" validate:"min=1"`
	RoutingRefreshBackoff        typeutil.Duration `toml:"routing-refresh-backoff" validate:"min=1ms"`
}

func (c *RetryConfig) adjust() {
	if c.MaxThrottleRetries == 0 {
		c.MaxThrottleRetries = defaultMaxThrottleRetries
	}
	if c.MaxThrottleWait.Duration == 0 {
		c.MaxThrottleWait.Duration = defaultMaxThrottleWait
	}
	if c.MaxGoneRetries == 0 {
		c.MaxGoneRetries = defaultMaxGoneRetries
	}
	if c.MaxServiceUnavailableRetries == 0 {
		c.MaxServiceUnavailableRetries = defaultMaxServiceUnavailableRetries
	}
	if c.ServiceUnavailableBackoff.Duration == 0 {
		c.ServiceUnavailableBackoff.Duration = defaultServiceUnavailableBackoff
	}
	if c.MaxResponseTooLargeRetries == 0 {
		c.MaxResponseTooLargeRetries = defaultMaxResponseTooLargeRetries
	}
	if c.RoutingRefreshRetries == 0 {
		c.RoutingRefreshRetries = defaultRoutingRefreshRetries
	}
	if c.RoutingRefreshBackoff.Duration == 0 {
		c.RoutingRefreshBackoff.Duration = defaultRoutingRefreshBackoff
	}
}

// TransportConfig tcp transport config
type TransportConfig struct {
	ConnectTimeout typeutil.Duration `toml:"connect-timeout" validate:"min=1ms"`
	RequestTimeout typeutil.Duration `toml:"request-timeout" validate:"min=1ms"`
	MaxBodySize    typeutil.ByteSize `toml:"max-body-size" validate:"min=1"`
	SendBatch      int64             `toml:"send-batch" validate:"min=1"`
}

func (c *TransportConfig) adjust() {
	if c.ConnectTimeout.Duration == 0 {
		c.ConnectTimeout.Duration = defaultConnectTimeout
	}
	if c.RequestTimeout.Duration == 0 {
		c.RequestTimeout.Duration = defaultRequestTimeout
	}
	if c.MaxBodySize == 0 {
		c.MaxBodySize = typeutil.ByteSize(defaultMaxBodySize)
	}
	if c.SendBatch == 0 {
		c.SendBatch = defaultSendBatch
	}
}

// DiscoveryConfig partition discovery config
type DiscoveryConfig struct {
	// Endpoint of the partition ranges feed, empty means the caller provides
	// the discovery service
	Endpoint string            `toml:"endpoint" validate:"omitempty,url"`
	PageSize int               `toml:"page-size" validate:"min=1"`
	Timeout  typeutil.Duration `toml:"timeout" validate:"min=1ms"`
}

func (c *DiscoveryConfig) adjust() {
	if c.PageSize == 0 {
		c.PageSize = defaultDiscoveryPageSize
	}
	if c.Timeout.Duration == 0 {
		c.Timeout.Duration = defaultDiscoveryTimeout
	}
}

// NewDefault returns a config with all defaults
func NewDefault() *Config {
	c := &Config{}
	c.Adjust()
	return c
}

// Load loads the toml config file over the defaults. Fields missing from the
// file keep their defaults, fields present are kept as written, so a zero
// retry budget disables that retry.
func Load(path string) (*Config, error) {
	c := NewDefault()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Wrapf(err, "load config file %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Adjust fills the zero fields with defaults. A zero retry budget is
// indistinguishable from an unset one here, set it after Adjust or in the
// config file.
func (c *Config) Adjust() {
	(&c.Bulk).adjust()
	(&c.Retry).adjust()
	(&c.Transport).adjust()
	(&c.Discovery).adjust()
}

// Validate checks every limit, the batching limits must all be at least 1
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
