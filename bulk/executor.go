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
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/matrixorigin/bulkcube/components/log"
	"github.com/matrixorigin/bulkcube/config"
	"github.com/matrixorigin/bulkcube/metric"
	"github.com/matrixorigin/bulkcube/routing"
	"github.com/matrixorigin/bulkcube/util/asynccache"
	"github.com/matrixorigin/bulkcube/util/stop"
	"github.com/matrixorigin/bulkcube/util/timewheel"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Option executor option
type Option func(*Executor)

// WithLogger set logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithSerializer set the serializer of operations, default is the binary
// serializer
func WithSerializer(serializer Serializer) Option {
	return func(e *Executor) {
		e.serializer = serializer
	}
}

// WithRetryPolicyFactory set the factory of per operation retry policies,
// default policy is built from the retry config
func WithRetryPolicyFactory(factory RetryPolicyFactory) Option {
	return func(e *Executor) {
		e.retryFactory = factory
	}
}

// Executor groups independent item operations into per partition batches,
// sends them concurrently and completes every operation exactly once, with
// a result or an error.
type Executor struct {
	cfg          *config.Config
	logger       *zap.Logger
	transport    Transport
	reader       CollectionReader
	serializer   Serializer
	retryFactory RetryPolicyFactory

	resolver *routing.Resolver
	pkPaths  *asynccache.Cache[routing.PartitionKeyPath]
	batcher  *batcher
	wheel    *timewheel.Wheel
	stopper  *stop.Stopper
	limiter  *rate.Limiter
	cancel   context.CancelFunc

	seq uint64
	// retrying holds the operations waiting in the wheel for a retry
	retrying sync.Map

	mu struct {
		sync.RWMutex
		closed    bool
		streamers map[string]*streamer
	}
}

// NewExecutor returns an executor. The reader is used to find the partition
// key path of a collection when an operation has no partition key, it may be
// nil if every operation carries its key.
func NewExecutor(cfg *config.Config, transport Transport, discovery routing.Discovery,
	reader CollectionReader, opts ...Option) (*Executor, error) {
	if cfg == nil {
		return nil, errors.New("missing config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if transport == nil || discovery == nil {
		return nil, errors.New("missing transport or discovery")
	}

	e := &Executor{
		cfg:       cfg,
		transport: transport,
		reader:    reader,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.Adjust(e.logger).Named("bulk")
	if e.serializer == nil {
		e.serializer = NewBinarySerializer()
	}
	if e.retryFactory == nil {
		e.retryFactory = NewRetryPolicyFactory(RetryOptions{
			MaxThrottleRetries:           cfg.Retry.MaxThrottleRetries,
			MaxThrottleWait:              cfg.Retry.MaxThrottleWait.Duration,
			MaxGoneRetries:               cfg.Retry.MaxGoneRetries,
			MaxServiceUnavailableRetries: cfg.Retry.MaxServiceUnavailableRetries,
			ServiceUnavailableBackoff:    cfg.Retry.ServiceUnavailableBackoff.Duration,
			MaxResponseTooLargeRetries:   cfg.Retry.MaxResponseTooLargeRetries,
		})
	}
	if cfg.Bulk.MaxOperationsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.Bulk.MaxOperationsPerSecond),
			cfg.Bulk.MaxOperationCount)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.resolver = routing.NewResolver(discovery,
		routing.WithResolverContext(ctx),
		routing.WithResolverLogger(e.logger),
		routing.WithRefreshRetries(cfg.Retry.RoutingRefreshRetries, cfg.Retry.RoutingRefreshBackoff.Duration))
	e.pkPaths = asynccache.New[routing.PartitionKeyPath](ctx)
	e.wheel = timewheel.New(timewheel.WithResolution(cfg.Bulk.TimerResolution.Duration),
		timewheel.WithBuckets(cfg.Bulk.TimerBuckets),
		timewheel.WithLogger(e.logger))
	e.stopper = stop.NewStopper("bulk-executor", stop.WithLogger(e.logger))
	e.batcher = &batcher{
		logger:         e.logger,
		transport:      transport,
		serializer:     e.serializer,
		maxWireBytes:   cfg.Bulk.MaxWireBytes.Bytes(),
		requestTimeout: cfg.Transport.RequestTimeout.Duration,
		handle:         e.handleResult,
	}
	e.mu.streamers = make(map[string]*streamer)
	return e, nil
}

// Resolver returns the routing resolver of the executor
func (e *Executor) Resolver() *routing.Resolver {
	return e.resolver
}

// Submit validates the operation and queues it into the batch of its
// partition. Validation errors are returned synchronously, every later
// failure completes the returned future. The caller's ctx bounds the
// operation, its cancellation completes the future with the context error.
func (e *Executor) Submit(ctx context.Context, op *Operation) (*Future, error) {
	if err := op.validate(); err != nil {
		return nil, err
	}
	if e.isClosed() {
		return nil, ErrExecutorClosed
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	pk, err := e.partitionKey(ctx, op)
	if err != nil {
		return nil, err
	}
	routed := *op
	routed.PartitionKey = pk

	oc := newOperationContext(ctx, atomic.AddUint64(&e.seq, 1), &routed,
		routing.EffectivePartitionKey(pk), e.serializer.EstimateSize(&routed), e.retryFactory())
	e.route(oc, false)
	return oc.future, nil
}

// Close fails the operations that are not dispatched yet with
// ErrExecutorClosed and stops all background tasks. Dispatches in flight are
// abandoned.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.mu.closed {
		e.mu.Unlock()
		return nil
	}
	e.mu.closed = true
	streamers := make([]*streamer, 0, len(e.mu.streamers))
	for _, s := range e.mu.streamers {
		streamers = append(streamers, s)
	}
	e.mu.Unlock()

	for _, s := range streamers {
		s.close()
	}
	e.wheel.Stop()
	e.retrying.Range(func(key, value interface{}) bool {
		e.retrying.Delete(key)
		value.(*operationContext).fail(ErrExecutorClosed)
		return true
	})
	e.cancel()
	if tasks := e.stopper.Stop(); len(tasks) > 0 {
		e.logger.Warn("executor closed with running tasks",
			zap.Strings("tasks", tasks))
	}
	e.logger.Info("executor closed",
		zap.Int("streamers", len(streamers)))
	return nil
}

func (e *Executor) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mu.closed
}

func (e *Executor) partitionKey(ctx context.Context, op *Operation) ([]byte, error) {
	if len(op.PartitionKey) > 0 {
		return op.PartitionKey, nil
	}
	if e.reader == nil {
		return nil, newValidationError("%s %s has no partition key", op.Kind, op.ID)
	}

	path, err := e.pkPaths.Get(ctx, op.Collection, e.fetchPartitionKeyPath)
	if err != nil {
		return nil, err
	}
	pk, err := routing.ExtractPartitionKey(op.Payload, path)
	if err != nil {
		return nil, newValidationError("%s %s: %s", op.Kind, op.ID, err)
	}
	return pk, nil
}

func (e *Executor) fetchPartitionKeyPath(ctx context.Context, collection string,
	_ routing.PartitionKeyPath, _ bool) (routing.PartitionKeyPath, error) {
	props, err := e.reader.ReadCollection(ctx, collection)
	if err != nil {
		return nil, errors.Wrapf(err, "read collection %s", collection)
	}
	return routing.ParsePartitionKeyPath(props.PartitionKeyPath)
}

// route resolves the partition of the operation and adds it to the
// partition's streamer. forceRefresh refreshes the map the operation was
// last routed with before resolving.
func (e *Executor) route(oc *operationContext, forceRefresh bool) {
	if oc.isDone() {
		return
	}

	collection := oc.op.Collection
	if forceRefresh {
		if _, err := e.resolver.RefreshStale(oc.ctx, collection, oc.routingMap()); err != nil {
			// Resolve below retries the refresh
			e.logger.Warn("fail to refresh routing map",
				log.CollectionField(collection),
				zap.Error(err))
		}
	}

	route, m, err := e.resolver.Resolve(oc.ctx, collection, oc.epk)
	if err != nil {
		oc.fail(errors.Wrapf(err, "resolve partition of %s %s", oc.op.Kind, oc.op.ID))
		return
	}
	oc.setRoutingMap(m)

	s, ok := e.getStreamer(collection, route)
	if !ok || !s.add(oc) {
		oc.fail(ErrExecutorClosed)
	}
}

func (e *Executor) getStreamer(collection string, route routing.PartitionRoute) (*streamer, bool) {
	key := collection + "/" + route.ID

	e.mu.RLock()
	s, ok := e.mu.streamers[key]
	closed := e.mu.closed
	e.mu.RUnlock()
	if ok || closed {
		return s, ok && !closed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mu.closed {
		return nil, false
	}
	if s, ok := e.mu.streamers[key]; ok {
		return s, true
	}
	s = newStreamer(e, collection, route)
	e.mu.streamers[key] = s
	metric.IncStreamerGauge()
	if ce := e.logger.Check(zap.DebugLevel, "streamer created"); ce != nil {
		ce.Write(log.CollectionField(collection),
			log.PartitionField(route.ID),
			log.KeyRangeField("range", route.Start, route.End),
			log.AddressField(route.Address))
	}
	return s, true
}

func (e *Executor) handleResult(s *streamer, oc *operationContext, r OperationResult) {
	attempts := oc.getAttempts()
	outcome := Classify(r)
	switch outcome.Kind {
	case OutcomeSuccess:
		oc.complete(newResult(r, attempts))
	case OutcomeFatal:
		oc.completeWithError(newResult(r, attempts),
			&StatusError{Status: r.Status, SubStatus: r.SubStatus})
	case OutcomeRetryable:
		delay, ok := oc.policy.ShouldRetry(r)
		if !ok {
			oc.completeWithError(newResult(r, attempts), &StatusError{
				Status:    r.Status,
				SubStatus: r.SubStatus,
				Reason:    "retries exhausted: " + outcome.Reason.String(),
			})
			return
		}

		metric.IncOperationRetried(outcome.Reason.String())
		if ce := s.logger.Check(zap.DebugLevel, "retry operation"); ce != nil {
			ce.Write(log.OperationIDField(oc.op.ID),
				log.OperationKindField(oc.op.Kind.String()),
				log.StatusField(r.Status, r.SubStatus),
				log.ReasonField(outcome.Reason.String()),
				log.AttemptField(attempts),
				zap.Duration("delay", delay))
		}
		e.scheduleRetry(oc, delay, outcome.Reason == ReasonPartitionGone)
	}
}

// scheduleRetry re-routes the operation after delay. The gate slot of the
// failed dispatch is already released.
func (e *Executor) scheduleRetry(oc *operationContext, delay time.Duration, forceRefresh bool) {
	if oc.isDone() {
		return
	}

	retry := func(interface{}) {
		e.retrying.Delete(oc.id)
		err := e.stopper.RunNamedTask(context.Background(), "retry", func(context.Context) {
			e.route(oc, forceRefresh)
		})
		if err != nil {
			oc.fail(ErrExecutorClosed)
		}
	}

	if delay <= 0 {
		retry(nil)
		return
	}
	e.retrying.Store(oc.id, oc)
	if _, err := e.wheel.Schedule(delay, retry, nil); err != nil {
		e.retrying.Delete(oc.id)
		oc.fail(ErrExecutorClosed)
	}
}
