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

package routing

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/matrixorigin/bulkcube/components/log"
	"github.com/matrixorigin/bulkcube/metric"
	"github.com/matrixorigin/bulkcube/util/asynccache"
	"go.uber.org/zap"
)

var (
	// ErrRouteNotFound no route contains the key, the map is being replaced
	ErrRouteNotFound = errors.New("route not found")
)

const (
	defaultRefreshRetries = 3
	defaultRefreshBackoff = time.Millisecond * 100
)

// ResolverOption resolver option
type ResolverOption func(*resolverOptions)

type resolverOptions struct {
	ctx            context.Context
	logger         *zap.Logger
	refreshRetries int
	refreshBackoff time.Duration
}

func (opts *resolverOptions) adjust() {
	if opts.ctx == nil {
		opts.ctx = context.Background()
	}
	opts.logger = log.Adjust(opts.logger)
	if opts.refreshRetries <= 0 {
		opts.refreshRetries = defaultRefreshRetries
	}
	if opts.refreshBackoff <= 0 {
		opts.refreshBackoff = defaultRefreshBackoff
	}
}

// WithResolverContext set the context all fetches run with
func WithResolverContext(ctx context.Context) ResolverOption {
	return func(opts *resolverOptions) {
		opts.ctx = ctx
	}
}

// WithResolverLogger set logger
func WithResolverLogger(logger *zap.Logger) ResolverOption {
	return func(opts *resolverOptions) {
		opts.logger = logger
	}
}

// WithRefreshRetries set how many times Resolve refreshes a failed or
// incomplete map before it gives up
func WithRefreshRetries(retries int, backoff time.Duration) ResolverOption {
	return func(opts *resolverOptions) {
		opts.refreshRetries = retries
		opts.refreshBackoff = backoff
	}
}

// Resolver keeps one RoutingMap per collection, refreshed from the
// Discovery service on demand. Refreshes of one collection are coalesced.
type Resolver struct {
	opts      *resolverOptions
	logger    *zap.Logger
	discovery Discovery
	cache     *asynccache.Cache[*RoutingMap]
}

// NewResolver returns a resolver
func NewResolver(discovery Discovery, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		opts:      &resolverOptions{},
		discovery: discovery,
	}
	for _, opt := range opts {
		opt(r.opts)
	}
	r.opts.adjust()
	r.logger = r.opts.logger.Named("routing")
	r.cache = asynccache.New[*RoutingMap](r.opts.ctx)
	return r
}

// Resolve returns the route of the effective partition key together with the
// map it was looked up in. A failed refresh is retried with a forced refresh.
func (r *Resolver) Resolve(ctx context.Context, collection string, epk []byte) (PartitionRoute, *RoutingMap, error) {
	m, err := r.Refresh(ctx, collection, false)
	for attempt := 0; ; attempt++ {
		if err == nil {
			if route, ok := m.Lookup(epk); ok {
				return route, m, nil
			}
			err = errors.Wrapf(ErrRouteNotFound, "collection %s", collection)
		}

		if ctx.Err() != nil {
			return PartitionRoute{}, nil, ctx.Err()
		}
		if attempt >= r.opts.refreshRetries {
			return PartitionRoute{}, nil, err
		}

		r.logger.Warn("fail to resolve route, retry with forced refresh",
			log.CollectionField(collection),
			log.HexField("key", epk),
			log.AttemptField(attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return PartitionRoute{}, nil, ctx.Err()
		case <-time.After(r.opts.refreshBackoff):
		}
		m, err = r.RefreshStale(ctx, collection, m)
	}
}

// Refresh returns the cached map of the collection, fetching it if missing or
// if forceRefresh is set. A forced refresh joins a refresh of the collection
// already in flight, if that is a RefreshStale whose map was not stale the
// cached map is returned unfetched.
func (r *Resolver) Refresh(ctx context.Context, collection string, forceRefresh bool) (*RoutingMap, error) {
	if forceRefresh {
		return r.cache.Refresh(ctx, collection, r.fetch)
	}
	return r.cache.Get(ctx, collection, r.fetch)
}

// RefreshStale refreshes the map only if the cached map is still previous, a
// caller that observed a stale route does not refetch a map that another
// caller already replaced. A nil previous always refreshes.
func (r *Resolver) RefreshStale(ctx context.Context, collection string, previous *RoutingMap) (*RoutingMap, error) {
	return r.cache.RefreshIf(ctx, collection, func(current *RoutingMap) bool {
		return previous == nil || current == previous
	}, r.fetch)
}

// Cached returns the cached map of the collection without fetching
func (r *Resolver) Cached(collection string) (*RoutingMap, bool) {
	return r.cache.Peek(collection)
}

// Invalidate drops the cached map, the next Resolve fetches the full map
func (r *Resolver) Invalidate(collection string) {
	r.cache.Remove(collection)
}

func (r *Resolver) fetch(ctx context.Context, collection string, previous *RoutingMap, ok bool) (*RoutingMap, error) {
	if !ok {
		previous = nil
	}

	start := time.Now()
	m, err := r.fetchFrom(ctx, collection, previous)
	if previous != nil && errors.Is(err, ErrIncompleteRoutingMap) {
		// the incremental feed can not be merged, start over from scratch
		r.logger.Warn("incremental routing refresh incomplete, fetch full map",
			log.CollectionField(collection),
			zap.Error(err))
		m, err = r.fetchFrom(ctx, collection, nil)
	}
	if err != nil {
		if errors.Is(err, ErrIncompleteRoutingMap) {
			metric.IncRoutingRefresh("incomplete")
		} else {
			metric.IncRoutingRefresh("failed")
		}
		r.logger.Error("fail to refresh routing map, keep the stale one",
			log.CollectionField(collection),
			zap.Error(err))
		return nil, err
	}

	metric.ObserveRoutingFetchDuration(start)
	if m == previous {
		metric.IncRoutingRefresh("not-modified")
	} else {
		metric.IncRoutingRefresh("fetched")
		r.logger.Info("routing map refreshed",
			log.CollectionField(collection),
			log.RoutingMapField("map", m.ChangeMarker(), m.Len()))
	}
	return m, nil
}

func (r *Resolver) fetchFrom(ctx context.Context, collection string, previous *RoutingMap) (*RoutingMap, error) {
	continuation := ""
	if previous != nil {
		continuation = previous.ChangeMarker()
	}

	var ranges []PartitionRoute
	for {
		page, err := r.discovery.FetchRanges(ctx, collection, continuation)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch ranges of collection %s", collection)
		}
		if ce := r.logger.Check(zap.DebugLevel, "ranges page fetched"); ce != nil {
			ce.Write(log.CollectionField(collection),
				zap.String("continuation", page.Continuation),
				zap.Int("ranges", len(page.Ranges)),
				zap.Bool("final", page.Final),
				zap.Bool("not-modified", page.NotModified))
		}

		if page.NotModified {
			break
		}
		ranges = append(ranges, page.Ranges...)
		if page.Continuation != "" {
			continuation = page.Continuation
		}
		if page.Final {
			break
		}
	}

	if previous == nil {
		return NewRoutingMap(collection, ranges, continuation)
	}
	if len(ranges) == 0 {
		return previous, nil
	}
	return previous.TryCombine(ranges, continuation)
}
