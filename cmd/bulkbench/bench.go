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

package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/matrixorigin/bulkcube/bulk"
	"github.com/matrixorigin/bulkcube/components/log"
	"github.com/matrixorigin/bulkcube/config"
	"github.com/matrixorigin/bulkcube/metric"
	"github.com/matrixorigin/bulkcube/mock"
	"github.com/matrixorigin/bulkcube/transport"
	"github.com/matrixorigin/bulkcube/util/stop"
	"github.com/montanaflynn/stats"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

const (
	benchCollection = "bench"
)

type bencher struct {
	out        io.Writer
	configFile string
	operations int
	workers    int
	partitions int
	tenants    int
	splitAfter int
	latency    time.Duration
	tcp        bool
	addr       string
	logLevel   string
}

type report struct {
	elapsed   time.Duration
	latencies []float64
	failed    int64
	retried   int64
}

func newBencher(out io.Writer) *bencher {
	return &bencher{out: out}
}

func (b *bencher) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.operations <= 0 || b.workers <= 0 || b.tenants <= 0 {
		return errors.New("num, workers and tenants must be positive")
	}

	cfg := config.NewDefault()
	if b.configFile != "" {
		c, err := config.Load(b.configFile)
		if err != nil {
			return err
		}
		cfg = c
	}

	var level zapcore.Level
	if err := level.Set(b.logLevel); err != nil {
		return errors.Wrapf(err, "invalid log level %s", b.logLevel)
	}
	logger := log.GetDefaultZapLoggerWithLevel(level).Named("bulkbench")
	defer logger.Sync()

	stopper := stop.NewStopper("bulkbench", stop.WithLogger(logger))
	defer stopper.Stop()
	if err := metric.StartPush(cfg.Metric, stopper, logger); err != nil {
		return err
	}

	opts := []mock.Option{mock.WithLogger(logger), mock.WithLatency(b.latency)}
	if b.tcp {
		opts = append(opts, mock.WithAddress(b.addr))
	}
	cluster := mock.NewCluster(opts...)
	cluster.CreateCollection(benchCollection, "/tenant", b.partitions)

	var tr bulk.Transport = cluster
	if b.tcp {
		s, err := transport.NewServer(b.addr, cluster, cfg.Transport, transport.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := s.Start(); err != nil {
			return err
		}
		defer s.Stop()

		client := transport.NewTCPTransport(cfg.Transport, transport.WithLogger(logger))
		defer client.Close()
		tr = client
	}

	e, err := bulk.NewExecutor(cfg, tr, cluster, cluster, bulk.WithLogger(logger))
	if err != nil {
		return err
	}
	defer e.Close()

	r, err := b.submit(ctx, e, cluster)
	if err != nil {
		return err
	}
	logger.Info("benchmark done",
		zap.Int("operations", b.operations),
		zap.Duration("elapsed", r.elapsed),
		zap.Int64("failed", r.failed))
	b.print(r)
	return nil
}

func (b *bencher) submit(ctx context.Context, e *bulk.Executor, cluster *mock.Cluster) (*report, error) {
	r := &report{latencies: make([]float64, b.operations)}
	var submitted int64
	var wg sync.WaitGroup

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < b.workers; w++ {
		w := w
		g.Go(func() error {
			for i := w; i < b.operations && gctx.Err() == nil; i += b.workers {
				op := &bulk.Operation{
					Kind:       bulk.Upsert,
					Collection: benchCollection,
					ID:         fmt.Sprintf("item-%d", i),
					Payload:    []byte(fmt.Sprintf(`{"tenant":"tenant-%d","seq":%d}`, i%b.tenants, i)),
				}
				opStart := time.Now()
				f, err := e.Submit(ctx, op)
				if err != nil {
					return err
				}

				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					result, err := f.Get(ctx)
					r.latencies[i] = float64(time.Since(opStart)) / float64(time.Millisecond)
					if err != nil {
						atomic.AddInt64(&r.failed, 1)
					} else if result.Attempts > 1 {
						atomic.AddInt64(&r.retried, 1)
					}
				}(i)

				if n := atomic.AddInt64(&submitted, 1); b.splitAfter > 0 && n == int64(b.splitAfter) {
					if _, err := cluster.Split(benchCollection, "1"); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}

	err := g.Wait()
	wg.Wait()
	r.elapsed = time.Since(start)
	return r, err
}

func (b *bencher) print(r *report) {
	p50, _ := stats.Percentile(r.latencies, 50)
	p99, _ := stats.Percentile(r.latencies, 99)
	mean, _ := stats.Mean(r.latencies)
	slowest, _ := stats.Max(r.latencies)

	fmt.Fprintf(b.out, "operations: %d, workers: %d, elapsed: %s\n", b.operations, b.workers, r.elapsed)
	fmt.Fprintf(b.out, "throughput: %.0f ops/s\n", float64(b.operations)/r.elapsed.Seconds())
	fmt.Fprintf(b.out, "latency(ms): mean %.2f, p50 %.2f, p99 %.2f, max %.2f\n", mean, p50, p99, slowest)
	fmt.Fprintf(b.out, "retried: %d, failed: %d\n", r.retried, r.failed)
}
