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

package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	batchOperationsHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "batch_operations",
			Help:      "Bucketed histogram of operations per dispatched batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2.0, 10),
		})

	batchBytesHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "batch_bytes",
			Help:      "Bucketed histogram of encoded batch size.",
			Buckets:   []float64{256.0, 512.0, 1024.0, 4096.0, 65536.0, 262144.0, 524288.0, 1048576.0, 2097152.0, 4194304.0},
		})

	dispatchDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "dispatch_duration_seconds",
			Help:      "Bucketed histogram of batch dispatch duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.0, 20),
		})

	routingFetchDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "fetch_duration_seconds",
			Help:      "Bucketed histogram of partition ranges fetch duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.0, 20),
		})
)

// ObserveBatch observe the count and encoded bytes of a dispatched batch
func ObserveBatch(operations, bytes int) {
	batchOperationsHistogram.Observe(float64(operations))
	batchBytesHistogram.Observe(float64(bytes))
}

// ObserveDispatchDuration observe the duration of a batch dispatch
func ObserveDispatchDuration(start time.Time) {
	dispatchDurationHistogram.Observe(time.Since(start).Seconds())
}

// ObserveRoutingFetchDuration observe the duration of a full routing fetch
func ObserveRoutingFetchDuration(start time.Time) {
	routingFetchDurationHistogram.Observe(time.Since(start).Seconds())
}
