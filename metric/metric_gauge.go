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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	partitionConcurrencyGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "throttle",
			Name:      "partition_concurrency",
			Help:      "Current degree of concurrency per partition.",
		}, []string{"partition"})

	pendingTimersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "timewheel",
			Name:      "pending_timers",
			Help:      "Total number of timers waiting in the wheel.",
		})

	streamerGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "streamers",
			Help:      "Total number of partition streamers.",
		})
)

// SetPartitionConcurrencyGauge set the degree of concurrency of the partition
func SetPartitionConcurrencyGauge(partition string, value int) {
	partitionConcurrencyGauge.WithLabelValues(partition).Set(float64(value))
}

// SetPendingTimersGauge set the number of pending timers
func SetPendingTimersGauge(value int) {
	pendingTimersGauge.Set(float64(value))
}

// IncStreamerGauge inc the number of streamers
func IncStreamerGauge() {
	streamerGauge.Inc()
}
