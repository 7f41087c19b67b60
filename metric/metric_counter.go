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
	operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "operation_total",
			Help:      "Total number of bulk operations by outcome.",
		}, []string{"outcome"})

	batchCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "batch_dispatched_total",
			Help:      "Total number of dispatched batches by flush trigger.",
		}, []string{"trigger"})

	overflowSplitCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bulk",
			Name:      "batch_overflow_split_total",
			Help:      "Total number of batches split at encode time.",
		})

	routingRefreshCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "refresh_total",
			Help:      "Total number of routing map refreshes by result.",
		}, []string{"result"})
)

// IncOperationCompleted inc the operations completed successfully
func IncOperationCompleted() {
	operationCounter.WithLabelValues("success").Inc()
}

// IncOperationFailed inc the operations completed with error
func IncOperationFailed() {
	operationCounter.WithLabelValues("failed").Inc()
}

// IncOperationRetried inc the operations resubmitted by retry policy
func IncOperationRetried(reason string) {
	operationCounter.WithLabelValues("retry-" + reason).Inc()
}

// IncBatchDispatched inc the batches dispatched by trigger: full, timer or
// overflow
func IncBatchDispatched(trigger string) {
	batchCounter.WithLabelValues(trigger).Inc()
}

// IncOverflowSplit inc the batches split because of the wire size limit
func IncOverflowSplit() {
	overflowSplitCounter.Inc()
}

// IncRoutingRefresh inc the routing map refresh by result
func IncRoutingRefresh(result string) {
	routingRefreshCounter.WithLabelValues(result).Inc()
}
