// Copyright 2026 The InsertDest Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes the insert-destination subsystem's counters
// through github.com/prometheus/client_golang, following the teacher's
// own pkg/util/metric convention of one package-level collector set
// registered against a shared registry. Observability is not part of
// the write path's decision-making (spec.md never lets a destination
// branch on a metric), but the ambient stack carries it regardless, the
// same way the teacher instruments its own storage write paths.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BlocksCreated counts new blocks minted via a Manager, labeled by
	// strategy (always_create, block_pool, partition_aware).
	BlocksCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "insertdest",
		Name:      "blocks_created_total",
		Help:      "Number of storage blocks created by an insert destination strategy.",
	}, []string{"strategy"})

	// BlocksReturned counts returnBlock calls, labeled by strategy and
	// whether the block was marked full.
	BlocksReturned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "insertdest",
		Name:      "blocks_returned_total",
		Help:      "Number of blocks returned to a pool, labeled by whether they were marked full.",
	}, []string{"strategy", "full"})

	// PipelineMessagesSent counts DataPipelineMessage sends, labeled by
	// strategy.
	PipelineMessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "insertdest",
		Name:      "pipeline_messages_sent_total",
		Help:      "Number of DataPipelineMessage notifications sent to the scheduler.",
	}, []string{"strategy"})

	// TuplesInserted counts individual rows copied into a block, labeled
	// by strategy.
	TuplesInserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "insertdest",
		Name:      "tuples_inserted_total",
		Help:      "Number of tuples copied into storage blocks.",
	}, []string{"strategy"})

	// InsertLatencySeconds buckets the wall time of one InsertTuple,
	// InsertTupleInBatch, or bulk-insert dispatch, labeled by strategy,
	// the same bucketed-duration-histogram shape the teacher's own
	// pkg/util/metric/v2 uses for its IO and txn timings.
	InsertLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "insertdest",
		Name:      "insert_latency_seconds",
		Help:      "Bucketed latency of a single insert dispatch into a storage block.",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2.0, 20),
	}, []string{"strategy"})
)

func init() {
	prometheus.MustRegister(BlocksCreated, BlocksReturned, PipelineMessagesSent, TuplesInserted, InsertLatencySeconds)
}
