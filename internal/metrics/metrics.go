// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package metrics registers the prometheus gauges/counters operators use to
// decide when to shed load upstream (spec.md §5 "Backpressure": "operators
// should monitor queueSize").
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OutboxPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "anchor",
		Name:      "outbox_pending",
		Help:      "Outbox rows currently in pending, enqueued, or failed state.",
	})

	WorkerInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "anchor",
		Name:      "worker_inflight",
		Help:      "Jobs currently held by an Anchor Worker Pool lease.",
	})

	DAQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "anchor",
		Name:      "da_queue_size",
		Help:      "Batches waiting in the DA Adapter's submission queue.",
	})

	SequencerBatchSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "anchor",
		Name:      "sequencer_batch_size",
		Help:      "Event count in the most recently anchored batch.",
	})

	BridgeWatchersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "anchor",
		Name:      "bridge_watchers_active",
		Help:      "Cross-chain receipt confirmation watchers currently running.",
	})

	ReconciledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anchor",
		Name:      "reconciled_total",
		Help:      "Outbox rows the Reconciler has returned to pending.",
	})

	DeadLetterTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "anchor",
		Name:      "dead_letter_total",
		Help:      "Outbox rows that exhausted MAX_RETRIES and moved to dead_letter.",
	})
)

// MustRegister registers every collector above against reg. Call once at
// application startup (internal/app).
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		OutboxPending,
		WorkerInFlight,
		DAQueueSize,
		SequencerBatchSize,
		BridgeWatchersActive,
		ReconciledTotal,
		DeadLetterTotal,
	)
}
