// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package reconciler implements the Reconciler (spec.md §4.E): a single
// periodic loop that recovers stale leases and re-submits durable-but-
// undispatched rows, guaranteeing the "Reconciliation convergence" property
// in spec.md §8.
package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/anchorqueue"
	"github.com/rollupanchor/anchor/internal/metrics"
	"github.com/rollupanchor/anchor/internal/outbox"
)

const sweepBatchSize = 256

// Reconciler runs on startup and on a fixed cadence (spec.md §6 default
// 60s), transitioning stale processing rows back to pending and
// re-submitting pending/enqueued/failed rows to the dispatch layer when
// active.
type Reconciler struct {
	store    *outbox.Store
	queue    *anchorqueue.Queue
	cadence  time.Duration
	log      *zap.Logger
}

func New(store *outbox.Store, queue *anchorqueue.Queue, cadence time.Duration, log *zap.Logger) *Reconciler {
	return &Reconciler{store: store, queue: queue, cadence: cadence, log: log}
}

// Run blocks, sweeping immediately on entry and then every cadence, until
// ctx is cancelled (spec.md §5: "every scheduled loop honors a stop
// signal").
func (r *Reconciler) Run(ctx context.Context) {
	r.sweep(ctx)

	ticker := time.NewTicker(r.cadence)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// sweep performs one reconciliation pass and reports the rows recovered.
func (r *Reconciler) sweep(ctx context.Context) int {
	recovered, err := r.store.Reconcile(ctx)
	if err != nil {
		r.log.Warn("reconciler: reconcile pass failed", zap.Error(err))
	} else if recovered > 0 {
		metrics.ReconciledTotal.Add(float64(recovered))
		r.log.Info("reconciler: recovered stale leases", zap.Int("count", recovered))
	}

	r.resubmitPending(ctx)
	return recovered
}

// resubmitPending re-dispatches rows the Anchor Queue could not dispatch
// earlier directly through the dispatcher (anchorqueue.Queue.Redispatch), not
// by re-running Write/Enqueue: the row already exists, so routing it back
// through Enqueue would always hit the idempotency-key dedup branch and
// return Deduplicated without ever calling Submit, stranding the row in
// pending forever (spec.md §4.E, §8 "Reconciliation convergence").
func (r *Reconciler) resubmitPending(ctx context.Context) {
	pending, err := r.store.GetPending(ctx, sweepBatchSize)
	if err != nil {
		r.log.Warn("reconciler: get pending failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}
	metrics.OutboxPending.Set(float64(len(pending)))

	for _, ev := range pending {
		// Rows already past enqueued (e.g. still marked processing due to a
		// stale lease this same pass just reset) are re-offered too;
		// Redispatch is safe to call repeatedly since the dispatcher rejects
		// a (OutboxID, Digest) job it already holds.
		if !r.queue.Redispatch(ctx, ev) {
			r.log.Warn("reconciler: redispatch failed, row remains pending", zap.String("outbox_id", ev.ID))
		}
	}
}
