// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package anchorqueue implements the Anchor Queue (spec.md §4.C): it
// durably writes to the Outbox first, then best-effort dispatches an
// in-memory job descriptor to the Worker Pool. The Outbox remains the
// source of truth — a dispatch failure here is recovered later by the
// Reconciler (internal/reconciler), never retried synchronously beyond the
// bounded attempts below.
package anchorqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/outbox"
)

// Job is the in-memory descriptor submitted to the dispatch mechanism.
// Identity is derived from (OutboxID, Digest) so that a re-submission by the
// Reconciler is safely rejected as a duplicate by a dispatcher that already
// holds the job (spec.md §4.E).
type Job struct {
	OutboxID       string
	Digest         string
	IdempotencyKey string
	AppID          string
	Type           string
}

// Dispatcher is the in-memory job submission mechanism the Anchor Worker
// Pool listens on. It is intentionally small so the queue never needs to
// know about pool internals (lease, concurrency, heartbeats).
type Dispatcher interface {
	Submit(ctx context.Context, job Job) error
	Active() bool
}

// EventInput is the ingress shape from spec.md §6:
// enqueueAnchors(events[]) — each event is {appId, event (type), data, ts?, idempotencyKey?}.
type EventInput struct {
	AppID          string
	Event          string
	Data           []byte
	Timestamp      int64
	IdempotencyKey string
}

// envelope is what actually lands in the Outbox row's opaque payload: the
// caller's ts sits alongside data so the Worker Pool's handler (which
// decodes this payload) can recover it without the Outbox or Explorer ever
// needing to understand event-type-specific shapes (spec.md §9: "Dynamic
// any-typed payloads ... represented as opaque bytes ... decoding is the
// handler's responsibility").
type envelope struct {
	Timestamp int64           `json:"ts"`
	Data      json.RawMessage `json:"data"`
}

// EnqueueResult mirrors spec.md §7's user-visible ingress response:
// {queued: true, count, ids} — durability is sufficient even if dispatch is
// offline.
type EnqueueResult struct {
	Queued        bool
	Count         int
	IDs           []string
	DispatchActive bool
}

// Queue ties the Outbox Store to a Dispatcher with bounded, backed-off
// dispatch attempts (spec.md §4.C: "ceiling on attempts default 5, base
// delay ~800ms, exponential").
type Queue struct {
	store      *outbox.Store
	dispatcher Dispatcher
	backoffBase time.Duration
	maxAttempts uint64
	log        *zap.Logger
}

func New(store *outbox.Store, dispatcher Dispatcher, backoffBase time.Duration, maxAttempts uint64, log *zap.Logger) *Queue {
	return &Queue{store: store, dispatcher: dispatcher, backoffBase: backoffBase, maxAttempts: maxAttempts, log: log}
}

// Enqueue persists every event to the Outbox first (durability-first), then
// attempts best-effort dispatch of each. The first Outbox.Write failure stops
// the loop and is returned; events before it are already persisted, events
// after it are not written.
func (q *Queue) Enqueue(ctx context.Context, events []EventInput) (EnqueueResult, error) {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(envelope{Timestamp: ev.Timestamp, Data: ev.Data})
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("anchorqueue: marshal event envelope: %w", err)
		}

		wr, err := q.store.Write(ctx, outbox.WriteInput{
			AppID:          ev.AppID,
			Type:           ev.Event,
			Payload:        payload,
			IdempotencyKey: ev.IdempotencyKey,
		})
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("anchorqueue: write outbox row: %w", err)
		}
		ids = append(ids, wr.ID)

		if wr.Deduplicated {
			continue
		}

		job := Job{OutboxID: wr.ID, Digest: wr.Digest, IdempotencyKey: wr.IdempotencyKey, AppID: ev.AppID, Type: ev.Event}
		if q.dispatchWithBackoff(ctx, job) {
			if err := q.store.MarkEnqueued(ctx, wr.ID); err != nil {
				q.log.Warn("anchorqueue: mark enqueued failed, leaving row pending for reconciler",
					zap.String("outbox_id", wr.ID), zap.Error(err))
			}
		}
		// On dispatch failure the row is left in `pending` deliberately —
		// the Reconciler sweeps it (spec.md §4.E).
	}

	return EnqueueResult{Queued: true, Count: len(ids), IDs: ids, DispatchActive: q.dispatcher.Active()}, nil
}

// Redispatch re-submits an already-persisted Outbox row directly to the
// dispatcher, bypassing Write (and its dedup-by-idempotency-key short
// circuit) entirely. The Reconciler calls this for rows GetPending returns —
// routing them through Enqueue instead would always hit the
// already-exists branch and return Deduplicated, silently skipping dispatch
// and stranding the row forever (spec.md §4.E, §8 "Reconciliation
// convergence"). Returns whether dispatch succeeded.
func (q *Queue) Redispatch(ctx context.Context, ev outbox.Event) bool {
	job := Job{OutboxID: ev.ID, Digest: ev.Digest, IdempotencyKey: ev.IdempotencyKey, AppID: ev.AppID, Type: ev.Type}
	if !q.dispatchWithBackoff(ctx, job) {
		return false
	}
	if err := q.store.MarkEnqueued(ctx, ev.ID); err != nil {
		q.log.Warn("anchorqueue: mark enqueued failed after redispatch, leaving row pending for reconciler",
			zap.String("outbox_id", ev.ID), zap.Error(err))
	}
	return true
}

// dispatchWithBackoff calls Submit up to maxAttempts times in total, with
// exponential backoff between attempts, returning whether dispatch
// ultimately succeeded.
func (q *Queue) dispatchWithBackoff(ctx context.Context, job Job) bool {
	if !q.dispatcher.Active() {
		return false
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.backoffBase
	retries := q.maxAttempts
	if retries > 0 {
		retries-- // the first Submit is an attempt, not a retry
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)

	err := backoff.Retry(func() error {
		return q.dispatcher.Submit(ctx, job)
	}, policy)
	if err != nil {
		q.log.Warn("anchorqueue: dispatch exhausted retries, deferring to reconciler",
			zap.String("outbox_id", job.OutboxID), zap.Error(err))
		return false
	}
	return true
}
