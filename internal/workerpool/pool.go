// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package workerpool implements the Anchor Worker Pool (spec.md §4.D): a
// fixed-concurrency set of consumers that lease outbox rows, heartbeat them
// while running, execute the per-event handler, and report completion or
// failure back to the Outbox. The pool provides no cross-event ordering —
// only per-event at-most-once external effect (spec.md §4.D, §5).
package workerpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/anchorqueue"
	"github.com/rollupanchor/anchor/internal/metrics"
	"github.com/rollupanchor/anchor/internal/outbox"
)

// Handler executes the anchoring side effect for one outbox row and returns
// the identifier recorded on the resulting AnchorReceipt (a tx hash or
// external event id). Handlers are keyed by event type; ErrNoHandler is
// returned for an unregistered type.
type Handler func(ctx context.Context, ev outbox.Event) (txHashOrEventID string, err error)

var ErrNoHandler = errors.New("workerpool: no handler registered for event type")

// Pool is a concurrency-bounded consumer set. It implements
// anchorqueue.Dispatcher so the Anchor Queue can submit jobs to it directly.
type Pool struct {
	store             *outbox.Store
	jobs              chan anchorqueue.Job
	handlers          map[string]Handler
	concurrency       int
	heartbeatInterval time.Duration
	log               *zap.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	inFlight int
}

var _ anchorqueue.Dispatcher = (*Pool)(nil)

func New(store *outbox.Store, concurrency int, heartbeatInterval time.Duration, log *zap.Logger) *Pool {
	return &Pool{
		store:             store,
		jobs:              make(chan anchorqueue.Job, concurrency*4),
		handlers:          make(map[string]Handler),
		concurrency:       concurrency,
		heartbeatInterval: heartbeatInterval,
		log:               log,
	}
}

// RegisterHandler wires the handler invoked for a given event type. Must be
// called before Start.
func (p *Pool) RegisterHandler(eventType string, h Handler) {
	p.handlers[eventType] = h
}

// Submit implements anchorqueue.Dispatcher: non-blocking best-effort
// enqueue onto the internal job channel.
func (p *Pool) Submit(ctx context.Context, job anchorqueue.Job) error {
	if !p.Active() {
		return errors.New("workerpool: pool is not running")
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("workerpool: job channel full")
	}
}

// Active reports whether the pool's consumer goroutines are running.
func (p *Pool) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start launches `concurrency` consumer goroutines. It returns immediately;
// cancelling ctx stops the consumers (jobs still in the channel are left
// unprocessed) and marks the pool inactive.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.consume(ctx)
	}

	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()
}

// Wait blocks until every consumer goroutine has exited (used by the
// application root to guarantee clean shutdown ordering).
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) consume(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			p.runJob(ctx, job)
		case <-ctx.Done():
			return
		}
	}
}

// runJob implements the per-job state machine from spec.md §4.D:
// assigned -> running (heartbeating) -> {completed | failed(retry) | failed(dead_letter)}.
func (p *Pool) runJob(ctx context.Context, job anchorqueue.Job) {
	p.mu.Lock()
	p.inFlight++
	p.mu.Unlock()
	metrics.WorkerInFlight.Set(float64(p.inFlight))
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
		metrics.WorkerInFlight.Set(float64(p.inFlight))
	}()

	if err := p.store.MarkProcessing(ctx, job.OutboxID); err != nil {
		if errors.Is(err, outbox.ErrNotFound) {
			p.log.Info("workerpool: row already handled, skipping", zap.String("outbox_id", job.OutboxID))
			return
		}
		p.log.Error("workerpool: mark processing failed", zap.String("outbox_id", job.OutboxID), zap.Error(err))
		return
	}

	hbCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	p.startHeartbeat(hbCtx, job.OutboxID)

	ev, err := p.store.Get(ctx, job.OutboxID)
	if err != nil {
		if errors.Is(err, outbox.ErrNotFound) {
			p.log.Info("workerpool: row vanished before fetch, another worker handled it", zap.String("outbox_id", job.OutboxID))
			return
		}
		p.log.Error("workerpool: fetch row failed", zap.String("outbox_id", job.OutboxID), zap.Error(err))
		return
	}

	handler, ok := p.handlers[ev.Type]
	if !ok {
		p.failJob(ctx, job.OutboxID, ErrNoHandler)
		return
	}

	txHashOrEventID, err := handler(ctx, ev)
	if err != nil {
		p.failJob(ctx, job.OutboxID, err)
		return
	}

	if err := p.store.MarkCompleted(ctx, job.OutboxID, job.IdempotencyKey, txHashOrEventID); err != nil {
		p.log.Error("workerpool: mark completed failed", zap.String("outbox_id", job.OutboxID), zap.Error(err))
	}
}

func (p *Pool) failJob(ctx context.Context, outboxID string, cause error) {
	if err := p.store.MarkFailed(ctx, outboxID, cause); err != nil {
		p.log.Error("workerpool: mark failed failed", zap.String("outbox_id", outboxID), zap.Error(err))
		return
	}
	ev, err := p.store.Get(ctx, outboxID)
	if err == nil && ev.Status == outbox.StateDeadLetter {
		metrics.DeadLetterTotal.Inc()
	}
}

// startHeartbeat runs a cancellable ticker (period = heartbeatInterval,
// which callers should keep <= STALE_THRESHOLD/4 per spec.md §4.D) that
// refreshes heartbeatAt until hbCtx is cancelled — guaranteed on both
// success and failure via the defer in runJob.
func (p *Pool) startHeartbeat(hbCtx context.Context, outboxID string) {
	go func() {
		ticker := time.NewTicker(p.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.store.UpdateHeartbeat(context.Background(), outboxID); err != nil && !errors.Is(err, outbox.ErrNotFound) {
					p.log.Warn("workerpool: heartbeat refresh failed", zap.String("outbox_id", outboxID), zap.Error(err))
				}
			case <-hbCtx.Done():
				return
			}
		}
	}()
}
