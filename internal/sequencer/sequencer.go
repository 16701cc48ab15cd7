// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package sequencer implements the Sequencer (spec.md §4.F): deterministic
// ordering, Merkle-root batching, and Anchor Registry submission. A batch
// that fails on-chain submission is dropped from in-flight state — the
// Outbox/Anchor path upstream is the durability path, not the Sequencer
// (spec.md §4.F Failure, §9 Open Question).
package sequencer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/chainclient"
	"github.com/rollupanchor/anchor/internal/events"
	"github.com/rollupanchor/anchor/internal/mathutil"
	"github.com/rollupanchor/anchor/internal/merkle"
	"github.com/rollupanchor/anchor/internal/metrics"
)

// EventKind enumerates the ingress event types spec.md §6 names.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventMeeting EventKind = "meeting"
	EventPayment EventKind = "payment"
	EventConsent EventKind = "consent"
)

// Event is the Sequencer.addEvent ingress shape (spec.md §6).
type Event struct {
	ID        string          `json:"id"`
	Type      EventKind       `json:"type"`
	Timestamp int64           `json:"timestamp"`
	UserID    string          `json:"userId"`
	Data      json.RawMessage `json:"data"`
	Signature string          `json:"signature,omitempty"`
}

// Batch is the ordered, hashed window of events (spec.md §3).
type Batch struct {
	ID         string
	Events     []Event
	MerkleRoot [32]byte
	StartTime  int64
	EndTime    int64
	EventCount int
}

// BatchAnchored is published on events.TopicBatchAnchored.
type BatchAnchored struct {
	Batch  Batch
	TxHash string
}

// Config holds the Sequencer's tunables (spec.md §6).
type Config struct {
	BatchInterval time.Duration
	MaxBatchSize  int
}

// Sequencer is a single scheduled loop per instance (spec.md §4.F, §5): the
// Sequencer, DA Adapter, Checkpoint Service and Bridge Relay are each
// single-threaded cooperative loops with a mutually exclusive in-flight
// guard.
type Sequencer struct {
	cfg      Config
	registry *chainclient.AnchorRegistry
	bus      *events.Bus
	log      *zap.Logger

	mu           sync.Mutex
	queue        []Event
	isProcessing bool
	resetTimer   chan struct{}
}

func New(cfg Config, registry *chainclient.AnchorRegistry, bus *events.Bus, log *zap.Logger) *Sequencer {
	return &Sequencer{cfg: cfg, registry: registry, bus: bus, log: log, resetTimer: make(chan struct{}, 1)}
}

// AddEvent enqueues ev; if the queue length reaches maxBatchSize it signals
// an immediate forced batch (spec.md §4.F: "if queue length >= maxBatchSize
// ... it forces an immediate batch").
func (s *Sequencer) AddEvent(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	force := len(s.queue) >= s.cfg.MaxBatchSize
	s.mu.Unlock()

	if force {
		select {
		case s.resetTimer <- struct{}{}:
		default:
		}
	}
}

// Run drives the batchInterval loop until ctx is cancelled. A signal on
// resetTimer (sent by AddEvent at maxBatchSize) cancels the scheduled timer,
// runs once, then reschedules. Force does not go through this loop and
// leaves its timer as it is.
func (s *Sequencer) Run(ctx context.Context) {
	timer := time.NewTimer(s.cfg.BatchInterval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.runBatch(ctx)
			timer.Reset(s.cfg.BatchInterval)
		case <-s.resetTimer:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			s.runBatch(ctx)
			timer.Reset(s.cfg.BatchInterval)
		case <-ctx.Done():
			return
		}
	}
}

// Force runs one batch immediately by calling runBatch directly, used by the
// operator CLI's `batch --force` (spec.md §6). It does not cancel or
// reschedule Run's batchInterval timer.
func (s *Sequencer) Force(ctx context.Context) (*Batch, error) {
	return s.runBatch(ctx)
}

// runBatch drains the queue, sorts deterministically, computes the Merkle
// root, and submits to the Anchor Registry. isProcessing prevents
// overlapping batches (spec.md §4.F, §5).
func (s *Sequencer) runBatch(ctx context.Context) (*Batch, error) {
	s.mu.Lock()
	if s.isProcessing {
		s.mu.Unlock()
		return nil, nil
	}
	s.isProcessing = true
	drained := s.drainLocked()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.isProcessing = false
		s.mu.Unlock()
	}()

	if len(drained) == 0 {
		return nil, nil
	}

	batch, err := buildBatch(drained)
	if err != nil {
		return nil, fmt.Errorf("sequencer: build batch: %w", err)
	}

	s.bus.Publish(events.TopicBatchCreated, *batch)
	metrics.SequencerBatchSize.Set(float64(batch.EventCount))

	metadata := fmt.Sprintf(`{"batchId":%q,"startTime":%d,"endTime":%d}`, batch.ID, batch.StartTime, batch.EndTime)
	result, err := s.registry.AnchorBundle(ctx, batch.MerkleRoot, uint64(batch.EventCount), metadata)
	if err != nil {
		// Per spec.md §4.F Failure: a batch that fails on-chain submission
		// is dropped from in-flight state and NOT automatically requeued —
		// durability already lives in the Outbox/Anchor path upstream.
		s.log.Warn("sequencer: anchor submission failed, batch dropped from in-flight state",
			zap.String("batch_id", batch.ID), zap.Error(err))
		return batch, err
	}

	s.bus.Publish(events.TopicBatchAnchored, BatchAnchored{Batch: *batch, TxHash: result.TxHash})
	s.log.Info("sequencer: batch anchored", zap.String("batch_id", batch.ID), zap.String("tx_hash", result.TxHash),
		zap.Int("event_count", batch.EventCount))
	return batch, nil
}

// drainLocked removes up to maxBatchSize events from the queue. Caller must
// hold s.mu.
func (s *Sequencer) drainLocked() []Event {
	n := mathutil.MinInt(len(s.queue), s.cfg.MaxBatchSize)
	drained := make([]Event, n)
	copy(drained, s.queue[:n])
	s.queue = s.queue[n:]
	return drained
}

// buildBatch sorts events by (timestamp asc, id asc), computes the
// sorted-pair keccak Merkle root over canonical-JSON leaves, and assembles
// the Batch (spec.md §3, §4.F, §8 "Sequencer determinism").
func buildBatch(evs []Event) (*Batch, error) {
	sort.Slice(evs, func(i, j int) bool {
		if evs[i].Timestamp != evs[j].Timestamp {
			return evs[i].Timestamp < evs[j].Timestamp
		}
		return evs[i].ID < evs[j].ID
	})

	leaves := make([][32]byte, len(evs))
	for i, ev := range evs {
		canonical, err := canonicalJSON(ev)
		if err != nil {
			return nil, fmt.Errorf("canonicalize event %s: %w", ev.ID, err)
		}
		leaves[i] = merkle.Leaf(canonical)
	}

	return &Batch{
		ID:         uuid.NewString(),
		Events:     evs,
		MerkleRoot: merkle.Root(leaves),
		StartTime:  evs[0].Timestamp,
		EndTime:    evs[len(evs)-1].Timestamp,
		EventCount: len(evs),
	}, nil
}

// canonicalJSON produces a deterministic encoding of ev. Field order is
// fixed by the struct tag order and json.Marshal's stable key ordering for
// struct fields (unlike maps, Go struct-to-JSON encoding order is
// declaration order, which is why Event's fields are never reordered).
func canonicalJSON(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}
