// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package checkpoint implements the Checkpoint Service (spec.md §4.H): a
// scheduled loop that periodically gathers rollup state roots and submits
// them to the Checkpoint Registry, independent of the Sequencer's
// batch-anchoring cadence.
package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/chainclient"
	"github.com/rollupanchor/anchor/internal/events"
)

// Data is one checkpoint's gathered state (spec.md §3 CheckpointData).
type Data struct {
	L2Root       [32]byte
	DAOStateRoot [32]byte
	Timestamp    int64
	BatchCount   int
	EventCount   int
}

// Submitted is published on events.TopicCheckpointSubmitted.
type Submitted struct {
	TxHash          string
	CheckpointNumber int
	L2Root          [32]byte
}

// Gatherer produces the state a checkpoint submission needs. Production
// wiring (internal/app) sources L2Root from the chain provider's latest block
// hash and leaves DAOStateRoot, BatchCount and EventCount zero; tests stub it.
type Gatherer func(ctx context.Context) (Data, error)

// Registry is the subset of chainclient.CheckpointRegistry the service
// needs; narrowed to an interface so tests can stub submission.
type Registry interface {
	SubmitCheckpoint(ctx context.Context, l2Root, daoStateRoot [32]byte, metadata string) (chainclient.TxResult, error)
}

// Config holds the Checkpoint Service's tunables (spec.md §6).
type Config struct {
	CheckpointInterval time.Duration
}

// Service is a single-threaded cooperative scheduled loop with a
// duplicate-start guard (spec.md §4.H, §5).
type Service struct {
	cfg      Config
	registry Registry
	gather   Gatherer
	bus      *events.Bus
	log      *zap.Logger

	mu                 sync.Mutex
	running            bool
	cancel             context.CancelFunc
	checkpointNumber   int
	previousCheckpoint string
}

func New(cfg Config, registry Registry, gather Gatherer, bus *events.Bus, log *zap.Logger) *Service {
	return &Service{cfg: cfg, registry: registry, gather: gather, bus: bus, log: log}
}

// Start launches the scheduled loop. A second Start while already running is
// a no-op (spec.md §4.H "duplicate-start guard").
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(loopCtx)
}

// Stop cancels the scheduled loop. Safe to call when not running.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.running = false
}

func (s *Service) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.submit(ctx, s.gather); err != nil {
				s.log.Warn("checkpoint: scheduled submission failed, will retry next interval", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Force bypasses the schedule and gathers/submits immediately, used by the
// operator CLI's `checkpoint` command (spec.md §6).
func (s *Service) Force(ctx context.Context, l2Root, daoStateRoot [32]byte) (*Submitted, error) {
	return s.submit(ctx, func(ctx context.Context) (Data, error) {
		return Data{L2Root: l2Root, DAOStateRoot: daoStateRoot, Timestamp: time.Now().Unix()}, nil
	})
}

// submit gathers state via gather and, only on success, submits to the
// Checkpoint Registry. A gather failure is logged by the caller and the
// next scheduled tick retries — no submission is attempted (spec.md §4.H
// Failure).
func (s *Service) submit(ctx context.Context, gather Gatherer) (*Submitted, error) {
	data, err := gather(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: gather state: %w", err)
	}

	s.mu.Lock()
	number := s.checkpointNumber + 1
	previous := s.previousCheckpoint
	s.mu.Unlock()

	metadata := fmt.Sprintf(`{"checkpointNumber":%d,"previousCheckpoint":%q,"batchCount":%d,"eventCount":%d}`,
		number, previous, data.BatchCount, data.EventCount)

	result, err := s.registry.SubmitCheckpoint(ctx, data.L2Root, data.DAOStateRoot, metadata)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: submit: %w", err)
	}

	s.mu.Lock()
	s.checkpointNumber = number
	s.previousCheckpoint = result.TxHash
	s.mu.Unlock()

	submitted := Submitted{TxHash: result.TxHash, CheckpointNumber: number, L2Root: data.L2Root}
	s.bus.Publish(events.TopicCheckpointSubmitted, submitted)
	s.log.Info("checkpoint: submitted", zap.String("tx_hash", result.TxHash), zap.Int("checkpoint_number", number))
	return &submitted, nil
}
