// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package bridge implements the Bridge Relay (spec.md §4.I): emits
// cross-chain receipts through the source chain's bridge contract and watches
// for confirmationBlocks of depth before declaring the relay confirmed or
// failed. Watching is in-memory and in-flight only — a process restart
// drops any pending watch rather than resuming it (spec.md §4.I, §9).
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/chainclient"
	"github.com/rollupanchor/anchor/internal/events"
)

// ReceiptRequest is what the caller (typically the Reconciler or Worker
// Pool on receipt confirmation) asks the Bridge Relay to carry across.
type ReceiptRequest struct {
	ReceiptID   string
	TargetChain string
	EncodedData []byte
}

// pendingRelay tracks one in-flight cross-chain relay awaiting confirmation
// depth on the target chain.
type pendingRelay struct {
	receiptID   string
	txHash      string
	submittedAt int64
	cancel      context.CancelFunc
}

// BridgeProvider is the subset of chainclient.Provider the relay needs to
// watch for confirmation depth; narrowed to an interface for testability.
type BridgeProvider interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
}

// Contract is the subset of chainclient.BridgeContract the relay submits
// through.
type Contract interface {
	EmitCrossChainReceipt(ctx context.Context, receiptID, targetChain string, encodedData []byte) (chainclient.TxResult, error)
}

// maxPollFailures bounds how many consecutive poll errors a watcher
// tolerates before giving up (spec.md §4.I, §7: "watcher error past retry
// budget -> failed, cancel the watcher, emit receipt:failed").
const maxPollFailures = 5

// Config holds the Bridge Relay's tunables (spec.md §6).
type Config struct {
	ConfirmationBlocks int
	PollInterval       time.Duration
}

// Relay submits cross-chain receipts and watches each for confirmation
// depth (spec.md §4.I, §5).
type Relay struct {
	cfg      Config
	contract Contract
	provider BridgeProvider
	bus      *events.Bus
	log      *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingRelay
}

func New(cfg Config, contract Contract, provider BridgeProvider, bus *events.Bus, log *zap.Logger) *Relay {
	return &Relay{cfg: cfg, contract: contract, provider: provider, bus: bus, log: log, pending: make(map[string]*pendingRelay)}
}

// RelayReceipt submits req to the bridge contract and, on success, starts a
// confirmation watcher; a submission failure publishes TopicReceiptFailed
// immediately without starting a watch (spec.md §4.I Failure).
func (r *Relay) RelayReceipt(ctx context.Context, req ReceiptRequest) error {
	result, err := r.contract.EmitCrossChainReceipt(ctx, req.ReceiptID, req.TargetChain, req.EncodedData)
	if err != nil {
		r.bus.Publish(events.TopicReceiptFailed, req.ReceiptID)
		return fmt.Errorf("bridge: emit cross-chain receipt: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	relay := &pendingRelay{receiptID: req.ReceiptID, txHash: result.TxHash, submittedAt: time.Now().Unix(), cancel: cancel}

	r.mu.Lock()
	r.pending[req.ReceiptID] = relay
	r.mu.Unlock()

	go r.watch(watchCtx, relay)
	return nil
}

// watch polls the target chain's block height until submittedBlock +
// confirmationBlocks is reached, then declares the relay confirmed. It runs
// until watchCtx is cancelled by Cleanup or a terminal transition.
func (r *Relay) watch(ctx context.Context, relay *pendingRelay) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	var submittedBlock uint64
	haveSubmittedBlock := false
	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := r.provider.GetBlockNumber(ctx)
			if err != nil {
				consecutiveFailures++
				if consecutiveFailures >= maxPollFailures {
					r.log.Warn("bridge: poll block number exhausted retry budget, failing relay",
						zap.String("receipt_id", relay.receiptID), zap.Int("failures", consecutiveFailures), zap.Error(err))
					r.complete(relay.receiptID, events.TopicReceiptFailed)
					return
				}
				r.log.Warn("bridge: poll block number failed, will retry", zap.String("receipt_id", relay.receiptID), zap.Error(err))
				continue
			}
			consecutiveFailures = 0
			if !haveSubmittedBlock {
				submittedBlock = current
				haveSubmittedBlock = true
				continue
			}
			if current >= submittedBlock+uint64(r.cfg.ConfirmationBlocks) {
				r.complete(relay.receiptID, events.TopicReceiptConfirmed)
				return
			}
		}
	}
}

func (r *Relay) complete(receiptID string, topic events.Topic) {
	r.mu.Lock()
	delete(r.pending, receiptID)
	r.mu.Unlock()

	r.bus.Publish(topic, receiptID)
	r.log.Info("bridge: relay reached terminal state", zap.String("receipt_id", receiptID), zap.String("topic", string(topic)))
}

// Pending reports how many relays are currently awaiting confirmation.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Cleanup cancels every in-flight watcher without emitting terminal events,
// used on shutdown (spec.md §4.I: "no resume-on-startup; in-flight only").
func (r *Relay) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, relay := range r.pending {
		relay.cancel()
		delete(r.pending, id)
	}
}
