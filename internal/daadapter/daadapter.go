// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package daadapter implements the Data Availability Adapter (spec.md
// §4.G): a FIFO submission queue with a lazily-started single-flight
// processor that serializes each batch and publishes it either as calldata
// or, above maxCalldataSize with blob storage enabled, as a type-3
// blob-carrying transaction.
package daadapter

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/blobgas"
	"github.com/rollupanchor/anchor/internal/chainclient"
	"github.com/rollupanchor/anchor/internal/events"
	"github.com/rollupanchor/anchor/internal/merkle"
	"github.com/rollupanchor/anchor/internal/metrics"
	"github.com/rollupanchor/anchor/internal/sequencer"
)

// PublishMethod distinguishes how a batch was published.
type PublishMethod string

const (
	MethodCalldata PublishMethod = "calldata"
	MethodBlob     PublishMethod = "blob"
)

// BatchSubmitted is published on events.TopicBatchSubmitted.
type BatchSubmitted struct {
	BatchID string
	TxHash  string
	Method  PublishMethod
	Size    int
}

// strippedEvent is the event-stripped per-event record serialized into
// BatchData (spec.md §4.G): {id,type,timestamp,userId,dataHash}.
type strippedEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"userId"`
	DataHash  string `json:"dataHash"`
}

// batchData is the externalized batch payload (spec.md §3 BatchData).
type batchData struct {
	BatchID    string          `json:"batchId"`
	MerkleRoot string          `json:"merkleRoot"`
	EventCount int             `json:"eventCount"`
	Events     []strippedEvent `json:"events"`
	Metadata   string          `json:"metadata"`
}

// Config holds the DA Adapter's tunables (spec.md §6).
type Config struct {
	EnableBlobStorage bool
	MaxCalldataSize   uint64
	TargetAddress     string
	BlobParams        blobgas.Params
}

// Adapter is the single-flight FIFO publisher.
type Adapter struct {
	cfg      Config
	provider *chainclient.Provider
	signer   chainclient.Signer
	bus      *events.Bus
	log      *zap.Logger

	mu      sync.Mutex
	queue   []sequencer.Batch
	started bool
}

func New(cfg Config, provider *chainclient.Provider, signer chainclient.Signer, bus *events.Bus, log *zap.Logger) *Adapter {
	return &Adapter{cfg: cfg, provider: provider, signer: signer, bus: bus, log: log}
}

// SubmitBatch enqueues batch and lazily starts the single-flight processor
// if it isn't already running (spec.md §4.G).
func (a *Adapter) SubmitBatch(batch sequencer.Batch) {
	a.mu.Lock()
	a.queue = append(a.queue, batch)
	metrics.DAQueueSize.Set(float64(len(a.queue)))
	alreadyRunning := a.started
	a.started = true
	a.mu.Unlock()

	if !alreadyRunning {
		go a.drain()
	}
}

// drain processes the FIFO queue to exhaustion, then marks itself stopped
// so the next SubmitBatch restarts it.
func (a *Adapter) drain() {
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.started = false
			a.mu.Unlock()
			return
		}
		batch := a.queue[0]
		a.queue = a.queue[1:]
		metrics.DAQueueSize.Set(float64(len(a.queue)))
		a.mu.Unlock()

		a.publish(batch)
	}
}

// publish serializes and publishes one batch. Failure is logged and
// emitted; the queue continues with the next item — the failed batch is
// dropped here but its anchor commitment remains on-chain via the
// Sequencer (spec.md §4.G Failure).
func (a *Adapter) publish(batch sequencer.Batch) {
	payload, err := serialize(batch)
	if err != nil {
		a.log.Error("daadapter: serialize batch failed", zap.String("batch_id", batch.ID), zap.Error(err))
		a.bus.Publish(events.TopicDAError, err)
		return
	}

	var (
		result TxResultWithMethod
		pubErr error
	)
	if choosePublishMethod(a.cfg.EnableBlobStorage, uint64(len(payload)), a.cfg.MaxCalldataSize) == MethodBlob {
		result, pubErr = a.publishBlob(payload)
	} else {
		result, pubErr = a.publishCalldata(payload)
	}
	if pubErr != nil {
		a.log.Error("daadapter: publish failed, dropping batch from DA queue",
			zap.String("batch_id", batch.ID), zap.Error(pubErr))
		a.bus.Publish(events.TopicDAError, pubErr)
		return
	}

	a.bus.Publish(events.TopicBatchSubmitted, BatchSubmitted{
		BatchID: batch.ID, TxHash: result.TxHash, Method: result.Method, Size: len(payload),
	})
	a.log.Info("daadapter: batch submitted", zap.String("batch_id", batch.ID),
		zap.String("tx_hash", result.TxHash), zap.String("method", string(result.Method)), zap.Int("size", len(payload)))
}

// TxResultWithMethod pairs a submission result with which path was used.
type TxResultWithMethod struct {
	TxHash string
	Method PublishMethod
}

func (a *Adapter) publishCalldata(payload []byte) (TxResultWithMethod, error) {
	tx := &chainclient.Transaction{To: a.cfg.TargetAddress, Data: payload}
	if err := a.signer.SignTx(context.Background(), tx); err != nil {
		return TxResultWithMethod{}, fmt.Errorf("daadapter: sign calldata tx: %w", err)
	}
	res, err := a.provider.SendTransaction(context.Background(), tx)
	if err != nil {
		return TxResultWithMethod{}, err
	}
	return TxResultWithMethod{TxHash: res.TxHash, Method: MethodCalldata}, nil
}

func (a *Adapter) publishBlob(payload []byte) (TxResultWithMethod, error) {
	padded := padTo32(payload)
	versionedHash := merkle.Keccak256(padded)
	fee, err := blobgas.GetBlobGasPrice(a.cfg.BlobParams, blobgas.CalcExcessBlobGas(a.cfg.BlobParams, 0, 0))
	if err != nil {
		return TxResultWithMethod{}, fmt.Errorf("daadapter: compute blob fee: %w", err)
	}
	feeHex := fee.Hex()

	tx := &chainclient.Transaction{
		To:                  a.cfg.TargetAddress,
		MaxFeePerBlobGas:    &feeHex,
		BlobVersionedHashes: []string{hex.EncodeToString(versionedHash[:])},
	}
	if err := a.signer.SignTx(context.Background(), tx); err != nil {
		return TxResultWithMethod{}, fmt.Errorf("daadapter: sign blob tx: %w", err)
	}
	res, err := a.provider.SendTransaction(context.Background(), tx)
	if err != nil {
		return TxResultWithMethod{}, err
	}
	return TxResultWithMethod{TxHash: res.TxHash, Method: MethodBlob}, nil
}

// serialize encodes the batch to hex-encoded UTF-8 JSON bytes (spec.md
// §4.G: "hex-encoded UTF-8 of the event-stripped JSON").
func serialize(batch sequencer.Batch) ([]byte, error) {
	stripped := make([]strippedEvent, len(batch.Events))
	for i, ev := range batch.Events {
		dataHash := merkle.Leaf(ev.Data)
		stripped[i] = strippedEvent{
			ID: ev.ID, Type: string(ev.Type), Timestamp: ev.Timestamp, UserID: ev.UserID,
			DataHash: hex.EncodeToString(dataHash[:]),
		}
	}
	bd := batchData{
		BatchID:    batch.ID,
		MerkleRoot: hex.EncodeToString(batch.MerkleRoot[:]),
		EventCount: batch.EventCount,
		Events:     stripped,
		Metadata:   fmt.Sprintf(`{"startTime":%d,"endTime":%d}`, batch.StartTime, batch.EndTime),
	}
	raw, err := json.Marshal(bd)
	if err != nil {
		return nil, fmt.Errorf("daadapter: marshal batch data: %w", err)
	}
	return []byte(hex.EncodeToString(raw)), nil
}

// choosePublishMethod implements spec.md §4.G's split and §8's boundary
// case: exactly at maxCalldataSize still selects calldata (the threshold is
// exceeded, not met, to switch to blob).
func choosePublishMethod(enableBlobStorage bool, size, maxCalldataSize uint64) PublishMethod {
	if enableBlobStorage && size > maxCalldataSize {
		return MethodBlob
	}
	return MethodCalldata
}

func padTo32(b []byte) []byte {
	if rem := len(b) % 32; rem != 0 {
		b = append(b, make([]byte, 32-rem)...)
	}
	return b
}
