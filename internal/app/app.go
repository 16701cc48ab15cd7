// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package app is the application root: it explicitly constructs every
// service named in spec.md §4 and wires them leaves-first, replacing the
// implicit-singleton wiring style spec.md §9 flags for redesign. Nothing in
// this package is a singleton — App is a normal value a caller (cmd/anchor,
// or a test) constructs and owns.
package app

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/anchorqueue"
	"github.com/rollupanchor/anchor/internal/blobgas"
	"github.com/rollupanchor/anchor/internal/bridge"
	"github.com/rollupanchor/anchor/internal/chainclient"
	"github.com/rollupanchor/anchor/internal/checkpoint"
	"github.com/rollupanchor/anchor/internal/config"
	"github.com/rollupanchor/anchor/internal/daadapter"
	"github.com/rollupanchor/anchor/internal/events"
	"github.com/rollupanchor/anchor/internal/explorer"
	"github.com/rollupanchor/anchor/internal/metrics"
	"github.com/rollupanchor/anchor/internal/outbox"
	"github.com/rollupanchor/anchor/internal/reconciler"
	"github.com/rollupanchor/anchor/internal/secretmanager"
	"github.com/rollupanchor/anchor/internal/sequencer"
	"github.com/rollupanchor/anchor/internal/streaming"
	"github.com/rollupanchor/anchor/internal/workerpool"
)

// App holds every constructed service. Fields are exported so cmd/anchor
// and tests can reach individual components directly (e.g. Force-ing a
// batch or checkpoint) without a facade method for every operation.
type App struct {
	Log *zap.Logger

	pgPool   *pgxpool.Pool
	redisCli *redis.Client
	boltDB   *bbolt.DB

	Outbox        *outbox.Store
	Explorer      *explorer.Index
	WorkerPool    *workerpool.Pool
	AnchorQueue   *anchorqueue.Queue
	Reconciler    *reconciler.Reconciler
	Sequencer     *sequencer.Sequencer
	DAAdapter     *daadapter.Adapter
	Checkpoint    *checkpoint.Service
	Bridge        *bridge.Relay
	SecretManager *secretmanager.Manager

	Bus *events.Bus
}

// New constructs every service in dependency order: infra (DB pool, Redis,
// bbolt, chain provider, signer) first, then leaves (Outbox, Explorer)
// before the components that depend on them (spec.md §9).
func New(ctx context.Context, infra config.InfraConfig, log *zap.Logger) (*App, error) {
	bus := events.New()
	metrics.MustRegister(prometheus.DefaultRegisterer)

	pgPool, err := pgxpool.New(ctx, infra.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: connect postgres: %w", err)
	}

	redisCli := redis.NewClient(&redis.Options{Addr: infra.RedisAddr})

	boltDB, err := bbolt.Open(infra.BoltPath, 0600, nil)
	if err != nil {
		pgPool.Close()
		return nil, fmt.Errorf("app: open bbolt: %w", err)
	}

	secretManager, err := secretmanager.New(boltDB, []byte(infra.SecretManagerPassphrase), []byte(infra.SecretManagerSalt))
	if err != nil {
		boltDB.Close()
		pgPool.Close()
		return nil, fmt.Errorf("app: init secret manager: %w", err)
	}

	provider := chainclient.NewProvider(infra.ChainRPCEndpoint, infra.ChainRPCTimeout)
	signer := chainclient.NewSecretSigner("anchor-operator", []byte(infra.SecretManagerPassphrase))

	poolCfg := config.LoadPoolConfig()
	seqCfg := config.LoadSequencerConfig()
	daCfg := config.LoadDAConfig()
	checkpointCfg := config.LoadCheckpointConfig()
	bridgeCfg := config.LoadBridgeConfig()
	reconcilerCfg := config.LoadReconcilerConfig()

	// Leaves: Outbox and Explorer have no dependency on any other service.
	outboxStore := outbox.New(pgPool, poolCfg.MaxRetries, poolCfg.StaleThreshold)
	explorerIndex, err := explorer.New(redisCli, boltDB, config.Region(), 10000, log)
	if err != nil {
		boltDB.Close()
		pgPool.Close()
		return nil, fmt.Errorf("app: init explorer: %w", err)
	}

	// Anchor Queue and Worker Pool depend on Outbox, and on each other
	// through the Dispatcher interface — constructed worker-pool-first so
	// the queue can hold a live dispatcher reference.
	pool := workerpool.New(outboxStore, poolCfg.Concurrency, poolCfg.HeartbeatInterval, log)
	queue := anchorqueue.New(outboxStore, pool, poolCfg.BackoffBase, uint64(poolCfg.MaxRetries), log)

	recon := reconciler.New(outboxStore, queue, reconcilerCfg.Cadence, log)

	anchorRegistry := chainclient.NewAnchorRegistry(provider, seqCfg.AnchorRegistryAddress, signer)
	seq := sequencer.New(sequencer.Config{BatchInterval: seqCfg.BatchInterval, MaxBatchSize: seqCfg.MaxBatchSize}, anchorRegistry, bus, log)

	daAdapter := daadapter.New(daadapter.Config{
		EnableBlobStorage: daCfg.EnableBlobStorage,
		MaxCalldataSize:   daCfg.MaxCalldataSize,
		TargetAddress:     daCfg.TargetAddress,
		BlobParams: blobgas.Params{
			TargetBlobGasPerBlock:      3 * blobgas.BlobGasPerBlob,
			MinBlobGasPrice:            1,
			BlobGasPriceUpdateFraction: 3338477,
		},
	}, provider, signer, bus, log)

	checkpointRegistry := chainclient.NewCheckpointRegistry(provider, seqCfg.AnchorRegistryAddress, signer)
	checkpointSvc := checkpoint.New(checkpoint.Config{CheckpointInterval: checkpointCfg.CheckpointInterval}, checkpointRegistry, defaultGatherer(provider), bus, log)

	bridgeContract := chainclient.NewBridgeContract(provider, seqCfg.AnchorRegistryAddress, signer)
	bridgeRelay := bridge.New(bridge.Config{ConfirmationBlocks: bridgeCfg.ConfirmationBlocks, PollInterval: bridgeCfg.PollInterval}, bridgeContract, provider, bus, log)

	a := &App{
		Log: log, pgPool: pgPool, redisCli: redisCli, boltDB: boltDB,
		Outbox: outboxStore, Explorer: explorerIndex, WorkerPool: pool, AnchorQueue: queue,
		Reconciler: recon, Sequencer: seq, DAAdapter: daAdapter, Checkpoint: checkpointSvc,
		Bridge: bridgeRelay, SecretManager: secretManager, Bus: bus,
	}

	a.wireBatchPublication()
	a.registerHandlers()
	return a, nil
}

// registerHandlers wires the Worker Pool's generic handler (spec.md §4.D
// step 4: "indexes into the Explorer and, where applicable, forwards to the
// Sequencer") for every ingress event kind.
func (a *App) registerHandlers() {
	kinds := []sequencer.EventKind{
		sequencer.EventMessage, sequencer.EventMeeting, sequencer.EventPayment, sequencer.EventConsent,
	}
	for _, kind := range kinds {
		a.WorkerPool.RegisterHandler(string(kind), a.genericHandler)
	}
}

// eventEnvelope mirrors anchorqueue's internal envelope shape: {ts, data}.
// It is redefined here rather than imported because the Anchor Queue keeps
// it unexported — the Worker Pool only needs to know its own copy of the
// wire shape it agreed to decode.
type eventEnvelope struct {
	Timestamp int64           `json:"ts"`
	Data      json.RawMessage `json:"data"`
}

// genericHandler decodes the outbox row's {ts, data} envelope, indexes it
// into the Explorer, and forwards it to the Sequencer's batching queue
// (spec.md §4.D step 4: "indexes into the Explorer and, where applicable,
// forwards to the Sequencer"). The outbox row's own id stands in for a tx
// hash on the resulting AnchorReceipt and stays there: the anchor tx hash of
// the batch that later contains this event is published on
// TopicBatchAnchored and is not written back to the receipt.
func (a *App) genericHandler(ctx context.Context, ev outbox.Event) (string, error) {
	var env eventEnvelope
	if err := json.Unmarshal(ev.Payload, &env); err != nil {
		return "", fmt.Errorf("app: decode event envelope: %w", err)
	}

	a.Explorer.IndexAnchorEvent(ctx, ev.AppID, ev.ID, env.Timestamp, ev.Payload)
	a.Sequencer.AddEvent(sequencer.Event{
		ID: ev.ID, Type: sequencer.EventKind(ev.Type), Timestamp: env.Timestamp, UserID: ev.AppID, Data: env.Data,
	})
	return ev.ID, nil
}

// defaultGatherer sources l2Root from the chain provider's latest block hash
// and leaves daoStateRoot zeroed — this deployment tracks no separate DAO
// state trie, only the rollup's own anchored event history.
func defaultGatherer(provider *chainclient.Provider) checkpoint.Gatherer {
	return func(ctx context.Context) (checkpoint.Data, error) {
		block, err := provider.GetLatestBlock(ctx)
		if err != nil {
			return checkpoint.Data{}, fmt.Errorf("app: fetch latest block for checkpoint: %w", err)
		}
		var decoded struct {
			Hash string `json:"hash"`
		}
		if err := json.Unmarshal(block, &decoded); err != nil {
			return checkpoint.Data{}, fmt.Errorf("app: decode latest block: %w", err)
		}

		var l2Root [32]byte
		if raw, err := hex.DecodeString(strings.TrimPrefix(decoded.Hash, "0x")); err == nil && len(raw) == 32 {
			copy(l2Root[:], raw)
		}
		return checkpoint.Data{L2Root: l2Root, Timestamp: time.Now().Unix()}, nil
	}
}

// wireBatchPublication subscribes the DA Adapter to the Sequencer's batch
// lifecycle, replacing the source's direct event-emitter callback wiring
// (spec.md §9) with the typed bus.
func (a *App) wireBatchPublication() {
	ch := a.Bus.Subscribe(events.TopicBatchAnchored)
	go func() {
		for payload := range ch {
			anchored, ok := payload.(sequencer.BatchAnchored)
			if !ok {
				continue
			}
			a.DAAdapter.SubmitBatch(anchored.Batch)
		}
	}()
}

// Start launches every scheduled-loop service leaves-first: Worker Pool
// before Reconciler before Sequencer before Checkpoint (spec.md §9).
func (a *App) Start(ctx context.Context) {
	a.WorkerPool.Start(ctx)
	go a.Reconciler.Run(ctx)
	go a.Sequencer.Run(ctx)
	a.Checkpoint.Start(ctx)
}

// Shutdown tears services down in reverse (roots-first) order: stop
// accepting new scheduled work before releasing the infra connections the
// leaves depend on.
func (a *App) Shutdown(ctx context.Context) {
	a.Checkpoint.Stop()
	a.Bridge.Cleanup()
	a.WorkerPool.Wait()

	if err := a.redisCli.Close(); err != nil {
		a.Log.Warn("app: close redis failed", zap.Error(err))
	}
	if err := a.boltDB.Close(); err != nil {
		a.Log.Warn("app: close bbolt failed", zap.Error(err))
	}
	a.pgPool.Close()
}

// Routes mounts the Explorer's read API alongside a WebSocket stream of
// batch lifecycle events, the application root's only HTTP surface.
func (a *App) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/v1/explorer/", a.Explorer.Routes())
	mux.HandleFunc("/v1/stream", streaming.Handler(a.Bus, a.Log,
		events.TopicBatchCreated, events.TopicBatchAnchored, events.TopicBatchSubmitted,
		events.TopicCheckpointSubmitted, events.TopicReceiptConfirmed, events.TopicReceiptFailed))
	return mux
}

// Status is the operator CLI's `status` command shape (spec.md §6).
type Status struct {
	DBPath          string
	IsOpen          bool
	ApproximateSize int64
}

// Status reports the local bbolt store's path, open state, and on-disk
// size — the durable side-store backing the Explorer fallback and Secret
// Manager.
func (a *App) Status() Status {
	path := a.boltDB.Path()
	size := int64(0)
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	return Status{DBPath: path, IsOpen: true, ApproximateSize: size}
}
