// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package outbox implements the Outbox Store (spec.md §4.A): durable,
// idempotent event persistence with lease-based worker coordination. The
// store is the single writer of authoritative event state — workers acquire
// a lease on a row but never own it (spec.md §5).
package outbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// State is one of the OutboxEvent lifecycle states (spec.md §3).
type State string

const (
	StatePending     State = "pending"
	StateEnqueued    State = "enqueued"
	StateProcessing  State = "processing"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateDeadLetter  State = "dead_letter"
)

// ReceiptStatus is the lifecycle of an AnchorReceipt (spec.md §3).
type ReceiptStatus string

const (
	ReceiptSubmitted ReceiptStatus = "submitted"
	ReceiptConfirmed ReceiptStatus = "confirmed"
)

// Event is an OutboxEvent row (spec.md §3).
type Event struct {
	ID             string
	AppID          string
	Type           string
	Digest         string
	IdempotencyKey string
	Payload        []byte
	Status         State
	RetryCount     int
	LastError      string
	HeartbeatAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WriteInput is the caller-supplied intent passed to Write.
type WriteInput struct {
	AppID          string
	Type           string
	Payload        []byte
	IdempotencyKey string // optional; defaults to appId|type|digest
}

// WriteResult identifies the durable row produced (or found) by Write.
type WriteResult struct {
	ID             string
	Digest         string
	IdempotencyKey string
	Deduplicated   bool
}

// Receipt is the exactly-once record of an applied event (spec.md §3).
type Receipt struct {
	IdempotencyKey string
	OutboxID       string
	TxHash         string
	BlockNumber    *uint64
	Status         ReceiptStatus
	ConfirmedAt    *time.Time
	CreatedAt      time.Time
}

// ErrNotFound is returned when a row referenced by id no longer exists —
// the normal "another worker already handled it" race (spec.md §4.D step 3).
var ErrNotFound = errors.New("outbox: row not found")

// Store is the contract spec.md §4.A names as operations. MaxRetries and
// StaleThreshold are constructor parameters rather than globals so tests can
// use small values.
type Store struct {
	pool           *pgxpool.Pool
	maxRetries     int
	staleThreshold time.Duration
}

func New(pool *pgxpool.Pool, maxRetries int, staleThreshold time.Duration) *Store {
	return &Store{pool: pool, maxRetries: maxRetries, staleThreshold: staleThreshold}
}

// Digest returns the content hash of payload, used both as part of the
// default idempotency key and for dispatch-job identity (spec.md §4.E).
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func defaultIdempotencyKey(appID, typ, digest string) string {
	return fmt.Sprintf("%s|%s|%s", appID, typ, digest)
}

// Write deduplicates on idempotencyKey against existing receipts; if a
// receipt already exists, it returns that receipt's identifiers and performs
// no write. Otherwise it persists a new pending row. (spec.md §4.A, §8
// "At-most-once effect" and "Durable enqueue": the row exists before this
// call returns.)
func (s *Store) Write(ctx context.Context, in WriteInput) (WriteResult, error) {
	digest := Digest(in.Payload)
	key := in.IdempotencyKey
	if key == "" {
		key = defaultIdempotencyKey(in.AppID, in.Type, digest)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return WriteResult{}, fmt.Errorf("outbox: begin write tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingOutboxID string
	err = tx.QueryRow(ctx,
		`SELECT outbox_id FROM anchor_receipts WHERE idempotency_key = $1`, key,
	).Scan(&existingOutboxID)
	if err == nil {
		return WriteResult{ID: existingOutboxID, Digest: digest, IdempotencyKey: key, Deduplicated: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return WriteResult{}, fmt.Errorf("outbox: check existing receipt: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		INSERT INTO anchor_outbox
			(id, type, app_id, digest, idempotency_key, payload, status, retry_count, last_error, heartbeat_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, '', NULL, $8, $8)
		ON CONFLICT (idempotency_key) WHERE status != 'dead_letter' DO NOTHING
	`, id, in.Type, in.AppID, digest, key, in.Payload, StatePending, now)
	if err != nil {
		return WriteResult{}, fmt.Errorf("outbox: insert row: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Lost the insert race against a non-terminal row already holding
		// this idempotency key (e.g. the Reconciler re-offering a row that
		// is still pending/enqueued/failed): look up its id rather than
		// returning the uuid we just minted and discarded.
		if err := tx.QueryRow(ctx,
			`SELECT id FROM anchor_outbox WHERE idempotency_key = $1 AND status != $2`, key, StateDeadLetter,
		).Scan(&id); err != nil {
			return WriteResult{}, fmt.Errorf("outbox: resolve existing row for conflicting key: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return WriteResult{}, fmt.Errorf("outbox: commit write tx: %w", err)
		}
		return WriteResult{ID: id, Digest: digest, IdempotencyKey: key, Deduplicated: true}, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return WriteResult{}, fmt.Errorf("outbox: commit write tx: %w", err)
	}
	return WriteResult{ID: id, Digest: digest, IdempotencyKey: key}, nil
}

// MarkEnqueued transitions a row to enqueued once its job descriptor has
// been accepted by the dispatch layer (spec.md §4.C).
func (s *Store) MarkEnqueued(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StateEnqueued)
}

// MarkProcessing acquires the worker lease: status -> processing,
// heartbeatAt -> now (spec.md §4.D step 1).
func (s *Store) MarkProcessing(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE anchor_outbox SET status = $2, heartbeat_at = $3, updated_at = $3
		WHERE id = $1
	`, id, StateProcessing, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("outbox: mark processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateHeartbeat refreshes heartbeatAt for an in-flight lease (spec.md
// §4.D step 2).
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE anchor_outbox SET heartbeat_at = $2, updated_at = $2
		WHERE id = $1 AND status = $3
	`, id, time.Now().UTC(), StateProcessing)
	if err != nil {
		return fmt.Errorf("outbox: update heartbeat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get fetches the canonical row by id.
func (s *Store) Get(ctx context.Context, id string) (Event, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` FROM anchor_outbox WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Event{}, ErrNotFound
	}
	return ev, err
}

// MarkCompleted creates the receipt if absent, then transitions the row to
// completed. Safe to call twice: receipt insertion is conditional on
// non-existence (spec.md §4.A Failure semantics).
func (s *Store) MarkCompleted(ctx context.Context, id, idempotencyKey, txHashOrEventID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin complete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO anchor_receipts (idempotency_key, outbox_id, tx_hash, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, idempotencyKey, id, txHashOrEventID, ReceiptSubmitted, now)
	if err != nil {
		return fmt.Errorf("outbox: insert receipt: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE anchor_outbox SET status = $2, updated_at = $3 WHERE id = $1
	`, id, StateCompleted, now)
	if err != nil {
		return fmt.Errorf("outbox: mark completed: %w", err)
	}
	return tx.Commit(ctx)
}

// MarkFailed increments retryCount; at MaxRetries the row becomes a
// permanent dead_letter, otherwise it returns to failed for the Reconciler
// to pick back up (spec.md §4.A, §8 "MAX_RETRIES boundary").
func (s *Store) MarkFailed(ctx context.Context, id string, cause error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin fail tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var retryCount int
	if err := tx.QueryRow(ctx, `SELECT retry_count FROM anchor_outbox WHERE id = $1 FOR UPDATE`, id).Scan(&retryCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("outbox: read retry_count: %w", err)
	}

	retryCount++
	next := StateFailed
	if retryCount >= s.maxRetries {
		next = StateDeadLetter
	}

	_, err = tx.Exec(ctx, `
		UPDATE anchor_outbox
		SET status = $2, retry_count = $3, last_error = $4, heartbeat_at = NULL, updated_at = $5
		WHERE id = $1
	`, id, next, retryCount, cause.Error(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return tx.Commit(ctx)
}

// GetPending returns rows eligible for (re-)dispatch: pending, enqueued,
// failed, plus processing rows whose lease has gone stale (spec.md §4.A).
func (s *Store) GetPending(ctx context.Context, limit int) ([]Event, error) {
	staleCutoff := time.Now().UTC().Add(-s.staleThreshold)
	rows, err := s.pool.Query(ctx, selectColumns+` FROM anchor_outbox
		WHERE status IN ($1, $2, $3)
		   OR (status = $4 AND (heartbeat_at IS NULL OR heartbeat_at <= $5))
		LIMIT $6
	`, StatePending, StateEnqueued, StateFailed, StateProcessing, staleCutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: get pending: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Reconcile atomically transitions stale processing rows back to pending,
// clearing heartbeatAt, and returns the count recovered (spec.md §4.A,
// §4.E, §8 "Reconciliation convergence").
//
// The UPDATE's WHERE clause re-checks status and staleness in the same
// statement so a worker's own concurrent heartbeat refresh wins the race
// (spec.md §5 "Lease safety": compare-and-set on state + heartbeat).
func (s *Store) Reconcile(ctx context.Context) (int, error) {
	staleCutoff := time.Now().UTC().Add(-s.staleThreshold)
	tag, err := s.pool.Exec(ctx, `
		UPDATE anchor_outbox
		SET status = $1, heartbeat_at = NULL, updated_at = $2
		WHERE status = $3 AND (heartbeat_at IS NULL OR heartbeat_at <= $4)
	`, StatePending, time.Now().UTC(), StateProcessing, staleCutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox: reconcile: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ConfirmReceipt transitions submitted -> confirmed with confirmedAt set
// (spec.md §4.A).
func (s *Store) ConfirmReceipt(ctx context.Context, idempotencyKey string, blockNumber uint64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE anchor_receipts SET status = $2, block_number = $3, confirmed_at = $4
		WHERE idempotency_key = $1 AND status = $5
	`, idempotencyKey, ReceiptConfirmed, blockNumber, time.Now().UTC(), ReceiptSubmitted)
	if err != nil {
		return fmt.Errorf("outbox: confirm receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RetryDeadLetter resets a dead_letter row to pending and clears its error,
// for manual operator intervention (spec.md §7).
func (s *Store) RetryDeadLetter(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE anchor_outbox
		SET status = $2, retry_count = 0, last_error = '', heartbeat_at = NULL, updated_at = $3
		WHERE id = $1 AND status = $4
	`, id, StatePending, time.Now().UTC(), StateDeadLetter)
	if err != nil {
		return fmt.Errorf("outbox: retry dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDeadLetters gives operators visibility into terminal failures
// (SPEC_FULL.md supplemented feature, symmetric with GetPending).
func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` FROM anchor_outbox WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`, StateDeadLetter, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: list dead letters: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) setStatus(ctx context.Context, id string, state State) error {
	tag, err := s.pool.Exec(ctx, `UPDATE anchor_outbox SET status = $2, updated_at = $3 WHERE id = $1`, id, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("outbox: set status %s: %w", state, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT id, type, app_id, digest, idempotency_key, payload, status, retry_count, last_error, heartbeat_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var ev Event
	err := row.Scan(&ev.ID, &ev.Type, &ev.AppID, &ev.Digest, &ev.IdempotencyKey, &ev.Payload,
		&ev.Status, &ev.RetryCount, &ev.LastError, &ev.HeartbeatAt, &ev.CreatedAt, &ev.UpdatedAt)
	return ev, err
}

func scanEvents(rows pgx.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("outbox: scan row: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
