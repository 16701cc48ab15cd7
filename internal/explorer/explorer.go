// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package explorer implements the Explorer Index (spec.md §4.B): a
// per-tenant, time-sorted event index backed by a Redis-compatible sorted
// set, with a bounded bbolt fallback store for when the primary cache is
// unavailable (spec.md §9: "fallback in-process store ... must be bounded").
package explorer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const payloadTTL = 30 * 24 * time.Hour // spec.md §6: "Explorer sorted sets persist for 30 days"

// Entry is an ExplorerEntry (spec.md §3).
type Entry struct {
	AppID     string
	EventID   string
	Timestamp int64
	Payload   []byte
}

// Index is the Explorer Index contract. Region namespaces the underlying
// Redis keys (spec.md §6: "explorer:<region>:<appId>").
type Index struct {
	rdb      *redis.Client
	fallback *fallbackStore
	region   string
	log      *zap.Logger
}

func New(rdb *redis.Client, boltDB *bbolt.DB, region string, maxFallbackEntries int, log *zap.Logger) (*Index, error) {
	fb, err := newFallbackStore(boltDB, maxFallbackEntries)
	if err != nil {
		return nil, fmt.Errorf("explorer: init fallback store: %w", err)
	}
	return &Index{rdb: rdb, fallback: fb, region: region, log: log}, nil
}

func (x *Index) zsetKey(appID string) string {
	return fmt.Sprintf("explorer:%s:%s", x.region, appID)
}

func (x *Index) payloadKey(eventID string) string {
	return fmt.Sprintf("anchor:%s", eventID)
}

// IndexAnchorEvent inserts eventID into appID's time-sorted set (score =
// timestamp) and stores payload under the event's payload key with a 30-day
// TTL, applying both writes as a single pipeline. On any failure it falls
// back to an in-process bounded record and returns false (spec.md §4.B).
func (x *Index) IndexAnchorEvent(ctx context.Context, appID, eventID string, timestamp int64, payload []byte) bool {
	_, err := x.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, x.zsetKey(appID), redis.Z{Score: float64(timestamp), Member: eventID})
		pipe.Set(ctx, x.payloadKey(eventID), payload, payloadTTL)
		return nil
	})
	if err != nil {
		x.log.Warn("explorer: primary cache write failed, using fallback",
			zap.String("app_id", appID), zap.String("event_id", eventID), zap.Error(err))
		if fbErr := x.fallback.put(Entry{AppID: appID, EventID: eventID, Timestamp: timestamp, Payload: payload}); fbErr != nil {
			x.log.Error("explorer: fallback write failed", zap.Error(fbErr))
		}
		return false
	}
	return true
}

// ListEvents returns eventIds for appID with score in [startTs, endTs],
// ascending, bounded by limit.
func (x *Index) ListEvents(ctx context.Context, appID string, startTs, endTs int64, limit int) ([]string, error) {
	return x.rdb.ZRangeByScore(ctx, x.zsetKey(appID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", startTs), Max: fmt.Sprintf("%d", endTs), Count: int64(limit),
	}).Result()
}

// ListEventsReverse returns eventIds for appID in [startTs, endTs],
// descending, bounded by limit.
func (x *Index) ListEventsReverse(ctx context.Context, appID string, startTs, endTs int64, limit int) ([]string, error) {
	return x.rdb.ZRevRangeByScore(ctx, x.zsetKey(appID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", startTs), Max: fmt.Sprintf("%d", endTs), Count: int64(limit),
	}).Result()
}

// GetEventData consults the fallback store first (fallback entries are
// authoritative when present, spec.md §4.B invariant), then the primary
// cache. Returns nil, nil if neither has the event.
func (x *Index) GetEventData(ctx context.Context, eventID string) ([]byte, error) {
	if payload, ok := x.fallback.get(eventID); ok {
		return payload, nil
	}
	payload, err := x.rdb.Get(ctx, x.payloadKey(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("explorer: get event data: %w", err)
	}
	return payload, nil
}

// CountEvents returns the number of indexed events for appID, optionally
// restricted to [startTs, endTs].
func (x *Index) CountEvents(ctx context.Context, appID string, startTs, endTs *int64) (int64, error) {
	if startTs == nil || endTs == nil {
		return x.rdb.ZCard(ctx, x.zsetKey(appID)).Result()
	}
	return x.rdb.ZCount(ctx, x.zsetKey(appID),
		fmt.Sprintf("%d", *startTs), fmt.Sprintf("%d", *endTs)).Result()
}

// GetRecentEvents returns the n most recently indexed eventIds for appID.
func (x *Index) GetRecentEvents(ctx context.Context, appID string, n int) ([]string, error) {
	return x.rdb.ZRevRangeByScore(ctx, x.zsetKey(appID), &redis.ZRangeBy{
		Min: "-inf", Max: "+inf", Count: int64(n),
	}).Result()
}

// DeleteEvent removes eventID from both the sorted index and the payload
// store (spec.md §4.B).
func (x *Index) DeleteEvent(ctx context.Context, appID, eventID string) error {
	_, err := x.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, x.zsetKey(appID), eventID)
		pipe.Del(ctx, x.payloadKey(eventID))
		return nil
	})
	x.fallback.delete(eventID)
	if err != nil {
		return fmt.Errorf("explorer: delete event: %w", err)
	}
	return nil
}
