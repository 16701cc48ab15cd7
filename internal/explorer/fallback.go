// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package explorer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var fallbackBucket = []byte("explorer_fallback")
var fallbackOrderBucket = []byte("explorer_fallback_order")

// fallbackStore is the bounded in-process record spec.md §9 requires:
// "must be bounded (by size or TTL) to avoid unbounded memory growth when
// the primary cache is degraded". It is bbolt-backed rather than a bare map
// so it survives process restarts during an extended primary-cache outage,
// and bounded by entry count (maxEntries), evicting oldest-first.
type fallbackStore struct {
	db         *bbolt.DB
	maxEntries int
}

func newFallbackStore(db *bbolt.DB, maxEntries int) (*fallbackStore, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(fallbackBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(fallbackOrderBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &fallbackStore{db: db, maxEntries: maxEntries}, nil
}

func (f *fallbackStore) put(e Entry) error {
	return f.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(fallbackBucket)
		order := tx.Bucket(fallbackOrderBucket)

		buf, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal fallback entry: %w", err)
		}
		if err := entries.Put([]byte(e.EventID), buf); err != nil {
			return err
		}

		seq, _ := order.NextSequence()
		key := sequenceKey(seq)
		if err := order.Put(key, []byte(e.EventID)); err != nil {
			return err
		}

		return evictOldest(entries, order, f.maxEntries)
	})
}

func (f *fallbackStore) get(eventID string) ([]byte, bool) {
	var payload []byte
	var found bool
	_ = f.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(fallbackBucket).Get([]byte(eventID))
		if raw == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		payload, found = e.Payload, true
		return nil
	})
	return payload, found
}

func (f *fallbackStore) delete(eventID string) {
	_ = f.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(fallbackBucket).Delete([]byte(eventID))
	})
}

func sequenceKey(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

// evictOldest trims the order bucket (oldest-first, by insertion sequence)
// down to maxEntries, removing the corresponding payload entries.
func evictOldest(entries, order *bbolt.Bucket, maxEntries int) error {
	count := order.Stats().KeyN
	if count <= maxEntries {
		return nil
	}
	toRemove := count - maxEntries
	c := order.Cursor()
	removed := 0
	for k, v := c.First(); k != nil && removed < toRemove; k, v = c.Next() {
		if err := entries.Delete(v); err != nil {
			return err
		}
		if err := order.Delete(k); err != nil {
			return err
		}
		removed++
	}
	return nil
}
