// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package secretmanager implements the Secret Manager (spec.md §4.J): an
// AEAD-encrypted secret store backed by bbolt, keyed by a PBKDF2-derived
// master key, plus TURN-style short-lived credential issuance and an append
// -only audit log. Each secret gets a fixed 90-day rotation period
// (ExpiresAt); the Manager does not rotate secrets itself — overwriting a key
// with Put counts as a rotation — and NeedsRotation reports when a secret is
// within the 7-day warning threshold of expiry.
package secretmanager

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations  = 100_000
	rotationPeriod    = 90 * 24 * time.Hour
	rotationWarnAhead = 7 * 24 * time.Hour
)

var (
	ErrNotFound = errors.New("secretmanager: secret not found")

	secretBucket = []byte("secrets")
	auditBucket  = []byte("secret_audit")
)

// Secret is the stored record for one named secret (spec.md §3 SecretRecord).
type Secret struct {
	Key            string    `json:"key"`
	Ciphertext     []byte    `json:"ciphertext"`
	Nonce          []byte    `json:"nonce"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	RotationCount  int       `json:"rotationCount"`
	LastRotatedAt  time.Time `json:"lastRotatedAt"`
}

// AuditEntry records one access or mutation against a secret.
type AuditEntry struct {
	Key       string    `json:"key"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager is the AEAD-encrypted secret store (spec.md §4.J).
type Manager struct {
	db   *bbolt.DB
	aead cipher.AEAD
}

// New derives a master key from passphrase via PBKDF2-SHA256 (100k
// iterations) and opens the bbolt-backed store at db. salt should be a
// stable per-deployment value persisted alongside db.
func New(db *bbolt.DB, passphrase, salt []byte) (*Manager, error) {
	key := pbkdf2.Key(passphrase, salt, pbkdf2Iterations, chacha20poly1305.KeySize, sha256.New)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("secretmanager: build aead: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(secretBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(auditBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("secretmanager: init buckets: %w", err)
	}

	return &Manager{db: db, aead: aead}, nil
}

// Put encrypts plaintext and stores it under key, recording an audit entry.
// now is injected by the caller rather than taken from time.Now() so
// rotation bookkeeping is deterministic under test.
func (m *Manager) Put(key string, plaintext []byte, actor string, now time.Time) error {
	nonce := make([]byte, m.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("secretmanager: generate nonce: %w", err)
	}
	ciphertext := m.aead.Seal(nil, nonce, plaintext, []byte(key))

	secret := Secret{
		Key: key, Ciphertext: ciphertext, Nonce: nonce,
		CreatedAt: now, ExpiresAt: now.Add(rotationPeriod), LastRotatedAt: now,
	}

	return m.db.Update(func(tx *bbolt.Tx) error {
		if existing := tx.Bucket(secretBucket).Get([]byte(key)); existing != nil {
			var prev Secret
			if err := json.Unmarshal(existing, &prev); err == nil {
				secret.RotationCount = prev.RotationCount + 1
			}
		}
		buf, err := json.Marshal(secret)
		if err != nil {
			return fmt.Errorf("marshal secret: %w", err)
		}
		if err := tx.Bucket(secretBucket).Put([]byte(key), buf); err != nil {
			return err
		}
		return appendAudit(tx, AuditEntry{Key: key, Action: "put", Actor: actor, Timestamp: now})
	})
}

// Get decrypts and returns the plaintext stored under key.
func (m *Manager) Get(key string, actor string, now time.Time) ([]byte, error) {
	var secret Secret
	err := m.db.Update(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(secretBucket).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &secret); err != nil {
			return fmt.Errorf("unmarshal secret: %w", err)
		}
		return appendAudit(tx, AuditEntry{Key: key, Action: "get", Actor: actor, Timestamp: now})
	})
	if err != nil {
		return nil, err
	}

	plaintext, err := m.aead.Open(nil, secret.Nonce, secret.Ciphertext, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("secretmanager: decrypt %s: %w", key, err)
	}
	return plaintext, nil
}

// NeedsRotation reports whether the secret stored under key is within
// rotationWarnAhead of its rotation period expiring.
func (m *Manager) NeedsRotation(key string, now time.Time) (bool, error) {
	var secret Secret
	err := m.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(secretBucket).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &secret)
	})
	if err != nil {
		return false, err
	}
	return !now.Before(secret.ExpiresAt.Add(-rotationWarnAhead)), nil
}

// AuditLog returns every recorded entry for key, oldest first.
func (m *Manager) AuditLog(key string) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := m.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(auditBucket).Cursor()
		prefix := []byte(key + "|")
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var entry AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

func appendAudit(tx *bbolt.Tx, entry AuditEntry) error {
	buf, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	seq, err := tx.Bucket(auditBucket).NextSequence()
	if err != nil {
		return err
	}
	k := fmt.Sprintf("%s|%020d", entry.Key, seq)
	return tx.Bucket(auditBucket).Put([]byte(k), buf)
}

// IssueTURNCredential mints a short-lived TURN-style credential (spec.md
// §4.J): username is "<unixExpiry>:<baseUser>" and credential is
// base64(HMAC-SHA1(username, baseCredential)) per RFC 5766 §"time-limited
// credentials" convention. ttl is clamped to 30 minutes, the spec's
// maximum.
func IssueTURNCredential(baseUser, baseCredential string, ttl time.Duration, now time.Time) (username, credential string) {
	const maxTTL = 30 * time.Minute
	if ttl > maxTTL || ttl <= 0 {
		ttl = maxTTL
	}
	expiry := now.Add(ttl).Unix()
	username = strconv.FormatInt(expiry, 10) + ":" + baseUser

	mac := hmac.New(sha1.New, []byte(baseCredential))
	mac.Write([]byte(username))
	credential = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return username, credential
}
