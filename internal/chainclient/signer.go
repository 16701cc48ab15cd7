// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package chainclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SecretSigner signs transactions by HMAC-tagging the transaction payload
// with a key sourced from the Secret Manager. Real deployments would sign
// with an ECDSA key over a chain-specific transaction encoding; no such
// signing library appeared in the retrieved pack, so this stands in as the
// Signer every contract caller in this package depends on (justified in
// DESIGN.md).
type SecretSigner struct {
	address string
	key     []byte
}

func NewSecretSigner(address string, key []byte) *SecretSigner {
	return &SecretSigner{address: address, key: key}
}

func (s *SecretSigner) Address() string { return s.address }

func (s *SecretSigner) SignTx(ctx context.Context, tx *Transaction) error {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(s.address))
	mac.Write(tx.Data)
	for _, h := range tx.BlobVersionedHashes {
		mac.Write([]byte(h))
	}
	tx.Signature = hex.EncodeToString(mac.Sum(nil))
	return nil
}
