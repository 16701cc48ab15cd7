// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package merkle builds the keccak256 sorted-pair Merkle tree the Sequencer
// anchors on-chain. Sorted-pair hashing (hash the two children in
// byte-sorted order before concatenating) matches the on-chain verifier a
// rollup's AnchorRegistry contract is expected to run (OpenZeppelin-style
// MerkleProof.verify / merkletreejs "sortPairs" semantics), so the root
// computed here must byte-for-byte match what a Solidity verifier recomputes
// from a proof. No library in the pack implements this exact
// sorted-pair/keccak combination, so the tree walk is hand-written; hashing
// itself uses golang.org/x/crypto/sha3, not a reimplementation of Keccak.
package merkle

import (
	"bytes"

	"golang.org/x/crypto/sha3"
)

// ZeroHash is the sentinel root for an empty leaf set (spec: "Merkle-empty").
var ZeroHash = [32]byte{}

// Keccak256 hashes data with Keccak-256 (not NIST SHA3-256 — erigon and the
// wider Ethereum ecosystem use the original Keccak padding).
func Keccak256(data ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Root computes the sorted-pair keccak Merkle root over leaves, where each
// leaf is expected to already be keccak(canonicalJSON(event)). An empty leaf
// set returns ZeroHash, per spec.md's Merkle-empty boundary.
func Root(leaves [][32]byte) [32]byte {
	if len(leaves) == 0 {
		return ZeroHash
	}
	level := make([][32]byte, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

// nextLevel combines adjacent pairs; an odd trailing leaf is carried up
// unchanged (standard Merkle tree odd-node promotion).
func nextLevel(level [][32]byte) [][32]byte {
	next := make([][32]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 == len(level) {
			next = append(next, level[i])
			continue
		}
		next = append(next, hashPairSorted(level[i], level[i+1]))
	}
	return next
}

// hashPairSorted hashes two nodes in byte-sorted order so the root is
// independent of which child is "left" vs "right" — required for the
// Sequencer determinism property in spec.md §8.
func hashPairSorted(a, b [32]byte) [32]byte {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return Keccak256(a[:], b[:])
}

// Leaf returns keccak256 of an already-canonicalized event encoding. Callers
// (Sequencer) are responsible for canonical JSON encoding before hashing.
func Leaf(canonicalJSON []byte) [32]byte {
	return Keccak256(canonicalJSON)
}
