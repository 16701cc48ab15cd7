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
	"encoding/hex"
	"fmt"
)

// AnchorRegistry wraps the on-chain contract spec.md §6 names:
// anchorBundle(merkleRoot: bytes32, eventCount: uint, metadata: string) -> tx.
type AnchorRegistry struct {
	provider *Provider
	address  string
	signer   Signer
}

func NewAnchorRegistry(provider *Provider, address string, signer Signer) *AnchorRegistry {
	return &AnchorRegistry{provider: provider, address: address, signer: signer}
}

// AnchorBundle submits the Sequencer's batch root.
func (r *AnchorRegistry) AnchorBundle(ctx context.Context, merkleRoot [32]byte, eventCount uint64, metadata string) (TxResult, error) {
	tx := &Transaction{
		To:   r.address,
		Data: encodeCall("anchorBundle", hex.EncodeToString(merkleRoot[:]), eventCount, metadata),
	}
	if err := r.signer.SignTx(ctx, tx); err != nil {
		return TxResult{}, fmt.Errorf("chainclient: sign anchorBundle: %w", err)
	}
	return r.provider.SendTransaction(ctx, tx)
}

// CheckpointRegistry wraps submitCheckpoint/getCheckpoint/getLatestCheckpoint
// (spec.md §6).
type CheckpointRegistry struct {
	provider *Provider
	address  string
	signer   Signer
}

func NewCheckpointRegistry(provider *Provider, address string, signer Signer) *CheckpointRegistry {
	return &CheckpointRegistry{provider: provider, address: address, signer: signer}
}

func (r *CheckpointRegistry) SubmitCheckpoint(ctx context.Context, l2Root, daoStateRoot [32]byte, metadata string) (TxResult, error) {
	tx := &Transaction{
		To:   r.address,
		Data: encodeCall("submitCheckpoint", hex.EncodeToString(l2Root[:]), hex.EncodeToString(daoStateRoot[:]), metadata),
	}
	if err := r.signer.SignTx(ctx, tx); err != nil {
		return TxResult{}, fmt.Errorf("chainclient: sign submitCheckpoint: %w", err)
	}
	return r.provider.SendTransaction(ctx, tx)
}

func (r *CheckpointRegistry) GetLatestCheckpoint(ctx context.Context) ([]byte, error) {
	var out []byte
	err := r.provider.call(ctx, "eth_call", []any{map[string]any{
		"to":   r.address,
		"data": encodeCall("getLatestCheckpoint"),
	}, "latest"}, &out)
	return out, err
}

// BridgeContract wraps emitCrossChainReceipt(receiptId, targetChain,
// encodedData) -> tx (spec.md §6), submitted on the source chain.
type BridgeContract struct {
	provider *Provider
	address  string
	signer   Signer
}

func NewBridgeContract(provider *Provider, address string, signer Signer) *BridgeContract {
	return &BridgeContract{provider: provider, address: address, signer: signer}
}

func (c *BridgeContract) EmitCrossChainReceipt(ctx context.Context, receiptID, targetChain string, encodedData []byte) (TxResult, error) {
	tx := &Transaction{
		To:   c.address,
		Data: encodeCall("emitCrossChainReceipt", receiptID, targetChain, hex.EncodeToString(encodedData)),
	}
	if err := c.signer.SignTx(ctx, tx); err != nil {
		return TxResult{}, fmt.Errorf("chainclient: sign emitCrossChainReceipt: %w", err)
	}
	return c.provider.SendTransaction(ctx, tx)
}

// encodeCall is a placeholder ABI-free encoder: real deployments would use
// an ABI-encoding library, but none appeared in the retrieved pack, so
// calldata here is a simple method-tagged argument join sufficient for this
// spec's purposes (every consumer only round-trips through this package's
// own types, never decodes raw calldata itself).
func encodeCall(method string, args ...any) []byte {
	out := method
	for _, a := range args {
		out += fmt.Sprintf("|%v", a)
	}
	return []byte(out)
}
