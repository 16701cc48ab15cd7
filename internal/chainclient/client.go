// Copyright 2026 The Anchor Authors
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package chainclient is the thin egress layer spec.md §6 names: a
// JSON-RPC-shaped chain provider plus the three contract callers (Anchor
// Registry, Checkpoint Registry, Bridge contract) the core submits to. No
// full JSON-RPC client library appeared in the retrieved pack, so the
// request/response plumbing here is hand-rolled over stdlib net/http,
// justified in DESIGN.md; every higher-level caller only sees the typed
// contract methods below.
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Signer produces the signature/sender context a transaction submission
// needs. The Secret Manager (internal/secretmanager) backs production
// signers; tests use a stub.
type Signer interface {
	Address() string
	SignTx(ctx context.Context, tx *Transaction) error
}

// Transaction is the minimal shape every contract call in this package
// submits — enough to express both a plain calldata transaction and a
// type-3 blob-carrying transaction (spec.md §4.G, §6).
type Transaction struct {
	To                  string
	Data                []byte
	MaxFeePerBlobGas    *string
	BlobVersionedHashes []string
	Signature           string
}

// TxResult is what a successful submission returns.
type TxResult struct {
	TxHash string
}

// Provider is the JSON-RPC chain provider contract from spec.md §6:
// eth_sendTransaction-style semantics, getTransaction, getBlockNumber,
// getBlock('latest').
type Provider struct {
	endpoint string
	http     *http.Client
}

func NewProvider(endpoint string, timeout time.Duration) *Provider {
	return &Provider{endpoint: endpoint, http: &http.Client{Timeout: timeout}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Provider) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("chainclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chainclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("chainclient: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("chainclient: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("chainclient: %s rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// SendTransaction submits a signed transaction and returns its hash.
func (p *Provider) SendTransaction(ctx context.Context, tx *Transaction) (TxResult, error) {
	var txHash string
	err := p.call(ctx, "eth_sendTransaction", []any{tx}, &txHash)
	if err != nil {
		return TxResult{}, err
	}
	return TxResult{TxHash: txHash}, nil
}

// GetTransaction polls for a submitted transaction's receipt-shaped status.
func (p *Provider) GetTransaction(ctx context.Context, txHash string) (json.RawMessage, error) {
	var out json.RawMessage
	err := p.call(ctx, "eth_getTransactionByHash", []any{txHash}, &out)
	return out, err
}

// GetBlockNumber returns the provider's current block height.
func (p *Provider) GetBlockNumber(ctx context.Context) (uint64, error) {
	var hexNum string
	if err := p.call(ctx, "eth_blockNumber", nil, &hexNum); err != nil {
		return 0, err
	}
	return parseHexUint64(hexNum)
}

// GetLatestBlock returns the latest block, used by the Checkpoint Service
// to source l2Root.
func (p *Provider) GetLatestBlock(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := p.call(ctx, "eth_getBlockByNumber", []any{"latest", true}, &out)
	return out, err
}

func parseHexUint64(hex string) (uint64, error) {
	var n uint64
	_, err := fmt.Sscanf(hex, "0x%x", &n)
	if err != nil {
		return 0, fmt.Errorf("chainclient: parse hex uint64 %q: %w", hex, err)
	}
	return n, nil
}
