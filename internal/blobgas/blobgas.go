// Copyright 2021 The go-ethereum Authors
// (original work, EIP-4844 reference implementation)
// Copyright 2024 The Erigon Authors
// (modifications)
// Copyright 2026 The Anchor Authors
// (adapted for DA blob-transaction fee pricing)
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package blobgas computes the fee a blob-carrying DA publication transaction
// must attach, mirroring EIP-4844's excess-blob-gas fee market. The DA
// Adapter (internal/daadapter) uses this when enableBlobStorage is set and a
// batch's serialized size crosses maxCalldataSize.
package blobgas

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// BlobGasPerBlob is the fixed gas cost of a single blob (EIP-4844 constant).
const BlobGasPerBlob = 131072 // 2**17

// Params holds the per-chain blob fee-market parameters the DA Adapter needs.
// These come from the target chain's current configuration rather than a
// hardcoded fork schedule, since the DA Adapter publishes to whatever chain
// it is configured against.
type Params struct {
	TargetBlobGasPerBlock   uint64
	MinBlobGasPrice         uint64
	BlobGasPriceUpdateFraction uint64
}

// CalcExcessBlobGas implements calc_excess_blob_gas from EIP-4844: the
// running "how far over target" counter that feeds the fee market.
func CalcExcessBlobGas(p Params, parentExcessBlobGas, parentBlobGasUsed uint64) uint64 {
	if parentExcessBlobGas+parentBlobGasUsed < p.TargetBlobGasPerBlock {
		return 0
	}
	return parentExcessBlobGas + parentBlobGasUsed - p.TargetBlobGasPerBlock
}

// FakeExponential approximates factor * e ** (num / denom) using a Taylor
// expansion, as described in the EIP-4844 spec.
func FakeExponential(factor, denom *uint256.Int, excessBlobGas uint64) (*uint256.Int, error) {
	numerator := uint256.NewInt(excessBlobGas)
	output := uint256.NewInt(0)
	numeratorAccum := new(uint256.Int)
	_, overflow := numeratorAccum.MulOverflow(factor, denom)
	if overflow {
		return nil, fmt.Errorf("FakeExponential: overflow in MulOverflow(factor=%v, denom=%v)", factor, denom)
	}
	divisor := new(uint256.Int)
	for i := 1; numeratorAccum.Sign() > 0; i++ {
		_, overflow = output.AddOverflow(output, numeratorAccum)
		if overflow {
			return nil, fmt.Errorf("FakeExponential: overflow in AddOverflow(output=%v, numeratorAccum=%v)", output, numeratorAccum)
		}
		_, overflow = divisor.MulOverflow(denom, uint256.NewInt(uint64(i)))
		if overflow {
			return nil, fmt.Errorf("FakeExponential: overflow in MulOverflow(denom=%v, i=%v)", denom, i)
		}
		_, overflow = numeratorAccum.MulDivOverflow(numeratorAccum, numerator, divisor)
		if overflow {
			return nil, fmt.Errorf("FakeExponential: overflow in MulDivOverflow(numeratorAccum=%v, numerator=%v, divisor=%v)", numeratorAccum, numerator, divisor)
		}
	}
	return output.Div(output, denom), nil
}

// GetBlobGasPrice returns the fee-per-blob-gas a publishing transaction must
// offer as maxFeePerBlobGas given the current excess blob gas.
func GetBlobGasPrice(p Params, excessBlobGas uint64) (*uint256.Int, error) {
	if p.BlobGasPriceUpdateFraction == 0 {
		return nil, errors.New("blobgas: BlobGasPriceUpdateFraction must be non-zero")
	}
	return FakeExponential(uint256.NewInt(p.MinBlobGasPrice), uint256.NewInt(p.BlobGasPriceUpdateFraction), excessBlobGas)
}

// GasUsed returns the blob gas a publication consumes for numBlobs blobs.
func GasUsed(numBlobs int) uint64 {
	return uint64(numBlobs) * BlobGasPerBlob
}
