// Copyright 2017 The go-ethereum Authors
// (original work)
// Copyright 2024 The Erigon Authors
// (modifications)
// Copyright 2026 The Anchor Authors
// (further modifications)
// This file is part of rollup-anchor.
//
// rollup-anchor is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// rollup-anchor is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.

// Package mathutil provides small integer helpers shared by the Sequencer's
// batch-size bound and the Explorer's pagination math.
package mathutil

// CeilDiv divides x by y, rounding up. Used to compute batch page counts
// for Explorer range queries.
func CeilDiv(x, y int) int {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}

// MinInt returns the smaller of a and b, used to clamp the Sequencer's drained
// batch size and the Explorer's listEvents page limit against their ceilings.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
