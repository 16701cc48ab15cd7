package blobgas

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{
		TargetBlobGasPerBlock:      3 * BlobGasPerBlob,
		MinBlobGasPrice:            1,
		BlobGasPriceUpdateFraction: 3338477,
	}
}

func TestCalcExcessBlobGasBelowTargetIsZero(t *testing.T) {
	p := testParams()
	require.Equal(t, uint64(0), CalcExcessBlobGas(p, 0, BlobGasPerBlob))
}

func TestCalcExcessBlobGasAboveTarget(t *testing.T) {
	p := testParams()
	got := CalcExcessBlobGas(p, p.TargetBlobGasPerBlock, BlobGasPerBlob)
	require.Equal(t, uint64(BlobGasPerBlob), got)
}

func TestGetBlobGasPriceAtZeroExcessEqualsFloor(t *testing.T) {
	p := testParams()
	price, err := GetBlobGasPrice(p, 0)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(p.MinBlobGasPrice), price)
}

func TestGetBlobGasPriceIncreasesWithExcess(t *testing.T) {
	p := testParams()
	low, err := GetBlobGasPrice(p, BlobGasPerBlob)
	require.NoError(t, err)
	high, err := GetBlobGasPrice(p, 10*BlobGasPerBlob)
	require.NoError(t, err)
	require.True(t, high.Gt(low))
}

func TestGetBlobGasPriceRejectsZeroUpdateFraction(t *testing.T) {
	p := testParams()
	p.BlobGasPriceUpdateFraction = 0
	_, err := GetBlobGasPrice(p, 0)
	require.Error(t, err)
}

func TestGasUsed(t *testing.T) {
	require.Equal(t, uint64(2*BlobGasPerBlob), GasUsed(2))
	require.Equal(t, uint64(0), GasUsed(0))
}
