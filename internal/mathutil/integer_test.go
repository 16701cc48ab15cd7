package mathutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCeilDiv(t *testing.T) {
	require.Equal(t, 4, CeilDiv(10, 3))
	require.Equal(t, 3, CeilDiv(9, 3))
	require.Equal(t, 0, CeilDiv(10, 0))
}

func TestMinInt(t *testing.T) {
	require.Equal(t, 3, MinInt(3, 5))
	require.Equal(t, 3, MinInt(5, 3))
}
