package daadapter

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rollupanchor/anchor/internal/merkle"
	"github.com/rollupanchor/anchor/internal/sequencer"
)

func TestChoosePublishMethodBoundary(t *testing.T) {
	// spec.md §8: "maxCalldataSize boundary at exactly the threshold
	// selects calldata path".
	require.Equal(t, MethodCalldata, choosePublishMethod(true, 100, 100))
	require.Equal(t, MethodBlob, choosePublishMethod(true, 101, 100))
	require.Equal(t, MethodCalldata, choosePublishMethod(false, 101, 100))
}

func TestSerializeProducesHexEncodedJSON(t *testing.T) {
	batch := sequencer.Batch{
		ID:         "batch-1",
		MerkleRoot: merkle.Keccak256([]byte("root")),
		EventCount: 1,
		StartTime:  1,
		EndTime:    2,
		Events: []sequencer.Event{
			{ID: "e1", Type: sequencer.EventMessage, Timestamp: 1, UserID: "u1", Data: json.RawMessage(`{"a":1}`)},
		},
	}

	out, err := serialize(batch)
	require.NoError(t, err)

	decoded, err := hex.DecodeString(string(out))
	require.NoError(t, err)

	var bd batchData
	require.NoError(t, json.Unmarshal(decoded, &bd))
	require.Equal(t, "batch-1", bd.BatchID)
	require.Len(t, bd.Events, 1)
	require.Equal(t, "e1", bd.Events[0].ID)
	require.NotEmpty(t, bd.Events[0].DataHash)
}
