package sequencer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildBatchSortsByTimestampThenID(t *testing.T) {
	evs := []Event{
		{ID: "b", Timestamp: 2, Data: json.RawMessage(`{}`)},
		{ID: "a", Timestamp: 1, Data: json.RawMessage(`{}`)},
		{ID: "c", Timestamp: 1, Data: json.RawMessage(`{}`)},
	}
	batch, err := buildBatch(evs)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c", "b"}, ids(batch.Events))
	require.EqualValues(t, 1, batch.StartTime)
	require.EqualValues(t, 2, batch.EndTime)
	require.Equal(t, 3, batch.EventCount)
}

func TestBuildBatchMerkleRootPermutationInvariant(t *testing.T) {
	mk := func(id string, ts int64) Event { return Event{ID: id, Timestamp: ts, Data: json.RawMessage(`{}`)} }

	batch1, err := buildBatch([]Event{mk("b", 2), mk("a", 1), mk("c", 1)})
	require.NoError(t, err)
	batch2, err := buildBatch([]Event{mk("a", 1), mk("b", 2), mk("c", 1)})
	require.NoError(t, err)

	require.Equal(t, batch1.MerkleRoot, batch2.MerkleRoot)
}

func ids(evs []Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.ID
	}
	return out
}
