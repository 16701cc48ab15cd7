package explorer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openTestBolt(t *testing.T) *bbolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fallback.db")
	db, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFallbackStorePutGet(t *testing.T) {
	fb, err := newFallbackStore(openTestBolt(t), 10)
	require.NoError(t, err)

	require.NoError(t, fb.put(Entry{AppID: "atlas", EventID: "e1", Timestamp: 100, Payload: []byte(`{"x":1}`)}))

	payload, ok := fb.get("e1")
	require.True(t, ok)
	require.Equal(t, []byte(`{"x":1}`), payload)

	_, ok = fb.get("missing")
	require.False(t, ok)
}

func TestFallbackStoreIsBounded(t *testing.T) {
	fb, err := newFallbackStore(openTestBolt(t), 3)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		id := string(rune('a' + i))
		require.NoError(t, fb.put(Entry{EventID: id, Payload: []byte(id)}))
	}

	// Oldest entries ("a","b",...) should have been evicted; only the most
	// recent 3 remain.
	_, ok := fb.get("a")
	require.False(t, ok)
	_, ok = fb.get("j")
	require.True(t, ok)
}

func TestFallbackStoreDelete(t *testing.T) {
	fb, err := newFallbackStore(openTestBolt(t), 10)
	require.NoError(t, err)
	require.NoError(t, fb.put(Entry{EventID: "e1", Payload: []byte("x")}))
	fb.delete("e1")
	_, ok := fb.get("e1")
	require.False(t, ok)
}
