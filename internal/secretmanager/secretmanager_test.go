package secretmanager

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"
)

func openTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.db")
	db, err := bbolt.Open(path, 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := New(db, []byte("passphrase"), []byte("deployment-salt"))
	require.NoError(t, err)
	return m
}

func TestPutGetRoundTrips(t *testing.T) {
	m := openTestManager(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, m.Put("db-password", []byte("hunter2"), "operator", now))

	got, err := m.Get("db-password", "operator", now)
	require.NoError(t, err)
	require.Equal(t, []byte("hunter2"), got)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	m := openTestManager(t)
	_, err := m.Get("nope", "operator", time.Unix(0, 0))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutIncrementsRotationCountOnOverwrite(t *testing.T) {
	m := openTestManager(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, m.Put("api-key", []byte("v1"), "operator", now))
	require.NoError(t, m.Put("api-key", []byte("v2"), "operator", now.Add(time.Hour)))

	var stored Secret
	require.NoError(t, m.db.View(func(tx *bbolt.Tx) error {
		return json.Unmarshal(tx.Bucket(secretBucket).Get([]byte("api-key")), &stored)
	}))
	require.Equal(t, 1, stored.RotationCount)

	log, err := m.AuditLog("api-key")
	require.NoError(t, err)
	require.Len(t, log, 2)
	require.Equal(t, "put", log[0].Action)
	require.Equal(t, "put", log[1].Action)
}

func TestNeedsRotationTrueWithinWarningWindow(t *testing.T) {
	m := openTestManager(t)
	created := time.Unix(1_700_000_000, 0)
	require.NoError(t, m.Put("cert", []byte("pem-bytes"), "operator", created))

	notYet, err := m.NeedsRotation("cert", created.Add(10*24*time.Hour))
	require.NoError(t, err)
	require.False(t, notYet)

	dueSoon, err := m.NeedsRotation("cert", created.Add(84*24*time.Hour))
	require.NoError(t, err)
	require.True(t, dueSoon)
}

func TestIssueTURNCredentialClampsTTLAndIsDeterministic(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	u1, c1 := IssueTURNCredential("alice", "secret", time.Hour, now)
	u2, c2 := IssueTURNCredential("alice", "secret", 45*time.Minute, now)
	require.Equal(t, u1, u2)
	require.Equal(t, c1, c2)

	u3, _ := IssueTURNCredential("alice", "secret", 5*time.Minute, now)
	require.NotEqual(t, u1, u3)
}
