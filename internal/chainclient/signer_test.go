package chainclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecretSignerIsDeterministic(t *testing.T) {
	s := NewSecretSigner("0xabc", []byte("k1"))
	tx := &Transaction{To: "0xdef", Data: []byte("payload")}

	require.NoError(t, s.SignTx(context.Background(), tx))
	first := tx.Signature
	require.NotEmpty(t, first)

	tx2 := &Transaction{To: "0xdef", Data: []byte("payload")}
	require.NoError(t, s.SignTx(context.Background(), tx2))
	require.Equal(t, first, tx2.Signature)
}

func TestSecretSignerDiffersByKeyAndPayload(t *testing.T) {
	tx := &Transaction{Data: []byte("payload")}
	require.NoError(t, NewSecretSigner("0xabc", []byte("k1")).SignTx(context.Background(), tx))
	sigK1 := tx.Signature

	tx2 := &Transaction{Data: []byte("payload")}
	require.NoError(t, NewSecretSigner("0xabc", []byte("k2")).SignTx(context.Background(), tx2))
	require.NotEqual(t, sigK1, tx2.Signature)

	tx3 := &Transaction{Data: []byte("other-payload")}
	require.NoError(t, NewSecretSigner("0xabc", []byte("k1")).SignTx(context.Background(), tx3))
	require.NotEqual(t, sigK1, tx3.Signature)
}

func TestSecretSignerAddress(t *testing.T) {
	s := NewSecretSigner("0xabc", []byte("k1"))
	require.Equal(t, "0xabc", s.Address())
}
