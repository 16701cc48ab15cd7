package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/chainclient"
	"github.com/rollupanchor/anchor/internal/events"
)

type fakeContract struct {
	result chainclient.TxResult
	err    error
}

func (f *fakeContract) EmitCrossChainReceipt(ctx context.Context, receiptID, targetChain string, encodedData []byte) (chainclient.TxResult, error) {
	if f.err != nil {
		return chainclient.TxResult{}, f.err
	}
	return f.result, nil
}

type fakeProvider struct {
	mu     sync.Mutex
	blocks []uint64
	idx    int
}

func (f *fakeProvider) GetBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.blocks) {
		return f.blocks[len(f.blocks)-1], nil
	}
	b := f.blocks[f.idx]
	f.idx++
	return b, nil
}

type failingProvider struct {
	mu    sync.Mutex
	calls int
}

func (f *failingProvider) GetBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return 0, errors.New("rpc unavailable")
}

func TestWatchFailsRelayAfterExhaustingPollRetryBudget(t *testing.T) {
	bus := events.New()
	failed := bus.Subscribe(events.TopicReceiptFailed)

	contract := &fakeContract{result: chainclient.TxResult{TxHash: "0xccc"}}
	provider := &failingProvider{}
	r := New(Config{ConfirmationBlocks: 12, PollInterval: 5 * time.Millisecond}, contract, provider, bus, zap.NewNop())

	require.NoError(t, r.RelayReceipt(context.Background(), ReceiptRequest{ReceiptID: "r4", TargetChain: "chainB"}))

	select {
	case payload := <-failed:
		require.Equal(t, "r4", payload)
	case <-time.After(2 * time.Second):
		t.Fatal("expected TopicReceiptFailed publish after exhausting poll retry budget")
	}
	require.Equal(t, 0, r.Pending())
}

func TestRelayReceiptFailsSubmissionPublishesFailedWithoutWatch(t *testing.T) {
	bus := events.New()
	failures := bus.Subscribe(events.TopicReceiptFailed)

	contract := &fakeContract{err: errors.New("contract reverted")}
	r := New(Config{ConfirmationBlocks: 12, PollInterval: 10 * time.Millisecond}, contract, &fakeProvider{}, bus, zap.NewNop())

	err := r.RelayReceipt(context.Background(), ReceiptRequest{ReceiptID: "r1", TargetChain: "chainB"})
	require.Error(t, err)
	require.Equal(t, 0, r.Pending())

	select {
	case payload := <-failures:
		require.Equal(t, "r1", payload)
	case <-time.After(time.Second):
		t.Fatal("expected TopicReceiptFailed publish")
	}
}

func TestRelayReceiptConfirmsAfterConfirmationDepth(t *testing.T) {
	bus := events.New()
	confirmed := bus.Subscribe(events.TopicReceiptConfirmed)

	contract := &fakeContract{result: chainclient.TxResult{TxHash: "0xaaa"}}
	provider := &fakeProvider{blocks: []uint64{100, 100, 112, 113}}
	r := New(Config{ConfirmationBlocks: 12, PollInterval: 5 * time.Millisecond}, contract, provider, bus, zap.NewNop())

	err := r.RelayReceipt(context.Background(), ReceiptRequest{ReceiptID: "r2", TargetChain: "chainB"})
	require.NoError(t, err)

	select {
	case payload := <-confirmed:
		require.Equal(t, "r2", payload)
	case <-time.After(2 * time.Second):
		t.Fatal("expected TopicReceiptConfirmed publish")
	}
	require.Equal(t, 0, r.Pending())
}

func TestCleanupCancelsWatchersWithoutEmitting(t *testing.T) {
	bus := events.New()
	confirmed := bus.Subscribe(events.TopicReceiptConfirmed)

	contract := &fakeContract{result: chainclient.TxResult{TxHash: "0xbbb"}}
	provider := &fakeProvider{blocks: []uint64{1}}
	r := New(Config{ConfirmationBlocks: 12, PollInterval: time.Hour}, contract, provider, bus, zap.NewNop())

	require.NoError(t, r.RelayReceipt(context.Background(), ReceiptRequest{ReceiptID: "r3", TargetChain: "chainB"}))
	require.Equal(t, 1, r.Pending())

	r.Cleanup()
	require.Equal(t, 0, r.Pending())

	select {
	case <-confirmed:
		t.Fatal("did not expect a confirmation event after cleanup")
	case <-time.After(50 * time.Millisecond):
	}
}
