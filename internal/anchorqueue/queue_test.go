package anchorqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/outbox"
)

func TestEnvelopeRoundTripsTimestampAndData(t *testing.T) {
	raw, err := json.Marshal(envelope{Timestamp: 1000, Data: json.RawMessage(`{"id":"e1"}`)})
	require.NoError(t, err)

	var decoded envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.EqualValues(t, 1000, decoded.Timestamp)
	require.JSONEq(t, `{"id":"e1"}`, string(decoded.Data))
}

type fakeDispatcher struct {
	mu       sync.Mutex
	active   bool
	fail     bool
	accepted []Job
}

func (f *fakeDispatcher) Submit(_ context.Context, job Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("dispatch backend unavailable")
	}
	f.accepted = append(f.accepted, job)
	return nil
}

func (f *fakeDispatcher) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func TestDispatchWithBackoffInactiveDispatcherLeavesRowPending(t *testing.T) {
	q := &Queue{
		dispatcher:  &fakeDispatcher{active: false},
		backoffBase: time.Millisecond,
		maxAttempts: 2,
		log:         zap.NewNop(),
	}
	require.False(t, q.dispatchWithBackoff(context.Background(), Job{OutboxID: "o1"}))
}

func TestDispatchWithBackoffSucceeds(t *testing.T) {
	d := &fakeDispatcher{active: true}
	q := &Queue{dispatcher: d, backoffBase: time.Millisecond, maxAttempts: 2, log: zap.NewNop()}
	require.True(t, q.dispatchWithBackoff(context.Background(), Job{OutboxID: "o1"}))
	require.Len(t, d.accepted, 1)
}

func TestDispatchWithBackoffExhaustsRetriesOnPersistentFailure(t *testing.T) {
	d := &fakeDispatcher{active: true, fail: true}
	q := &Queue{dispatcher: d, backoffBase: time.Millisecond, maxAttempts: 2, log: zap.NewNop()}
	require.False(t, q.dispatchWithBackoff(context.Background(), Job{OutboxID: "o1"}))
}

// TestRedispatchInactiveDispatcherSkipsStoreEntirely guards the reconciler
// regression this fixes: resubmitting an already-persisted row must reach
// the dispatcher's Submit directly (not Write's idempotency-key dedup
// branch). With no store wired, Redispatch must still return false cleanly
// when the dispatcher is inactive, proving it never calls Write.
func TestRedispatchInactiveDispatcherSkipsStoreEntirely(t *testing.T) {
	d := &fakeDispatcher{active: false}
	q := &Queue{dispatcher: d, backoffBase: time.Millisecond, maxAttempts: 2, log: zap.NewNop()}

	ev := outbox.Event{ID: "o1", Digest: "d1", IdempotencyKey: "k1", AppID: "atlas", Type: "msg"}
	require.False(t, q.Redispatch(context.Background(), ev))
	require.Empty(t, d.accepted)
}

func TestDispatchWithBackoffCarriesRowJobIdentity(t *testing.T) {
	d := &fakeDispatcher{active: true}
	q := &Queue{dispatcher: d, backoffBase: time.Millisecond, maxAttempts: 2, log: zap.NewNop()}

	ev := outbox.Event{ID: "o1", Digest: "d1", IdempotencyKey: "k1", AppID: "atlas", Type: "msg"}
	require.True(t, q.dispatchWithBackoff(context.Background(), Job{
		OutboxID: ev.ID, Digest: ev.Digest, IdempotencyKey: ev.IdempotencyKey, AppID: ev.AppID, Type: ev.Type,
	}))
	require.Len(t, d.accepted, 1)
	require.Equal(t, ev.ID, d.accepted[0].OutboxID)
	require.Equal(t, ev.Digest, d.accepted[0].Digest)
}
