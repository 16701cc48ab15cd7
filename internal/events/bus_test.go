package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(TopicBatchCreated)

	bus.Publish(TopicBatchCreated, "batch-1")

	select {
	case got := <-ch:
		require.Equal(t, "batch-1", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPublishIsNonBlockingWhenNoSubscriber(t *testing.T) {
	bus := New()
	done := make(chan struct{})
	go func() {
		bus.Publish(TopicBatchAnchored, "nobody listening")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers")
	}
}

func TestPublishFansOutToMultipleSubscribers(t *testing.T) {
	bus := New()
	a := bus.Subscribe(TopicReceiptConfirmed)
	b := bus.Subscribe(TopicReceiptConfirmed)

	bus.Publish(TopicReceiptConfirmed, "r1")

	require.Equal(t, "r1", <-a)
	require.Equal(t, "r1", <-b)
}

func TestPublishDoesNotCrossTopics(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(TopicReceiptFailed)

	bus.Publish(TopicReceiptConfirmed, "wrong-topic")

	select {
	case v := <-ch:
		t.Fatalf("unexpected delivery across topics: %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishDropsWhenSubscriberBufferIsFull(t *testing.T) {
	bus := New()
	ch := bus.Subscribe(TopicBatchSubmitted)

	for i := 0; i < 64; i++ {
		bus.Publish(TopicBatchSubmitted, i)
	}

	// Buffer capacity is 32; the remaining 32 publishes are dropped rather
	// than blocking, so the channel holds at most its buffer size.
	require.Equal(t, 32, len(ch))
}
