package streaming

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rollupanchor/anchor/internal/events"
)

func TestHandlerRelaysPublishedPayload(t *testing.T) {
	bus := events.New()
	srv := httptest.NewServer(Handler(bus, zap.NewNop(), events.TopicBatchAnchored))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutine time to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	bus.Publish(events.TopicBatchAnchored, map[string]string{"batchId": "b1"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, string(events.TopicBatchAnchored), got["topic"])
}
