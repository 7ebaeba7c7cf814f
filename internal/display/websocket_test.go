package display

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetvision/orchestrator/internal/composite"
)

func TestWebSocketSinkDeliversFrameToViewer(t *testing.T) {
	sink := NewWebSocketSink()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", sink.HandleWebSocket)
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial viewer websocket: %v", err)
	}
	defer conn.Close()

	// Give the server goroutine time to register the client before publishing.
	time.Sleep(20 * time.Millisecond)

	sink.Publish(composite.Frame{Pixels: []byte{1, 2, 3}, Width: 1, Height: 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a frame from the sink, got error: %v", err)
	}
	if len(data) != 8+3 {
		t.Fatalf("expected 11-byte encoded frame, got %d", len(data))
	}
}
