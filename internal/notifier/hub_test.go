package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastsAlerts(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Close()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Notify(context.Background(), sampleEvent()))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "alert", msg.Type)
	assert.Equal(t, "HIGH_TEMPERATURE", msg.Payload["reason"])
	assert.Equal(t, "dev-1", msg.Payload["deviceId"])
}

func TestHubNotifyAfterCloseFails(t *testing.T) {
	hub := NewHub()
	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Fill the buffer so only the closed or cancelled branches can win.
	for i := 0; i < sendBuffer; i++ {
		hub.broadcast <- []byte("x")
	}
	assert.Error(t, hub.Notify(ctx, sampleEvent()))
}
