package events

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ratesync/ratesync/internal/refresh"
)

func setupHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()

	hub := NewHub()
	go hub.Run()

	e := echo.New()
	e.GET("/ws", hub.HandleWebSocket)

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err, "dial should succeed")
	t.Cleanup(func() { conn.Close() })

	waitForClients(t, hub, 1)
	return hub, conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, want, hub.ClientCount())
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "read should succeed")

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestBroadcastReachesClient(t *testing.T) {
	hub, conn := setupHub(t)

	require.NoError(t, hub.Broadcast("test:event", map[string]string{"key": "value"}))

	msg := readMessage(t, conn)
	assert.Equal(t, "test:event", msg.Type)
	assert.NotEmpty(t, msg.Timestamp)

	payload, ok := msg.Payload.(map[string]interface{})
	require.True(t, ok, "payload should be an object")
	assert.Equal(t, "value", payload["key"])
}

func TestNotifierEvents(t *testing.T) {
	hub, conn := setupHub(t)

	report := &refresh.Report{
		RunID:    "run-1",
		Trigger:  "manual",
		Selected: 2,
	}

	hub.RunStarted(report)
	msg := readMessage(t, conn)
	assert.Equal(t, "run:started", msg.Type)
	payload := msg.Payload.(map[string]interface{})
	assert.Equal(t, "run-1", payload["runId"])

	result := refresh.ItemResult{ItemID: 7, Title: "Alien", Outcome: refresh.OutcomeUpdated, Rating: 8.5}
	report.Items = append(report.Items, result)
	hub.ItemProcessed(report, result)
	msg = readMessage(t, conn)
	assert.Equal(t, "run:progress", msg.Type)
	payload = msg.Payload.(map[string]interface{})
	assert.Equal(t, float64(1), payload["processed"])

	hub.RunCompleted(report)
	msg = readMessage(t, conn)
	assert.Equal(t, "run:completed", msg.Type)
}

func TestClientDisconnect(t *testing.T) {
	hub, conn := setupHub(t)

	conn.Close()
	waitForClients(t, hub, 0)

	// Broadcasting with no clients must not block.
	require.NoError(t, hub.Broadcast("test:event", nil))
}
