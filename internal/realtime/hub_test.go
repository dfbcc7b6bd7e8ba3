package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbd888/guardian/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoDispatcher answers every message with its type. Types starting with
// ASYNC_ reply from a goroutine after a short delay.
type echoDispatcher struct {
	calls atomic.Int32
}

func (d *echoDispatcher) Dispatch(_ context.Context, msg *router.Message, reply func(router.Response)) bool {
	d.calls.Add(1)
	resp := router.Response{"success": true, "echo": string(msg.Type), "requestId": msg.RequestID}
	if strings.HasPrefix(string(msg.Type), "ASYNC_") {
		go func() {
			time.Sleep(20 * time.Millisecond)
			reply(resp)
		}()
		return true
	}
	reply(resp)
	return false
}

func testHub() *Hub {
	return NewHub(&echoDispatcher{}, slog.Default())
}

func startHub(t *testing.T, h *Hub) (*httptest.Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, cancel
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.Stats()["connectedClients"].(int) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShouldSend_EmptySubscriptionGetsAll(t *testing.T) {
	h := testHub()
	client := &Client{}
	if !h.shouldSend(client, &Event{Type: router.EventPendingAdded}) {
		t.Error("empty subscription should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{EventTypes: []string{router.EventPendingAdded}}}

	if !h.shouldSend(client, &Event{Type: router.EventPendingAdded}) {
		t.Error("should receive pending_added")
	}
	if h.shouldSend(client, &Event{Type: router.EventSettingsUpdated}) {
		t.Error("should NOT receive settings_updated")
	}
}

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	client := &Client{hub: h, send: make(chan []byte, 256)}
	h.register <- client
	waitForClients(t, h, 1)

	h.unregister <- client
	waitForClients(t, h, 0)
	assert.Equal(t, int64(1), h.Stats()["peakClients"])
	assert.False(t, client.trySend([]byte("x")), "closed clients refuse sends")
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := &Client{hub: h, send: make(chan []byte)} // unbuffered, never read
	h.register <- slow
	waitForClients(t, h, 1)

	h.Publish(router.EventPendingAdded, map[string]any{"id": "tx_1"})
	waitForClients(t, h, 0)
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestWebSocket_DispatchesAndReplies(t *testing.T) {
	d := &echoDispatcher{}
	h := NewHub(d, slog.Default())
	srv, _ := startHub(t, h)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(router.Message{Type: "GET_SETTINGS", RequestID: "r-1"}))
	resp := readJSON(t, conn)
	assert.Equal(t, "r-1", resp["requestId"])
	assert.Equal(t, "GET_SETTINGS", resp["echo"])
}

func TestWebSocket_AsyncRepliesOutOfOrder(t *testing.T) {
	h := NewHub(&echoDispatcher{}, slog.Default())
	srv, _ := startHub(t, h)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteJSON(router.Message{Type: "ASYNC_ANALYZE", RequestID: "slow"}))
	require.NoError(t, conn.WriteJSON(router.Message{Type: "GET_SETTINGS", RequestID: "fast"}))

	first := readJSON(t, conn)
	second := readJSON(t, conn)
	assert.Equal(t, "fast", first["requestId"])
	assert.Equal(t, "slow", second["requestId"])
}

func TestWebSocket_BadFrame(t *testing.T) {
	h := testHub()
	srv, _ := startHub(t, h)
	conn := dial(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	resp := readJSON(t, conn)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, router.CodeValidation, resp["code"])
}

func TestWebSocket_SubscribeAndReceiveEvents(t *testing.T) {
	h := testHub()
	srv, _ := startHub(t, h)
	conn := dial(t, srv)
	waitForClients(t, h, 1)

	payload, _ := json.Marshal(Subscription{EventTypes: []string{router.EventPendingResolved}})
	require.NoError(t, conn.WriteJSON(router.Message{Type: TypeSubscribe, Payload: payload, RequestID: "sub"}))
	ack := readJSON(t, conn)
	assert.Equal(t, true, ack["success"])

	h.Publish(router.EventPendingAdded, map[string]any{"id": "filtered"})
	h.Publish(router.EventPendingResolved, map[string]any{"id": "tx_9", "approved": true})

	ev := readJSON(t, conn)
	assert.Equal(t, router.EventPendingResolved, ev["type"])
	assert.Equal(t, "tx_9", ev["data"].(map[string]any)["id"])
}

func TestWebSocket_MaxClients(t *testing.T) {
	h := NewHub(&echoDispatcher{}, slog.Default(), WithMaxClients(1))
	srv, _ := startHub(t, h)
	dial(t, srv)
	waitForClients(t, h, 1)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHub(&echoDispatcher{}, slog.Default(), WithAllowedOrigins([]string{"https://dash.example"}))
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://guardian.local/v1/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, h.checkOrigin(req("")))
	assert.True(t, h.checkOrigin(req("chrome-extension://abcdef")))
	assert.True(t, h.checkOrigin(req("http://guardian.local")))
	assert.True(t, h.checkOrigin(req("https://dash.example")))
	assert.False(t, h.checkOrigin(req("https://evil.example")))
}
