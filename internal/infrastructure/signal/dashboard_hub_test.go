package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callscope/internal/core/domain"
	"callscope/internal/infrastructure/distributed"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type received struct {
	Type      domain.EventName `json:"type"`
	SessionID domain.SessionID `json:"session_id"`
	RoomID    domain.RoomID    `json:"room_id"`
	Instance  string           `json:"instance"`
	Payload   json.RawMessage  `json:"payload"`
}

func newTestHub(t *testing.T, cfg HubConfig) (*DashboardHub, *httptest.Server) {
	hub := NewDashboardHub(cfg, zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, hub *DashboardHub, srv *httptest.Server, query string, want int) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.ClientCount() == want }, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestDashboardHub_BroadcastsBusEvents(t *testing.T) {
	hub, srv := newTestHub(t, DefaultHubConfig())
	conn := dial(t, hub, srv, "", 1)

	hub.HandleEvent(domain.Event{
		Name:      domain.ConnectionQualityUpdate,
		SessionID: "room1-peerA",
		RoomID:    "room1",
		Payload:   domain.QualityPayload{Quality: domain.ConnectionQuality{Score: 4}},
	})

	msg := readMessage(t, conn)
	assert.Equal(t, domain.ConnectionQualityUpdate, msg.Type)
	assert.Equal(t, domain.SessionID("room1-peerA"), msg.SessionID)
	assert.JSONEq(t, `{"quality":{"score":4,"rtt":0,"bandwidth":0,"packet_loss":0}}`, string(msg.Payload))
}

func TestDashboardHub_RoomFilter(t *testing.T) {
	hub, srv := newTestHub(t, DefaultHubConfig())
	conn := dial(t, hub, srv, "?room_id=room2", 1)

	hub.HandleEvent(domain.Event{Name: domain.CallSessionStarted, RoomID: "room1"})
	hub.HandleEvent(domain.Event{Name: domain.GlobalMetricsEvent})
	hub.HandleEvent(domain.Event{Name: domain.CallSessionEnded, RoomID: "room2"})

	assert.Equal(t, domain.GlobalMetricsEvent, readMessage(t, conn).Type)
	msg := readMessage(t, conn)
	assert.Equal(t, domain.CallSessionEnded, msg.Type)
	assert.Equal(t, domain.RoomID("room2"), msg.RoomID)
}

func TestDashboardHub_ClientMessages(t *testing.T) {
	hub, srv := newTestHub(t, DefaultHubConfig())
	conn := dial(t, hub, srv, "?room_id=room2", 1)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "unsubscribe"}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "ping"}))
	assert.Equal(t, domain.EventName("pong"), readMessage(t, conn).Type)

	// The pong proves the unsubscribe was processed first.
	hub.HandleEvent(domain.Event{Name: domain.CallSessionStarted, RoomID: "room1"})
	assert.Equal(t, domain.CallSessionStarted, readMessage(t, conn).Type)
}

func TestDashboardHub_RemoteEvents(t *testing.T) {
	hub, srv := newTestHub(t, DefaultHubConfig())
	conn := dial(t, hub, srv, "", 1)

	hub.HandleRemoteEvent(&distributed.RemoteEvent{
		Name:       domain.ErrorRecorded,
		InstanceID: "node-2",
		RoomID:     "room9",
		Payload:    json.RawMessage(`{"error_event":{"type":"error"}}`),
	})

	msg := readMessage(t, conn)
	assert.Equal(t, "node-2", msg.Instance)
	assert.JSONEq(t, `{"error_event":{"type":"error"}}`, string(msg.Payload))
}

func TestDashboardHub_MaxClients(t *testing.T) {
	cfg := DefaultHubConfig()
	cfg.MaxClients = 1
	hub, srv := newTestHub(t, cfg)
	dial(t, hub, srv, "", 1)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDashboardHub_CloseDisconnectsClients(t *testing.T) {
	hub, srv := newTestHub(t, DefaultHubConfig())
	conn := dial(t, hub, srv, "", 1)

	hub.Close()

	assert.Equal(t, 0, hub.ClientCount())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestCheckOrigin(t *testing.T) {
	hub := NewDashboardHub(HubConfig{AllowedOrigins: []string{"https://ops.example.com"}}, zaptest.NewLogger(t).Sugar())

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	assert.True(t, hub.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, hub.checkOrigin(req))
}
