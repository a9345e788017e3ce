package internal_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-realtime-pong/internal"
)

func newHandlerServer(t *testing.T) (*httptest.Server, *internal.Manager) {
	t.Helper()

	cfg := smallConfig()
	logger := newTestLogger()
	hub := internal.NewHub(cfg, logger)
	manager := internal.NewManager(cfg, logger, hub)
	handler := internal.NewHandler(manager, hub, logger)

	server := httptest.NewServer(handler.Routes())
	t.Cleanup(func() {
		server.Close()
		manager.Stop()
	})
	return server, manager
}

// TestHealthEndpoint 測試健康檢查
func TestHealthEndpoint(t *testing.T) {
	server, _ := newHandlerServer(t)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

// TestListRoomsEndpoint 測試大廳快照的 HTTP 視圖
func TestListRoomsEndpoint(t *testing.T) {
	server, manager := newHandlerServer(t)

	require.NoError(t, manager.RequestRoom("p1", "alice", 2))

	resp, err := http.Get(server.URL + "/api/v1/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Rooms []internal.RoomSummary `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	require.Len(t, body.Rooms, 4)
	assert.Equal(t, internal.StatusWaiting, body.Rooms[2].Status)
	require.NotNil(t, body.Rooms[2].Player1)
	assert.Equal(t, "alice", *body.Rooms[2].Player1)
}

// TestStatsEndpoint 測試統計資訊
func TestStatsEndpoint(t *testing.T) {
	server, manager := newHandlerServer(t)

	require.NoError(t, manager.RequestRoom("p1", "alice", 0))

	resp, err := http.Get(server.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 4, body["total_rooms"])
	assert.EqualValues(t, 1, body["total_players"])
	assert.EqualValues(t, 0, body["connections"])
}

// TestMethodRouting 測試只註冊了 GET 路由
func TestMethodRouting(t *testing.T) {
	server, _ := newHandlerServer(t)

	resp, err := http.Post(server.URL+"/health", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
