package internal_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/14-realtime-pong/internal"
)

// envelope 測試端的鬆散出站消息視圖，按 type 取用對應欄位
type envelope struct {
	Type        string                 `json:"type"`
	ID          string                 `json:"id"`
	RoomID      int                    `json:"roomId"`
	PlayerIndex int                    `json:"playerIndex"`
	Message     string                 `json:"message"`
	PlayerName  string                 `json:"name"`
	Rooms       []internal.RoomSummary `json:"rooms"`
	Seq         uint64                 `json:"seq"`
	TS          int64                  `json:"ts"`
	State       *internal.GameState    `json:"state"`
	Winner      int                    `json:"winner"`
	Scores      [2]int                 `json:"scores"`
}

func wsTestConfig() *internal.Config {
	cfg := internal.DefaultConfig()
	cfg.Game.Rooms = 4
	// 心跳保持預設的長週期：這裡的客戶端不回 pong，
	// 測試期間不能被誤清除
	cfg.Lobby.BroadcastInterval = 100 * time.Millisecond
	return cfg
}

// newWSServer 組裝一個完整的服務器實例並掛到測試 HTTP 服務上
func newWSServer(t *testing.T, cfg *internal.Config) (*httptest.Server, *internal.Hub) {
	t.Helper()

	logger := newTestLogger()
	hub := internal.NewHub(cfg, logger)
	manager := internal.NewManager(cfg, logger, hub)
	hub.Start(manager)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	server := httptest.NewServer(mux)

	t.Cleanup(func() {
		server.Close()
		hub.Stop()
		manager.Stop()
	})
	return server, hub
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

// awaitMessage 讀取消息直到謂詞成立（心跳與無關消息一律跳過）
func awaitMessage(t *testing.T, ws *websocket.Conn, timeout time.Duration, pred func(envelope) bool) envelope {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(timeout)))
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "等待消息時連接中斷")

		var env envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if pred(env) {
			return env
		}
	}
}

func awaitType(t *testing.T, ws *websocket.Conn, msgType string) envelope {
	t.Helper()
	return awaitMessage(t, ws, 3*time.Second, func(env envelope) bool {
		return env.Type == msgType
	})
}

// TestServeWSHandshake 測試連接建立即收到編號、命名提示與初始大廳快照
func TestServeWSHandshake(t *testing.T) {
	server, hub := newWSServer(t, wsTestConfig())
	ws := dialWS(t, server)

	assigned := awaitType(t, ws, "assigned")
	assert.NotEmpty(t, assigned.ID)

	awaitType(t, ws, "requestName")

	snap := awaitType(t, ws, "lobbySnapshot")
	assert.Len(t, snap.Rooms, 4)

	require.Eventually(t, func() bool {
		return hub.ConnCount() == 1
	}, time.Second, 10*time.Millisecond)
}

// TestMatchOverWebSocket 測試完整對局流程：命名、佔房、開局、
// 狀態流、球拍意圖
func TestMatchOverWebSocket(t *testing.T) {
	server, _ := newWSServer(t, wsTestConfig())
	ws1 := dialWS(t, server)
	ws2 := dialWS(t, server)

	sendJSON(t, ws1, map[string]any{"type": "setName", "name": "alice"})
	joined := awaitType(t, ws1, "joined")
	assert.Equal(t, "alice", joined.PlayerName)

	sendJSON(t, ws2, map[string]any{"type": "setName", "name": "bob"})
	awaitType(t, ws2, "joined")

	// 第一人佔房
	sendJSON(t, ws1, map[string]any{"type": "requestRoom", "roomId": 0})
	req := awaitType(t, ws1, "roomRequested")
	assert.Equal(t, 0, req.RoomID)

	// 等待的房間出現在對手的大廳快照中
	snap := awaitMessage(t, ws2, 3*time.Second, func(env envelope) bool {
		return env.Type == "lobbySnapshot" && len(env.Rooms) == 4 &&
			env.Rooms[0].Status == internal.StatusWaiting
	})
	require.NotNil(t, snap.Rooms[0].Player1)
	assert.Equal(t, "alice", *snap.Rooms[0].Player1)

	// 第二人加入：雙方收到各自的 slot 編號
	sendJSON(t, ws2, map[string]any{"type": "requestRoom", "roomId": 0})
	start1 := awaitType(t, ws1, "start")
	start2 := awaitType(t, ws2, "start")
	assert.Equal(t, 0, start1.PlayerIndex)
	assert.Equal(t, 1, start2.PlayerIndex)

	// 狀態流到達雙方，序號單調
	s1 := awaitType(t, ws1, "state")
	s2 := awaitMessage(t, ws1, 3*time.Second, func(env envelope) bool {
		return env.Type == "state" && env.Seq > s1.Seq
	})
	assert.Greater(t, s2.Seq, s1.Seq)
	awaitType(t, ws2, "state")

	// 球拍意圖反映到後續快照
	sendJSON(t, ws1, map[string]any{"type": "paddle", "x": 42})
	awaitMessage(t, ws1, 3*time.Second, func(env envelope) bool {
		return env.Type == "state" && env.State != nil && env.State.Paddles[0].X == 42
	})
}

// TestDisconnectCleansRoom 測試斷線級聯：對手斷開後房間回到 empty，
// 留守方從大廳快照觀察到變化
func TestDisconnectCleansRoom(t *testing.T) {
	server, hub := newWSServer(t, wsTestConfig())
	ws1 := dialWS(t, server)
	ws2 := dialWS(t, server)

	awaitType(t, ws1, "assigned")
	awaitType(t, ws2, "assigned")

	sendJSON(t, ws1, map[string]any{"type": "requestRoom", "roomId": 3})
	awaitType(t, ws1, "roomRequested")

	awaitMessage(t, ws2, 3*time.Second, func(env envelope) bool {
		return env.Type == "lobbySnapshot" && len(env.Rooms) == 4 &&
			env.Rooms[3].Status == internal.StatusWaiting
	})

	// 直接斷開傳輸層連接，不發 leave
	require.NoError(t, ws1.Close())

	awaitMessage(t, ws2, 3*time.Second, func(env envelope) bool {
		return env.Type == "lobbySnapshot" && len(env.Rooms) == 4 &&
			env.Rooms[3].Status == internal.StatusEmpty
	})

	require.Eventually(t, func() bool {
		return hub.ConnCount() == 1
	}, time.Second, 10*time.Millisecond)
}

// TestOpponentLeftOverWebSocket 測試對局中斷線：留守方收到 opponent_left
func TestOpponentLeftOverWebSocket(t *testing.T) {
	server, _ := newWSServer(t, wsTestConfig())
	ws1 := dialWS(t, server)
	ws2 := dialWS(t, server)

	awaitType(t, ws1, "assigned")
	awaitType(t, ws2, "assigned")

	sendJSON(t, ws1, map[string]any{"type": "requestRoom", "roomId": 0})
	awaitType(t, ws1, "roomRequested")
	sendJSON(t, ws2, map[string]any{"type": "requestRoom", "roomId": 0})
	awaitType(t, ws2, "start")

	require.NoError(t, ws1.Close())

	awaitType(t, ws2, "opponent_left")
}

// TestProtocolErrors 測試協議錯誤就地回覆、連接保持可用
func TestProtocolErrors(t *testing.T) {
	server, _ := newWSServer(t, wsTestConfig())
	ws := dialWS(t, server)

	awaitType(t, ws, "assigned")

	// 非 JSON
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("paddle 42")))
	errMsg := awaitType(t, ws, "error")
	assert.Equal(t, "malformed message", errMsg.Message)

	// 未知類型
	sendJSON(t, ws, map[string]any{"type": "teleport"})
	awaitType(t, ws, "error")

	// 越界房間編號
	sendJSON(t, ws, map[string]any{"type": "requestRoom", "roomId": 99})
	errMsg = awaitType(t, ws, "error")
	assert.Equal(t, "invalid room id", errMsg.Message)

	// 連接仍然可用
	sendJSON(t, ws, map[string]any{"type": "setName", "name": "alice"})
	awaitType(t, ws, "joined")
}

// TestPaddleThrottle 測試球拍消息節流：窗口內的第二條被靜默丟棄
func TestPaddleThrottle(t *testing.T) {
	cfg := wsTestConfig()
	cfg.Paddle.Throttle = time.Hour

	server, _ := newWSServer(t, cfg)
	ws1 := dialWS(t, server)
	ws2 := dialWS(t, server)

	awaitType(t, ws1, "assigned")
	awaitType(t, ws2, "assigned")

	sendJSON(t, ws1, map[string]any{"type": "requestRoom", "roomId": 0})
	awaitType(t, ws1, "roomRequested")
	sendJSON(t, ws2, map[string]any{"type": "requestRoom", "roomId": 0})
	awaitType(t, ws1, "start")

	// 窗口內的第一條被接受
	sendJSON(t, ws1, map[string]any{"type": "paddle", "x": 42})
	awaitMessage(t, ws1, 3*time.Second, func(env envelope) bool {
		return env.Type == "state" && env.State != nil && env.State.Paddles[0].X == 42
	})

	// 第二條仍在節流窗口內：被丟棄，不反映到任何後續快照
	sendJSON(t, ws1, map[string]any{"type": "paddle", "x": 99})
	for seen := 0; seen < 5; seen++ {
		env := awaitType(t, ws1, "state")
		require.NotNil(t, env.State)
		assert.Equal(t, 42.0, env.State.Paddles[0].X)
	}
}

// TestHeartbeatEviction 測試心跳超時：從不回 pong 的連接被強制斷開
func TestHeartbeatEviction(t *testing.T) {
	cfg := wsTestConfig()
	cfg.Heartbeat.Interval = 30 * time.Millisecond
	cfg.Heartbeat.MaxMissed = 2

	server, hub := newWSServer(t, cfg)
	ws := dialWS(t, server)

	awaitType(t, ws, "assigned")

	// 只讀不回：未回應次數超限後服務器關閉連接，讀取以錯誤結束
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	require.Eventually(t, func() bool {
		return hub.ConnCount() == 0
	}, time.Second, 10*time.Millisecond)
}

// TestPongKeepsAlive 測試回應心跳的連接不會被清除
func TestPongKeepsAlive(t *testing.T) {
	cfg := wsTestConfig()
	cfg.Heartbeat.Interval = 30 * time.Millisecond
	cfg.Heartbeat.MaxMissed = 2

	server, hub := newWSServer(t, cfg)
	ws := dialWS(t, server)

	awaitType(t, ws, "assigned")

	// 對每個 ping 回 pong，持續十幾個心跳週期
	deadline := time.Now().Add(500 * time.Millisecond)
	require.NoError(t, ws.SetReadDeadline(deadline.Add(time.Second)))
	for time.Now().Before(deadline) {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)

		var env envelope
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type == "ping" {
			sendJSON(t, ws, map[string]any{"type": "pong"})
		}
	}

	assert.Equal(t, 1, hub.ConnCount())
}
