package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocket 連接層：
//   如何在許多獨立連接的並發事件下保持房間不變量？
//
// 核心挑戰：
//   1. 連接管理：註冊/註銷、斷線觸發與正常離開完全相同的清理級聯
//   2. 心跳機制：傳輸層超時不可靠，應用層 ping/pong 兜底半開連接
//   3. 並發投遞：物理循環、大廳廣播、協議回覆同時寫多個連接
//
// 設計方案：
//   - Hub 集中管理 connID -> Conn 映射（讀寫鎖）
//   - 每連接緩衝 channel + writePump：投遞永不阻塞，滿了就丟
//   - 單一進程級心跳計時器遍歷所有連接，累計未回應次數
//   - close(send) 只在持寫鎖、且連接已移出映射後執行，
//     與持讀鎖的投遞方互斥，杜絕 send on closed channel

// Conn 一條客戶端連接
type Conn struct {
	ID string

	ws        *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	// 生命週期鎖：把斷線清理與同連接的在途消息串行化。
	// 心跳清除與 readPump 的 dispatch 在不同 goroutine，
	// 若不互斥，清理可能撲空一條尚未落地的 requestRoom，
	// 房間從此抱著一個已消失的玩家。
	lifeMu sync.Mutex
	gone   bool

	mu          sync.Mutex
	displayName string
	missed      int       // 未回應的心跳次數
	lastPaddle  time.Time // 球拍消息節流
}

// Hub WebSocket 連接中心，實現 Sender
type Hub struct {
	cfg      *Config
	logger   *slog.Logger
	manager  *Manager
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[string]*Conn

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewHub 創建 Hub（用 Start 綁定 Manager 並啟動後台循環）
func NewHub(cfg *Config, logger *slog.Logger) *Hub {
	return &Hub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns:  make(map[string]*Conn),
		stopCh: make(chan struct{}),
	}
}

// Start 綁定 Manager 並啟動心跳監視與大廳定期廣播
func (h *Hub) Start(manager *Manager) {
	h.manager = manager

	h.wg.Add(2)
	go h.heartbeatLoop()
	go h.lobbyLoop()
}

// ServeWS 處理 WebSocket 連接
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	id := uuid.NewString()
	c := &Conn{
		ID:          id,
		ws:          ws,
		send:        make(chan []byte, 256),
		displayName: "player-" + id[:8], // 預設名稱，待 setName 覆蓋
	}

	h.register(c)

	go c.writePump()
	go h.readPump(c)

	// 連接編號、命名提示與一份初始大廳快照
	h.SendTo(c.ID, AssignedMsg{Type: "assigned", ID: c.ID})
	h.SendTo(c.ID, RequestNameMsg{Type: "requestName", Message: "請設置顯示名稱"})
	h.SendTo(c.ID, LobbySnapshotMsg{Type: "lobbySnapshot", Rooms: h.manager.LobbySnapshot()})

	h.logger.Info("WebSocket 連接建立", "conn_id", c.ID)
}

// SendTo 向單一連接投遞（目標不存在或緩衝已滿則丟棄，永不阻塞）
func (h *Hub) SendTo(playerID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("序列化出站消息失敗", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.conns[playerID]
	if !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.Warn("連接緩衝區滿，丟棄消息", "conn_id", playerID)
	}
}

// Broadcast 向所有連接投遞
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("序列化出站消息失敗", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.conns {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("連接緩衝區滿，丟棄消息", "conn_id", id)
		}
	}
}

// ConnCount 當前連接數
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Stop 停止 Hub：結束後台循環並斷開所有連接
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()

	for _, c := range h.snapshot() {
		h.unregister(c)
	}

	h.logger.Info("WebSocket Hub 已停止")
}

// register 註冊連接
func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID] = c
}

// unregister 註銷連接並執行斷線級聯（冪等）
//
// close(send) 必須在連接移出映射之後、仍持寫鎖時執行：
// 所有投遞方都持讀鎖，寫鎖到手即保證再無人向該 channel 發送。
//
// 清理級聯在生命週期鎖下執行，與 dispatch 互斥：清理要麼排在
// 在途消息之後（索引已寫入，級聯能找到並移除），要麼先行並讓
// 其後的消息被丟棄。兩種順序都不會留下幽靈佔用。
func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if cur, ok := h.conns[c.ID]; ok && cur == c {
		delete(h.conns, c.ID)
	}
	c.closeOnce.Do(func() {
		close(c.send)
	})
	h.mu.Unlock()

	c.ws.Close()

	c.lifeMu.Lock()
	c.gone = true
	h.manager.Disconnect(c.ID)
	c.lifeMu.Unlock()
}

// snapshot 當前連接的副本（遍歷時不長期持鎖）
func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// readPump 讀取並分發客戶端消息
func (h *Hub) readPump(c *Conn) {
	defer h.unregister(c)

	c.ws.SetReadLimit(4096)

	// 讀取期限只是兜底，活性判定以應用層心跳計數為準
	readTimeout := h.cfg.Heartbeat.Interval * time.Duration(h.cfg.Heartbeat.MaxMissed+2)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Error("WebSocket 讀取錯誤", "error", err, "conn_id", c.ID)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		h.dispatch(c, data)
	}
}

// dispatch 入站消息分發
//
// 所有協議錯誤都在這裡就地處理：回覆 error 事件、保持連接，
// 絕不讓單條消息的故障波及其他房間或連接。
//
// 整個分發在連接的生命週期鎖下執行；連接已註銷後到達的消息
// 直接丟棄，不會再觸碰房間狀態。
func (h *Hub) dispatch(c *Conn, data []byte) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.gone {
		return
	}

	msg, err := DecodeInbound(data)
	if err != nil {
		h.logger.Debug("消息解碼失敗", "error", err, "conn_id", c.ID)
		h.SendTo(c.ID, ErrorMsg{Type: "error", Message: "malformed message"})
		return
	}

	switch msg := msg.(type) {
	case SetNameMsg:
		c.setName(msg.Name)
		h.SendTo(c.ID, JoinedMsg{Type: "joined", Name: msg.Name})
		h.manager.BroadcastLobby()

	case RequestRoomMsg:
		if err := h.manager.RequestRoom(c.ID, c.name(), msg.RoomID); err != nil {
			h.SendTo(c.ID, ErrorMsg{Type: "error", Message: protocolError(err)})
		}

	case CancelRequestMsg:
		h.manager.CancelRequest(c.ID)

	case PaddleMsg:
		if c.allowPaddle(h.cfg.Paddle.Throttle) {
			h.manager.MovePaddle(c.ID, msg.X)
		}

	case RematchMsg:
		if err := h.manager.RequestRematch(c.ID); err != nil {
			h.SendTo(c.ID, ErrorMsg{Type: "error", Message: protocolError(err)})
		}

	case LeaveMsg:
		h.manager.Leave(c.ID)

	case PongMsg:
		c.resetMissed()
	}
}

// heartbeatLoop 心跳監視
//
// 單一進程級計時器：每個週期先累計未回應次數、再發送探測；
// 超過上限即強制斷開並走與正常斷線相同的清理級聯。
// 收到 pong 時計數歸零（dispatch 路徑）。
func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			for _, c := range h.snapshot() {
				if c.bumpMissed() > h.cfg.Heartbeat.MaxMissed {
					h.logger.Warn("心跳超時，強制斷開", "conn_id", c.ID)
					h.unregister(c)
					continue
				}
				h.SendTo(c.ID, PingMsg{Type: "ping", TS: now})
			}
		}
	}
}

// lobbyLoop 定期大廳廣播（事件觸發之外的自癒機制）
func (h *Hub) lobbyLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Lobby.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.manager.BroadcastLobby()
		}
	}
}

// protocolError 把錯誤分類映射成給客戶端的可讀消息
func protocolError(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRoom):
		return "invalid room id"
	case errors.Is(err, ErrRoomUnavailable):
		return "room unavailable"
	case errors.Is(err, ErrNotInRoom):
		return "not in a room"
	case errors.Is(err, ErrNotInMatch):
		return "not in a match"
	default:
		return "request failed"
	}
}

// writePump 將緩衝的消息寫入連接
func (c *Conn) writePump() {
	defer c.ws.Close()

	for data := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	// Hub 關閉了通道，優雅關閉連接
	if err := c.ws.SetWriteDeadline(time.Now().Add(time.Second)); err == nil {
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

func (c *Conn) name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.displayName
}

func (c *Conn) setName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayName = name
}

func (c *Conn) bumpMissed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missed++
	return c.missed
}

func (c *Conn) resetMissed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missed = 0
}

// allowPaddle 球拍消息節流：兩次接受之間至少間隔 throttle
func (c *Conn) allowPaddle(throttle time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastPaddle) < throttle {
		return false
	}
	c.lastPaddle = now
	return true
}
