package internal

import (
	"log/slog"
	"sync"
)

// Sender 出站消息的投遞介面
//
// 由 WebSocket Hub 實現；測試中用記錄型假實現替代。
// 兩個方法都必須是非阻塞的：向已關閉或緩衝已滿的連接投遞是 no-op。
type Sender interface {
	SendTo(playerID string, v any)
	Broadcast(v any)
}

// RoomSummary 大廳快照中一個房間的摘要
type RoomSummary struct {
	ID      int        `json:"id"`
	Status  RoomStatus `json:"status"`
	Player1 *string    `json:"player1"`
	Player2 *string    `json:"player2"`
	Scores  [2]int     `json:"scores"`
}

// Manager 固定房間池的註冊表
//
// 系統設計考量：
//
//  1. 顯式持有的狀態物件：
//     房間池與玩家索引都掛在 Manager 實例上而非套件級變數，
//     測試可以建立多個互不干擾的服務器實例。
//
//  2. 鎖的分層：
//     - m.mu（讀寫鎖）只保護 playerRoom 索引
//     - 房間內容由各房間自己的鎖保護
//     鎖順序恆為 m.mu → room.mu，且絕不反向持有，避免死鎖。
//
//  3. 玩家 → 房間是非擁有的回指（id + 索引查找），
//     Room 擁有 Match，Match 只記 slot，所有權保持無環。
type Manager struct {
	cfg    *Config
	logger *slog.Logger
	sender Sender

	rooms []*Room

	mu         sync.RWMutex
	playerRoom map[string]int // playerID -> room index
}

// NewManager 創建房間管理器，啟動時建好整個固定房間池
func NewManager(cfg *Config, logger *slog.Logger, sender Sender) *Manager {
	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		sender:     sender,
		playerRoom: make(map[string]int),
	}

	m.rooms = make([]*Room, cfg.Game.Rooms)
	for i := range m.rooms {
		m.rooms[i] = NewRoom(i, cfg, logger, sender, m.BroadcastLobby)
	}

	return m
}

// RequestRoom 玩家請求加入指定房間
//
// 編號越界返回 ErrInvalidRoom；玩家已在某個房間、或目標房間
// 狀態不允許加入時返回 ErrRoomUnavailable，狀態不變
// （先驗證後變更，失敗不留下半套狀態）。
func (m *Manager) RequestRoom(playerID, name string, roomID int) error {
	if roomID < 0 || roomID >= len(m.rooms) {
		return ErrInvalidRoom
	}

	m.mu.RLock()
	_, busy := m.playerRoom[playerID]
	m.mu.RUnlock()
	if busy {
		return ErrRoomUnavailable
	}

	if err := m.rooms[roomID].Join(Player{ID: playerID, Name: name}); err != nil {
		return err
	}

	m.mu.Lock()
	m.playerRoom[playerID] = roomID
	m.mu.Unlock()

	m.BroadcastLobby()
	return nil
}

// CancelRequest 取消等待中的房間請求（無效情況冪等，靜默忽略）
func (m *Manager) CancelRequest(playerID string) {
	roomID, ok := m.lookup(playerID)
	if !ok {
		return
	}

	if m.rooms[roomID].Cancel(playerID) {
		m.mu.Lock()
		delete(m.playerRoom, playerID)
		m.mu.Unlock()

		m.BroadcastLobby()
	}
}

// Leave 玩家離開當前房間
//
// waiting 等同取消；playing 拆除對局並通知對手。
func (m *Manager) Leave(playerID string) {
	roomID, ok := m.lookup(playerID)
	if !ok {
		return
	}

	removed := m.rooms[roomID].Leave(playerID)
	if len(removed) == 0 {
		return
	}

	m.mu.Lock()
	for _, id := range removed {
		delete(m.playerRoom, id)
	}
	m.mu.Unlock()

	m.BroadcastLobby()
}

// Disconnect 斷線清理：與 Leave 完全相同的級聯
//
// 心跳超時與傳輸層斷開都走這裡，玩家絕不會在連接消失後
// 仍被房間引用。
func (m *Manager) Disconnect(playerID string) {
	m.Leave(playerID)
}

// RequestRematch 再戰投票
func (m *Manager) RequestRematch(playerID string) error {
	roomID, ok := m.lookup(playerID)
	if !ok {
		return ErrNotInRoom
	}

	accepted, err := m.rooms[roomID].RequestRematch(playerID)
	if err != nil {
		return err
	}
	if accepted {
		m.BroadcastLobby()
	}
	return nil
}

// MovePaddle 球拍位置意圖（非成員時靜默忽略）
func (m *Manager) MovePaddle(playerID string, x float64) {
	roomID, ok := m.lookup(playerID)
	if !ok {
		return
	}
	m.rooms[roomID].MovePaddle(playerID, x)
}

// LobbySnapshot 當前所有房間的摘要
func (m *Manager) LobbySnapshot() []RoomSummary {
	summaries := make([]RoomSummary, len(m.rooms))
	for i, room := range m.rooms {
		summaries[i] = room.Summary()
	}
	return summaries
}

// BroadcastLobby 向所有連接推送一份大廳快照
//
// 狀態變更事件與定期計時器都會觸發；錯過事件的客戶端
// 最晚在一個計時週期內自癒。
func (m *Manager) BroadcastLobby() {
	m.sender.Broadcast(LobbySnapshotMsg{Type: "lobbySnapshot", Rooms: m.LobbySnapshot()})
}

// Room 取指定編號的房間（測試與統計用）
func (m *Manager) Room(id int) *Room {
	if id < 0 || id >= len(m.rooms) {
		return nil
	}
	return m.rooms[id]
}

// Stats 統計資訊
func (m *Manager) Stats() map[string]any {
	statusCount := make(map[RoomStatus]int)
	for _, room := range m.rooms {
		statusCount[room.Status()]++
	}

	m.mu.RLock()
	totalPlayers := len(m.playerRoom)
	m.mu.RUnlock()

	return map[string]any{
		"total_rooms":   len(m.rooms),
		"total_players": totalPlayers,
		"by_status":     statusCount,
	}
}

// Stop 停止所有房間的物理循環
func (m *Manager) Stop() {
	for _, room := range m.rooms {
		room.Stop()
	}
	m.logger.Info("房間管理器已停止")
}

// lookup 查玩家所在的房間編號
func (m *Manager) lookup(playerID string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roomID, ok := m.playerRoom[playerID]
	return roomID, ok
}
