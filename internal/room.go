package internal

import (
	"log/slog"
	"sync"
	"time"
)

// 房間生命週期狀態機：
//   empty → waiting → playing → { playing(再戰) | empty }
//
// 核心挑戰：
//   1. 狀態管理：固定房間池，每個房間獨立轉換，身份（編號）不變
//   2. 並發控制：入站消息、物理循環、心跳清理會同時觸碰同一房間
//   3. 資源回收：每個對局恰好對應一個物理循環，轉出 playing 時精確停止一次
//
// 設計方案：
//   - 每房間一把互斥鎖，所有可變欄位只在鎖下讀寫
//   - 物理循環 goroutine 持有自己的 stop channel，
//     tick 時核對 r.stop 是否仍指向自己，杜絕殘留循環驅動新對局
//   - 玩家以 id 引用，不持有連接句柄，斷線清理不會留下懸掛引用

// RoomStatus 房間狀態
type RoomStatus string

const (
	StatusEmpty   RoomStatus = "empty"   // 無人
	StatusWaiting RoomStatus = "waiting" // 恰好一人佔用 slot 0，等待對手
	StatusPlaying RoomStatus = "playing" // 兩人到齊，對局存在（含等待再戰）
)

// Player 房間內的玩家引用（只存身份，不存連接）
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Room 一個固定的大廳槽位
//
// 不變量：
//   - empty ⇔ 兩個 slot 都為空 ⇔ 沒有 Match
//   - waiting ⇔ 恰好 slot 0 有人，沒有 Match
//   - playing ⇔ 兩個 slot 都有人，恰好一個 Match
type Room struct {
	id       int
	cfg      *Config
	logger   *slog.Logger
	sender   Sender
	onChange func() // 大廳狀態變更通知，只在未持鎖時呼叫

	mu      sync.Mutex
	status  RoomStatus
	players [2]*Player
	match   *Match
	stop    chan struct{} // 當前物理循環的停止句柄，nil 表示沒有循環
	wg      sync.WaitGroup
}

// NewRoom 創建房間槽位
func NewRoom(id int, cfg *Config, logger *slog.Logger, sender Sender, onChange func()) *Room {
	if onChange == nil {
		onChange = func() {}
	}
	return &Room{
		id:       id,
		cfg:      cfg,
		logger:   logger,
		sender:   sender,
		onChange: onChange,
		status:   StatusEmpty,
	}
}

// Join 玩家請求加入房間
//
// 狀態機轉換：
//   - empty：玩家佔用 slot 0，房間轉 waiting，回覆 roomRequested
//   - waiting 且請求者不是現有佔用者：佔用 slot 1，轉 playing，
//     創建對局並啟動物理循環，向雙方發送各自的 slot 編號
//   - waiting 且請求者就是佔用者、或 playing：ErrRoomUnavailable，狀態不變
func (r *Room) Join(p Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.status {
	case StatusEmpty:
		player := p
		r.players[0] = &player
		r.status = StatusWaiting
		r.sender.SendTo(p.ID, RoomRequestedMsg{Type: "roomRequested", RoomID: r.id})

		r.logger.Info("房間開始等待",
			"room_id", r.id,
			"player_id", p.ID)
		return nil

	case StatusWaiting:
		if r.players[0] != nil && r.players[0].ID == p.ID {
			return ErrRoomUnavailable
		}
		player := p
		r.players[1] = &player
		r.status = StatusPlaying
		r.match = NewMatch(r.cfg, nil)

		r.sender.SendTo(r.players[0].ID, StartMsg{Type: "start", RoomID: r.id, PlayerIndex: 0})
		r.sender.SendTo(r.players[1].ID, StartMsg{Type: "start", RoomID: r.id, PlayerIndex: 1})
		r.startLoopLocked()

		r.logger.Info("對局開始",
			"room_id", r.id,
			"player_0", r.players[0].ID,
			"player_1", r.players[1].ID)
		return nil

	default:
		return ErrRoomUnavailable
	}
}

// Cancel 取消等待
//
// 只在請求者佔用 waiting 房間的 slot 0 時有效，其餘情況冪等無效果。
func (r *Room) Cancel(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != StatusWaiting || r.players[0] == nil || r.players[0].ID != playerID {
		return false
	}

	r.players[0] = nil
	r.status = StatusEmpty
	r.sender.SendTo(playerID, RequestCancelledMsg{Type: "requestCancelled"})

	r.logger.Info("等待已取消", "room_id", r.id, "player_id", playerID)
	return true
}

// Leave 玩家離開（斷線清理走完全相同的路徑）
//
// waiting：等同 Cancel。playing：停止物理循環、通知對手
// opponent_left、兩個 slot 一併清空、房間回到 empty。
// 返回被移出房間的玩家 id（呼叫方據此清理索引）。
func (r *Room) Leave(playerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotOfLocked(playerID)
	if slot < 0 {
		return nil
	}

	switch r.status {
	case StatusWaiting:
		r.players[0] = nil
		r.status = StatusEmpty
		r.sender.SendTo(playerID, RequestCancelledMsg{Type: "requestCancelled"})
		return []string{playerID}

	case StatusPlaying:
		r.stopLoopLocked()
		r.match = nil

		removed := make([]string, 0, 2)
		var other *Player
		for i, p := range r.players {
			if p == nil {
				continue
			}
			removed = append(removed, p.ID)
			if i != slot {
				other = p
			}
			r.players[i] = nil
		}
		r.status = StatusEmpty

		if other != nil {
			r.sender.SendTo(other.ID, OpponentLeftMsg{Type: "opponent_left"})
		}

		r.logger.Info("對局拆除",
			"room_id", r.id,
			"left_player", playerID)
		return removed
	}

	return nil
}

// RequestRematch 再戰投票（兩階段提交，按 slot 記票）
//
// 只在玩家佔用 playing 房間、且對局已結束（非 running）時有效。
// 單方投票通知對手；雙方到齊後比分歸零、重新發球、循環重啟，
// 依序下發 rematchAccepted 與 start（slot 不變）。
func (r *Room) RequestRematch(playerID string) (accepted bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotOfLocked(playerID)
	if slot < 0 || r.status != StatusPlaying || r.match == nil {
		return false, ErrNotInMatch
	}
	if r.match.Running() {
		return false, ErrRoomUnavailable
	}

	if !r.match.vote(slot) {
		if other := r.players[1-slot]; other != nil {
			r.sender.SendTo(other.ID, RematchRequestedMsg{Type: "rematchRequested"})
		}
		return false, nil
	}

	r.match.resetForRematch()
	for i, p := range r.players {
		r.sender.SendTo(p.ID, RematchAcceptedMsg{Type: "rematchAccepted"})
		r.sender.SendTo(p.ID, StartMsg{Type: "start", RoomID: r.id, PlayerIndex: i})
	}
	r.startLoopLocked()

	r.logger.Info("再戰開始", "room_id", r.id)
	return true, nil
}

// MovePaddle 更新玩家的球拍位置（非成員或對局未進行時靜默忽略）
func (r *Room) MovePaddle(playerID string, x float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := r.slotOfLocked(playerID)
	if slot < 0 || r.match == nil || !r.match.Running() {
		return
	}
	r.match.SetPaddleX(slot, x)
}

// Summary 大廳快照中本房間的摘要
func (r *Room) Summary() RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := RoomSummary{ID: r.id, Status: r.status}
	if r.players[0] != nil {
		s.Player1 = &r.players[0].Name
	}
	if r.players[1] != nil {
		s.Player2 = &r.players[1].Name
	}
	if r.match != nil {
		s.Scores = r.match.Scores()
	}
	return s
}

// Status 當前狀態
func (r *Room) Status() RoomStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Players 兩個玩家槽位的當前佔用
func (r *Room) Players() [2]*Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.players
}

// HasMatch 房間是否擁有對局
func (r *Room) HasMatch() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.match != nil
}

// Stop 停止房間（服務器關閉時由 Manager 呼叫）
func (r *Room) Stop() {
	r.mu.Lock()
	r.stopLoopLocked()
	r.mu.Unlock()
	r.wg.Wait()
}

// slotOfLocked 玩家佔用的 slot，-1 表示不在房間內（需持有鎖）
func (r *Room) slotOfLocked(playerID string) int {
	for i, p := range r.players {
		if p != nil && p.ID == playerID {
			return i
		}
	}
	return -1
}

// startLoopLocked 啟動物理循環（需持有鎖）
//
// 先停掉殘留句柄再啟動，保證同一房間任何時刻至多一個活躍循環。
func (r *Room) startLoopLocked() {
	r.stopLoopLocked()

	stop := make(chan struct{})
	r.stop = stop
	r.wg.Add(1)
	go r.runLoop(stop)
}

// stopLoopLocked 停止物理循環（需持有鎖，冪等）
func (r *Room) stopLoopLocked() {
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

// runLoop 物理循環：每個房間獨立的固定頻率 ticker
func (r *Room) runLoop(stop chan struct{}) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if r.tick(stop) {
				return
			}
		}
	}
}

// tick 執行一個物理步並按下發節奏廣播狀態
//
// 以 stop channel 核對所有權：若房間的當前句柄已不是自己
// （對局被拆除或重啟），立即退場，不觸碰新對局的狀態。
func (r *Room) tick(stop chan struct{}) (stopped bool) {
	r.mu.Lock()

	if r.stop != stop || r.match == nil {
		r.mu.Unlock()
		return true
	}

	res := r.match.Step()

	var gameOver bool
	switch {
	case res.Winner >= 0:
		// 勝負已分：同一個 tick 內結束，循環精確停止一次
		msg := GameOverMsg{Type: "gameover", Winner: res.Winner, Scores: r.match.Scores()}
		for _, p := range r.players {
			if p != nil {
				r.sender.SendTo(p.ID, msg)
			}
		}
		r.stopLoopLocked()
		gameOver = true

	case r.match.SnapshotDue():
		snapshot := r.match.Snapshot()
		for _, p := range r.players {
			if p != nil {
				r.sender.SendTo(p.ID, snapshot)
			}
		}
	}

	r.mu.Unlock()

	if gameOver {
		r.logger.Info("對局結束",
			"room_id", r.id,
			"winner", res.Winner)
		r.onChange()
	}
	return gameOver
}
