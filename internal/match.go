package internal

import (
	"math"
	"math/rand"
	"time"
)

// 對局狀態與固定時步物理循環：
//   如何讓兩個客戶端看到同一場比賽？
//
// 核心挑戰：
//   1. 權威狀態：服務器擁有全部狀態，客戶端只發送球拍意圖
//   2. 固定時步：每個 tick 積分一次，與入站消息完全解耦
//   3. 帶寬控制：物理 50Hz，狀態只以較低頻率下發（序號 + 時間戳對賬）
//   4. 可重現性：隨機發球角度收斂在有界錐形內，注入 rng 便於測試

// 球場佈局：slot 0 的球拍靠上方球門線，slot 1 靠下方。
// 左右是牆（反射），上下是球門線（得分）。
const (
	slotTop    = 0
	slotBottom = 1

	paddleTopY        = 20 // slot 0 球拍的 y
	paddleBottomInset = 50 // slot 1 球拍距底邊的距離

	// scoreMargin 球心越過球門線的安全距離，
	// 避免球在邊界附近來回時同一分被計兩次
	scoreMargin = 10

	// serveCone 發球角度錐形的半角（相對垂直方向）
	serveCone = 30 * math.Pi / 180
)

// Match 一場對局的全部可變狀態
//
// 由所屬 Room 獨佔持有，所有讀寫都在房間鎖下進行；
// Match 本身不加鎖、不持有連接，只透過 slot 編號對外。
type Match struct {
	cfg *Config
	rng *rand.Rand

	ball    Ball
	paddles [2]Paddle
	scores  [2]int
	running bool
	votes   [2]bool // 再戰投票，按 slot 記錄

	ticks uint64 // 本輪已執行的物理步數（控制下發節奏）
	seq   uint64 // 狀態快照序號（單調遞增）
}

// StepResult 單個物理步的結果
type StepResult struct {
	ScoredBy int // 得分的 slot，-1 表示無人得分
	Winner   int // 達到勝利門檻的 slot，-1 表示對局繼續
}

// NewMatch 創建對局：球在場地中心、有界錐形隨機發球、
// 球拍居中、比分歸零、立即開始
func NewMatch(cfg *Config, rng *rand.Rand) *Match {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	m := &Match{cfg: cfg, rng: rng, running: true}

	g := cfg.Game
	centerX := (g.CourtWidth - g.PaddleWidth) / 2
	m.paddles[slotTop] = Paddle{X: centerX, Y: paddleTopY, W: g.PaddleWidth, H: g.PaddleHeight}
	m.paddles[slotBottom] = Paddle{X: centerX, Y: g.CourtHeight - paddleBottomInset, W: g.PaddleWidth, H: g.PaddleHeight}

	m.serve(0)
	return m
}

// serve 重置球到場地中心並以基礎速度發球
//
// dir 為垂直方向：-1 朝上方球門，+1 朝下方球門，0 隨機。
// 角度在垂直方向 ±30° 的錐形內均勻取樣，速度模恆等於基礎速度。
func (m *Match) serve(dir int) {
	if dir == 0 {
		if m.rng.Float64() < 0.5 {
			dir = -1
		} else {
			dir = 1
		}
	}

	g := m.cfg.Game
	angle := (m.rng.Float64()*2 - 1) * serveCone

	m.ball = Ball{
		X:      g.CourtWidth / 2,
		Y:      g.CourtHeight / 2,
		Radius: g.BallRadius,
		VX:     g.BaseSpeed * math.Sin(angle),
		VY:     float64(dir) * g.BaseSpeed * math.Cos(angle),
	}
}

// Step 執行一個物理步
//
// 順序固定：積分 → 牆面反射 → 球拍反彈 → 得分判定 → 勝負判定。
// 達到勝利門檻的同一個 tick 立即結束對局，不再發球。
func (m *Match) Step() StepResult {
	res := StepResult{ScoredBy: -1, Winner: -1}
	if !m.running {
		return res
	}

	m.ticks++
	g := m.cfg.Game
	b := &m.ball

	b.X += b.VX
	b.Y += b.VY

	reflectWalls(b, g.CourtWidth)

	// 只在球朝球拍運動時反彈，配合移出拍面避免重複觸發
	if top := m.paddles[slotTop]; b.VY < 0 &&
		circleIntersectsRect(b.X, b.Y, b.Radius, top.X, top.Y, top.W, top.H) {
		paddleBounce(b, top, 1, g.MaxSpeed)
	}
	if bottom := m.paddles[slotBottom]; b.VY > 0 &&
		circleIntersectsRect(b.X, b.Y, b.Radius, bottom.X, bottom.Y, bottom.W, bottom.H) {
		paddleBounce(b, bottom, -1, g.MaxSpeed)
	}

	switch {
	case b.Y < -scoreMargin:
		// 球越過上方球門線：slot 0 失守，slot 1 得分
		res.ScoredBy = slotBottom
	case b.Y > g.CourtHeight+scoreMargin:
		res.ScoredBy = slotTop
	}

	if res.ScoredBy >= 0 {
		m.scores[res.ScoredBy]++

		if m.scores[res.ScoredBy] >= g.WinScore {
			m.running = false
			res.Winner = res.ScoredBy
			return res
		}

		// 下一球發向剛剛失分的一方
		dir := 1
		if res.ScoredBy == slotBottom {
			dir = -1
		}
		m.serve(dir)
	}

	return res
}

// SnapshotDue 本 tick 是否到達狀態下發點
func (m *Match) SnapshotDue() bool {
	return m.ticks%uint64(m.cfg.SendEvery()) == 0
}

// Snapshot 生成一份完整狀態快照並遞增序號
func (m *Match) Snapshot() StateMsg {
	m.seq++
	return StateMsg{
		Type: "state",
		State: GameState{
			Ball:    ballState{X: m.ball.X, Y: m.ball.Y, R: m.ball.Radius},
			Paddles: m.paddles,
			Scores:  m.scores,
		},
		Seq: m.seq,
		TS:  time.Now().UnixMilli(),
	}
}

// SetPaddleX 更新某個 slot 的球拍位置（夾到球場範圍內）
func (m *Match) SetPaddleX(slot int, x float64) {
	if slot < 0 || slot > 1 {
		return
	}
	m.paddles[slot].X = clampPaddleX(x, m.cfg.Game.PaddleWidth, m.cfg.Game.CourtWidth)
}

// vote 記錄一個 slot 的再戰投票，返回是否雙方都已投票
//
// 重複投票冪等，不會重複計入。
func (m *Match) vote(slot int) bool {
	m.votes[slot] = true
	return m.votes[0] && m.votes[1]
}

// resetForRematch 原地重開：比分歸零、投票清空、重新隨機發球
//
// slot 分配與序號保持不變（序號繼續單調遞增，客戶端不需重置對賬）。
func (m *Match) resetForRematch() {
	m.scores = [2]int{}
	m.votes = [2]bool{}
	m.ticks = 0
	m.running = true
	m.serve(0)
}

// Running 對局是否進行中（false 表示等待再戰或已拆除）
func (m *Match) Running() bool {
	return m.running
}

// Scores 當前比分
func (m *Match) Scores() [2]int {
	return m.scores
}

// BallState 當前球的運動學狀態
func (m *Match) BallState() Ball {
	return m.ball
}

// Paddles 當前兩個球拍
func (m *Match) Paddles() [2]Paddle {
	return m.paddles
}
