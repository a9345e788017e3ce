package internal

import (
	"encoding/json"
	"fmt"
	"math"
)

// 協議層：客戶端與服務器之間每條消息都是一個帶 type 標籤的 JSON 物件。
//
// 入站消息在邊界解碼成帶驗證的具型變體（sum type），
// 未知標籤與缺失欄位在這裡就被拒絕，不會滲入業務邏輯。

// Inbound 入站消息的具型變體
type Inbound interface {
	isInbound()
}

// SetNameMsg 註冊顯示名稱（type: setName / join）
type SetNameMsg struct {
	Name string
}

// RequestRoomMsg 請求加入房間（type: requestRoom）
type RequestRoomMsg struct {
	RoomID int
}

// CancelRequestMsg 取消等待中的房間請求（type: cancelRequest）
type CancelRequestMsg struct{}

// PaddleMsg 球拍位置意圖（type: paddle）
type PaddleMsg struct {
	X float64
}

// RematchMsg 請求再戰（type: rematch / rematchRequest）
type RematchMsg struct{}

// LeaveMsg 離開當前房間（type: leave）
type LeaveMsg struct{}

// PongMsg 心跳回應（type: pong）
type PongMsg struct{}

func (SetNameMsg) isInbound()       {}
func (RequestRoomMsg) isInbound()   {}
func (CancelRequestMsg) isInbound() {}
func (PaddleMsg) isInbound()        {}
func (RematchMsg) isInbound()       {}
func (LeaveMsg) isInbound()         {}
func (PongMsg) isInbound()          {}

// rawInbound 解碼用的鬆散結構，欄位用指針區分「缺失」與「零值」
type rawInbound struct {
	Type   string   `json:"type"`
	Name   *string  `json:"name"`
	RoomID *int     `json:"roomId"`
	X      *float64 `json:"x"`
}

// DecodeInbound 解碼一條入站消息
//
// 所有解析與欄位錯誤都歸為 ErrMalformedMessage，由呼叫方決定
// 回覆 error 事件還是靜默丟棄；連接保持開啟。
func DecodeInbound(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch raw.Type {
	case "setName", "join":
		if raw.Name == nil {
			return nil, fmt.Errorf("%w: setName 缺少 name", ErrMalformedMessage)
		}
		return SetNameMsg{Name: *raw.Name}, nil

	case "requestRoom":
		if raw.RoomID == nil {
			return nil, fmt.Errorf("%w: requestRoom 缺少 roomId", ErrMalformedMessage)
		}
		return RequestRoomMsg{RoomID: *raw.RoomID}, nil

	case "cancelRequest":
		return CancelRequestMsg{}, nil

	case "paddle":
		if raw.X == nil || math.IsNaN(*raw.X) || math.IsInf(*raw.X, 0) {
			return nil, fmt.Errorf("%w: paddle 缺少有效的 x", ErrMalformedMessage)
		}
		return PaddleMsg{X: *raw.X}, nil

	case "rematch", "rematchRequest":
		return RematchMsg{}, nil

	case "leave":
		return LeaveMsg{}, nil

	case "pong":
		return PongMsg{}, nil

	default:
		return nil, fmt.Errorf("%w: 未知消息類型 %q", ErrMalformedMessage, raw.Type)
	}
}

// --- 出站消息 ---

// AssignedMsg 連接建立後下發的連接編號
type AssignedMsg struct {
	Type string `json:"type"` // "assigned"
	ID   string `json:"id"`
}

// RequestNameMsg 提示客戶端設置顯示名稱
type RequestNameMsg struct {
	Type    string `json:"type"` // "requestName"
	Message string `json:"message"`
}

// JoinedMsg setName 的確認
type JoinedMsg struct {
	Type string `json:"type"` // "joined"
	Name string `json:"name"`
}

// LobbySnapshotMsg 所有房間的摘要
type LobbySnapshotMsg struct {
	Type  string        `json:"type"` // "lobbySnapshot"
	Rooms []RoomSummary `json:"rooms"`
}

// RoomRequestedMsg 佔用空房間的確認
type RoomRequestedMsg struct {
	Type   string `json:"type"` // "roomRequested"
	RoomID int    `json:"roomId"`
}

// RequestCancelledMsg 取消等待的確認
type RequestCancelledMsg struct {
	Type string `json:"type"` // "requestCancelled"
}

// StartMsg 對局開始，攜帶玩家的 slot 編號
type StartMsg struct {
	Type        string `json:"type"` // "start"
	RoomID      int    `json:"roomId"`
	PlayerIndex int    `json:"playerIndex"`
}

// StateMsg 對局狀態快照
//
// 序號單調遞增、附帶時間戳，供客戶端做對賬與插值。
type StateMsg struct {
	Type  string    `json:"type"` // "state"
	State GameState `json:"state"`
	Seq   uint64    `json:"seq"`
	TS    int64     `json:"ts"`
}

// GameState 完整的球/拍/分數快照
type GameState struct {
	Ball    ballState `json:"ball"`
	Paddles [2]Paddle `json:"paddles"`
	Scores  [2]int    `json:"scores"`
}

type ballState struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R float64 `json:"r"`
}

// GameOverMsg 對局結束
type GameOverMsg struct {
	Type   string `json:"type"` // "gameover"
	Winner int    `json:"winner"`
	Scores [2]int `json:"scores"`
}

// RematchRequestedMsg 通知對手有人請求再戰
type RematchRequestedMsg struct {
	Type string `json:"type"` // "rematchRequested"
}

// RematchAcceptedMsg 雙方同意再戰
type RematchAcceptedMsg struct {
	Type string `json:"type"` // "rematchAccepted"
}

// OpponentLeftMsg 對手離開，對局已拆除
type OpponentLeftMsg struct {
	Type string `json:"type"` // "opponent_left"
}

// ErrorMsg 協議錯誤（連接保持開啟）
type ErrorMsg struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// PingMsg 心跳探測
type PingMsg struct {
	Type string `json:"type"` // "ping"
	TS   int64  `json:"ts"`
}
