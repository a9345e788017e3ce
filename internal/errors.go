package internal

import "errors"

// 錯誤分類（協議層錯誤處理策略）：
//   - 每條消息的錯誤都在邊界處理，回覆 error 事件但保持連接
//   - 只有心跳超時才會單方面斷開連接
//   - 斷線是預期的生命週期事件，走完整清理流程
var (
	// ErrMalformedMessage 消息無法解析或缺少必要的 type 標籤
	ErrMalformedMessage = errors.New("malformed message")

	// ErrInvalidRoom 房間編號超出範圍
	ErrInvalidRoom = errors.New("invalid room id")

	// ErrRoomUnavailable 房間狀態不允許請求的轉換
	ErrRoomUnavailable = errors.New("room unavailable")

	// ErrNotInRoom 操作需要房間成員資格
	ErrNotInRoom = errors.New("not in a room")

	// ErrNotInMatch 操作需要對局成員資格
	ErrNotInMatch = errors.New("not in a match")
)
