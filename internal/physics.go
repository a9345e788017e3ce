package internal

import "math"

// 純幾何運算：圓 vs 矩形相交、牆面反射、球拍反彈、速度夾取。
// 不持有任何狀態，所有函數都可以在測試中直接驗證。

// Ball 球的運動學狀態（連續座標，每個物理步更新一次）
type Ball struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	VX     float64 `json:"-"`
	VY     float64 `json:"-"`
	Radius float64 `json:"r"`
}

// Paddle 球拍矩形（y 與尺寸由 slot 固定，x 由玩家操控）
type Paddle struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// minBounceOffset 球拍反彈的最小水平分量係數，
// 避免正中命中後水平速度歸零、球走成直線
const minBounceOffset = 0.15

// circleIntersectsRect 圓與軸對齊矩形是否相交
//
// 取矩形內距圓心最近的點，比較距離與半徑。
func circleIntersectsRect(cx, cy, r, rx, ry, rw, rh float64) bool {
	nearestX := math.Max(rx, math.Min(cx, rx+rw))
	nearestY := math.Max(ry, math.Min(cy, ry+rh))
	dx := cx - nearestX
	dy := cy - nearestY
	return dx*dx+dy*dy <= r*r
}

// reflectWalls 解析左右牆碰撞：位置夾回邊界、水平速度反向（無能量損失）
//
// 不變量：呼叫後 radius <= x <= courtW - radius。
func reflectWalls(b *Ball, courtW float64) {
	if b.X-b.Radius < 0 {
		b.X = b.Radius
		b.VX = math.Abs(b.VX)
	}
	if b.X+b.Radius > courtW {
		b.X = courtW - b.Radius
		b.VX = -math.Abs(b.VX)
	}
}

// clampSpeed 將速度向量的模夾到上限，方向不變
func clampSpeed(vx, vy, max float64) (float64, float64) {
	speed := math.Hypot(vx, vy)
	if speed <= max || speed == 0 {
		return vx, vy
	}
	scale := max / speed
	return vx * scale, vy * scale
}

// paddleBounce 解析球拍反彈
//
// dir 為反彈後垂直速度的符號：+1 表示球被上側球拍打向下方，
// -1 表示球被下側球拍打向上方。
//
// 反彈規則：
//   - 垂直速度取碰撞前的模、方向翻離球拍
//   - 水平速度 = 球心相對拍心的偏移（歸一化到 [-1,1]）× 碰撞前速度模，
//     偏移過小時補到最小係數，避免死直線
//   - 合成速度夾到上限
//   - 球沿法線移出拍面，防止同一拍在連續 tick 重複觸發
func paddleBounce(b *Ball, p Paddle, dir, maxSpeed float64) {
	speed := math.Hypot(b.VX, b.VY)

	offset := (b.X - (p.X + p.W/2)) / (p.W / 2)
	offset = math.Max(-1, math.Min(1, offset))
	if math.Abs(offset) < minBounceOffset {
		sign := 1.0
		if offset < 0 || (offset == 0 && b.VX < 0) {
			sign = -1
		}
		offset = sign * minBounceOffset
	}

	b.VX = offset * speed
	b.VY = dir * math.Abs(b.VY)
	b.VX, b.VY = clampSpeed(b.VX, b.VY, maxSpeed)

	if dir > 0 {
		b.Y = p.Y + p.H + b.Radius
	} else {
		b.Y = p.Y - b.Radius
	}
}

// clampPaddleX 將球拍 x 夾到球場範圍內（非法輸入一律夾取，不報錯）
func clampPaddleX(x, paddleW, courtW float64) float64 {
	if math.IsNaN(x) {
		return (courtW - paddleW) / 2
	}
	return math.Max(0, math.Min(x, courtW-paddleW))
}
