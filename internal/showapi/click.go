package showapi

import (
	"encoding/json"
	"math/rand/v2"
	"time"
)

type ClickPositionType int

const (
	ClickPC ClickPositionType = iota
	ClickMobile
	// ClickRetryButton 是手机端“再试一次”按钮，位于屏幕中部。
	ClickRetryButton
)

type ClickPosition struct {
	X      int   `json:"x"`
	Y      int   `json:"y"`
	Origin int64 `json:"origin"`
	Now    int64 `json:"now"`
}

func (p ClickPosition) JSON() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// RandomClickPosition 生成一次点击坐标和停留时间。
// width/height 为 0 时使用 1080x2400；fast 为 true 时停留 0.8-4.6 秒，否则 4-12 秒。
func RandomClickPosition(kind ClickPositionType, fast bool, width, height int, now time.Time) ClickPosition {
	if width <= 0 {
		width = 1080
	}
	if height <= 0 {
		height = 2400
	}

	var baseX, baseY, offset int
	switch kind {
	case ClickMobile:
		baseX = int(float64(width) * uniform(0.55, 0.9))
		baseY = int(float64(height) * uniform(0.9, 0.95))
		offset = min(width, 20) / 4
	case ClickRetryButton:
		baseX = int(float64(width) * uniform(0.33, 0.67))
		baseY = int(float64(height) * uniform(0.6, 0.7))
		offset = min(width, 30) / 4
	default:
		baseX, baseY, offset = 1131, 636, 10
	}

	ms := now.UnixMilli()
	var delay int64
	if fast {
		delay = 800 + rand.Int64N(4600-800)
	} else {
		delay = 4000 + rand.Int64N(12000-4000)
	}
	return ClickPosition{
		X:      baseX + jitter(offset),
		Y:      baseY + jitter(offset),
		Origin: ms - delay,
		Now:    ms,
	}
}

func uniform(lo, hi float64) float64 {
	return lo + rand.Float64()*(hi-lo)
}

// jitter 返回 [-n, n] 内的整数。
func jitter(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.IntN(2*n+1) - n
}
