package api

import (
	"time"
)

const (
	maxBackoff = 30 * time.Second
	maxJitter  = 500 * time.Millisecond
)

// retryWait は attempt 回目の再試行前に待つ時間です。
// 1秒から倍々に増やして maxBackoff で頭打ちにし、0〜maxJitter の揺らぎを足します。
func (c *ShortcutClient) retryWait(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	wait := maxBackoff
	if attempt <= 5 {
		wait = min(time.Second<<(attempt-1), maxBackoff)
	}
	if c.rnd != nil {
		wait += time.Duration(c.rnd.Int63n(int64(maxJitter) + 1)) //nolint:gosec
	}
	return wait
}
