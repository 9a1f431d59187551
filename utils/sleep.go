package utils

import (
	"context"
	"time"
)

// SleepContext は d だけ待機します。ctx がキャンセルされたら即座に戻ります
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
