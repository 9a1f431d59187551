package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"pivotaltoshortcut/utils"
)

const throttleKey = "shortcut-api"

// Throttle はクライアント側でAPI呼び出しの頻度を制限します。
// Shortcut の上限は1分あたり200リクエストです。
type Throttle struct {
	limiter *limiter.Limiter
	sleep   func(context.Context, time.Duration) error
}

// NewThrottle は "200-M" 形式のレートから Throttle を作成します。空文字なら制限なし(nil)
func NewThrottle(formatted string) (*Throttle, error) {
	formatted = strings.TrimSpace(formatted)
	if formatted == "" {
		return nil, nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("レート形式が不正です %q: %w", formatted, err)
	}
	return &Throttle{
		limiter: limiter.New(memory.NewStore(), rate),
		sleep:   utils.SleepContext,
	}, nil
}

// Wait は次のリクエストを送ってよくなるまで待機します
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	for {
		lctx, err := t.limiter.Get(ctx, throttleKey)
		if err != nil {
			return fmt.Errorf("レート制限状態の取得エラー: %w", err)
		}
		if !lctx.Reached {
			return nil
		}
		wait := time.Until(time.Unix(lctx.Reset, 0))
		if wait < 100*time.Millisecond {
			wait = 100 * time.Millisecond
		}
		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
