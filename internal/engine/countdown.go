package engine

import (
	"context"
	"time"
)

// Clock 提供平台服务器时间（秒）。
type Clock interface {
	ServerNow(ctx context.Context) (float64, error)
}

// Countdown 计算距开售的秒数并等待到开售时刻。
type Countdown struct {
	clock Clock
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	sink  Sink
}

func NewCountdown(clock Clock, sleep func(ctx context.Context, d time.Duration) error, sink Sink) *Countdown {
	if sleep == nil {
		sleep = sleepCtx
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Countdown{clock: clock, now: time.Now, sleep: sleep, sink: sink}
}

func normalizeSaleBegin(saleBegin int64) float64 {
	if saleBegin > 1e10 {
		return float64(saleBegin) / 1000
	}
	return float64(saleBegin)
}

func (c *Countdown) serverNow(ctx context.Context) float64 {
	if c.clock != nil {
		if now, err := c.clock.ServerNow(ctx); err == nil && now > 0 {
			return now
		}
	}
	return float64(c.now().UnixMilli()) / 1000
}

// Remaining 返回距开售的秒数，saleBegin 可以是秒或毫秒。
func (c *Countdown) Remaining(ctx context.Context, saleBegin int64) float64 {
	return normalizeSaleBegin(saleBegin) - c.serverNow(ctx)
}

// WaitUntilOpen 阻塞到开售前后，剩余时间以本地截止时间为准重算。
func (c *Countdown) WaitUntilOpen(ctx context.Context, saleBegin int64) error {
	remaining := c.Remaining(ctx, saleBegin)
	if remaining <= 0 {
		return nil
	}
	deadline := c.now().Add(time.Duration(remaining * float64(time.Second)))
	left := func() float64 { return deadline.Sub(c.now()).Seconds() }

	for r := left(); r > 20; r = left() {
		c.sink.Log("info", "距离抢票时间还有", map[string]any{"seconds": int64(r)})
		if err := c.sleep(ctx, 15*time.Second); err != nil {
			return err
		}
	}
	for r := left(); r > 1.3; r = left() {
		c.sink.Log("info", "距离抢票时间还有", map[string]any{"seconds": r})
		if err := c.sleep(ctx, time.Second); err != nil {
			return err
		}
	}
	return c.sleep(ctx, 800*time.Millisecond)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
