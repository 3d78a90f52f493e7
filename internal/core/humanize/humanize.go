// Package humanize spaces requests out like a person browsing would.
package humanize

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"skiptracer/internal/shared/settings"
)

// Config 控制基础延迟区间与按站点的速率限制。
type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	// MaxScale 限制放大后的延迟不超过 MaxDelay*MaxScale, 0 表示不限制。
	MaxScale float64
	// RatePerMinute 是每个站点每分钟允许的请求数, 0 表示不限速。
	RatePerMinute float64
}

// Humanizer 产生随机化的请求间隔。
type Humanizer struct {
	mu       sync.Mutex
	cfg      Config
	rnd      *rand.Rand
	limiters map[string]*rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

func New(cfg Config) *Humanizer {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Humanizer{
		cfg:      cfg,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		limiters: make(map[string]*rate.Limiter),
		sleep:    sleepContext,
	}
}

// Delay 返回 [MinDelay, MaxDelay] 内的随机延迟乘以 multiplier。
func (h *Humanizer) Delay(multiplier float64) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	if multiplier < 1 {
		multiplier = 1
	}
	base := h.cfg.MinDelay
	if span := h.cfg.MaxDelay - h.cfg.MinDelay; span > 0 {
		base += time.Duration(h.rnd.Int63n(int64(span) + 1))
	}
	d := time.Duration(float64(base) * multiplier)
	if h.cfg.MaxScale > 0 {
		if limit := time.Duration(float64(h.cfg.MaxDelay) * h.cfg.MaxScale); d > limit {
			d = limit
		}
	}
	return d
}

// Wait 睡眠一个随机延迟, ctx 结束时提前返回。
func (h *Humanizer) Wait(ctx context.Context, multiplier float64) error {
	d := h.Delay(multiplier)
	if d <= 0 {
		return ctx.Err()
	}
	return h.sleep(ctx, d)
}

// Limiter 返回站点的速率限制器, 每个站点一个, 突发为 1。
func (h *Humanizer) Limiter(site string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[site]
	if !ok {
		l = rate.NewLimiter(h.limitLocked(), 1)
		h.limiters[site] = l
	}
	return l
}

// WaitTurn 等待站点的速率限制器放行。
func (h *Humanizer) WaitTurn(ctx context.Context, site string) error {
	return h.Limiter(site).Wait(ctx)
}

func (h *Humanizer) limitLocked() rate.Limit {
	if h.cfg.RatePerMinute <= 0 {
		return rate.Inf
	}
	return rate.Limit(h.cfg.RatePerMinute / 60)
}

// OnSettingsUpdate 实现 settings.ConfigurableModule。
func (h *Humanizer) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	if moduleKey != settings.ModuleHumanizer {
		return nil
	}
	cfg, ok := newSettings.(*settings.HumanizerSettings)
	if !ok {
		return fmt.Errorf("humanizer: received incorrect settings type for %s module", moduleKey)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg.MinDelay = time.Duration(cfg.MinDelayMs) * time.Millisecond
	h.cfg.MaxDelay = time.Duration(cfg.MaxDelayMs) * time.Millisecond
	if h.cfg.MaxDelay < h.cfg.MinDelay {
		h.cfg.MaxDelay = h.cfg.MinDelay
	}
	h.cfg.MaxScale = cfg.MaxScale
	h.cfg.RatePerMinute = cfg.RatePerMinute
	for _, l := range h.limiters {
		l.SetLimit(h.limitLocked())
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
