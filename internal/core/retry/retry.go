// Package retry drives fetch attempts through the proxy rotator, adapting to
// failures: blocked responses rotate to another proxy, transient errors back
// off exponentially, and every attempt is spaced by a humanized delay that
// grows with the rotator's caution level.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"skiptracer/internal/core/humanize"
	"skiptracer/internal/fetch"
	"skiptracer/internal/shared/logger"
	"skiptracer/proxypool"
)

// Config 是重试控制器的参数。
type Config struct {
	Attempts    int
	Parallel    int // >1 时每次尝试在多个代理间竞速
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Controller 执行带代理轮换与退避的重试。rotator 和 humanizer 均可为 nil。
type Controller struct {
	cfg       Config
	rotator   *proxypool.Rotator
	humanizer *humanize.Humanizer

	mu    sync.Mutex
	rnd   *rand.Rand
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, rotator *proxypool.Rotator, humanizer *humanize.Humanizer) *Controller {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	return &Controller{
		cfg:       cfg,
		rotator:   rotator,
		humanizer: humanizer,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:     sleepContext,
	}
}

// Do 是不返回值的 Run。
func (c *Controller) Do(ctx context.Context, site string, fn func(context.Context, *proxypool.Lease) error) error {
	_, err := Run(ctx, c, site, func(ctx context.Context, lease *proxypool.Lease) (struct{}, error) {
		return struct{}{}, fn(ctx, lease)
	})
	return err
}

// Run 最多尝试 Attempts 次调用 fn, 并按 fetch.Outcome 的分类释放租约。
// 封锁立即换代理重试; 永久错误、代理池错误和 ctx 结束直接返回; 其余错误指数退避后重试。
func Run[T any](ctx context.Context, c *Controller, site string, fn func(context.Context, *proxypool.Lease) (T, error)) (T, error) {
	log := logger.WithComponent("Retry")
	var (
		zero    T
		lastErr error
	)

	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if c.humanizer != nil {
			if err := c.humanizer.WaitTurn(ctx, site); err != nil {
				return zero, err
			}
		}

		v, err := runAttempt(ctx, c, site, fn)
		if err == nil {
			if attempt > 1 {
				log.Debug().Str("site", site).Int("attempt", attempt).Msg("Succeeded after retry.")
			}
			return v, nil
		}
		lastErr = err

		switch {
		case ctx.Err() != nil:
			return zero, ctx.Err()
		case errors.Is(err, fetch.ErrPermanent),
			errors.Is(err, proxypool.ErrPoolEmpty),
			errors.Is(err, proxypool.ErrNoProxyAvailable):
			return zero, fmt.Errorf("%s: attempt %d/%d: %w", site, attempt, c.cfg.Attempts, err)
		}

		if attempt == c.cfg.Attempts {
			break
		}
		if errors.Is(err, fetch.ErrBlocked) {
			log.Info().Str("site", site).Int("attempt", attempt).Int("caution", c.caution()).Err(err).Msg("Blocked, rotating proxy.")
			continue
		}

		backoff := c.backoff(attempt)
		log.Debug().Str("site", site).Int("attempt", attempt).Dur("backoff", backoff).Err(err).Msg("Attempt failed, backing off.")
		if err := c.sleep(ctx, backoff); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", site, c.cfg.Attempts, lastErr)
}

// runAttempt 执行一次尝试: 获取租约, 人性化等待, 调用 fn, 按结果释放租约。
func runAttempt[T any](ctx context.Context, c *Controller, site string, fn func(context.Context, *proxypool.Lease) (T, error)) (T, error) {
	if c.rotator == nil {
		if err := c.humanWait(ctx); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx, nil)
	}

	if c.cfg.Parallel > 1 {
		return proxypool.Race(ctx, c.rotator, site, c.cfg.Parallel, fetch.Outcome,
			func(ctx context.Context, lease *proxypool.Lease) (T, error) {
				if err := c.humanWait(ctx); err != nil {
					var zero T
					return zero, err
				}
				return fn(ctx, lease)
			})
	}

	lease, err := c.rotator.Acquire(ctx, site)
	if err != nil {
		var zero T
		return zero, err
	}
	if err := c.humanWait(ctx); err != nil {
		c.rotator.Release(lease, proxypool.Neutral)
		var zero T
		return zero, err
	}
	v, err := fn(ctx, lease)
	c.rotator.Release(lease, fetch.Outcome(err))
	return v, err
}

func (c *Controller) humanWait(ctx context.Context) error {
	if c.humanizer == nil {
		return ctx.Err()
	}
	return c.humanizer.Wait(ctx, c.multiplier())
}

func (c *Controller) multiplier() float64 {
	if c.rotator == nil {
		return 1
	}
	return c.rotator.DelayMultiplier()
}

func (c *Controller) caution() int {
	if c.rotator == nil {
		return 0
	}
	return c.rotator.Caution()
}

// backoff 返回第 attempt 次失败后的退避时间: BaseBackoff*2^(attempt-1), 加上至多一半的随机抖动,
// 不超过 MaxBackoff。
func (c *Controller) backoff(attempt int) time.Duration {
	if c.cfg.BaseBackoff <= 0 {
		return 0
	}
	d := c.cfg.BaseBackoff
	for i := 1; i < attempt && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	c.mu.Lock()
	jitter := time.Duration(c.rnd.Int63n(int64(d)/2 + 1))
	c.mu.Unlock()
	d += jitter
	if d > c.cfg.MaxBackoff {
		d = c.cfg.MaxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
