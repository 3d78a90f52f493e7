package proxypool

import (
	"context"
	"errors"
	"fmt"
)

// Race 让最多 workers 个尝试同时进行，每个持有不同的代理租约，第一个成功者获胜并取消其余。
// 第一个租约阻塞获取, 其余不等待; 直连租约不会并发。
// 被取消的失败者以 Neutral 释放, 其他失败按 classify 的结果释放。
// 全部失败时返回合并后的错误。
func Race[T any](
	ctx context.Context,
	r *Rotator,
	site string,
	workers int,
	classify func(error) Outcome,
	fn func(context.Context, *Lease) (T, error),
) (T, error) {
	var zero T
	if workers < 1 {
		workers = 1
	}

	first, err := r.Acquire(ctx, site)
	if err != nil {
		return zero, err
	}
	leases := []*Lease{first}
	for len(leases) < workers && !first.Direct() {
		l, err := r.TryAcquire(site)
		if err != nil {
			break
		}
		if l.Direct() {
			r.Release(l, Neutral)
			break
		}
		leases = append(leases, l)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	results := make(chan result, len(leases))
	for _, lease := range leases {
		go func(lease *Lease) {
			v, err := fn(ctx, lease)
			outcome := Success
			if err != nil {
				if ctx.Err() != nil {
					outcome = Neutral
				} else {
					outcome = classify(err)
				}
				err = fmt.Errorf("%s: %w", lease.ProxyID(), err)
			}
			r.Release(lease, outcome)
			results <- result{v: v, err: err}
		}(lease)
	}

	var (
		winner T
		won    bool
		errs   []error
	)
	for range leases {
		res := <-results
		if res.err == nil {
			if !won {
				won = true
				winner = res.v
				cancel()
			}
			continue
		}
		errs = append(errs, res.err)
	}
	if won {
		return winner, nil
	}
	return zero, errors.Join(errs...)
}
