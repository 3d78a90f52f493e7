// Package batch runs skip traces for many addresses concurrently while
// keeping results in input order.
package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"skiptracer/internal/search"
	"skiptracer/internal/shared/logger"
	"skiptracer/internal/store"
)

// Tracer 是批处理所需的查找接口。
type Tracer interface {
	SkipTrace(ctx context.Context, address string) ([]search.Match, error)
}

// Result 是一个地址的批处理结果。Skipped 表示恢复模式下沿用了已存储的结果。
type Result struct {
	Address string
	Matches []search.Match
	Err     error
	Skipped bool
}

// Progress 在每个地址完成后被调用, 可能来自多个 goroutine。
type Progress func(done, total int, r Result)

type Processor struct {
	tracer      Tracer
	concurrency int
	resume      *store.Store
	progress    Progress
}

type Option func(*Processor)

// WithConcurrency 设置同时进行的查找数, 默认 2。
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithResume 跳过已在 st 中有非错误记录的地址。
func WithResume(st *store.Store) Option {
	return func(p *Processor) { p.resume = st }
}

func WithProgress(fn Progress) Option {
	return func(p *Processor) { p.progress = fn }
}

func NewProcessor(t Tracer, opts ...Option) *Processor {
	p := &Processor{tracer: t, concurrency: 2}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run 处理所有地址。单个地址的错误记录在 Result.Err 中, 只有 ctx 结束时返回错误。
func (p *Processor) Run(ctx context.Context, addresses []string) ([]Result, error) {
	log := logger.WithComponent("Batch")
	log.Info().Int("total", len(addresses)).Int("concurrency", p.concurrency).Msg("Starting batch.")
	start := time.Now()

	results := make([]Result, len(addresses))
	var (
		mu   sync.Mutex
		done int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, address := range addresses {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			r := p.one(ctx, address)
			if r.Err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
			results[i] = r

			mu.Lock()
			done++
			n := done
			mu.Unlock()

			if r.Err != nil {
				log.Warn().Err(r.Err).Str("address", address).Msg("Trace failed.")
			}
			if p.progress != nil {
				p.progress(n, len(addresses), r)
			}
			return nil
		})
	}

	err := g.Wait()
	log.Info().Int("total", len(addresses)).Dur("elapsed", time.Since(start)).Msg("Batch complete.")
	return results, err
}

func (p *Processor) one(ctx context.Context, address string) Result {
	if p.resume != nil {
		tr, err := p.resume.LatestTrace(ctx, address)
		switch {
		case err == nil && tr.Status != store.StatusError:
			return Result{Address: address, Matches: tr.Matches, Skipped: true}
		case err != nil && !errors.Is(err, store.ErrNotFound):
			l := logger.WithComponent("Batch")
			l.Warn().Err(err).Str("address", address).Msg("Resume lookup failed.")
		}
	}
	matches, err := p.tracer.SkipTrace(ctx, address)
	return Result{Address: address, Matches: matches, Err: err}
}
