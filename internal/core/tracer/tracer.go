// Package tracer looks an address up on each configured people-search site in
// turn and returns the first non-empty set of matches.
package tracer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"skiptracer/internal/core/retry"
	"skiptracer/internal/fetch"
	"skiptracer/internal/search"
	"skiptracer/internal/shared/logger"
	"skiptracer/internal/store"
	"skiptracer/proxypool"
)

// DebugFileName 是调试模式下保存最后一个页面的文件名。
const DebugFileName = "debug_last.html"

var ErrEmptyAddress = errors.New("address is empty")

// Options 配置 Tracer。Store 为 nil 时不使用缓存也不记录结果。
type Options struct {
	Sites      []*search.SiteProfile
	Fetcher    fetch.Fetcher
	Controller *retry.Controller
	Store      *store.Store
	CacheTTL   time.Duration
	Debug      bool
	DebugDir   string
}

// Result 是一次查找的结果, 交给 Observer。
type Result struct {
	Address string         `json:"address"`
	Matches []search.Match `json:"matches"`
	Cached  bool           `json:"cached"`
	Error   string         `json:"error,omitempty"`
}

// Observer 在每次查找完成后被调用。
type Observer func(Result)

type Tracer struct {
	opts Options

	mu       sync.Mutex
	observer Observer
}

func New(opts Options) *Tracer {
	if opts.Controller == nil {
		opts.Controller = retry.New(retry.Config{Attempts: 1}, nil, nil)
	}
	if opts.DebugDir == "" {
		opts.DebugDir = "logs"
	}
	return &Tracer{opts: opts}
}

func (t *Tracer) SetObserver(o Observer) {
	t.mu.Lock()
	t.observer = o
	t.mu.Unlock()
}

// SkipTrace 依次查询各站点, 返回第一个非空结果。没有结果时为 nil, nil,
// 包括所有站点都出错的情况; 此时合并后的错误只写入日志、结果库和 Observer。
// 只有地址为空或 ctx 结束时返回错误。
func (t *Tracer) SkipTrace(ctx context.Context, address string) ([]search.Match, error) {
	address = search.NormalizeAddress(address)
	if address == "" {
		return nil, ErrEmptyAddress
	}

	if matches, ok := t.cached(ctx, address); ok {
		t.notify(Result{Address: address, Matches: matches, Cached: true})
		return matches, nil
	}

	matches, err := t.lookup(ctx, address)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	t.record(ctx, address, matches, err)

	res := Result{Address: address, Matches: matches}
	if err != nil {
		l := logger.WithComponent("Tracer")
		l.Warn().Err(err).Str("address", address).Msg("Every site failed.")
		res.Error = err.Error()
	}
	t.notify(res)
	return matches, nil
}

func (t *Tracer) lookup(ctx context.Context, address string) ([]search.Match, error) {
	log := logger.WithComponent("Tracer")

	var (
		mu       sync.Mutex
		lastHTML string
		errs     []error
	)
	for _, site := range t.opts.Sites {
		url := site.BuildURL(address)
		log.Debug().Str("site", site.Name).Str("url", url).Msg("Trying site.")

		matches, err := retry.Run(ctx, t.opts.Controller, site.Key, func(ctx context.Context, lease *proxypool.Lease) ([]search.Match, error) {
			page, err := t.opts.Fetcher.Fetch(ctx, url, lease)
			if page != nil && page.HTML != "" {
				mu.Lock()
				lastHTML = page.HTML
				mu.Unlock()
			}
			if err != nil {
				return nil, err
			}
			matches, err := search.ParseResults(site, page.HTML)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", fetch.ErrPermanent, err)
			}
			return matches, nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Debug().Err(err).Str("site", site.Name).Msg("Site lookup failed.")
			errs = append(errs, fmt.Errorf("%s: %w", site.Name, err))
			continue
		}
		log.Debug().Str("site", site.Name).Int("matches", len(matches)).Msg("Parsed results.")
		if len(matches) > 0 {
			return matches, nil
		}
	}

	if t.opts.Debug && lastHTML != "" {
		t.dumpHTML(lastHTML)
	}
	if len(t.opts.Sites) > 0 && len(errs) == len(t.opts.Sites) {
		return nil, errors.Join(errs...)
	}
	return nil, nil
}

func (t *Tracer) cached(ctx context.Context, address string) ([]search.Match, bool) {
	if t.opts.Store == nil || t.opts.CacheTTL <= 0 {
		return nil, false
	}
	tr, err := t.opts.Store.LatestTrace(ctx, address)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l := logger.WithComponent("Tracer")
			l.Warn().Err(err).Msg("Cache lookup failed.")
		}
		return nil, false
	}
	if tr.Status == store.StatusError || time.Since(tr.TracedAt) > t.opts.CacheTTL {
		return nil, false
	}
	l := logger.WithComponent("Tracer")
	l.Debug().Str("address", address).Time("traced_at", tr.TracedAt).Msg("Using cached trace.")
	return tr.Matches, true
}

func (t *Tracer) record(ctx context.Context, address string, matches []search.Match, err error) {
	if t.opts.Store == nil {
		return
	}
	tr := &store.Trace{Address: address, Matches: matches}
	if err != nil {
		tr.Error = err.Error()
	}
	if serr := t.opts.Store.SaveTrace(ctx, tr); serr != nil {
		l := logger.WithComponent("Tracer")
		l.Warn().Err(serr).Str("address", address).Msg("Failed to save trace.")
	}
}

func (t *Tracer) dumpHTML(html string) {
	log := logger.WithComponent("Tracer")
	if err := os.MkdirAll(t.opts.DebugDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("Failed to create debug directory.")
		return
	}
	path := filepath.Join(t.opts.DebugDir, DebugFileName)
	if err := os.WriteFile(path, []byte(html), 0o644); err != nil {
		log.Warn().Err(err).Msg("Failed to write debug page.")
		return
	}
	log.Info().Str("path", path).Msg("Saved last page for debugging.")
}

func (t *Tracer) notify(r Result) {
	t.mu.Lock()
	o := t.observer
	t.mu.Unlock()
	if o != nil {
		o(r)
	}
}
