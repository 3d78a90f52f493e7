package app

import (
	"context"

	"skiptracer/internal/search"
	"skiptracer/internal/shared/logger"
	"skiptracer/internal/store"
	"skiptracer/proxypool"
	"skiptracer/proxypool/model"
)

// 以下方法实现 web.Controller。

func (s *AppServer) Lookup(ctx context.Context, address string) ([]search.Match, error) {
	return s.tracer.SkipTrace(ctx, address)
}

func (s *AppServer) Proxies() []*model.ProxyInfo {
	return s.rotator.All()
}

// ImportProxies 导入代理并立即保存池状态。
func (s *AppServer) ImportProxies(lines []string, kind model.Kind) int {
	added := s.rotator.Import(lines, kind)
	if added > 0 {
		s.savePool()
	}
	return added
}

func (s *AppServer) DeleteProxies(ids []string) int {
	removed := s.rotator.Delete(ids)
	if removed > 0 {
		s.savePool()
	}
	return removed
}

func (s *AppServer) ValidateProxies(ctx context.Context, ids ...string) (int, error) {
	healthy, err := s.rotator.ValidateAll(ctx, ids...)
	if err == nil {
		s.savePool()
	}
	return healthy, err
}

func (s *AppServer) RotatorStats() proxypool.Stats {
	return s.rotator.Stats()
}

// RecentTraces 在未配置结果库时返回空列表。
func (s *AppServer) RecentTraces(ctx context.Context, limit int) ([]*store.Trace, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Recent(ctx, limit)
}

func (s *AppServer) savePool() {
	if err := s.rotator.Save(); err != nil {
		l := logger.WithComponent("AppServer")
		l.Error().Err(err).Msg("Failed to save proxy pool.")
	}
}
