package proxypool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"skiptracer/internal/shared/logger"
	"skiptracer/internal/shared/settings"
	"skiptracer/proxypool/model"
	"skiptracer/proxypool/source"
)

const revalidationBatchSize = 50

// Load 从存储加载上次保存的代理状态。
func (r *Rotator) Load() error {
	if r.storage == nil {
		return nil
	}
	proxies, err := r.storage.Load()
	if err != nil {
		return err
	}
	list := make([]*model.ProxyInfo, 0, len(proxies))
	for _, p := range proxies {
		list = append(list, p)
	}
	r.Add(list...)
	return nil
}

// Save 将内存中的代理保存到存储。
func (r *Rotator) Save() error {
	if r.storage == nil {
		return nil
	}
	r.mu.Lock()
	snapshot := make(map[string]*model.ProxyInfo, len(r.proxies))
	for id, p := range r.proxies {
		snapshot[id] = p.Clone()
	}
	r.mu.Unlock()
	return r.storage.Save(snapshot)
}

// LoadSources 从各来源获取代理并加入池中, 单个来源失败只记录警告。
func (r *Rotator) LoadSources(ctx context.Context, sources ...source.Source) int {
	l := logger.WithComponent("ProxyPool/Rotator")
	total := 0
	for _, s := range sources {
		proxies, err := s.Fetch(ctx)
		if err != nil {
			l.Warn().Err(err).Str("source", s.Name()).Msg("Proxy source failed.")
			continue
		}
		added := r.Add(proxies...)
		l.Info().Str("source", s.Name()).Int("fetched", len(proxies)).Int("added", added).Msg("Proxy source loaded.")
		total += added
	}
	return total
}

// Start 启动后台调度循环: 定期重新验证冷却结束的代理并清理过期的粘性记录。
func (r *Rotator) Start() {
	l := logger.WithComponent("ProxyPool/Rotator")
	interval := r.opts.RecheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	l.Info().Dur("recheck_interval", interval).Msg("Rotator scheduler starting.")

	r.wg.Add(1)
	go r.schedulerLoop(interval)
}

func (r *Rotator) schedulerLoop(interval time.Duration) {
	defer r.wg.Done()
	l := logger.WithComponent("ProxyPool/Rotator")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopChan
		cancel()
	}()

	for {
		select {
		case <-ticker.C:
			l.Debug().Msg("Recheck ticker triggered.")
			r.runRevalidationCycle(ctx)
			r.mu.Lock()
			r.sticky.cleanup(r.now())
			r.mu.Unlock()
		case <-r.stopChan:
			l.Info().Msg("Stop signal received. Shutting down scheduler.")
			return
		}
	}
}

// Stop 停止后台任务并保存代理状态。可以重复调用。
func (r *Rotator) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		r.wg.Wait()
		if err := r.Save(); err != nil {
			logger.Error().Err(err).Msg("Failed to save proxies on shutdown.")
		}
		logger.Info().Msg("Rotator gracefully stopped.")
	})
}

// runRevalidationCycle 对冷却结束且有失败记录的代理进行验证。
func (r *Rotator) runRevalidationCycle(ctx context.Context) {
	if r.validator == nil {
		return
	}
	now := r.now()
	due := make([]*model.ProxyInfo, 0)
	r.mu.Lock()
	for _, p := range r.proxies {
		if !p.InUse && p.FailureCount > 0 && !p.CoolingDown(now) {
			due = append(due, p.Clone())
		}
	}
	r.mu.Unlock()

	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextChecked.Before(due[j].NextChecked)
	})
	if len(due) > revalidationBatchSize {
		due = due[:revalidationBatchSize]
	}

	r.merge(r.validator.Validate(ctx, due))
	if err := r.Save(); err != nil {
		l := logger.WithComponent("ProxyPool/Rotator")
		l.Error().Err(err).Msg("Failed to save proxies after re-validation cycle.")
	}
}

// ValidateAll 立即验证池中所有未被使用的代理 (ids 为空) 或指定的代理。
// 返回验证通过的数量。
func (r *Rotator) ValidateAll(ctx context.Context, ids ...string) (int, error) {
	if r.validator == nil {
		return 0, fmt.Errorf("no validator configured")
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	r.mu.Lock()
	batch := make([]*model.ProxyInfo, 0, len(r.proxies))
	for id, p := range r.proxies {
		if p.InUse || (len(want) > 0 && !want[id]) {
			continue
		}
		batch = append(batch, p.Clone())
	}
	r.mu.Unlock()

	if len(batch) == 0 {
		return 0, ErrNoProxyAvailable
	}
	validated := r.validator.Validate(ctx, batch)
	r.merge(validated)

	healthy := 0
	for _, p := range validated {
		if p.VerifiedProtocol != "" {
			healthy++
		}
	}
	return healthy, ctx.Err()
}

// merge 将验证结果写回池中并计算下次可用时间。
func (r *Rotator) merge(validated []*model.ProxyInfo) {
	l := logger.WithComponent("ProxyPool/Rotator")
	r.mu.Lock()
	now := r.now()
	for _, v := range validated {
		p, ok := r.proxies[v.ID]
		if !ok {
			continue
		}
		p.VerifiedProtocol = v.VerifiedProtocol
		p.Latency = v.Latency
		p.LastChecked = v.LastChecked
		p.FailureCount = v.FailureCount
		p.SuccessCount = v.SuccessCount
		if p.VerifiedProtocol != "" {
			p.NextChecked = time.Time{}
			continue
		}
		p.NextChecked = now.Add(cooldown(p.FailureCount, false))
		if r.opts.MaxFailures > 0 && p.FailureCount >= r.opts.MaxFailures {
			delete(r.proxies, p.ID)
			r.evicted++
			r.drained = true
			l.Info().Str("proxy_id", p.ID).Int("failures", p.FailureCount).Msg("Proxy removed from pool due to excessive failures.")
		}
	}
	r.wakeLocked()
	stats := r.statsLocked()
	r.mu.Unlock()
	r.publish(stats)
}

// OnSettingsUpdate 实现 settings.ConfigurableModule。
func (r *Rotator) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	switch moduleKey {
	case settings.ModuleRotator:
		cfg, ok := newSettings.(*settings.RotatorSettings)
		if !ok {
			return fmt.Errorf("rotator: received incorrect settings type for %s module", moduleKey)
		}
		r.mu.Lock()
		if cfg.Strategy != "" && cfg.Strategy != r.opts.Strategy {
			r.opts.Strategy = cfg.Strategy
			r.balancer = newLoadBalancer(cfg.Strategy)
		}
		r.opts.StickyTTL = time.Duration(cfg.StickyTTL) * time.Second
		r.sticky.setTTL(r.opts.StickyTTL)
		r.opts.MaxFailures = cfg.MaxFailures
		r.opts.EscalateAfter = cfg.EscalateAfter
		r.opts.DecayAfter = cfg.DecayAfter
		r.opts.MaxCaution = cfg.MaxCaution
		if r.caution > r.opts.MaxCaution {
			r.caution = r.opts.MaxCaution
		}
		r.opts.SwitchModeAfter = cfg.SwitchModeAfter
		r.opts.RevertAfter = cfg.RevertAfter
		stats := r.statsLocked()
		r.mu.Unlock()
		r.publish(stats)
	case settings.ModuleHumanizer:
		cfg, ok := newSettings.(*settings.HumanizerSettings)
		if !ok {
			return fmt.Errorf("rotator: received incorrect settings type for %s module", moduleKey)
		}
		r.mu.Lock()
		r.opts.CautionStep = cfg.CautionStep
		r.mu.Unlock()
	}
	return nil
}
