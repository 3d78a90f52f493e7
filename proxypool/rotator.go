package proxypool

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"skiptracer/internal/shared/logger"
	"skiptracer/proxypool/model"
	"skiptracer/proxypool/source"
	"skiptracer/proxypool/storage"
	"skiptracer/proxypool/validator"
)

var (
	// ErrPoolEmpty 表示代理池为空且不允许直连。
	ErrPoolEmpty = errors.New("proxy pool is empty")
	// ErrNoProxyAvailable 表示没有健康的代理可用 (全部冷却中或已淘汰)。
	ErrNoProxyAvailable = errors.New("no proxy available")
)

// 失败后的冷却间隔，与 FailureCount 对应。被封锁 (Blocked) 时加倍。
var failureIntervals = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	1 * time.Hour,
}

// Outcome 是一次使用代理的结果。
type Outcome int

const (
	// Neutral 只释放代理，不影响任何计数。
	Neutral Outcome = iota
	Success
	Failure
	// Blocked 表示目标站点拒绝了请求 (403/429/挑战页)。
	Blocked
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Blocked:
		return "blocked"
	default:
		return "neutral"
	}
}

// Options 控制轮换器的选择与升级行为。
type Options struct {
	Mode                model.Kind
	Strategy            string
	AllowDirect         bool
	FallbackAcrossModes bool
	StickyTTL           time.Duration
	MaxFailures         int
	EscalateAfter       int
	DecayAfter          int
	MaxCaution          int
	SwitchModeAfter     int
	RevertAfter         int
	CautionStep         float64
	RecheckInterval     time.Duration
}

// DefaultOptions 返回默认参数。
func DefaultOptions() Options {
	return Options{
		Mode:                model.KindResidential,
		Strategy:            StrategyBest,
		AllowDirect:         true,
		FallbackAcrossModes: true,
		StickyTTL:           10 * time.Minute,
		MaxFailures:         5,
		EscalateAfter:       2,
		DecayAfter:          3,
		MaxCaution:          5,
		SwitchModeAfter:     6,
		RevertAfter:         10,
		CautionStep:         0.5,
		RecheckInterval:     time.Minute,
	}
}

// Lease 是一次对代理的独占使用。Proxy 为 nil 表示直连。
type Lease struct {
	ID       string
	Site     string
	Kind     model.Kind
	Proxy    *model.ProxyInfo // 获取时的快照
	Acquired time.Time

	released bool
}

// Direct 表示该租约不经过代理。
func (l *Lease) Direct() bool {
	return l == nil || l.Proxy == nil
}

// ProxyURL 返回代理地址, 直连时返回 nil。
func (l *Lease) ProxyURL() *url.URL {
	if l.Direct() {
		return nil
	}
	return l.Proxy.URL()
}

// ProxyID 返回代理ID, 直连时返回 "direct"。
func (l *Lease) ProxyID() string {
	if l.Direct() {
		return "direct"
	}
	return l.Proxy.ID
}

// Stats 是轮换器状态的快照。
type Stats struct {
	Mode                model.Kind         `json:"mode"`
	PrimaryMode         model.Kind         `json:"primary_mode"`
	Strategy            string             `json:"strategy"`
	Caution             int                `json:"caution"`
	DelayMultiplier     float64            `json:"delay_multiplier"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	SuccessStreak       int                `json:"success_streak"`
	Total               int                `json:"total"`
	Usable              int                `json:"usable"`
	InUse               int                `json:"in_use"`
	CoolingDown         int                `json:"cooling_down"`
	ByKind              map[model.Kind]int `json:"by_kind"`
	ActiveLeases        int                `json:"active_leases"`
	Evicted             int                `json:"evicted"`
}

// Observer 在每次状态变化后收到快照, 在锁外调用。
type Observer func(Stats)

// Rotator 是代理轮换与失败自适应控制器。一把互斥锁保护全部状态。
type Rotator struct {
	mu        sync.Mutex
	opts      Options
	primary   model.Kind
	mode      model.Kind
	proxies   map[string]*model.ProxyInfo
	leases    map[string]*Lease
	balancer  LoadBalancer
	sticky    *stickyManager
	storage   storage.Storage
	validator *validator.Validator
	observer  Observer
	now       func() time.Time

	caution             int
	consecutiveFailures int
	successStreak       int
	modeSuccesses       int
	evicted             int
	// drained 表示池曾因淘汰而变空, 此时不回退到直连。
	drained bool

	// released 在每次释放时被关闭并替换, 用于唤醒等待中的 Acquire。
	released chan struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New 创建轮换器。store 与 v 可以为 nil。
func New(opts Options, store storage.Storage, v *validator.Validator) *Rotator {
	if opts.Mode == "" {
		opts.Mode = model.KindResidential
	}
	return &Rotator{
		opts:      opts,
		primary:   opts.Mode,
		mode:      opts.Mode,
		proxies:   make(map[string]*model.ProxyInfo),
		leases:    make(map[string]*Lease),
		balancer:  newLoadBalancer(opts.Strategy),
		sticky:    newStickyManager(opts.StickyTTL),
		storage:   store,
		validator: v,
		now:       time.Now,
		released:  make(chan struct{}),
		stopChan:  make(chan struct{}),
	}
}

// SetObserver 设置状态变化回调。
func (r *Rotator) SetObserver(o Observer) {
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

// Add 将代理加入池中, 已存在的ID被忽略。返回新增数量。
func (r *Rotator) Add(proxies ...*model.ProxyInfo) int {
	r.mu.Lock()
	added := 0
	for _, p := range proxies {
		if p == nil || p.ID == "" {
			continue
		}
		if _, exists := r.proxies[p.ID]; exists {
			continue
		}
		c := p.Clone()
		c.InUse = false
		if c.Kind == "" {
			c.Kind = model.KindResidential
		}
		r.proxies[c.ID] = c
		added++
	}
	stats := r.statsLocked()
	r.wakeLocked()
	r.mu.Unlock()

	if added > 0 {
		l := logger.WithComponent("ProxyPool/Rotator")
		l.Info().Int("added", added).Int("total", stats.Total).Msg("Proxies added to pool.")
		r.publish(stats)
	}
	return added
}

// Import 解析文本行并加入池中。
func (r *Rotator) Import(lines []string, kind model.Kind) int {
	return r.Add(source.ParseProxyLines(lines, kind, "manual-import")...)
}

// Delete 按ID删除代理, 正在使用的代理也会被删除, 其租约释放时被忽略。
func (r *Rotator) Delete(ids []string) int {
	r.mu.Lock()
	deleted := 0
	for _, id := range ids {
		if _, exists := r.proxies[id]; exists {
			delete(r.proxies, id)
			deleted++
		}
	}
	// 手动清空视为未配置代理
	if len(r.proxies) == 0 {
		r.drained = false
	}
	stats := r.statsLocked()
	r.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Rotator")
	l.Info().Int("deleted_count", deleted).Msg("Deletion complete.")
	if deleted > 0 {
		r.publish(stats)
	}
	return deleted
}

// All 返回池中全部代理的副本, 按模式和ID排序。
func (r *Rotator) All() []*model.ProxyInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*model.ProxyInfo, 0, len(r.proxies))
	for _, p := range r.proxies {
		all = append(all, p.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Kind != all[j].Kind {
			return all[i].Kind < all[j].Kind
		}
		return all[i].ID < all[j].ID
	})
	return all
}

// Acquire 为 site 获取一个代理租约。所有候选都在使用中时会等待释放或 ctx 结束;
// 没有健康候选时返回 ErrNoProxyAvailable。
func (r *Rotator) Acquire(ctx context.Context, site string) (*Lease, error) {
	for {
		r.mu.Lock()
		lease, busy, wakeAt, err := r.tryAcquireLocked(site)
		if lease != nil {
			stats := r.statsLocked()
			r.mu.Unlock()
			r.publish(stats)
			return lease, nil
		}
		if err != nil && !busy {
			r.mu.Unlock()
			return nil, err
		}
		wait := r.released
		r.mu.Unlock()

		var (
			t     *time.Timer
			timer <-chan time.Time
		)
		if !wakeAt.IsZero() {
			t = time.NewTimer(time.Until(wakeAt))
			timer = t.C
		}
		select {
		case <-wait:
		case <-timer:
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			return nil, ctx.Err()
		}
		if t != nil {
			t.Stop()
		}
	}
}

// TryAcquire 是不等待的 Acquire。候选全部在使用中时返回 ErrNoProxyAvailable。
func (r *Rotator) TryAcquire(site string) (*Lease, error) {
	r.mu.Lock()
	lease, _, _, err := r.tryAcquireLocked(site)
	if lease == nil {
		r.mu.Unlock()
		if err == nil {
			err = ErrNoProxyAvailable
		}
		return nil, err
	}
	stats := r.statsLocked()
	r.mu.Unlock()
	r.publish(stats)
	return lease, nil
}

// tryAcquireLocked 尝试选出一个代理。busy 表示存在正在使用中的候选,
// wakeAt 是在等待时最早结束冷却的时间 (仅在 busy 时有意义)。
func (r *Rotator) tryAcquireLocked(site string) (lease *Lease, busy bool, wakeAt time.Time, err error) {
	now := r.now()

	if len(r.proxies) == 0 {
		if r.drained {
			return nil, false, time.Time{}, ErrNoProxyAvailable
		}
		if r.opts.AllowDirect {
			return r.newLeaseLocked(site, nil, r.mode, now), false, time.Time{}, nil
		}
		return nil, false, time.Time{}, ErrPoolEmpty
	}

	kinds := []model.Kind{r.mode}
	if r.opts.FallbackAcrossModes {
		kinds = append(kinds, r.mode.Other())
	}

	for _, kind := range kinds {
		candidates := make([]*model.ProxyInfo, 0)
		for _, p := range r.proxies {
			if p.Kind != kind {
				continue
			}
			switch {
			case p.InUse:
				busy = true
			case p.CoolingDown(now):
				if wakeAt.IsZero() || p.NextChecked.Before(wakeAt) {
					wakeAt = p.NextChecked
				}
			default:
				candidates = append(candidates, p)
			}
		}
		if len(candidates) == 0 {
			continue
		}

		var chosen *model.ProxyInfo
		if id := r.sticky.get(site, now, func(id string) bool {
			p, ok := r.proxies[id]
			return ok && p.Kind == kind && !p.InUse && !p.CoolingDown(now)
		}); id != "" {
			chosen = r.proxies[id]
		} else {
			chosen = r.balancer.Select(candidates)
		}

		chosen.InUse = true
		return r.newLeaseLocked(site, chosen.Clone(), kind, now), false, time.Time{}, nil
	}

	if busy {
		return nil, true, wakeAt, ErrNoProxyAvailable
	}
	return nil, false, time.Time{}, ErrNoProxyAvailable
}

func (r *Rotator) newLeaseLocked(site string, p *model.ProxyInfo, kind model.Kind, now time.Time) *Lease {
	l := &Lease{
		ID:       uuid.NewString(),
		Site:     site,
		Kind:     kind,
		Proxy:    p,
		Acquired: now,
	}
	r.leases[l.ID] = l
	return l
}

// Release 归还租约并记录结果。重复释放同一租约无效果。
func (r *Rotator) Release(lease *Lease, outcome Outcome) {
	if lease == nil {
		return
	}
	l := logger.WithComponent("ProxyPool/Rotator")

	r.mu.Lock()
	if lease.released {
		r.mu.Unlock()
		return
	}
	lease.released = true
	delete(r.leases, lease.ID)

	now := r.now()
	var p *model.ProxyInfo
	if !lease.Direct() {
		p = r.proxies[lease.Proxy.ID]
	}
	if p != nil {
		p.InUse = false
		p.LastChecked = now
	}

	switch outcome {
	case Success:
		if p != nil {
			p.SuccessCount++
			p.FailureCount = 0
			p.TotalUses++
			p.NextChecked = time.Time{}
			r.sticky.set(lease.Site, p.ID, now)
		}
		r.recordSuccessLocked()
	case Failure, Blocked:
		if p != nil {
			p.FailureCount++
			p.SuccessCount = 0
			p.TotalUses++
			p.NextChecked = now.Add(cooldown(p.FailureCount, outcome == Blocked))
			r.sticky.drop(lease.Site, p.ID)
			if r.opts.MaxFailures > 0 && p.FailureCount >= r.opts.MaxFailures {
				delete(r.proxies, p.ID)
				r.evicted++
				r.drained = true
				l.Info().Str("proxy_id", p.ID).Int("failures", p.FailureCount).Msg("Proxy removed from pool due to excessive failures.")
			}
		}
		r.recordFailureLocked()
	}

	r.wakeLocked()
	stats := r.statsLocked()
	r.mu.Unlock()

	l.Debug().Str("proxy_id", lease.ProxyID()).Str("site", lease.Site).Str("outcome", outcome.String()).
		Int("caution", stats.Caution).Str("mode", string(stats.Mode)).Msg("Lease released.")
	r.publish(stats)
}

func cooldown(failures int, blocked bool) time.Duration {
	idx := failures - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(failureIntervals) {
		idx = len(failureIntervals) - 1
	}
	d := failureIntervals[idx]
	if blocked {
		d *= 2
	}
	return d
}

func (r *Rotator) recordSuccessLocked() {
	r.consecutiveFailures = 0
	r.successStreak++
	if r.opts.DecayAfter > 0 && r.successStreak%r.opts.DecayAfter == 0 && r.caution > 0 {
		r.caution--
	}
	if r.mode != r.primary {
		r.modeSuccesses++
		if r.opts.RevertAfter > 0 && r.modeSuccesses >= r.opts.RevertAfter {
			l := logger.WithComponent("ProxyPool/Rotator")
			l.Info().Str("from", string(r.mode)).Str("to", string(r.primary)).Msg("Reverting to primary proxy mode.")
			r.mode = r.primary
			r.modeSuccesses = 0
		}
	}
}

func (r *Rotator) recordFailureLocked() {
	r.successStreak = 0
	r.consecutiveFailures++
	if r.opts.EscalateAfter > 0 && r.consecutiveFailures%r.opts.EscalateAfter == 0 && r.caution < r.opts.MaxCaution {
		r.caution++
		l := logger.WithComponent("ProxyPool/Rotator")
		l.Info().Int("caution", r.caution).Msg("Caution level raised.")
	}
	if r.opts.SwitchModeAfter > 0 && r.mode == r.primary && r.consecutiveFailures >= r.opts.SwitchModeAfter {
		other := r.primary.Other()
		if r.countKindLocked(other) > 0 {
			l := logger.WithComponent("ProxyPool/Rotator")
			l.Warn().Str("from", string(r.mode)).Str("to", string(other)).
				Int("failures", r.consecutiveFailures).Msg("Switching proxy mode after repeated failures.")
			r.mode = other
			r.modeSuccesses = 0
			r.consecutiveFailures = 0
		}
	}
}

func (r *Rotator) countKindLocked(kind model.Kind) int {
	n := 0
	for _, p := range r.proxies {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

func (r *Rotator) wakeLocked() {
	close(r.released)
	r.released = make(chan struct{})
}

// Mode 返回当前使用的代理模式。
func (r *Rotator) Mode() model.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Caution 返回当前谨慎等级。
func (r *Rotator) Caution() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caution
}

// DelayMultiplier 返回人性化延迟的放大倍数: 1 + caution*CautionStep。
func (r *Rotator) DelayMultiplier() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delayMultiplierLocked()
}

func (r *Rotator) delayMultiplierLocked() float64 {
	return 1 + float64(r.caution)*r.opts.CautionStep
}

// Stats 返回当前状态快照。
func (r *Rotator) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

func (r *Rotator) statsLocked() Stats {
	now := r.now()
	s := Stats{
		Mode:                r.mode,
		PrimaryMode:         r.primary,
		Strategy:            r.opts.Strategy,
		Caution:             r.caution,
		DelayMultiplier:     r.delayMultiplierLocked(),
		ConsecutiveFailures: r.consecutiveFailures,
		SuccessStreak:       r.successStreak,
		Total:               len(r.proxies),
		ByKind:              make(map[model.Kind]int),
		ActiveLeases:        len(r.leases),
		Evicted:             r.evicted,
	}
	for _, p := range r.proxies {
		s.ByKind[p.Kind]++
		switch {
		case p.InUse:
			s.InUse++
		case p.CoolingDown(now):
			s.CoolingDown++
		default:
			s.Usable++
		}
	}
	return s
}

func (r *Rotator) publish(s Stats) {
	r.mu.Lock()
	o := r.observer
	r.mu.Unlock()
	if o != nil {
		o(s)
	}
}

// String 用于日志。
func (s Stats) String() string {
	return fmt.Sprintf("mode=%s caution=%d usable=%d/%d", s.Mode, s.Caution, s.Usable, s.Total)
}
