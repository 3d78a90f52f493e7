package app

import (
	"fmt"
	"time"

	"skiptracer/internal/core/humanize"
	"skiptracer/internal/core/retry"
	"skiptracer/internal/shared/settings"
	"skiptracer/internal/shared/types"
	"skiptracer/proxypool"
	"skiptracer/proxypool/model"
	"skiptracer/proxypool/source"
)

// runtimeDefaults 把 ini 中的阈值作为 settings.json 不存在时的初始值。
func runtimeDefaults(cfg *types.Config) *settings.RuntimeSettings {
	p, h := cfg.ProxyConf, cfg.HumanizeConf
	return &settings.RuntimeSettings{
		Rotator: &settings.RotatorSettings{
			Strategy:        p.Strategy,
			StickyTTL:       p.StickyTTLSec,
			MaxFailures:     p.MaxFailures,
			EscalateAfter:   p.EscalateAfter,
			DecayAfter:      p.DecayAfter,
			MaxCaution:      p.MaxCaution,
			SwitchModeAfter: p.SwitchModeAfter,
			RevertAfter:     p.RevertAfter,
		},
		Humanizer: &settings.HumanizerSettings{
			MinDelayMs:    h.MinDelayMs,
			MaxDelayMs:    h.MaxDelayMs,
			CautionStep:   h.CautionStep,
			MaxScale:      h.MaxScale,
			RatePerMinute: h.RatePerMinute,
		},
	}
}

func rotatorOptions(cfg *types.Config) (proxypool.Options, error) {
	p := cfg.ProxyConf
	mode, err := model.ParseKind(p.Mode)
	if err != nil {
		return proxypool.Options{}, err
	}
	opts := proxypool.DefaultOptions()
	opts.Mode = mode
	opts.Strategy = p.Strategy
	opts.AllowDirect = p.AllowDirect
	opts.FallbackAcrossModes = p.FallbackAcrossModes
	opts.StickyTTL = time.Duration(p.StickyTTLSec) * time.Second
	opts.MaxFailures = p.MaxFailures
	opts.EscalateAfter = p.EscalateAfter
	opts.DecayAfter = p.DecayAfter
	opts.MaxCaution = p.MaxCaution
	opts.SwitchModeAfter = p.SwitchModeAfter
	opts.RevertAfter = p.RevertAfter
	opts.CautionStep = cfg.HumanizeConf.CautionStep
	if p.RecheckIntervalSec > 0 {
		opts.RecheckInterval = time.Duration(p.RecheckIntervalSec) * time.Second
	}
	return opts, nil
}

// proxySources 返回配置中启用的代理来源: 文件、住宅/移动网关、公开代理列表。
func proxySources(cfg *types.Config) ([]source.Source, error) {
	p := cfg.ProxyConf
	var sources []source.Source
	if p.File != "" {
		kind, err := model.ParseKind(p.FileKind)
		if err != nil {
			return nil, fmt.Errorf("proxy file_kind: %w", err)
		}
		sources = append(sources, source.NewFileSource(p.File, kind))
	}
	if p.ResidentialGateway != "" {
		sources = append(sources, source.NewGatewaySource(p.ResidentialGateway, p.GatewaySessions, model.KindResidential))
	}
	if p.MobileGateway != "" {
		sources = append(sources, source.NewGatewaySource(p.MobileGateway, p.GatewaySessions, model.KindMobile))
	}
	if p.FreeListURL != "" {
		sources = append(sources, source.NewFreeListSource(p.FreeListURL, model.KindResidential))
	}
	return sources, nil
}

func humanizeConfig(cfg *types.Config) humanize.Config {
	h := cfg.HumanizeConf
	return humanize.Config{
		MinDelay:      time.Duration(h.MinDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(h.MaxDelayMs) * time.Millisecond,
		MaxScale:      h.MaxScale,
		RatePerMinute: h.RatePerMinute,
	}
}

func retryConfig(cfg *types.Config) retry.Config {
	r := cfg.RetryConf
	return retry.Config{
		Attempts:    r.Attempts,
		Parallel:    r.Parallel,
		BaseBackoff: time.Duration(r.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(r.MaxBackoffMs) * time.Millisecond,
	}
}
