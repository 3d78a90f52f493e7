package fetch

import (
	"fmt"
	"time"

	"skiptracer/internal/shared/config"
	"skiptracer/internal/shared/types"
)

// New 根据配置选择抓取方式: http, browser 或 decodo。
func New(cfg *types.Config) (Fetcher, error) {
	timeout := time.Duration(cfg.FetchConf.TimeoutSec) * time.Second
	classifier := Classifier{Markers: config.ChallengeMarkers(cfg)}
	agents := NewUserAgents(nil, time.Now().UnixNano())

	switch cfg.Fetcher {
	case "", "http":
		return NewHTTPFetcher(timeout, cfg.FetchConf.MaxBodyBytes, agents, classifier), nil
	case "browser":
		return NewBrowserFetcher(cfg.FetchConf.BrowserBin, cfg.FetchConf.BrowserHeadless, timeout, agents, classifier), nil
	case "decodo":
		if cfg.DecodoConf.Username == "" || cfg.DecodoConf.Password == "" {
			return nil, config.ErrDecodoAuth
		}
		return NewDecodoFetcher(cfg.DecodoConf.Endpoint, cfg.DecodoConf.Username, cfg.DecodoConf.Password, timeout, classifier), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownFetcher, cfg.Fetcher)
	}
}
