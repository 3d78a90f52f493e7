package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"skiptracer/internal/shared/logger"
	"skiptracer/proxypool/model"
)

// FreeListSource 抓取公开代理列表页面中的表格 (ip, port, code, country, anonymity, google, https)。
type FreeListSource struct {
	url       string
	kind      model.Kind
	userAgent string
	timeout   time.Duration
}

func NewFreeListSource(url string, kind model.Kind) *FreeListSource {
	return &FreeListSource{
		url:       url,
		kind:      kind,
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		timeout:   20 * time.Second,
	}
}

func (s *FreeListSource) Name() string {
	return "free-list"
}

func (s *FreeListSource) Fetch(ctx context.Context) ([]*model.ProxyInfo, error) {
	l := logger.WithComponent("ProxyPool/Source")
	l.Info().Str("source", s.Name()).Str("url", s.url).Msg("Starting scrape...")

	c := colly.NewCollector(
		colly.UserAgent(s.userAgent),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(s.timeout)

	var (
		proxies   []*model.ProxyInfo
		scrapeErr error
		mu        sync.Mutex
	)

	c.OnHTML("table tbody tr", func(e *colly.HTMLElement) {
		ip := strings.TrimSpace(e.ChildText("td:nth-child(1)"))
		portStr := strings.TrimSpace(e.ChildText("td:nth-child(2)"))
		if ip == "" || portStr == "" {
			return
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			l.Debug().Str("ip", ip).Str("port", portStr).Msg("Failed to parse port, skipping.")
			return
		}
		// 目标站点都是 https, 只保留支持 CONNECT 的代理
		if strings.EqualFold(strings.TrimSpace(e.ChildText("td:nth-child(7)")), "no") {
			return
		}
		country := strings.ReplaceAll(strings.TrimSpace(e.ChildText("td:nth-child(4)")), "|", " ")

		mu.Lock()
		defer mu.Unlock()
		proxies = append(proxies, &model.ProxyInfo{
			ID:          model.MakeID("http", ip, port, ""),
			Scheme:      "http",
			Host:        ip,
			Port:        port,
			Kind:        s.kind,
			Source:      s.Name(),
			Country:     country,
			LastChecked: time.Now(),
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		l.Error().Err(err).Int("status_code", r.StatusCode).Str("url", r.Request.URL.String()).Msg("Scrape request failed.")
		scrapeErr = err
	})

	if err := c.Visit(s.url); err != nil && scrapeErr == nil {
		scrapeErr = err
	}
	c.Wait()

	if scrapeErr != nil {
		return nil, fmt.Errorf("%s: %w", s.Name(), scrapeErr)
	}

	l.Info().Int("count", len(proxies)).Str("source", s.Name()).Msg("Scrape finished.")
	return proxies, nil
}
