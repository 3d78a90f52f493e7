package fetch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"skiptracer/internal/shared/logger"
	"skiptracer/proxypool"
)

// BrowserFetcher 使用无头 Chromium 获取页面, 每次抓取启动一个独立的浏览器,
// 以便每个租约使用自己的 --proxy-server。
type BrowserFetcher struct {
	bin        string
	headless   bool
	timeout    time.Duration
	agents     *UserAgents
	classifier Classifier
}

func NewBrowserFetcher(bin string, headless bool, timeout time.Duration, agents *UserAgents, classifier Classifier) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if agents == nil {
		agents = NewUserAgents(nil, time.Now().UnixNano())
	}
	return &BrowserFetcher{
		bin:        bin,
		headless:   headless,
		timeout:    timeout,
		agents:     agents,
		classifier: classifier,
	}
}

func (f *BrowserFetcher) launcher(lease *proxypool.Lease) *launcher.Launcher {
	l := launcher.New().Headless(f.headless)
	if f.bin != "" {
		l = l.Bin(f.bin)
	}
	if u := lease.ProxyURL(); u != nil {
		// Chromium 不接受 URL 中的凭据, 认证通过 HandleAuth 完成
		l = l.Proxy(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
	}
	return l
}

func (f *BrowserFetcher) Fetch(ctx context.Context, url string, lease *proxypool.Lease) (*Page, error) {
	log := logger.WithComponent("Fetch/Browser")

	ctx, cancel := context.WithTimeout(ctx, f.timeout*2)
	defer cancel()

	l := f.launcher(lease)
	controlURL, err := l.Context(ctx).Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		l.Kill()
		l.Cleanup()
	}()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	defer func() { _ = browser.Close() }()

	if !lease.Direct() && lease.Proxy.Username != "" {
		wait := browser.HandleAuth(lease.Proxy.Username, lease.Proxy.Password)
		go func() {
			if err := wait(); err != nil && ctx.Err() == nil {
				log.Debug().Err(err).Str("proxy_id", lease.ProxyID()).Msg("Proxy auth handler ended.")
			}
		}()
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      f.agents.Pick(),
		AcceptLanguage: acceptLanguageHeader,
	}); err != nil {
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	if _, err := page.SetExtraHeaders([]string{"Accept", acceptHeader, "Accept-Language", acceptLanguageHeader}); err != nil {
		return nil, fmt.Errorf("set headers: %w", err)
	}

	var status atomic.Int64
	waitDoc := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument && e.Response != nil {
			status.Store(int64(e.Response.Status))
			return true
		}
		return false
	})
	go waitDoc()

	if err := page.Timeout(f.timeout).Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate %s via %s: %w", url, lease.ProxyID(), err)
	}
	if err := page.Timeout(f.timeout).WaitLoad(); err != nil {
		log.Debug().Err(err).Str("url", url).Msg("Page load did not finish, reading DOM anyway.")
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}

	p := &Page{
		URL:        url,
		StatusCode: int(status.Load()),
		HTML:       html,
		Via:        lease.ProxyID(),
	}
	if info, err := page.Info(); err == nil && info.URL != "" {
		p.URL = info.URL
	}
	return p, f.classifier.Classify(p)
}
