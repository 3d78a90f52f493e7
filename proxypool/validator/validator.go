package validator

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"skiptracer/internal/shared/logger"
	"skiptracer/proxypool/model"
)

const defaultValidationTarget = "https://www.google.com/generate_204"

// Validator 并发验证代理的连通性，并发数由信号量限制。
type Validator struct {
	timeout     time.Duration
	concurrency int
	target      *url.URL
}

// NewValidator 创建验证器。target 为空时使用默认的 204 探测地址。
func NewValidator(target string, timeout time.Duration, concurrency int) (*Validator, error) {
	if concurrency <= 0 {
		concurrency = 5
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if target == "" {
		target = defaultValidationTarget
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid validation target %q", target)
	}
	return &Validator{
		timeout:     timeout,
		concurrency: concurrency,
		target:      u,
	}, nil
}

// Validate 验证传入的代理并原地更新其健康字段，返回同一批代理。
// 调用者应传入副本，避免与其他 goroutine 共享。
func (v *Validator) Validate(ctx context.Context, proxies []*model.ProxyInfo) []*model.ProxyInfo {
	l := logger.WithComponent("ProxyPool/Validator")
	if len(proxies) == 0 {
		return proxies
	}

	l.Info().Int("count", len(proxies)).Int("concurrency", v.concurrency).Msg("Starting validation batch...")

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, v.concurrency)

	for _, p := range proxies {
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			l.Warn().Err(ctx.Err()).Msg("Validation batch cancelled.")
			return proxies
		}
		wg.Add(1)
		go func(p *model.ProxyInfo) {
			defer wg.Done()
			defer func() { <-semaphore }()
			v.validateSingleProxy(ctx, p)
		}(p)
	}
	wg.Wait()

	healthy := 0
	for _, p := range proxies {
		if p.VerifiedProtocol != "" {
			healthy++
		}
	}
	l.Info().Int("healthy", healthy).Int("total", len(proxies)).Msg("Validation batch finished.")
	return proxies
}

// validateSingleProxy 根据代理协议选择检查方式。
func (v *Validator) validateSingleProxy(ctx context.Context, p *model.ProxyInfo) {
	startTime := time.Now()
	var err error

	p.VerifiedProtocol = ""
	switch p.Scheme {
	case "socks5":
		err = v.checkSocks5Connect(ctx, p)
		if err == nil {
			p.VerifiedProtocol = "socks5"
		}
	default:
		err = v.checkHTTPProxy(ctx, p)
		if err == nil {
			p.VerifiedProtocol = "http"
		}
	}

	latency := time.Since(startTime)
	p.LastChecked = time.Now()

	if err != nil {
		l := logger.WithComponent("ProxyPool/Validator")
		l.Debug().Err(err).Str("proxy_id", p.ID).Msg("Proxy failed validation.")
		p.SuccessCount = 0
		p.FailureCount++
		p.Latency = 0
		return
	}
	p.FailureCount = 0
	p.SuccessCount++
	p.Latency = latency
}

// checkHTTPProxy 通过代理发送 HEAD 请求 (https 目标会触发 CONNECT)。
func (v *Validator) checkHTTPProxy(ctx context.Context, p *model.ProxyInfo) error {
	dialer := &net.Dialer{
		Timeout:   v.timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyURL(p.URL()),
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		IdleConnTimeout:       v.timeout,
		TLSHandshakeTimeout:   v.timeout / 2,
		ExpectContinueTimeout: 1 * time.Second,
		DisableKeepAlives:     true,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   v.timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, v.target.String(), nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("received non-successful status code: %d", resp.StatusCode)
	}
	return nil
}

// checkSocks5Connect 通过 SOCKS5 握手连接到探测目标。
func (v *Validator) checkSocks5Connect(ctx context.Context, p *model.ProxyInfo) error {
	var auth *proxy.Auth
	if p.Username != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}
	dialer, err := proxy.SOCKS5("tcp", p.Addr(), auth, &net.Dialer{Timeout: v.timeout})
	if err != nil {
		return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", targetAddr(v.target))
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func targetAddr(u *url.URL) string {
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "http" {
		return net.JoinHostPort(u.Hostname(), "80")
	}
	return net.JoinHostPort(u.Hostname(), "443")
}
