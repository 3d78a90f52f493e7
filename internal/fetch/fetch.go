// Package fetch retrieves people-search result pages directly, through a
// headless browser, or through the Decodo scraping API.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"skiptracer/proxypool"
)

var (
	// ErrBlocked 表示目标站点拒绝了请求或返回了挑战页, 应更换代理重试。
	ErrBlocked = errors.New("blocked by target site")
	// ErrPermanent 表示重试无意义的错误 (404, 凭据错误等)。
	ErrPermanent = errors.New("permanent fetch error")
)

// StatusError 携带非 2xx 的状态码。
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Page 是一次抓取的结果。即使被封锁也会返回, 便于调试。
type Page struct {
	URL        string
	StatusCode int
	HTML       string
	Via        string // 使用的代理ID 或 "direct"
}

// Fetcher 获取一个页面。lease 为 nil 或直连租约时不使用代理。
type Fetcher interface {
	Fetch(ctx context.Context, url string, lease *proxypool.Lease) (*Page, error)
}

// Classifier 根据状态码和挑战页标记判断页面是否可用。
type Classifier struct {
	Markers []string
}

// Classify 返回 nil, 或包装了 ErrBlocked / ErrPermanent 的错误, 或 *StatusError。
func (c Classifier) Classify(p *Page) error {
	switch {
	case p.StatusCode == http.StatusForbidden,
		p.StatusCode == http.StatusTooManyRequests,
		p.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: status %d", ErrBlocked, p.StatusCode)
	case p.StatusCode == http.StatusNotFound || p.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d for %s", ErrPermanent, p.StatusCode, p.URL)
	case p.StatusCode != 0 && (p.StatusCode < 200 || p.StatusCode >= 300):
		return &StatusError{Code: p.StatusCode, URL: p.URL}
	}
	if marker := c.challengeMarker(p.HTML); marker != "" {
		return fmt.Errorf("%w: challenge page (%q)", ErrBlocked, marker)
	}
	return nil
}

func (c Classifier) challengeMarker(html string) string {
	if len(c.Markers) == 0 || html == "" {
		return ""
	}
	lower := strings.ToLower(html)
	for _, m := range c.Markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return m
		}
	}
	return ""
}

// Outcome 将抓取错误映射为代理使用结果。超时算作代理失败。
func Outcome(err error) proxypool.Outcome {
	switch {
	case err == nil:
		return proxypool.Success
	case errors.Is(err, context.Canceled):
		return proxypool.Neutral
	case errors.Is(err, ErrBlocked):
		return proxypool.Blocked
	case errors.Is(err, ErrPermanent):
		return proxypool.Neutral
	default:
		return proxypool.Failure
	}
}
