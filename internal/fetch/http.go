package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"skiptracer/proxypool"
)

// maxTransports 是缓存的 Transport 上限, 超出时关闭最久未使用的一个。
// 网关会话和淘汰后重新导入的代理会不断产生新的代理ID。
const maxTransports = 64

type cachedTransport struct {
	t       *http.Transport
	lastUse uint64
}

// HTTPFetcher 直接通过 HTTP 获取页面, 每个代理一个复用的 Transport。
type HTTPFetcher struct {
	timeout    time.Duration
	maxBody    int64
	agents     *UserAgents
	classifier Classifier

	mu            sync.Mutex
	transports    map[string]*cachedTransport
	maxTransports int
	uses          uint64
}

func NewHTTPFetcher(timeout time.Duration, maxBody int64, agents *UserAgents, classifier Classifier) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxBody <= 0 {
		maxBody = 4 << 20
	}
	if agents == nil {
		agents = NewUserAgents(nil, time.Now().UnixNano())
	}
	return &HTTPFetcher{
		timeout:       timeout,
		maxBody:       maxBody,
		agents:        agents,
		classifier:    classifier,
		transports:    make(map[string]*cachedTransport),
		maxTransports: maxTransports,
	}
}

func (f *HTTPFetcher) transportFor(lease *proxypool.Lease) *http.Transport {
	key := lease.ProxyID()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uses++
	if c, ok := f.transports[key]; ok {
		c.lastUse = f.uses
		return c.t
	}
	if len(f.transports) >= f.maxTransports {
		f.evictOldestLocked()
	}
	dialer := &net.Dialer{Timeout: f.timeout, KeepAlive: 30 * time.Second}
	t := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   f.timeout / 2,
		ExpectContinueTimeout: time.Second,
	}
	if u := lease.ProxyURL(); u != nil {
		t.Proxy = http.ProxyURL(u)
	}
	f.transports[key] = &cachedTransport{t: t, lastUse: f.uses}
	return t
}

func (f *HTTPFetcher) evictOldestLocked() {
	var oldest *cachedTransport
	oldestKey := ""
	for key, c := range f.transports {
		if oldest == nil || c.lastUse < oldest.lastUse {
			oldest, oldestKey = c, key
		}
	}
	if oldest != nil {
		oldest.t.CloseIdleConnections()
		delete(f.transports, oldestKey)
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, lease *proxypool.Lease) (*Page, error) {
	client := &http.Client{Transport: f.transportFor(lease), Timeout: f.timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	browserHeaders(req.Header, f.agents.Pick())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s via %s: %w", url, lease.ProxyID(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", url, err)
	}

	page := &Page{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		HTML:       string(body),
		Via:        lease.ProxyID(),
	}
	return page, f.classifier.Classify(page)
}

// Close 关闭所有空闲连接。
func (f *HTTPFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, c := range f.transports {
		c.t.CloseIdleConnections()
		delete(f.transports, key)
	}
	return nil
}
