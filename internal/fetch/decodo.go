package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"skiptracer/proxypool"
)

const defaultDecodoEndpoint = "https://scraper-api.decodo.com/v2/scrape"

type decodoRequest struct {
	URL      string `json:"url"`
	Headless string `json:"headless,omitempty"`
}

type decodoResponse struct {
	Results []struct {
		Content    string `json:"content"`
		StatusCode int    `json:"status_code"`
		URL        string `json:"url"`
	} `json:"results"`
}

// DecodoFetcher 通过 Decodo 抓取 API 获取页面。代理轮换由服务端完成, 租约被忽略。
type DecodoFetcher struct {
	endpoint   string
	username   string
	password   string
	client     *http.Client
	classifier Classifier
}

func NewDecodoFetcher(endpoint, username, password string, timeout time.Duration, classifier Classifier) *DecodoFetcher {
	if endpoint == "" {
		endpoint = defaultDecodoEndpoint
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DecodoFetcher{
		endpoint: endpoint,
		username: username,
		password: password,
		// 服务端渲染页面需要更长时间
		client:     &http.Client{Timeout: timeout * 4},
		classifier: classifier,
	}
}

func (f *DecodoFetcher) Fetch(ctx context.Context, url string, _ *proxypool.Lease) (*Page, error) {
	payload, err := json.Marshal(decodoRequest{URL: url, Headless: "html"})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.SetBasicAuth(f.username, f.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("decodo request for %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: decodo rejected credentials (status %d)", ErrPermanent, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("decodo: %w: %s", &StatusError{Code: resp.StatusCode, URL: f.endpoint}, bytes.TrimSpace(msg))
	}

	var out decodoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode decodo response: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, fmt.Errorf("decodo returned no results for %s", url)
	}

	r := out.Results[0]
	page := &Page{URL: url, StatusCode: r.StatusCode, HTML: r.Content, Via: "decodo"}
	if r.URL != "" {
		page.URL = r.URL
	}
	return page, f.classifier.Classify(page)
}
