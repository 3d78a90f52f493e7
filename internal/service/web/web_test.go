package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"skiptracer/internal/core/tracer"
	"skiptracer/internal/search"
	"skiptracer/internal/shared/settings"
	"skiptracer/internal/shared/types"
	"skiptracer/internal/store"
	"skiptracer/proxypool"
	"skiptracer/proxypool/model"
)

// mockController 是 Controller 的手写实现。
type mockController struct {
	mu        sync.Mutex
	imported  []string
	kind      model.Kind
	deleted   []string
	lookupErr error
}

func (m *mockController) setLookupErr(err error) {
	m.mu.Lock()
	m.lookupErr = err
	m.mu.Unlock()
}

func (m *mockController) importedSnapshot() (model.Kind, []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind, append([]string(nil), m.imported...)
}

func (m *mockController) Lookup(ctx context.Context, address string) ([]search.Match, error) {
	m.mu.Lock()
	err := m.lookupErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(address, "0 ") {
		return nil, nil
	}
	return []search.Match{{Name: "John Doe", Phones: []string{"+1 (555) 123-4567"}, CityState: "Springfield, IL", Source: "TruePeopleSearch"}}, nil
}

func (m *mockController) Proxies() []*model.ProxyInfo {
	return []*model.ProxyInfo{{ID: "1.2.3.4:8080-H", Scheme: "http", Host: "1.2.3.4", Port: 8080, Kind: model.KindMobile}}
}

func (m *mockController) ImportProxies(lines []string, kind model.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imported = append(m.imported, lines...)
	m.kind = kind
	return len(lines)
}

func (m *mockController) DeleteProxies(ids []string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = ids
	return len(ids)
}

func (m *mockController) ValidateProxies(ctx context.Context, ids ...string) (int, error) {
	return 3, nil
}

func (m *mockController) RotatorStats() proxypool.Stats {
	return proxypool.Stats{Mode: model.KindResidential, Caution: 2, Total: 1}
}

func (m *mockController) RecentTraces(ctx context.Context, limit int) ([]*store.Trace, error) {
	return nil, nil
}

func newTestServer(t *testing.T, ctrl Controller, user, pass string) (*httptest.Server, *Hub, *settings.SettingsManager) {
	t.Helper()
	sm, err := settings.NewSettingsManager(filepath.Join(t.TempDir(), "settings.json"), nil)
	if err != nil {
		t.Fatal(err)
	}
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	s := NewServer(types.WebConf{User: user, Password: pass}, NewHandler(sm, ctrl, hub), hub)
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return ts, hub, sm
}

func do(t *testing.T, method, url, body string, auth bool) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.SetBasicAuth("admin", "secret")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestBasicAuth(t *testing.T) {
	ts, _, _ := newTestServer(t, &mockController{}, "admin", "secret")

	if resp, _ := do(t, http.MethodGet, ts.URL+"/api/proxies", "", false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without auth: status = %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, ts.URL+"/api/proxies", "", true); resp.StatusCode != http.StatusOK {
		t.Errorf("with auth: status = %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodGet, ts.URL+"/api/status", "", false); resp.StatusCode != http.StatusOK {
		t.Errorf("status should be public, got %d", resp.StatusCode)
	}
}

func TestLookup(t *testing.T) {
	ctrl := &mockController{}
	ts, _, _ := newTestServer(t, ctrl, "", "")

	resp, body := do(t, http.MethodGet, ts.URL+"/api/lookup?address=123+Main+St", "", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}
	var got struct {
		Address string         `json:"address"`
		Matches []search.Match `json:"matches"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.Address != "123 Main St" || len(got.Matches) != 1 || got.Matches[0].Name != "John Doe" {
		t.Errorf("lookup = %+v", got)
	}

	if _, body := do(t, http.MethodGet, ts.URL+"/api/lookup?address=0+Nowhere", "", false); !strings.Contains(string(body), `"matches":[]`) {
		t.Errorf("empty lookup body = %s", body)
	}
	if resp, _ := do(t, http.MethodGet, ts.URL+"/api/lookup", "", false); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing address: status = %d", resp.StatusCode)
	}

	ctrl.setLookupErr(errors.New("all sites failed"))
	if resp, _ := do(t, http.MethodGet, ts.URL+"/api/lookup?address=1+A+St", "", false); resp.StatusCode != http.StatusBadGateway {
		t.Errorf("failed lookup: status = %d", resp.StatusCode)
	}
}

func TestProxyEndpoints(t *testing.T) {
	ctrl := &mockController{}
	ts, _, _ := newTestServer(t, ctrl, "", "")

	resp, body := do(t, http.MethodPost, ts.URL+"/api/proxies/import?kind=mobile", "1.1.1.1:80\nhttp://u:p@2.2.2.2:8080\n", false)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"added":2`) {
		t.Fatalf("import: %d %s", resp.StatusCode, body)
	}
	if kind, lines := ctrl.importedSnapshot(); kind != model.KindMobile || len(lines) != 2 {
		t.Errorf("import reached controller as %v %v", kind, lines)
	}
	if resp, _ := do(t, http.MethodPost, ts.URL+"/api/proxies/import?kind=satellite", "1.1.1.1:80", false); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad kind: status = %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodPost, ts.URL+"/api/proxies/delete", `{"ids":["a","b"]}`, false)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"deleted":2`) {
		t.Errorf("delete: %d %s", resp.StatusCode, body)
	}
	if resp, _ := do(t, http.MethodGet, ts.URL+"/api/proxies/delete", "", false); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET delete: status = %d", resp.StatusCode)
	}

	_, body = do(t, http.MethodGet, ts.URL+"/api/proxies", "", false)
	if !strings.Contains(string(body), `"kind":"mobile"`) || strings.Contains(string(body), "password") {
		t.Errorf("proxies body = %s", body)
	}
}

func TestUpdateSettings(t *testing.T) {
	ts, _, sm := newTestServer(t, &mockController{}, "", "")

	resp, body := do(t, http.MethodPost, ts.URL+"/api/settings/humanizer", `{"min_delay_ms": 10, "max_delay_ms": 20}`, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: %d %s", resp.StatusCode, body)
	}
	if h := sm.Get().Humanizer; h.MinDelayMs != 10 || h.MaxDelayMs != 20 || h.RatePerMinute != 20 {
		t.Errorf("humanizer settings = %+v", h)
	}
	if resp, _ := do(t, http.MethodPost, ts.URL+"/api/settings/routing", `{}`, false); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown module: status = %d", resp.StatusCode)
	}
	if resp, _ := do(t, http.MethodPost, ts.URL+"/api/settings/rotator", `{bad`, false); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad json: status = %d", resp.StatusCode)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	ts, hub, _ := newTestServer(t, &mockController{}, "", "")

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	hub.BroadcastTraceResult(tracer.Result{Address: "1 A St", Matches: []search.Match{{Name: "X"}}})
	hub.BroadcastRotatorState(proxypool.Stats{Caution: 3})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var kinds []string
	for i := 0; i < 2; i++ {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		kinds = append(kinds, msg.Type)
	}
	if kinds[0] != MessageTraceResult || kinds[1] != MessageRotatorState {
		t.Errorf("message types = %v", kinds)
	}
}
