package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"skiptracer/internal/search"
	"skiptracer/internal/service/web"
	"skiptracer/internal/shared/config"
	"skiptracer/internal/shared/settings"
	"skiptracer/internal/shared/types"
	"skiptracer/proxypool/model"
)

var _ web.Controller = (*AppServer)(nil)

const resultsPage = `<html><body>
<div class="card">
  <a href="/details?id=7">Ann Smith</a>
  <div class="address">Austin, TX</div>
  <span>(512) 555-0142</span>
</div>
</body></html>`

// newTestConfig 返回一份全部路径都在临时目录下、没有延迟的配置。
func newTestConfig(t *testing.T, siteURL string) *types.Config {
	t.Helper()
	dir := t.TempDir()

	profiles := filepath.Join(dir, "sites.yaml")
	yaml := "sites:\n" +
		"  - key: local\n" +
		"    name: Local\n" +
		"    url_template: \"" + siteURL + "/results?streetaddress={address}\"\n" +
		"    name_href: /details\n"
	if err := os.WriteFile(profiles, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Sites = "local"
	cfg.ProfilesFile = profiles
	cfg.DebugDir = filepath.Join(dir, "logs")
	cfg.ProxyConf.StateFile = filepath.Join(dir, "proxies.txt")
	cfg.StoreConf.Path = filepath.Join(dir, "skiptracer.db")
	cfg.WebConf.SettingsFile = filepath.Join(dir, "settings.json")
	cfg.WebConf.Port = 0
	cfg.RetryConf.Attempts = 1
	cfg.HumanizeConf = types.HumanizeConf{}
	return cfg
}

func newSiteServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Query().Get("streetaddress") == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(resultsPage))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestApp(t *testing.T, cfg *types.Config) *AppServer {
	t.Helper()
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

func TestLookupUsesDirectPathAndCaches(t *testing.T) {
	var hits int32
	ts := newSiteServer(t, &hits)
	s := newTestApp(t, newTestConfig(t, ts.URL))

	matches, err := s.Lookup(context.Background(), "1 Elm St, Austin, TX")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(matches) != 1 || matches[0].Name != "Ann Smith" || matches[0].Source != "Local" {
		t.Fatalf("Lookup() = %+v", matches)
	}
	if got := matches[0].Phones; len(got) != 1 || got[0] != "+1 (512) 555-0142" {
		t.Errorf("phones = %v", got)
	}

	again, err := s.Lookup(context.Background(), "1  elm st, austin, tx")
	if err != nil || len(again) != 1 {
		t.Fatalf("cached Lookup() = %+v, %v", again, err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("site hit %d times, want 1 (second lookup should be cached)", n)
	}

	traces, err := s.RecentTraces(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(traces) != 1 || traces[0].MatchCount != 1 {
		t.Errorf("RecentTraces() = %+v", traces)
	}
}

func TestUnknownSiteFailsConstruction(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	cfg.Sites = "local,nowhere"
	_, err := New(context.Background(), cfg)
	if !errors.Is(err, search.ErrUnknownSite) {
		t.Fatalf("New() error = %v, want ErrUnknownSite", err)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	cfg.Fetcher = "carrier-pigeon"
	if _, err := New(context.Background(), cfg); !errors.Is(err, config.ErrUnknownFetcher) {
		t.Fatalf("New() error = %v, want ErrUnknownFetcher", err)
	}
}

func TestProxiesLoadedFromFileSource(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	file := filepath.Join(t.TempDir(), "list.txt")
	content := "# pool\n10.0.0.1:8080\n10.0.0.2:8080:user:pass\nnot a proxy\n"
	if err := os.WriteFile(file, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.ProxyConf.File = file
	cfg.ProxyConf.FileKind = "mobile"

	s := newTestApp(t, cfg)
	proxies := s.Proxies()
	if len(proxies) != 2 {
		t.Fatalf("Proxies() = %d entries, want 2", len(proxies))
	}
	for _, p := range proxies {
		if p.Kind != model.KindMobile {
			t.Errorf("proxy %s kind = %s, want mobile", p.ID, p.Kind)
		}
	}
	if st := s.RotatorStats(); st.ByKind[model.KindMobile] != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestImportAndDeleteProxiesPersist(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	s := newTestApp(t, cfg)

	if n := s.ImportProxies([]string{"10.1.1.1:3128", "bogus"}, model.KindResidential); n != 1 {
		t.Fatalf("ImportProxies() = %d, want 1", n)
	}
	data, err := os.ReadFile(cfg.ProxyConf.StateFile)
	if err != nil {
		t.Fatalf("state file not written: %v", err)
	}
	if !strings.Contains(string(data), "10.1.1.1") {
		t.Errorf("state file missing imported proxy:\n%s", data)
	}

	id := s.Proxies()[0].ID
	if n := s.DeleteProxies([]string{id, "missing"}); n != 1 {
		t.Errorf("DeleteProxies() = %d, want 1", n)
	}
	if len(s.Proxies()) != 0 {
		t.Errorf("pool not empty after delete")
	}
}

func TestSettingsUpdateReachesRotator(t *testing.T) {
	cfg := newTestConfig(t, "http://127.0.0.1:1")
	s := newTestApp(t, cfg)

	if got := s.RotatorStats().Strategy; got != "best" {
		t.Fatalf("initial strategy = %q", got)
	}
	if err := s.settingsManager.Update(settings.ModuleRotator, []byte(`{"strategy":"round_robin"}`)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := s.RotatorStats().Strategy; got != "round_robin" {
		t.Errorf("strategy after update = %q", got)
	}
	if _, err := os.Stat(cfg.WebConf.SettingsFile); err != nil {
		t.Errorf("settings file not persisted: %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := newTestApp(t, newTestConfig(t, "http://127.0.0.1:1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
