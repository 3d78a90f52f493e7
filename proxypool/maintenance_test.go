package proxypool

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"skiptracer/proxypool/model"
	"skiptracer/proxypool/source"
	"skiptracer/proxypool/storage"
	"skiptracer/proxypool/validator"
)

func TestSaveAndLoadThroughStorage(t *testing.T) {
	store := storage.NewFileStorage(filepath.Join(t.TempDir(), "proxies.txt"))
	r := New(DefaultOptions(), store, nil)
	r.Add(proxy("a", model.KindResidential), proxy("b", model.KindMobile))
	l, _ := r.Acquire(context.Background(), "")
	r.Release(l, Success)
	r.Stop()

	reloaded := New(DefaultOptions(), store, nil)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	all := reloaded.All()
	if len(all) != 2 {
		t.Fatalf("reloaded %d proxies", len(all))
	}
	uses := 0
	for _, p := range all {
		uses += p.TotalUses
	}
	if uses != 1 {
		t.Errorf("TotalUses across pool = %d, want 1", uses)
	}
}

func TestValidateAllMergesResults(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	v, err := validator.NewValidator("http://check.test/", 2*time.Second, 2)
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions()
	opts.MaxFailures = 2
	r := New(opts, nil, v)

	goodProxy := serverProxy(t, good)
	badProxy := serverProxy(t, bad)
	badProxy.FailureCount = 1
	r.Add(goodProxy, badProxy)

	healthy, err := r.ValidateAll(context.Background())
	if err != nil {
		t.Fatalf("ValidateAll() error = %v", err)
	}
	if healthy != 1 {
		t.Errorf("healthy = %d, want 1", healthy)
	}
	all := r.All()
	if len(all) != 1 || all[0].ID != goodProxy.ID || all[0].VerifiedProtocol != "http" {
		t.Errorf("pool after validation = %+v", all)
	}
}

func TestLoadSourcesSkipsFailingSource(t *testing.T) {
	r := New(DefaultOptions(), nil, nil)
	n := r.LoadSources(context.Background(),
		source.NewFileSource(filepath.Join(t.TempDir(), "missing.txt"), model.KindResidential),
		source.NewGatewaySource("gate.example.com:7000", 1, model.KindMobile),
	)
	if n != 1 {
		t.Errorf("LoadSources() = %d, want 1", n)
	}
}

func TestStartStop(t *testing.T) {
	opts := DefaultOptions()
	opts.RecheckInterval = 10 * time.Millisecond
	r := New(opts, nil, nil)
	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop()
}

func serverProxy(t *testing.T, srv *httptest.Server) *model.ProxyInfo {
	t.Helper()
	u, _ := url.Parse(srv.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return &model.ProxyInfo{ID: model.MakeID("http", host, port, ""), Scheme: "http", Host: host, Port: port, Kind: model.KindResidential}
}
