package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"skiptracer/internal/shared/logger"
	"skiptracer/internal/shared/types"
)

type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf("[WebServer] Connection accepted from: %s", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware 在配置了用户名和密码时强制 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	if user == "" || pass == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type Server struct {
	cfg     types.WebConf
	handler *Handler
	hub     *Hub

	mu  sync.Mutex
	srv *http.Server
}

func NewServer(cfg types.WebConf, handler *Handler, hub *Hub) *Server {
	return &Server{cfg: cfg, handler: handler, hub: hub}
}

// Routes 返回完整的路由表。
func (s *Server) Routes() http.Handler {
	h := s.handler
	user, pass := s.cfg.User, s.cfg.Password
	mux := http.NewServeMux()

	mux.Handle("/api/lookup", basicAuthMiddleware(http.HandlerFunc(h.HandleLookup), user, pass))
	mux.Handle("/api/traces", basicAuthMiddleware(http.HandlerFunc(h.HandleTraces), user, pass))
	mux.Handle("/api/proxies", basicAuthMiddleware(http.HandlerFunc(h.HandleProxies), user, pass))
	mux.Handle("/api/proxies/import", basicAuthMiddleware(http.HandlerFunc(h.HandleImportProxies), user, pass))
	mux.Handle("/api/proxies/delete", basicAuthMiddleware(http.HandlerFunc(h.HandleDeleteProxies), user, pass))
	mux.Handle("/api/proxies/validate", basicAuthMiddleware(http.HandlerFunc(h.HandleValidateProxies), user, pass))

	mux.Handle("/api/settings", basicAuthMiddleware(http.HandlerFunc(h.HandleGetSettings), user, pass))
	mux.Handle("/api/settings/", basicAuthMiddleware(http.HandlerFunc(h.HandleUpdateSettings), user, pass))

	// 公开的状态 API 与 WebSocket
	mux.HandleFunc("/api/status", h.HandleStatus)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(s.hub, w, r)
	})
	return mux
}

// Start 开始监听。Port <= 0 时不启动。
func (s *Server) Start(wg *sync.WaitGroup) error {
	log := logger.WithComponent("WebServer")
	if s.cfg.Port <= 0 {
		log.Info().Msg("Web API is disabled (port is 0 or not set).")
		return nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start web API on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: s.Routes(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	log.Info().Msgf("Web API is listening on http://%s", listener.Addr())
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(loggingListener{Listener: listener}); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Web server error.")
		}
		log.Info().Msg("Web server stopped.")
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
