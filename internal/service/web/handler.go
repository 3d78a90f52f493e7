package web

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"skiptracer/internal/search"
	"skiptracer/internal/shared/logger"
	"skiptracer/internal/shared/settings"
	"skiptracer/internal/store"
	"skiptracer/proxypool"
	"skiptracer/proxypool/model"
)

// Controller 是 web 处理器与应用之间的接口, 使 web 包不依赖 app 包。
type Controller interface {
	Lookup(ctx context.Context, address string) ([]search.Match, error)
	Proxies() []*model.ProxyInfo
	ImportProxies(lines []string, kind model.Kind) int
	DeleteProxies(ids []string) int
	ValidateProxies(ctx context.Context, ids ...string) (int, error)
	RotatorStats() proxypool.Stats
	RecentTraces(ctx context.Context, limit int) ([]*store.Trace, error)
}

const maxImportBytes = 1 << 20

type Handler struct {
	settingsManager *settings.SettingsManager
	controller      Controller
	hub             *Hub
	startedAt       time.Time
}

func NewHandler(settingsManager *settings.SettingsManager, controller Controller, hub *Hub) *Handler {
	return &Handler{
		settingsManager: settingsManager,
		controller:      controller,
		hub:             hub,
		startedAt:       time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// HandleLookup 处理 GET /api/lookup?address=
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	address := search.NormalizeAddress(r.URL.Query().Get("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	matches, err := h.controller.Lookup(r.Context(), address)
	if err != nil {
		l := logger.WithComponent("Web/Handler")
		l.Warn().Err(err).Str("address", address).Msg("Lookup failed.")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if matches == nil {
		matches = []search.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address": address,
		"matches": matches,
	})
}

// HandleProxies 处理 GET /api/proxies
func (h *Handler) HandleProxies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.Proxies())
}

// HandleImportProxies 处理 POST /api/proxies/import?kind=, 请求体每行一个代理。
func (h *Handler) HandleImportProxies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	kind := model.KindResidential
	if k := r.URL.Query().Get("kind"); k != "" {
		parsed, err := model.ParseKind(k)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = parsed
	}

	var lines []string
	sc := bufio.NewScanner(io.LimitReader(r.Body, maxImportBytes))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	added := h.controller.ImportProxies(lines, kind)
	l := logger.WithComponent("Web/Handler")
	l.Info().Int("added", added).Str("kind", string(kind)).Msg("Proxies imported.")
	writeJSON(w, http.StatusOK, map[string]int{"added": added})
}

// HandleDeleteProxies 处理 POST /api/proxies/delete, 请求体 {"ids": [...]}。
func (h *Handler) HandleDeleteProxies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": h.controller.DeleteProxies(req.IDs)})
}

// HandleValidateProxies 处理 POST /api/proxies/validate[?id=...]
func (h *Handler) HandleValidateProxies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	usable, err := h.controller.ValidateProxies(r.Context(), r.URL.Query()["id"]...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"usable": usable})
}

// HandleTraces 处理 GET /api/traces?limit=
func (h *Handler) HandleTraces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	traces, err := h.controller.RecentTraces(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if traces == nil {
		traces = []*store.Trace{}
	}
	writeJSON(w, http.StatusOK, traces)
}

// HandleStatus 处理 GET /api/status (公开)
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		Uptime    string          `json:"uptime"`
		WSClients int             `json:"ws_clients"`
		Rotator   proxypool.Stats `json:"rotator"`
	}
	resp := StatusResponse{
		Uptime:  time.Since(h.startedAt).Round(time.Second).String(),
		Rotator: h.controller.RotatorStats(),
	}
	if h.hub != nil {
		resp.WSClients = h.hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetSettings 处理 GET /api/settings 请求
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.settingsManager.Get())
}

// HandleUpdateSettings 处理 POST /api/settings/{module} 请求
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	moduleKey := strings.TrimPrefix(r.URL.Path, "/api/settings/")
	if moduleKey == "" {
		http.Error(w, "Module key is missing in URL path", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	if err := h.settingsManager.Update(moduleKey, body); err != nil {
		switch {
		case strings.Contains(err.Error(), "unknown settings module"):
			http.Error(w, err.Error(), http.StatusNotFound)
		case strings.Contains(err.Error(), "failed to parse JSON"):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	if moduleKey == settings.ModuleRotator && h.hub != nil {
		h.hub.BroadcastRotatorState(h.controller.RotatorStats())
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Settings updated successfully"})
}
