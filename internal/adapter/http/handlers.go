// Package http exposes the analysis lifecycle, the live stream attach and
// the operational endpoints over a chi router.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Strob0t/FinSight/internal/adapter/ws"
	"github.com/Strob0t/FinSight/internal/domain/analysis"
	"github.com/Strob0t/FinSight/internal/port/cache"
	"github.com/Strob0t/FinSight/internal/port/messagequeue"
	"github.com/Strob0t/FinSight/internal/resilience"
	"github.com/Strob0t/FinSight/internal/service"
)

const maxBodySize = 1 << 20 // 1 MiB

// Handlers bundles the HTTP handler dependencies.
type Handlers struct {
	registry  *service.Registry
	bridge    *service.Bridge
	hub       *ws.Hub
	readCache cache.Cache
	cacheTTL  time.Duration
	mirror    messagequeue.Queue  // optional, nil when NATS is not configured
	breaker   *resilience.Breaker // guards the mirror; nil when mirror is nil
	startedAt time.Time
}

// NewHandlers creates the handler set. readCache may be nil to disable
// read-side caching of status and report queries.
func NewHandlers(registry *service.Registry, bridge *service.Bridge, hub *ws.Hub, readCache cache.Cache, cacheTTL time.Duration) *Handlers {
	return &Handlers{
		registry:  registry,
		bridge:    bridge,
		hub:       hub,
		readCache: readCache,
		cacheTTL:  cacheTTL,
		startedAt: time.Now(),
	}
}

// WithMirror wires the optional event mirror queue and its circuit breaker
// into the health report.
func (h *Handlers) WithMirror(q messagequeue.Queue, br *resilience.Breaker) *Handlers {
	h.mirror = q
	h.breaker = br
	return h
}

type startRequest struct {
	Identifier  string         `json:"identifier"`
	Stages      []string       `json:"stages"`
	Depth       int            `json:"depth,omitempty"`
	ModelConfig map[string]any `json:"model_config,omitempty"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// StartAnalysis launches a new run. A request beyond the concurrent-run cap
// is rejected with 503 and a Retry-After hint; nothing is queued.
func (h *Handlers) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[startRequest](w, r, maxBodySize)
	if !ok {
		return
	}

	token, err := h.bridge.StartAnalysis(r.Context(), analysis.Request{
		Identifier:  req.Identifier,
		Stages:      req.Stages,
		Depth:       req.Depth,
		ModelConfig: req.ModelConfig,
	})
	if err != nil {
		writeDomainError(w, err, "analysis not started")
		return
	}

	writeJSON(w, http.StatusCreated, startResponse{
		SessionID: token,
		Status:    string(analysis.StatusPending),
		Message:   "analysis started, attach to the stream for live progress",
	})
}

// GetStatus returns the session snapshot. Responses are cached briefly to
// shield the registry from polling dashboards.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	token := urlParam(r, "token")
	if h.serveCached(w, r, "status:"+token) {
		return
	}

	session, err := h.registry.GetSession(token)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	h.writeCacheable(w, r, "status:"+token, session)
}

type reportsResponse struct {
	SessionID string            `json:"session_id"`
	Reports   map[string]string `json:"reports"`
}

// GetReports returns the populated report sections for a session.
func (h *Handlers) GetReports(w http.ResponseWriter, r *http.Request) {
	token := urlParam(r, "token")
	if h.serveCached(w, r, "reports:"+token) {
		return
	}

	session, err := h.registry.GetSession(token)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}

	reports := make(map[string]string, len(session.Reports))
	for section, content := range session.Reports {
		if content != nil {
			reports[section] = *content
		}
	}
	h.writeCacheable(w, r, "reports:"+token, reportsResponse{SessionID: token, Reports: reports})
}

// ListAnalyses returns all sessions, newest first.
func (h *Handlers) ListAnalyses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.ListSessions())
}

// CancelAnalysis requests cooperative cancellation of a running analysis.
// The run observes the signal at its next step boundary.
func (h *Handlers) CancelAnalysis(w http.ResponseWriter, r *http.Request) {
	token := urlParam(r, "token")
	if _, err := h.registry.GetSession(token); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}

	requested := h.bridge.CancelAnalysis(token)
	if !requested {
		// No worker in flight; mark the session directly.
		if _, err := h.registry.CancelRun(token); err != nil {
			writeDomainError(w, err, "session not found")
			return
		}
	}
	h.invalidate(r.Context(), token)
	writeJSON(w, http.StatusAccepted, map[string]any{"session_id": token, "cancelling": true})
}

// RetryAnalysis re-admits a failed session through the normal admission gate.
func (h *Handlers) RetryAnalysis(w http.ResponseWriter, r *http.Request) {
	token := urlParam(r, "token")
	if err := h.bridge.RetryAnalysis(r.Context(), token); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	h.invalidate(r.Context(), token)
	writeJSON(w, http.StatusAccepted, map[string]any{"session_id": token, "status": string(analysis.StatusPending)})
}

// DeleteAnalysis cancels any in-flight run, detaches all viewers and
// removes the session.
func (h *Handlers) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	token := urlParam(r, "token")

	h.bridge.CancelAnalysis(token)
	if err := h.registry.Delete(token); err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	h.hub.CloseSession(token)
	h.invalidate(r.Context(), token)
	w.WriteHeader(http.StatusNoContent)
}

// Connections reports live connection counts.
func (h *Handlers) Connections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"total": h.hub.ConnectionCount()})
}

// SessionStats reports session counts per status.
func (h *Handlers) SessionStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Stats())
}

// PerfStats reports the hub's delivery counters.
func (h *Handlers) PerfStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.hub.Stats())
}

// Health reports subsystem wiring for load balancers and probes.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	mirror := "disabled"
	if h.mirror != nil {
		mirror = "disconnected"
		if h.mirror.IsConnected() {
			mirror = "connected"
		}
	}
	payload := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"connections":    h.hub.ConnectionCount(),
		"sessions":       h.registry.Stats().Total,
		"running":        h.bridge.RunningCount(),
		"event_mirror":   mirror,
	}
	if h.breaker != nil {
		payload["mirror_breaker"] = h.breaker.State()
	}
	writeJSON(w, http.StatusOK, payload)
}

// serveCached writes a cached response body when present and fresh.
func (h *Handlers) serveCached(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.readCache == nil {
		return false
	}
	data, found, err := h.readCache.Get(r.Context(), key)
	if err != nil || !found {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	return true
}

// writeCacheable writes the response and stores the body for subsequent
// reads within the cache TTL.
func (h *Handlers) writeCacheable(w http.ResponseWriter, r *http.Request, key string, data any) {
	if h.readCache == nil {
		writeJSON(w, http.StatusOK, data)
		return
	}
	body, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	_ = h.readCache.Set(r.Context(), key, body, h.cacheTTL)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handlers) invalidate(ctx context.Context, token string) {
	if h.readCache == nil {
		return
	}
	_ = h.readCache.Delete(ctx, "status:"+token)
	_ = h.readCache.Delete(ctx, "reports:"+token)
}
