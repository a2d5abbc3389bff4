package handlers

import (
	"context"
	"net/http"
	"time"
)

// UpstreamChecker probes the Tebra proxy.
type UpstreamChecker interface {
	TestConnection(ctx context.Context) bool
}

// HealthHandler answers liveness and upstream checks.
type HealthHandler struct {
	upstream UpstreamChecker
	timeout  time.Duration
}

func NewHealthHandler(upstream UpstreamChecker) *HealthHandler {
	return &HealthHandler{upstream: upstream, timeout: 5 * time.Second}
}

func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Upstream reports whether the proxy answers its health endpoint.
func (h *HealthHandler) Upstream(w http.ResponseWriter, r *http.Request) {
	if h.upstream == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unconfigured"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if !h.upstream.TestConnection(ctx) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
