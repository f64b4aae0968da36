package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/roomgate/internal/middleware"
	"github.com/hitoshi/roomgate/internal/repository"
)

// defaultHealthTimeout はストア疎通確認の上限時間。
const defaultHealthTimeout = 3 * time.Second

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	store   repository.Pinger
	timeout time.Duration
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(store repository.Pinger) *HealthHandler {
	return &HealthHandler{store: store, timeout: defaultHealthTimeout}
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// Check はログストアに疎通できれば200、できなければ503を返す。
// GET /health
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := http.StatusOK
	resp := healthResponse{Status: "ok", Store: "ok"}
	if err := h.store.Ping(ctx); err != nil {
		slog.Warn("health check failed", slog.String("error", err.Error()))
		status = http.StatusServiceUnavailable
		resp = healthResponse{Status: "unavailable", Store: "unreachable"}
	}

	middleware.WriteJSON(w, status, resp)
}
