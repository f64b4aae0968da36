// Package handler はHTTPエンドポイントとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/roomgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// LINE
	LineWebhook *LineWebhookHandler

	// 決済。nilの場合は決済関連のルートが404を返す
	Payment *PaymentHandler

	// 運用
	Health  *HealthHandler
	Metrics http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Logging → Recovery → SecurityHeaders
//
// Webhookと決済ページには送信元IPごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	// --- 運用エンドポイント ---
	if deps.Health != nil {
		r.Get("/health", deps.Health.Check)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	// --- 外部から呼ばれるエンドポイント ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.IPMiddleware())
		}

		// LINE Webhook（/callbackは旧設定との互換）
		r.Post("/webhook", deps.LineWebhook.Callback)
		r.Post("/callback", deps.LineWebhook.Callback)

		r.Route("/payment", func(r chi.Router) {
			if deps.Payment == nil {
				r.HandleFunc("/*", paymentDisabled)
				return
			}
			r.Post("/webhook", deps.Payment.Webhook)
			r.Get("/success", deps.Payment.Success)
			r.Get("/cancel", deps.Payment.Cancel)
		})
	})

	return r
}
