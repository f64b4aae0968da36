package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/roomgate/internal/metrics"
	"github.com/hitoshi/roomgate/internal/middleware"
	"github.com/hitoshi/roomgate/internal/model"
	"github.com/hitoshi/roomgate/internal/payment"
)

// SourceStripe はStripe Webhookのメトリクスラベル。
const SourceStripe = "stripe"

// PaymentProcessor は決済完了通知を処理する。payment.Processorが実装する。
type PaymentProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (payment.Result, error)
}

// LandingPages は決済後に表示するページ。
type LandingPages interface {
	Success() []byte
	Cancel() []byte
}

// PaymentHandler は決済関連のHTTPハンドラー。
type PaymentHandler struct {
	processor PaymentProcessor
	pages     LandingPages
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
}

// NewPaymentHandler はPaymentHandlerを生成する。
func NewPaymentHandler(processor PaymentProcessor, pages LandingPages, m metrics.MetricsCollector, logger *slog.Logger) *PaymentHandler {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentHandler{
		processor: processor,
		pages:     pages,
		metrics:   m,
		logger:    logger,
	}
}

// Webhook はStripeの決済完了通知を受け付ける。
// POST /payment/webhook
//
// 署名不一致と解釈できないボディは400、ストア障害は500を返す。
// 500の場合はStripeが再送し、処理済みでないイベントとして改めて判定される。
func (h *PaymentHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, model.NewMalformedPayloadError("ボディを読み取れません"))
		return
	}

	res, err := h.processor.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
	case errors.Is(err, model.ErrInvalidSignature):
		h.logger.Warn("Stripe webhookの署名検証に失敗しました", slog.String("error", err.Error()))
		h.writeError(w, http.StatusBadRequest, model.NewInvalidSignatureError())
		return
	case errors.Is(err, model.ErrMalformedPayload):
		h.logger.Warn("Stripe webhookのボディを解釈できません", slog.String("error", err.Error()))
		h.writeError(w, http.StatusBadRequest, model.NewMalformedPayloadError("Stripeのイベント形式ではありません"))
		return
	case errors.Is(err, model.ErrStoreUnavailable):
		h.logger.Error("決済通知の処理に失敗しました", slog.String("error", err.Error()))
		h.writeError(w, http.StatusInternalServerError, model.NewStoreUnavailableError())
		return
	default:
		h.logger.Error("決済通知の処理に失敗しました", slog.String("error", err.Error()))
		h.metrics.RecordWebhook(SourceStripe, http.StatusInternalServerError)
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.AddLogAttrs(r.Context(),
		slog.String("event_id", res.EventID),
		slog.String("identity", res.Identity),
		slog.String("outcome", string(res.Outcome)),
	)
	if !res.Ignored {
		h.metrics.RecordEvents(SourceStripe, 1)
	}
	h.metrics.RecordWebhook(SourceStripe, http.StatusOK)
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// Success は決済完了ページを返す。
// GET /payment/success
func (h *PaymentHandler) Success(w http.ResponseWriter, r *http.Request) {
	writeHTML(w, h.pages.Success())
}

// Cancel は決済キャンセルページを返す。
// GET /payment/cancel
func (h *PaymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	writeHTML(w, h.pages.Cancel())
}

func (h *PaymentHandler) writeError(w http.ResponseWriter, status int, apiErr *model.APIError) {
	h.metrics.RecordWebhook(SourceStripe, status)
	middleware.WriteErrorResponse(w, status, apiErr)
}

func writeHTML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// paymentDisabled は決済機能が無効な場合のハンドラー。
func paymentDisabled(w http.ResponseWriter, r *http.Request) {
	middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewPaymentDisabledError())
}
