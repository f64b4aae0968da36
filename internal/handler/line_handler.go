package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/roomgate/internal/checkin"
	"github.com/hitoshi/roomgate/internal/messaging"
	"github.com/hitoshi/roomgate/internal/metrics"
	"github.com/hitoshi/roomgate/internal/middleware"
	"github.com/hitoshi/roomgate/internal/model"
)

// SourceLine はLINE Webhookのメトリクスラベル。
const SourceLine = "line"

// maxWebhookBody はWebhookボディの上限サイズ。
const maxWebhookBody = 1 << 20

// EventRouter は受信テキストを処理して返信を返す。checkin.Routerが実装する。
type EventRouter interface {
	Handle(ctx context.Context, identity, text string) (checkin.Reply, error)
}

// LineHandlerConfig はLineWebhookHandlerの設定。
type LineHandlerConfig struct {
	ChannelSecret string
	// Concurrency は1回の配信に含まれるイベントの同時処理数。0以下は無制限。
	Concurrency int
}

// LineWebhookHandler はLINEのWebhookを受け付けるHTTPハンドラー。
type LineWebhookHandler struct {
	router  EventRouter
	sender  messaging.Sender
	cfg     LineHandlerConfig
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewLineWebhookHandler はLineWebhookHandlerを生成する。
func NewLineWebhookHandler(router EventRouter, sender messaging.Sender, cfg LineHandlerConfig, m metrics.MetricsCollector, logger *slog.Logger) *LineWebhookHandler {
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LineWebhookHandler{
		router:  router,
		sender:  sender,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Callback は署名を検証し、配信に含まれるテキストメッセージを並行に処理する。
// POST /webhook, POST /callback
//
// 署名不一致は401、ボディを解釈できない場合は400を返す。
// いずれかのイベントでストア障害が起きた場合は500を返し、そのイベントには返信しない。
func (h *LineWebhookHandler) Callback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	events, err := messaging.ParseTextEvents(h.cfg.ChannelSecret, r)
	if err != nil {
		if errors.Is(err, model.ErrInvalidSignature) {
			h.logger.Warn("LINE webhookの署名検証に失敗しました", slog.String("error", err.Error()))
			h.writeError(w, http.StatusUnauthorized, model.NewInvalidSignatureError())
			return
		}
		h.logger.Warn("LINE webhookのボディを解釈できません", slog.String("error", err.Error()))
		h.writeError(w, http.StatusBadRequest, model.NewMalformedPayloadError("LINEのイベント形式ではありません"))
		return
	}
	h.metrics.RecordEvents(SourceLine, len(events))
	middleware.AddLogAttrs(r.Context(), slog.Int("events", len(events)))

	var g errgroup.Group
	if h.cfg.Concurrency > 0 {
		g.SetLimit(h.cfg.Concurrency)
	}
	for _, ev := range events {
		g.Go(func() error {
			return h.handleEvent(r.Context(), ev)
		})
	}
	if err := g.Wait(); err != nil {
		h.logger.Error("LINEイベントの処理に失敗しました", slog.String("error", err.Error()))
		if errors.Is(err, model.ErrStoreUnavailable) {
			h.writeError(w, http.StatusInternalServerError, model.NewStoreUnavailableError())
			return
		}
		h.metrics.RecordWebhook(SourceLine, http.StatusInternalServerError)
		middleware.WriteInternalServerError(w)
		return
	}

	h.metrics.RecordWebhook(SourceLine, http.StatusOK)
	w.WriteHeader(http.StatusOK)
}

func (h *LineWebhookHandler) handleEvent(ctx context.Context, ev messaging.TextEvent) error {
	reply, err := h.router.Handle(ctx, ev.Identity, ev.Text)
	if err != nil {
		return fmt.Errorf("event %s: %w", ev.WebhookID, err)
	}

	h.logger.Info("LINEイベントを処理しました",
		slog.String("identity", ev.Identity),
		slog.String("intent", reply.Intent.String()),
		slog.String("outcome", string(reply.Outcome)),
	)

	if reply.Text == "" {
		return nil
	}
	// 返信に失敗しても記録は確定しているため、配信全体は成功として扱う
	if err := h.sender.Reply(ctx, ev.ReplyToken, reply.Text); err != nil {
		h.logger.Error("LINEへの返信に失敗しました",
			slog.String("identity", ev.Identity),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

func (h *LineWebhookHandler) writeError(w http.ResponseWriter, status int, apiErr *model.APIError) {
	h.metrics.RecordWebhook(SourceLine, status)
	middleware.WriteErrorResponse(w, status, apiErr)
}
