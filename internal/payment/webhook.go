package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/hitoshi/roomgate/internal/admission"
	"github.com/hitoshi/roomgate/internal/checkin"
	"github.com/hitoshi/roomgate/internal/code"
	"github.com/hitoshi/roomgate/internal/messaging"
	"github.com/hitoshi/roomgate/internal/model"
)

// metadataIdentity はclient_reference_idが欠けた場合に参照するメタデータのキー。
const metadataIdentity = "identity"

// Admitter は決済完了による入室判定。admission.Engineが実装する。
type Admitter interface {
	Today() string
	AdmitPaid(ctx context.Context, entry admission.PaidEntry) (model.Outcome, error)
}

// Config はProcessorの設定。
type Config struct {
	WebhookSecret string
	CodeLength    int
	DoorCode      string
	Messages      checkin.Messages
}

// Result は決済通知1件の処理結果。
type Result struct {
	EventID  string
	Identity string
	Outcome  model.Outcome
	// Ignored は処理対象外のイベントだったことを示す。
	Ignored bool
}

// Processor はStripeの決済完了通知を処理する。
type Processor struct {
	engine Admitter
	sender messaging.Sender
	cfg    Config
	mint   func(length int) (string, error)
	logger *slog.Logger
}

// Option はProcessorの設定を変更する。
type Option func(*Processor)

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithMinter はコード生成関数を差し替える。
func WithMinter(mint func(length int) (string, error)) Option {
	return func(p *Processor) { p.mint = mint }
}

// NewProcessor はProcessorを生成する。
func NewProcessor(engine Admitter, sender messaging.Sender, cfg Config, opts ...Option) *Processor {
	p := &Processor{
		engine: engine,
		sender: sender,
		cfg:    cfg,
		mint:   code.Mint,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleWebhook は署名を検証して決済完了通知を処理する。
//
// 署名不一致はmodel.ErrInvalidSignature、解析失敗はmodel.ErrMalformedPayloadでラップして返し、
// 副作用は発生しない。同じイベントIDの再送はOutcomeDuplicateEventとなり、利用者への通知も行わない。
// 通知の送信失敗はログに記録するのみで、エラーとしては返さない。
func (p *Processor) HandleWebhook(ctx context.Context, payload []byte, signature string) (Result, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if isSignatureError(err) {
			return Result{}, fmt.Errorf("stripe webhook: %w: %w", model.ErrInvalidSignature, err)
		}
		return Result{}, fmt.Errorf("stripe webhook: %w: %w", model.ErrMalformedPayload, err)
	}

	res := Result{EventID: event.ID}
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		res.Ignored = true
		return res, nil
	}
	if event.Data == nil {
		return res, fmt.Errorf("stripe webhook: %w: event has no data", model.ErrMalformedPayload)
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return res, fmt.Errorf("stripe webhook: %w: %w", model.ErrMalformedPayload, err)
	}

	// 銀行振込など後払いの決済は入金確認の通知（async_payment_succeeded）を待つ
	if event.Type == stripe.EventTypeCheckoutSessionCompleted &&
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		res.Ignored = true
		return res, nil
	}

	res.Identity = sess.ClientReferenceID
	if res.Identity == "" {
		res.Identity = sess.Metadata[metadataIdentity]
	}
	if res.Identity == "" {
		p.logger.Warn("利用者を特定できない決済通知を無視しました",
			slog.String("event_id", event.ID),
			slog.String("session_id", sess.ID),
		)
		res.Ignored = true
		return res, nil
	}

	issued, err := p.mint(p.cfg.CodeLength)
	if err != nil {
		return res, err
	}

	outcome, err := p.engine.AdmitPaid(ctx, admission.PaidEntry{
		Identity:  res.Identity,
		Date:      p.engine.Today(),
		EventID:   event.ID,
		SessionID: sess.ID,
		Code:      issued,
	})
	if err != nil {
		return res, err
	}
	res.Outcome = outcome

	p.logger.Info("決済通知を処理しました",
		slog.String("event_id", event.ID),
		slog.String("identity", res.Identity),
		slog.String("outcome", string(outcome)),
	)

	text := p.cfg.Messages.ForPayment(outcome, issued, p.cfg.DoorCode)
	if text == "" {
		return res, nil
	}
	if err := p.sender.Push(ctx, res.Identity, text); err != nil {
		p.logger.Error("決済結果の通知に失敗しました",
			slog.String("event_id", event.ID),
			slog.String("identity", res.Identity),
			slog.String("error", err.Error()),
		)
	}
	return res, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
