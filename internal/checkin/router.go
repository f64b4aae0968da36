// Package checkin はチャットで受け取ったテキストを入退室操作に振り分け、返信文を組み立てる。
package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/width"

	"github.com/hitoshi/roomgate/internal/code"
	"github.com/hitoshi/roomgate/internal/model"
)

// デフォルトのキーワード
const (
	DefaultExitKeyword = "退出"
	DefaultPayKeyword  = "決済"
)

// Intent は受信テキストの分類。
type Intent int

const (
	IntentUnrecognized Intent = iota
	IntentExit
	IntentPay
	IntentCode
)

func (i Intent) String() string {
	switch i {
	case IntentExit:
		return "exit"
	case IntentPay:
		return "pay"
	case IntentCode:
		return "code"
	}
	return "unrecognized"
}

// Engine は入退室判定の操作。admission.Engineが実装する。
type Engine interface {
	Today() string
	TryEnter(ctx context.Context, identity, date, code string) (model.Outcome, error)
	TryExit(ctx context.Context, identity, date string) (model.Outcome, error)
}

// CheckoutCreator は決済ページのURLを発行する。
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, identity string) (string, error)
}

// Throttler は利用者ごとのメッセージ頻度を制限する。
type Throttler interface {
	AllowIdentity(identity string) bool
}

// Reply はテキスト1件に対する返信。
type Reply struct {
	Text    string
	Intent  Intent
	Outcome model.Outcome // 状態に関わる判定をした場合のみ設定される
}

// Config はRouterの設定。
type Config struct {
	ExitKeyword string
	PayKeyword  string
	DoorCode    string
	Messages    Messages
}

// Router はテキストを分類し、判定エンジンに委譲して返信を返す。
// 自身は状態を持たない。
type Router struct {
	engine    Engine
	validator code.Validator
	checkout  CheckoutCreator
	throttler Throttler
	logger    *slog.Logger

	exitKeyword string
	payKeyword  string
	doorCode    string
	messages    Messages
}

// Option はRouterの設定を変更する。
type Option func(*Router)

// WithCheckout は決済キーワードを有効にする。
func WithCheckout(c CheckoutCreator) Option {
	return func(r *Router) { r.checkout = c }
}

// WithThrottler は利用者ごとの頻度制限を設定する。
func WithThrottler(t Throttler) Option {
	return func(r *Router) { r.throttler = t }
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter はRouterを生成する。
func NewRouter(engine Engine, validator code.Validator, cfg Config, opts ...Option) *Router {
	exit := cfg.ExitKeyword
	if exit == "" {
		exit = DefaultExitKeyword
	}
	pay := cfg.PayKeyword
	if pay == "" {
		pay = DefaultPayKeyword
	}
	r := &Router{
		engine:      engine,
		validator:   validator,
		logger:      slog.Default(),
		exitKeyword: Normalize(exit),
		payKeyword:  Normalize(pay),
		doorCode:    cfg.DoorCode,
		messages:    cfg.Messages,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Normalize は前後の空白を除き、全角英数字を半角に揃える。
func Normalize(text string) string {
	return strings.TrimSpace(width.Fold.String(text))
}

// Classify はテキストを分類し、正規化後のテキストとともに返す。
func (r *Router) Classify(text string) (Intent, string) {
	t := Normalize(text)
	switch {
	case t == r.exitKeyword:
		return IntentExit, t
	case t == r.payKeyword && r.checkout != nil:
		return IntentPay, t
	case t != "" && r.validator.Matches(t):
		return IntentCode, t
	}
	return IntentUnrecognized, t
}

// Handle はidentityから届いたtextを処理して返信を返す。
// ストア障害などインフラのエラーは返信を作らずにerrorで返す。
func (r *Router) Handle(ctx context.Context, identity, text string) (Reply, error) {
	if r.throttler != nil && !r.throttler.AllowIdentity(identity) {
		return Reply{Text: r.messages.Throttled}, nil
	}

	intent, input := r.Classify(text)
	switch intent {
	case IntentExit:
		outcome, err := r.engine.TryExit(ctx, identity, r.engine.Today())
		if err != nil {
			return Reply{}, err
		}
		return Reply{Text: r.messages.ForOutcome(outcome), Intent: intent, Outcome: outcome}, nil

	case IntentPay:
		url, err := r.checkout.CreateCheckout(ctx, identity)
		if err != nil {
			return Reply{}, fmt.Errorf("failed to create checkout: %w", err)
		}
		return Reply{Text: Render(r.messages.Checkout, map[string]string{"url": url}), Intent: intent}, nil

	case IntentCode:
		return r.handleCode(ctx, identity, input)
	}
	return Reply{Text: r.messages.Usage, Intent: IntentUnrecognized}, nil
}

func (r *Router) handleCode(ctx context.Context, identity, input string) (Reply, error) {
	decision, err := r.validator.Accept(ctx, identity, input)
	if err != nil {
		return Reply{}, err
	}
	if !decision.Accepted {
		return Reply{
			Text:    r.messages.ForOutcome(decision.Rejection),
			Intent:  IntentCode,
			Outcome: decision.Rejection,
		}, nil
	}

	outcome, err := r.engine.TryEnter(ctx, identity, r.engine.Today(), input)
	if err != nil || outcome != model.OutcomeAdmitted {
		// 入室に至らなかった使い捨てコードは消費を取り消す
		if relErr := r.validator.Release(ctx, identity, input); relErr != nil {
			r.logger.Error("コード消費の取り消しに失敗しました",
				slog.String("identity", identity),
				slog.String("error", relErr.Error()),
			)
		}
	}
	if err != nil {
		return Reply{}, err
	}

	text := r.messages.ForOutcome(outcome)
	if outcome == model.OutcomeAdmitted && r.doorCode != "" {
		text += Render(r.messages.DoorCode, map[string]string{"door_code": r.doorCode})
	}
	return Reply{Text: text, Intent: IntentCode, Outcome: outcome}, nil
}
