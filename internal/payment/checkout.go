// Package payment は決済ページの発行と決済完了通知の処理を提供する。
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
)

// CheckoutConfig はStripe Checkoutの設定。
type CheckoutConfig struct {
	SecretKey string
	PriceID   string
	// BaseURL は決済後に戻るページのベースURL（例: https://roomgate.example.com）
	BaseURL string
	// Backend はAPIの接続先。nilの場合はStripeの本番APIを使う。
	Backend stripe.Backend
}

// StripeCheckout はStripe Checkout Sessionを発行する。
type StripeCheckout struct {
	sessions   session.Client
	priceID    string
	successURL string
	cancelURL  string
}

// NewStripeCheckout はStripeCheckoutを生成する。
func NewStripeCheckout(cfg CheckoutConfig) *StripeCheckout {
	backend := cfg.Backend
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	return &StripeCheckout{
		sessions:   session.Client{B: backend, Key: cfg.SecretKey},
		priceID:    cfg.PriceID,
		successURL: base + "/payment/success",
		cancelURL:  base + "/payment/cancel",
	}
}

// CreateCheckout はidentityの決済セッションを作成し、決済ページのURLを返す。
// identityはclient_reference_idとして保持され、決済完了通知で入室者の特定に使う。
func (c *StripeCheckout) CreateCheckout(ctx context.Context, identity string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(c.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		ClientReferenceID: stripe.String(identity),
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
	}
	params.Context = ctx
	params.AddMetadata(metadataIdentity, identity)

	s, err := c.sessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	if s.URL == "" {
		return "", errors.New("checkout session has no url")
	}
	return s.URL, nil
}
