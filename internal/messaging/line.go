// Package messaging はLINE Messaging APIとの送受信を提供する。
package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/line/line-bot-sdk-go/v8/linebot/messaging_api"
	"github.com/line/line-bot-sdk-go/v8/linebot/webhook"

	"github.com/hitoshi/roomgate/internal/model"
)

// TextEvent は利用者から届いたテキストメッセージ1件。
type TextEvent struct {
	Identity   string
	Text       string
	ReplyToken string
	WebhookID  string
}

// Sender はチャットへの返信とプッシュ送信のインターフェース。
type Sender interface {
	Reply(ctx context.Context, replyToken, text string) error
	Push(ctx context.Context, to, text string) error
}

// ParseTextEvents は署名を検証してWebhookボディを解析し、テキストメッセージだけを返す。
// 署名不一致はmodel.ErrInvalidSignature、解析失敗はmodel.ErrMalformedPayloadでラップする。
// 画像やフォローなどテキスト以外のイベントと、送信者を特定できないイベントは無視する。
func ParseTextEvents(channelSecret string, r *http.Request) ([]TextEvent, error) {
	cb, err := webhook.ParseRequest(channelSecret, r)
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			return nil, fmt.Errorf("line webhook: %w", model.ErrInvalidSignature)
		}
		return nil, fmt.Errorf("line webhook: %w: %w", model.ErrMalformedPayload, err)
	}

	var events []TextEvent
	for _, ev := range cb.Events {
		msg, ok := ev.(webhook.MessageEvent)
		if !ok {
			continue
		}
		text, ok := msg.Message.(webhook.TextMessageContent)
		if !ok {
			continue
		}
		identity := sourceUserID(msg.Source)
		if identity == "" {
			continue
		}
		events = append(events, TextEvent{
			Identity:   identity,
			Text:       text.Text,
			ReplyToken: msg.ReplyToken,
			WebhookID:  msg.WebhookEventId,
		})
	}
	return events, nil
}

// sourceUserID は送信元のユーザーIDを返す。グループやトークルームでも送信者個人で判定する。
func sourceUserID(src webhook.SourceInterface) string {
	switch s := src.(type) {
	case webhook.UserSource:
		return s.UserId
	case webhook.GroupSource:
		return s.UserId
	case webhook.RoomSource:
		return s.UserId
	}
	return ""
}

// LineClient はLINE Messaging APIのクライアント。
type LineClient struct {
	api *messaging_api.MessagingApiAPI
}

var _ Sender = (*LineClient)(nil)

// NewLineClient はチャネルアクセストークンからLineClientを生成する。
// endpointが空でない場合はAPIの接続先を差し替える。
func NewLineClient(channelToken, endpoint string) (*LineClient, error) {
	var opts []messaging_api.MessagingApiAPIOption
	if endpoint != "" {
		opts = append(opts, messaging_api.WithEndpoint(endpoint))
	}
	api, err := messaging_api.NewMessagingApiAPI(channelToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging api client: %w", err)
	}
	return &LineClient{api: api}, nil
}

// Reply はリプライトークンに対してテキストを返信する。
func (c *LineClient) Reply(ctx context.Context, replyToken, text string) error {
	_, err := c.api.WithContext(ctx).ReplyMessage(&messaging_api.ReplyMessageRequest{
		ReplyToken: replyToken,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to reply message: %w", err)
	}
	return nil
}

// Push は利用者にテキストをプッシュ送信する。
func (c *LineClient) Push(ctx context.Context, to, text string) error {
	_, err := c.api.WithContext(ctx).PushMessage(&messaging_api.PushMessageRequest{
		To: to,
		Messages: []messaging_api.MessageInterface{
			messaging_api.TextMessage{Text: text},
		},
	}, "")
	if err != nil {
		return fmt.Errorf("failed to push message: %w", err)
	}
	return nil
}
