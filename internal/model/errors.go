package model

import (
	"errors"
	"fmt"
)

// インフラ層・入力検証のエラー。業務上の結果はOutcomeで表し、ここには含めない。
var (
	// ErrInvalidSignature はWebhookの署名検証に失敗したことを示す。
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload はWebhookのボディを解釈できなかったことを示す。
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrStoreUnavailable はログストアへの読み書きに失敗したことを示す。
	ErrStoreUnavailable = errors.New("log store unavailable")
)

// StoreError はストア操作の失敗をErrStoreUnavailableとしてラップする。
// errors.Is(err, ErrStoreUnavailable) と元のエラーの両方で判定できる。
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, store, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidSignature = "INVALID_SIGNATURE"
	ErrCodeMalformedPayload = "MALFORMED_PAYLOAD"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodePaymentDisabled  = "PAYMENT_DISABLED"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewInvalidSignatureError は署名検証失敗エラーを生成する。
func NewInvalidSignatureError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignature,
		Message:  "署名の検証に失敗しました。",
		Category: "auth",
		Action:   "チャネルシークレットまたはエンドポイントシークレットの設定を確認してください。",
	}
}

// NewMalformedPayloadError は不正なWebhookボディのエラーを生成する。
func NewMalformedPayloadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedPayload,
		Message:  fmt.Sprintf("リクエストボディを解釈できません: %s", reason),
		Category: "validation",
		Action:   "送信元の設定とペイロード形式を確認してください。",
	}
}

// NewStoreUnavailableError はログストア障害のエラーを生成する。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "記録ストアにアクセスできません。",
		Category: "store",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPaymentDisabledError は決済機能が無効な場合のエラーを生成する。
func NewPaymentDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentDisabled,
		Message:  "決済機能は有効になっていません。",
		Category: "validation",
		Action:   "CODE_MODE=payment で起動してください。",
	}
}

// NewRateLimitedError はレート制限超過のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再送してください。",
	}
}

// NewInternalError は予期しない内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
