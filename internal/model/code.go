package model

import "time"

// CodeMode は入室コードの受理方式を表す。
type CodeMode string

const (
	// CodeModeShared は全員共通の固定コード。
	CodeModeShared CodeMode = "shared"
	// CodeModePool は一度だけ使える使い捨てコードのプール。
	CodeModePool CodeMode = "pool"
	// CodeModePayment は決済完了後に発行されるコード。
	CodeModePayment CodeMode = "payment"
)

// CodeRedemption は使い捨てコードの消費記録を表す。
type CodeRedemption struct {
	Code       string
	Identity   string
	RedeemedAt time.Time
}

// IssuedCode は決済完了時に発行されたコードを表す。
// 発行先のIdentityが入室を認められた日付（Date）にのみ使用できる。
type IssuedCode struct {
	Code           string
	Identity       string
	Date           string // DateLayout形式
	PaymentEventID string
	IssuedAt       time.Time
}
