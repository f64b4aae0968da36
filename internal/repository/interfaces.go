// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/roomgate/internal/model"
)

// RecordTx は1日分の記録に対する排他区間内の操作。
// WithinDateのコールバック内でのみ有効。
type RecordTx interface {
	// ListByDate は指定日の記録を追記順で返す。
	ListByDate(ctx context.Context, date string) ([]*model.Record, error)

	// Append は記録を1件追記する。
	Append(ctx context.Context, record *model.Record) error

	// ClaimPaymentEvent は決済イベントを処理済みとして登録する。
	// 既に登録済みの場合はfalseを返し、何も書き込まない。
	ClaimPaymentEvent(ctx context.Context, event *model.PaymentEvent) (bool, error)

	// SaveIssuedCode は決済後に発行したコードを保存する。
	SaveIssuedCode(ctx context.Context, code *model.IssuedCode) error
}

// RecordRepository は入退室ログの永続化インターフェース。
type RecordRepository interface {
	// WithinDate は指定日の読み取りから追記までを直列化してfnを実行する。
	// fnがエラーを返した場合、トランザクションを持つ実装は書き込みを破棄する。
	WithinDate(ctx context.Context, date string, fn func(ctx context.Context, tx RecordTx) error) error
}

// CodeRepository は使い捨てコードと発行済みコードの永続化インターフェース。
type CodeRepository interface {
	// Redeem はコードの消費を条件付きで記録する。
	// 既に消費済みの場合はfalseを返す。
	Redeem(ctx context.Context, redemption *model.CodeRedemption) (bool, error)

	// Release はRedeemで記録した消費を取り消す。
	Release(ctx context.Context, code string) error

	// FindIssued はidentityに発行されたコードのうちcodeに一致する最新のものを返す。
	// 見つからない場合はnilを返す。
	FindIssued(ctx context.Context, identity, code string) (*model.IssuedCode, error)
}

// RetentionRepository は保持期間を過ぎたデータの削除インターフェース。
type RetentionRepository interface {
	// DeleteRecordsBefore はdateより前の日付の記録を削除し、削除件数を返す。
	DeleteRecordsBefore(ctx context.Context, date string) (int64, error)

	// DeletePaymentEventsBefore はbeforeより前に処理された決済イベントを削除し、削除件数を返す。
	DeletePaymentEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Pinger はストアの疎通確認インターフェース。ヘルスチェックで使用する。
type Pinger interface {
	Ping(ctx context.Context) error
}
