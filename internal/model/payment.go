package model

import "time"

// PaymentEvent は処理済みの決済完了通知を表す。
// 決済プロバイダのイベントIDを冪等性キーとし、入室枠を確保する前に永続化する。
type PaymentEvent struct {
	EventID     string
	SessionID   string
	Identity    string
	ProcessedAt time.Time
	Outcome     Outcome // 処理結果。再送時の判定には使わない
}
