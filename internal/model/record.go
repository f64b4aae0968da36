// Package model はドメインモデルを定義する。
package model

import "time"

// DateLayout は日付境界の文字列表現（YYYY-MM-DD）。
const DateLayout = "2006-01-02"

// Action は入退室記録の種別を表す。
type Action string

const (
	// ActionEnter は入室記録。
	ActionEnter Action = "enter"
	// ActionExit は退出記録。
	ActionExit Action = "exit"
)

// Source は記録がどの経路で作られたかを表す。
type Source string

const (
	SourceChat    Source = "chat"
	SourcePayment Source = "payment"
)

// Record は入退室ログの1行を表す。
// 追記後は変更されない。ストレージは一意性を保証しないため、
// 重複防止はadmission.Engineの責務となる。
type Record struct {
	ID        string
	Identity  string
	Action    Action
	Date      string // DateLayout形式。設定されたタイムゾーンで計算する
	Timestamp time.Time
	Code      string // 入室時に送信されたコード。退出時は空
	Source    Source
}

// DayOf は時刻tをlocのタイムゾーンで評価した日付文字列を返す。
func DayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// HasRecord はrecordsの中にidentityとactionが一致する記録があるかを返す。
func HasRecord(records []*Record, identity string, action Action) bool {
	for _, r := range records {
		if r.Identity == identity && r.Action == action {
			return true
		}
	}
	return false
}

// CountAction はrecordsのうちactionが一致する記録数を返す。
func CountAction(records []*Record, action Action) int {
	n := 0
	for _, r := range records {
		if r.Action == action {
			n++
		}
	}
	return n
}
