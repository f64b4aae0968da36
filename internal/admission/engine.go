// Package admission は入退室の可否判定を提供する。
// 判定はその日の記録全体から行い、読み取りから追記までを日付単位で直列化する。
package admission

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/roomgate/internal/metrics"
	"github.com/hitoshi/roomgate/internal/model"
	"github.com/hitoshi/roomgate/internal/repository"
)

// DefaultCapacity は1日あたりの入室上限のデフォルト値。
const DefaultCapacity = 12

// 判定操作名。メトリクスのラベルとエラーメッセージに使う。
const (
	OpEnter = "enter"
	OpExit  = "exit"
	OpPaid  = "paid"
)

// PaidEntry は決済完了による入室要求。
type PaidEntry struct {
	Identity  string
	Date      string
	EventID   string // 決済プロバイダのイベントID。冪等性キー
	SessionID string
	Code      string // 入室が認められた場合に発行するコード
}

// Engine は入退室判定エンジン。
type Engine struct {
	records      repository.RecordRepository
	capacity     int
	loc          *time.Location
	metrics      metrics.MetricsCollector
	now          func() time.Time
	newID        func() string
	storeTimeout time.Duration
}

// Option はEngineの設定を変更する。
type Option func(*Engine)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics はメトリクス収集先を設定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStoreTimeout は1回の判定にかけるストア操作の上限時間を設定する。0は無制限。
func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

// NewEngine はEngineを生成する。capacityが0以下の場合はDefaultCapacityを使う。
// locは日付境界の計算に使うタイムゾーンで、nilは許容しない。
func NewEngine(records repository.RecordRepository, capacity int, loc *time.Location, opts ...Option) *Engine {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	e := &Engine{
		records:  records,
		capacity: capacity,
		loc:      loc,
		metrics:  metrics.Nop{},
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Capacity は1日あたりの入室上限を返す。
func (e *Engine) Capacity() int {
	return e.capacity
}

// Today は設定されたタイムゾーンでの今日の日付を返す。
func (e *Engine) Today() string {
	return model.DayOf(e.now(), e.loc)
}

// DecideEnter はrecordsに対する入室判定を返す。recordsは書き換えない。
func DecideEnter(records []*model.Record, identity string, capacity int) model.Outcome {
	if model.HasRecord(records, identity, model.ActionEnter) {
		return model.OutcomeAlreadyEntered
	}
	if model.CountAction(records, model.ActionEnter) >= capacity {
		return model.OutcomeFull
	}
	return model.OutcomeAdmitted
}

// DecideExit はrecordsに対する退出判定を返す。
func DecideExit(records []*model.Record, identity string) model.Outcome {
	if model.HasRecord(records, identity, model.ActionExit) {
		return model.OutcomeAlreadyExited
	}
	if !model.HasRecord(records, identity, model.ActionEnter) {
		return model.OutcomeNotEntered
	}
	return model.OutcomeExited
}

// TryEnter はidentityのdateにおける入室を判定し、許可した場合はEnter記録を追記する。
// codeは監査用に記録へ保存する。
func (e *Engine) TryEnter(ctx context.Context, identity, date, code string) (model.Outcome, error) {
	return e.run(ctx, OpEnter, date, func(ctx context.Context, tx repository.RecordTx, records []*model.Record) (model.Outcome, error) {
		outcome := DecideEnter(records, identity, e.capacity)
		if outcome != model.OutcomeAdmitted {
			return outcome, nil
		}
		if err := tx.Append(ctx, e.newRecord(identity, model.ActionEnter, date, code, model.SourceChat)); err != nil {
			return "", err
		}
		return outcome, nil
	})
}

// TryExit はidentityのdateにおける退出を判定し、許可した場合はExit記録を追記する。
func (e *Engine) TryExit(ctx context.Context, identity, date string) (model.Outcome, error) {
	return e.run(ctx, OpExit, date, func(ctx context.Context, tx repository.RecordTx, records []*model.Record) (model.Outcome, error) {
		outcome := DecideExit(records, identity)
		if outcome != model.OutcomeExited {
			return outcome, nil
		}
		if err := tx.Append(ctx, e.newRecord(identity, model.ActionExit, date, "", model.SourceChat)); err != nil {
			return "", err
		}
		return outcome, nil
	})
}

// AdmitPaid は決済完了による入室を判定する。
// 決済イベントを先に処理済みとして登録し、登録済みだった場合はOutcomeDuplicateEventを返す。
// 入室を許可した場合はEnter記録と発行コードを同じ排他区間で保存する。
func (e *Engine) AdmitPaid(ctx context.Context, p PaidEntry) (model.Outcome, error) {
	return e.run(ctx, OpPaid, p.Date, func(ctx context.Context, tx repository.RecordTx, records []*model.Record) (model.Outcome, error) {
		outcome := DecideEnter(records, p.Identity, e.capacity)

		now := e.now()
		claimed, err := tx.ClaimPaymentEvent(ctx, &model.PaymentEvent{
			EventID:     p.EventID,
			SessionID:   p.SessionID,
			Identity:    p.Identity,
			ProcessedAt: now,
			Outcome:     outcome,
		})
		if err != nil {
			return "", err
		}
		if !claimed {
			return model.OutcomeDuplicateEvent, nil
		}
		if outcome != model.OutcomeAdmitted {
			return outcome, nil
		}

		if err := tx.Append(ctx, e.newRecord(p.Identity, model.ActionEnter, p.Date, p.Code, model.SourcePayment)); err != nil {
			return "", err
		}
		if err := tx.SaveIssuedCode(ctx, &model.IssuedCode{
			Code:           p.Code,
			Identity:       p.Identity,
			Date:           p.Date,
			PaymentEventID: p.EventID,
			IssuedAt:       now,
		}); err != nil {
			return "", err
		}
		return outcome, nil
	})
}

type decideFunc func(ctx context.Context, tx repository.RecordTx, records []*model.Record) (model.Outcome, error)

// run はdateの排他区間でその日の記録を読み取り、decideを実行する。
// ストアのエラーはmodel.ErrStoreUnavailableでラップして返す。
func (e *Engine) run(ctx context.Context, op, date string, decide decideFunc) (model.Outcome, error) {
	if e.storeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.storeTimeout)
		defer cancel()
	}

	start := time.Now()
	var outcome model.Outcome
	err := e.records.WithinDate(ctx, date, func(ctx context.Context, tx repository.RecordTx) error {
		records, err := tx.ListByDate(ctx, date)
		if err != nil {
			return err
		}
		outcome, err = decide(ctx, tx, records)
		return err
	})
	e.metrics.RecordStoreLatency(op, time.Since(start))
	if err != nil {
		e.metrics.RecordStoreFailure(op)
		return "", model.StoreError(op, err)
	}

	e.metrics.RecordAdmission(op, string(outcome))
	return outcome, nil
}

func (e *Engine) newRecord(identity string, action model.Action, date, code string, source model.Source) *model.Record {
	return &model.Record{
		ID:        e.newID(),
		Identity:  identity,
		Action:    action,
		Date:      date,
		Timestamp: e.now(),
		Code:      code,
		Source:    source,
	}
}
