// Package memory はプロセス内メモリのストア実装を提供する。
// テストとSTORE_BACKEND=memoryでのローカル開発に使用する。再起動で内容は失われる。
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/roomgate/internal/model"
	"github.com/hitoshi/roomgate/internal/repository"
)

// Store は入退室ログ、コード、決済イベントを保持するメモリストア。
type Store struct {
	locker *repository.DateLocker

	mu          sync.RWMutex
	records     []*model.Record
	redemptions map[string]model.CodeRedemption
	issued      []model.IssuedCode
	payments    map[string]model.PaymentEvent
}

var (
	_ repository.RecordRepository    = (*Store)(nil)
	_ repository.CodeRepository      = (*Store)(nil)
	_ repository.RetentionRepository = (*Store)(nil)
	_ repository.Pinger              = (*Store)(nil)
)

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		locker:      repository.NewDateLocker(),
		redemptions: make(map[string]model.CodeRedemption),
		payments:    make(map[string]model.PaymentEvent),
	}
}

// WithinDate は日付ロックを取得してfnを実行する。
// fn内の書き込みはバッファし、fnが成功した場合だけ反映する。
func (s *Store) WithinDate(ctx context.Context, date string, fn func(ctx context.Context, tx repository.RecordTx) error) error {
	unlock := s.locker.Lock(date)
	defer unlock()

	tx := &memoryTx{store: s, payments: make(map[string]model.PaymentEvent)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, tx.records...)
	for id, ev := range tx.payments {
		s.payments[id] = ev
	}
	s.issued = append(s.issued, tx.issued...)
	return nil
}

func (s *Store) listByDateLocked(date string) []*model.Record {
	var out []*model.Record
	for _, r := range s.records {
		if r.Date == date {
			c := *r
			out = append(out, &c)
		}
	}
	return out
}

// Redeem はコードが未消費の場合だけ消費を記録する。
func (s *Store) Redeem(_ context.Context, red *model.CodeRedemption) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, used := s.redemptions[red.Code]; used {
		return false, nil
	}
	s.redemptions[red.Code] = *red
	return true, nil
}

// Release はコードの消費記録を削除する。
func (s *Store) Release(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.redemptions, code)
	return nil
}

// FindIssued はidentityに発行された最新のコードを返す。見つからない場合はnilを返す。
func (s *Store) FindIssued(_ context.Context, identity, code string) (*model.IssuedCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.issued) - 1; i >= 0; i-- {
		c := s.issued[i]
		if c.Identity == identity && c.Code == code {
			return &c, nil
		}
	}
	return nil, nil
}

// DeleteRecordsBefore はdateより前の日付の記録を削除する。
// 日付はDateLayout形式のため文字列比較で順序が決まる。
func (s *Store) DeleteRecordsBefore(_ context.Context, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	var deleted int64
	for _, r := range s.records {
		if r.Date < date {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return deleted, nil
}

// DeletePaymentEventsBefore はbeforeより前に処理された決済イベントと発行済みコードを削除する。
func (s *Store) DeletePaymentEventsBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, ev := range s.payments {
		if ev.ProcessedAt.Before(before) {
			delete(s.payments, id)
			deleted++
		}
	}
	kept := s.issued[:0]
	for _, c := range s.issued {
		if _, ok := s.payments[c.PaymentEventID]; ok {
			kept = append(kept, c)
		}
	}
	s.issued = kept
	return deleted, nil
}

// Ping は常に成功する。
func (s *Store) Ping(context.Context) error { return nil }

// Records は全記録のコピーを返す。テスト用。
func (s *Store) Records() []model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Record, len(s.records))
	for i, r := range s.records {
		out[i] = *r
	}
	return out
}

// PaymentEvents は処理済み決済イベント数を返す。テスト用。
func (s *Store) PaymentEvents() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payments)
}

type memoryTx struct {
	store    *Store
	records  []*model.Record
	payments map[string]model.PaymentEvent
	issued   []model.IssuedCode
}

func (t *memoryTx) ListByDate(_ context.Context, date string) ([]*model.Record, error) {
	t.store.mu.RLock()
	out := t.store.listByDateLocked(date)
	t.store.mu.RUnlock()
	for _, r := range t.records {
		if r.Date == date {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *memoryTx) Append(_ context.Context, rec *model.Record) error {
	c := *rec
	t.records = append(t.records, &c)
	return nil
}

func (t *memoryTx) ClaimPaymentEvent(_ context.Context, ev *model.PaymentEvent) (bool, error) {
	t.store.mu.RLock()
	_, done := t.store.payments[ev.EventID]
	t.store.mu.RUnlock()
	if _, pending := t.payments[ev.EventID]; done || pending {
		return false, nil
	}
	t.payments[ev.EventID] = *ev
	return true, nil
}

func (t *memoryTx) SaveIssuedCode(_ context.Context, c *model.IssuedCode) error {
	t.issued = append(t.issued, *c)
	return nil
}
