package sheets

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/api/option"

	"github.com/hitoshi/roomgate/internal/model"
	"github.com/hitoshi/roomgate/internal/repository"
)

// デフォルトのシート名
const (
	DefaultRecordsSheet  = "ログ"
	DefaultCodesSheet    = "codes"
	DefaultPaymentsSheet = "payments"
)

// 記録シートの行ラベル。既存シートとの互換のため日本語で書き込む。
const (
	labelEnter = "入室"
	labelExit  = "退出"
)

// codesシートの種別
const (
	kindRedeemed = "redeemed"
	kindReleased = "released"
	kindIssued   = "issued"
)

const timeLayout = "15:04:05"

// Config はスプレッドシートストアの設定。
type Config struct {
	SpreadsheetID string
	RecordsSheet  string
	CodesSheet    string
	PaymentsSheet string
	Location      *time.Location
}

// Store はスプレッドシートを使うログストア。
//
// 記録シートの列は identity, code, date, action, time, source, id の順。
// 先頭4列は旧来のシート（ログ!A:D）と同じ並び。
// 日付ごとの排他はプロセス内のみで、複数インスタンスから同じシートを使う場合の競合は防げない。
type Store struct {
	client valueClient
	cfg    Config
	locker *repository.DateLocker

	// codesMu はcodesシートの読み取りから追記までを直列化する。
	codesMu sync.Mutex
}

var (
	_ repository.RecordRepository = (*Store)(nil)
	_ repository.CodeRepository   = (*Store)(nil)
	_ repository.Pinger           = (*Store)(nil)
)

// New はサービスアカウントの認証情報を使ってStoreを生成する。
func New(ctx context.Context, cfg Config, credentialsJSON []byte, opts ...option.ClientOption) (*Store, error) {
	client, err := newAPIClient(ctx, cfg.SpreadsheetID, credentialsJSON, opts...)
	if err != nil {
		return nil, err
	}
	return newStore(client, cfg), nil
}

func newStore(client valueClient, cfg Config) *Store {
	if cfg.RecordsSheet == "" {
		cfg.RecordsSheet = DefaultRecordsSheet
	}
	if cfg.CodesSheet == "" {
		cfg.CodesSheet = DefaultCodesSheet
	}
	if cfg.PaymentsSheet == "" {
		cfg.PaymentsSheet = DefaultPaymentsSheet
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Store{
		client: client,
		cfg:    cfg,
		locker: repository.NewDateLocker(),
	}
}

func (s *Store) recordsRange() string  { return sheetRange(s.cfg.RecordsSheet, "A:G") }
func (s *Store) codesRange() string    { return sheetRange(s.cfg.CodesSheet, "A:F") }
func (s *Store) paymentsRange() string { return sheetRange(s.cfg.PaymentsSheet, "A:E") }

// WithinDate は日付ロックを取得してfnを実行する。
// fn内の書き込みはバッファし、fnが成功した場合だけシートに追記する。
// 追記は記録、発行コード、決済イベントの順で行う。途中で失敗して決済イベントが
// 残らなかった場合、再送は入室済みとして扱われ二重入室にはならない。
// その際の通知にはドア暗証番号を含める（checkin.Messages.ForPayment）。
func (s *Store) WithinDate(ctx context.Context, date string, fn func(ctx context.Context, tx repository.RecordTx) error) error {
	unlock := s.locker.Lock(date)
	defer unlock()

	tx := &sheetTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.flush(ctx)
}

// listByDate はシートから指定日の記録を追記順で読み取る。
func (s *Store) listByDate(ctx context.Context, date string) ([]*model.Record, error) {
	rows, err := s.client.Read(ctx, s.recordsRange())
	if err != nil {
		return nil, err
	}
	var out []*model.Record
	for _, row := range rows {
		rec, ok := s.parseRecord(row)
		if !ok || rec.Date != date {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// parseRecord は記録シートの1行を解釈する。
// ヘッダー行など種別を判定できない行はfalseを返す。
func (s *Store) parseRecord(row []interface{}) (*model.Record, bool) {
	var action model.Action
	switch cell(row, 3) {
	case labelEnter, string(model.ActionEnter):
		action = model.ActionEnter
	case labelExit, string(model.ActionExit):
		action = model.ActionExit
	default:
		return nil, false
	}

	rec := &model.Record{
		Identity: cell(row, 0),
		Code:     cell(row, 1),
		Date:     cell(row, 2),
		Action:   action,
		Source:   model.Source(cell(row, 5)),
		ID:       cell(row, 6),
	}
	if rec.Source == "" {
		rec.Source = model.SourceChat
	}
	clock := cell(row, 4)
	if clock == "" {
		clock = "00:00:00"
	}
	if ts, err := time.ParseInLocation(model.DateLayout+" "+timeLayout, rec.Date+" "+clock, s.cfg.Location); err == nil {
		rec.Timestamp = ts
	}
	return rec, true
}

func (s *Store) recordRow(rec *model.Record) []interface{} {
	label := labelEnter
	if rec.Action == model.ActionExit {
		label = labelExit
	}
	return []interface{}{
		rec.Identity,
		rec.Code,
		rec.Date,
		label,
		rec.Timestamp.In(s.cfg.Location).Format(timeLayout),
		string(rec.Source),
		rec.ID,
	}
}

// Redeem はcodesシートを再生してコードが未消費の場合だけ消費を追記する。
func (s *Store) Redeem(ctx context.Context, red *model.CodeRedemption) (bool, error) {
	s.codesMu.Lock()
	defer s.codesMu.Unlock()

	rows, err := s.client.Read(ctx, s.codesRange())
	if err != nil {
		return false, err
	}
	used := false
	for _, row := range rows {
		if cell(row, 1) != red.Code {
			continue
		}
		switch cell(row, 0) {
		case kindRedeemed:
			used = true
		case kindReleased:
			used = false
		}
	}
	if used {
		return false, nil
	}

	row := []interface{}{kindRedeemed, red.Code, red.Identity, "", red.RedeemedAt.UTC().Format(time.RFC3339)}
	if err := s.client.Append(ctx, s.codesRange(), [][]interface{}{row}); err != nil {
		return false, err
	}
	return true, nil
}

// Release は消費の取り消し行を追記する。
func (s *Store) Release(ctx context.Context, code string) error {
	s.codesMu.Lock()
	defer s.codesMu.Unlock()

	row := []interface{}{kindReleased, code, "", "", time.Now().UTC().Format(time.RFC3339)}
	return s.client.Append(ctx, s.codesRange(), [][]interface{}{row})
}

// FindIssued はidentityに発行された最新のコードを返す。見つからない場合はnilを返す。
func (s *Store) FindIssued(ctx context.Context, identity, code string) (*model.IssuedCode, error) {
	rows, err := s.client.Read(ctx, s.codesRange())
	if err != nil {
		return nil, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if cell(row, 0) != kindIssued || cell(row, 1) != code || cell(row, 2) != identity {
			continue
		}
		issued := &model.IssuedCode{
			Code:           code,
			Identity:       identity,
			PaymentEventID: cell(row, 3),
			Date:           cell(row, 5),
		}
		if t, err := time.Parse(time.RFC3339, cell(row, 4)); err == nil {
			issued.IssuedAt = t
		}
		return issued, nil
	}
	return nil, nil
}

// Ping はスプレッドシートのメタデータを取得して疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

type sheetTx struct {
	store    *Store
	records  []*model.Record
	issued   []*model.IssuedCode
	payments []*model.PaymentEvent
}

func (t *sheetTx) ListByDate(ctx context.Context, date string) ([]*model.Record, error) {
	out, err := t.store.listByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	for _, r := range t.records {
		if r.Date == date {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (t *sheetTx) Append(_ context.Context, rec *model.Record) error {
	c := *rec
	t.records = append(t.records, &c)
	return nil
}

func (t *sheetTx) ClaimPaymentEvent(ctx context.Context, ev *model.PaymentEvent) (bool, error) {
	for _, p := range t.payments {
		if p.EventID == ev.EventID {
			return false, nil
		}
	}
	rows, err := t.store.client.Read(ctx, t.store.paymentsRange())
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if cell(row, 0) == ev.EventID {
			return false, nil
		}
	}
	c := *ev
	t.payments = append(t.payments, &c)
	return true, nil
}

func (t *sheetTx) SaveIssuedCode(_ context.Context, code *model.IssuedCode) error {
	c := *code
	t.issued = append(t.issued, &c)
	return nil
}

func (t *sheetTx) flush(ctx context.Context) error {
	s := t.store
	if len(t.records) > 0 {
		rows := make([][]interface{}, 0, len(t.records))
		for _, r := range t.records {
			rows = append(rows, s.recordRow(r))
		}
		if err := s.client.Append(ctx, s.recordsRange(), rows); err != nil {
			return fmt.Errorf("failed to append records: %w", err)
		}
	}
	if len(t.issued) > 0 {
		rows := make([][]interface{}, 0, len(t.issued))
		for _, c := range t.issued {
			rows = append(rows, []interface{}{kindIssued, c.Code, c.Identity, c.PaymentEventID, c.IssuedAt.UTC().Format(time.RFC3339), c.Date})
		}
		if err := s.client.Append(ctx, s.codesRange(), rows); err != nil {
			return fmt.Errorf("failed to append issued codes: %w", err)
		}
	}
	if len(t.payments) > 0 {
		rows := make([][]interface{}, 0, len(t.payments))
		for _, p := range t.payments {
			rows = append(rows, []interface{}{p.EventID, p.SessionID, p.Identity, string(p.Outcome), p.ProcessedAt.UTC().Format(time.RFC3339)})
		}
		if err := s.client.Append(ctx, s.paymentsRange(), rows); err != nil {
			return fmt.Errorf("failed to append payment events: %w", err)
		}
	}
	return nil
}
