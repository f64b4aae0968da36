package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/roomgate/internal/model"
)

// advisoryLockPrefix は日付ロックのキー空間。他用途のadvisory lockと衝突させない。
const advisoryLockPrefix = "access_records:"

// PostgresRecordRepo はPostgreSQLを使用した入退室ログリポジトリ。
// 日付単位の直列化にはトランザクションスコープのadvisory lockを使う。
type PostgresRecordRepo struct {
	db *sql.DB
}

var (
	_ RecordRepository    = (*PostgresRecordRepo)(nil)
	_ RetentionRepository = (*PostgresRecordRepo)(nil)
	_ Pinger              = (*PostgresRecordRepo)(nil)
)

// NewPostgresRecordRepo はPostgresRecordRepoを生成する。
func NewPostgresRecordRepo(db *sql.DB) *PostgresRecordRepo {
	return &PostgresRecordRepo{db: db}
}

// WithinDate はトランザクションを開始し、日付ごとのadvisory lockを取得してからfnを実行する。
// ロックはコミットまたはロールバックで解放される。
func (r *PostgresRecordRepo) WithinDate(ctx context.Context, date string, fn func(ctx context.Context, tx RecordTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		advisoryLockPrefix+date,
	); err != nil {
		return fmt.Errorf("failed to acquire date lock: %w", err)
	}

	if err := fn(ctx, &postgresRecordTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteRecordsBefore はdateより前の日付の記録を削除する。
func (r *PostgresRecordRepo) DeleteRecordsBefore(ctx context.Context, date string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM access_records WHERE record_date < $1::date`,
		date,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return n, nil
}

// DeletePaymentEventsBefore はbeforeより前に処理された決済イベントを削除する。
func (r *PostgresRecordRepo) DeletePaymentEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM payment_events WHERE processed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete payment events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted count: %w", err)
	}
	return n, nil
}

// Ping はデータベースへの疎通を確認する。
func (r *PostgresRecordRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// querier は*sql.DBと*sql.Txの共通部分。
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// postgresRecordTx はWithinDate内のトランザクションに束縛されたRecordTx。
type postgresRecordTx struct {
	q querier
}

func (t *postgresRecordTx) ListByDate(ctx context.Context, date string) ([]*model.Record, error) {
	return listRecordsByDate(ctx, t.q, date)
}

func (t *postgresRecordTx) Append(ctx context.Context, rec *model.Record) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO access_records (id, identity, action, record_date, recorded_at, code, source)
		 VALUES ($1, $2, $3, $4::date, $5, $6, $7)`,
		rec.ID, rec.Identity, string(rec.Action), rec.Date, rec.Timestamp, rec.Code, string(rec.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// ClaimPaymentEvent はevent_idの一意制約で重複を判定する。
func (t *postgresRecordTx) ClaimPaymentEvent(ctx context.Context, ev *model.PaymentEvent) (bool, error) {
	result, err := t.q.ExecContext(ctx,
		`INSERT INTO payment_events (event_id, session_id, identity, outcome, processed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.SessionID, ev.Identity, string(ev.Outcome), ev.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert payment event: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n == 1, nil
}

func (t *postgresRecordTx) SaveIssuedCode(ctx context.Context, c *model.IssuedCode) error {
	_, err := t.q.ExecContext(ctx,
		`INSERT INTO issued_codes (code, identity, record_date, payment_event_id, issued_at)
		 VALUES ($1, $2, $3::date, $4, $5)`,
		c.Code, c.Identity, c.Date, c.PaymentEventID, c.IssuedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert issued code: %w", err)
	}
	return nil
}

func listRecordsByDate(ctx context.Context, q querier, date string) ([]*model.Record, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, identity, action, to_char(record_date, 'YYYY-MM-DD'), recorded_at, code, source
		 FROM access_records WHERE record_date = $1::date ORDER BY seq ASC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		rec := &model.Record{}
		var action, source string
		if err := rows.Scan(&rec.ID, &rec.Identity, &action, &rec.Date, &rec.Timestamp, &rec.Code, &source); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Action = model.Action(action)
		rec.Source = model.Source(source)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}
