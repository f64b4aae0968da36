package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/roomgate/internal/model"
)

// PostgresCodeRepo はPostgreSQLを使用したコードリポジトリ。
type PostgresCodeRepo struct {
	db *sql.DB
}

var _ CodeRepository = (*PostgresCodeRepo)(nil)

// NewPostgresCodeRepo はPostgresCodeRepoを生成する。
func NewPostgresCodeRepo(db *sql.DB) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: db}
}

// Redeem は主キー制約による条件付きINSERTでコードを消費する。
// 同時に同じコードが送られても成功するのは1件だけ。
func (r *PostgresCodeRepo) Redeem(ctx context.Context, red *model.CodeRedemption) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO code_redemptions (code, identity, redeemed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (code) DO NOTHING`,
		red.Code, red.Identity, red.RedeemedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to redeem code: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n == 1, nil
}

// Release はコードの消費記録を削除する。
func (r *PostgresCodeRepo) Release(ctx context.Context, code string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM code_redemptions WHERE code = $1`,
		code,
	)
	if err != nil {
		return fmt.Errorf("failed to release code: %w", err)
	}
	return nil
}

// FindIssued はidentityに発行されたコードのうちcodeに一致する最新のものを返す。
// 見つからない場合はnilを返す。
func (r *PostgresCodeRepo) FindIssued(ctx context.Context, identity, code string) (*model.IssuedCode, error) {
	c := &model.IssuedCode{}
	err := r.db.QueryRowContext(ctx,
		`SELECT code, identity, to_char(record_date, 'YYYY-MM-DD'), payment_event_id, issued_at
		 FROM issued_codes
		 WHERE identity = $1 AND code = $2
		 ORDER BY issued_at DESC LIMIT 1`,
		identity, code,
	).Scan(&c.Code, &c.Identity, &c.Date, &c.PaymentEventID, &c.IssuedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find issued code: %w", err)
	}
	return c, nil
}
