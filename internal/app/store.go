package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/roomgate/internal/config"
	"github.com/hitoshi/roomgate/internal/database"
	"github.com/hitoshi/roomgate/internal/repository"
	"github.com/hitoshi/roomgate/internal/repository/memory"
	"github.com/hitoshi/roomgate/internal/sheets"
)

// stores は選択したバックエンドのリポジトリ群。
type stores struct {
	records repository.RecordRepository
	codes   repository.CodeRepository
	pinger  repository.Pinger
	// retention はスプレッドシートでは未対応のためnil
	retention repository.RetentionRepository
	close     func()
}

// openStores はSTORE_BACKENDに応じてログストアを開く。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		records := repository.NewPostgresRecordRepo(db)
		return &stores{
			records:   records,
			codes:     repository.NewPostgresCodeRepo(db),
			pinger:    records,
			retention: records,
			close:     func() { db.Close() },
		}, nil

	case config.BackendSheets:
		st, err := sheets.New(ctx, sheets.Config{
			SpreadsheetID: cfg.SpreadsheetID,
			RecordsSheet:  sheetName(cfg.SheetRecordsRange),
			Location:      cfg.Location,
		}, []byte(cfg.GoogleServiceAccountJSON))
		if err != nil {
			return nil, fmt.Errorf("failed to open spreadsheet store: %w", err)
		}
		slog.Info("spreadsheet store opened", slog.String("spreadsheet_id", cfg.SpreadsheetID))
		return &stores{records: st, codes: st, pinger: st, close: func() {}}, nil

	case config.BackendMemory:
		st := memory.New()
		slog.Warn("using in-memory store; records are lost on restart")
		return &stores{records: st, codes: st, pinger: st, retention: st, close: func() {}}, nil
	}
	return nil, fmt.Errorf("unknown store backend: %q", cfg.StoreBackend)
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// sheetName は"ログ!A:D"のような範囲指定からシート名を取り出す。
func sheetName(rng string) string {
	name, _, _ := strings.Cut(rng, "!")
	return strings.Trim(name, "'")
}
