package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/roomgate/internal/model"
)

// ストアのバックエンド
const (
	BackendSheets   = "sheets"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// 日付境界の計算に使うタイムゾーン
	Timezone string
	Location *time.Location

	// LINE
	LineChannelSecret      string
	LineChannelAccessToken string

	// Store
	StoreBackend             string
	StoreTimeout             time.Duration
	DatabaseURL              string
	SpreadsheetID            string
	GoogleServiceAccountJSON string
	SheetRecordsRange        string

	// Admission
	MaxCapacity int

	// Code
	CodeMode   model.CodeMode
	CodeLength int
	SharedCode string
	CodePool   []string
	DoorCode   string

	// Chat
	ExitKeyword  string
	PayKeyword   string
	MessagesFile string

	// Payment
	StripeSecretKey     string
	StripeWebhookSecret string
	StripePriceID       string
	BaseURL             string
	PaymentSuccessHTML  string
	PaymentCancelHTML   string

	// Rate Limit（1分あたり）
	RateLimitPerIdentity int
	RateLimitPerIP       int

	// 1回のLINE配信に含まれるイベントの同時処理数
	WebhookConcurrency int

	// Retention
	RetentionDays int

	// Server
	Port string
}

// PaymentEnabled は決済方式で動作するかを返す。
func (c *Config) PaymentEnabled() bool {
	return c.CodeMode == model.CodeModePayment
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。必須かどうかは
// STORE_BACKENDとCODE_MODEの値によって変わる。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	require := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.Timezone = require("TIMEZONE")
	cfg.LineChannelSecret = require("LINE_CHANNEL_SECRET")
	cfg.LineChannelAccessToken = require("LINE_CHANNEL_ACCESS_TOKEN")

	cfg.StoreBackend = getEnvString("STORE_BACKEND", BackendSheets)
	switch cfg.StoreBackend {
	case BackendPostgres:
		cfg.DatabaseURL = require("DATABASE_URL")
	case BackendSheets:
		cfg.SpreadsheetID = require("SPREADSHEET_ID")
		cfg.GoogleServiceAccountJSON = require("GOOGLE_SERVICE_ACCOUNT_JSON")
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND: %q", cfg.StoreBackend)
	}

	cfg.CodeMode = model.CodeMode(getEnvString("CODE_MODE", string(model.CodeModeShared)))
	switch cfg.CodeMode {
	case model.CodeModeShared:
		cfg.SharedCode = require("SHARED_CODE")
	case model.CodeModePool:
		cfg.CodePool = splitList(require("CODE_POOL"))
	case model.CodeModePayment:
		cfg.StripeSecretKey = require("STRIPE_SECRET_KEY")
		cfg.StripeWebhookSecret = require("STRIPE_WEBHOOK_SECRET")
		cfg.StripePriceID = require("STRIPE_PRICE_ID")
		cfg.BaseURL = require("BASE_URL")
	default:
		return nil, fmt.Errorf("unknown CODE_MODE: %q", cfg.CodeMode)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	// Optional fields with defaults
	cfg.Port = getEnvString("PORT", "3000")
	cfg.StoreTimeout = getEnvDuration("STORE_TIMEOUT", 10*time.Second)
	cfg.SheetRecordsRange = getEnvString("SHEET_RECORDS_RANGE", "ログ")
	cfg.MaxCapacity = getEnvInt("MAX_CAPACITY", 12)
	cfg.CodeLength = getEnvInt("CODE_LENGTH", 4)
	cfg.DoorCode = getEnvString("DOOR_CODE", "")
	cfg.ExitKeyword = getEnvString("EXIT_KEYWORD", "退出")
	cfg.PayKeyword = getEnvString("PAY_KEYWORD", "決済")
	cfg.MessagesFile = getEnvString("MESSAGES_FILE", "")
	cfg.RateLimitPerIdentity = getEnvInt("RATE_LIMIT_PER_IDENTITY", 30)
	cfg.RateLimitPerIP = getEnvInt("RATE_LIMIT_PER_IP", 600)
	cfg.WebhookConcurrency = getEnvInt("WEBHOOK_CONCURRENCY", 8)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 400)
	cfg.PaymentSuccessHTML = getEnvString("PAYMENT_SUCCESS_HTML", "")
	cfg.PaymentCancelHTML = getEnvString("PAYMENT_CANCEL_HTML", "")

	for _, v := range []struct {
		key string
		val int
	}{
		{"MAX_CAPACITY", cfg.MaxCapacity},
		{"CODE_LENGTH", cfg.CodeLength},
		{"RATE_LIMIT_PER_IDENTITY", cfg.RateLimitPerIdentity},
		{"RATE_LIMIT_PER_IP", cfg.RateLimitPerIP},
		{"WEBHOOK_CONCURRENCY", cfg.WebhookConcurrency},
	} {
		if v.val < 1 {
			return nil, fmt.Errorf("%s must be positive: %d", v.key, v.val)
		}
	}

	return cfg, nil
}

// splitList はカンマ区切りの値を空要素を除いて分割する。
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
