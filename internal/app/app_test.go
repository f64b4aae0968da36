package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/roomgate/internal/config"
)

// setTestEnv はメモリストア・共通コード方式で起動できる環境変数を設定する。
func setTestEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "SPREADSHEET_ID", "GOOGLE_SERVICE_ACCOUNT_JSON", "CODE_POOL",
		"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "STRIPE_PRICE_ID", "BASE_URL", "MESSAGES_FILE", "PORT"} {
		t.Setenv(k, "")
	}
	t.Setenv("TIMEZONE", "Asia/Tokyo")
	t.Setenv("LINE_CHANNEL_SECRET", "test-channel-secret")
	t.Setenv("LINE_CHANNEL_ACCESS_TOKEN", "test-access-token")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("CODE_MODE", "shared")
	t.Setenv("SHARED_CODE", "1111")
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.StoreBackend != config.BackendMemory {
		t.Errorf("StoreBackend = %q, want %q", cfg.StoreBackend, config.BackendMemory)
	}

	// Verify that slog global logger is configured for JSON output
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("TIMEZONE", "")
	t.Setenv("LINE_CHANNEL_SECRET", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	st, err := openStores(t.Context(), cfg)
	if err != nil {
		t.Fatalf("openStores() error: %v", err)
	}
	srv, err := newServer(cfg, st, newRegistry(), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newServer() error: %v", err)
	}
	t.Cleanup(srv.rateLimiter.Stop)

	ts := httptest.NewServer(srv.handler)
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestNewServer_SharedMode(t *testing.T) {
	setTestEnv(t)
	ts := newTestServer(t, loadTestConfig(t))

	if status, body := get(t, ts.URL+"/health"); status != http.StatusOK {
		t.Errorf("/health status = %d, body = %s", status, body)
	}

	status, body := get(t, ts.URL+"/metrics")
	if status != http.StatusOK {
		t.Fatalf("/metrics status = %d", status)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("/metrics should expose runtime metrics")
	}

	// 決済方式でなければ決済ページは存在しない
	if status, _ := get(t, ts.URL+"/payment/success"); status != http.StatusNotFound {
		t.Errorf("/payment/success status = %d, want 404", status)
	}
}

func TestNewServer_PaymentMode(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SHARED_CODE", "")
	t.Setenv("CODE_MODE", "payment")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("STRIPE_PRICE_ID", "price_123")
	t.Setenv("BASE_URL", "https://gate.example.com")
	t.Setenv("PAYMENT_SUCCESS_HTML", "<p>ありがとうございました</p><script>alert(1)</script>")

	ts := newTestServer(t, loadTestConfig(t))

	status, body := get(t, ts.URL+"/payment/success")
	if status != http.StatusOK {
		t.Fatalf("/payment/success status = %d", status)
	}
	if !strings.Contains(body, "ありがとうございました") || strings.Contains(body, "<script>") {
		t.Errorf("success page not sanitized as expected: %s", body)
	}

	resp, err := http.Post(ts.URL+"/payment/webhook", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("POST /payment/webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unsigned payment webhook status = %d, want 400", resp.StatusCode)
	}
}

func TestNewServer_MessagesFile(t *testing.T) {
	setTestEnv(t)

	path := filepath.Join(t.TempDir(), "messages.yaml")
	if err := os.WriteFile(path, []byte("admitted: \"ようこそ\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MESSAGES_FILE", path)
	newTestServer(t, loadTestConfig(t))

	t.Setenv("MESSAGES_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg := loadTestConfig(t)
	st, _ := openStores(t.Context(), cfg)
	if _, err := newServer(cfg, st, newRegistry(), slog.Default()); err == nil {
		t.Error("expected error for missing messages file")
	}
}

func TestNewServer_EmptyPool_ReturnsError(t *testing.T) {
	setTestEnv(t)
	t.Setenv("SHARED_CODE", "")
	t.Setenv("CODE_MODE", "pool")
	t.Setenv("CODE_POOL", " , ")

	cfg := loadTestConfig(t)
	st, _ := openStores(t.Context(), cfg)
	if _, err := newServer(cfg, st, newRegistry(), slog.Default()); err == nil {
		t.Error("expected error for empty code pool")
	}
}

func TestSheetName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ログ", "ログ"},
		{"ログ!A:D", "ログ"},
		{"'入退室 記録'!A:G", "入退室 記録"},
	}
	for _, tt := range tests {
		if got := sheetName(tt.in); got != tt.want {
			t.Errorf("sheetName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	got := maskDatabaseURL("postgres://user:secret@db:5432/roomgate")
	if strings.Contains(got, "secret") {
		t.Errorf("maskDatabaseURL leaked credentials: %s", got)
	}
	if maskDatabaseURL("short") != "***" {
		t.Error("short URL should be fully masked")
	}
}
