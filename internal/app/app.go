package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/roomgate/internal/admission"
	"github.com/hitoshi/roomgate/internal/checkin"
	"github.com/hitoshi/roomgate/internal/code"
	"github.com/hitoshi/roomgate/internal/config"
	"github.com/hitoshi/roomgate/internal/database"
	"github.com/hitoshi/roomgate/internal/handler"
	"github.com/hitoshi/roomgate/internal/logger"
	"github.com/hitoshi/roomgate/internal/messaging"
	"github.com/hitoshi/roomgate/internal/metrics"
	"github.com/hitoshi/roomgate/internal/middleware"
	"github.com/hitoshi/roomgate/internal/payment"
	"github.com/hitoshi/roomgate/internal/security"
	"github.com/hitoshi/roomgate/internal/worker/cleanup"
)

// retentionInterval は保持期間ジョブの実行間隔。
const retentionInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		PrintUsage(w)
		return nil
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.Port),
		slog.String("store_backend", cfg.StoreBackend),
		slog.String("code_mode", string(cfg.CodeMode)),
		slog.String("timezone", cfg.Timezone),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// server はserveモードで組み立てた依存関係。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
}

// newServer は設定とストアから全依存関係をワイヤリングし、HTTPハンドラーを構築する。
func newServer(cfg *config.Config, st *stores, reg *prometheus.Registry, log *slog.Logger) (*server, error) {
	collector := metrics.NewCollector(reg)

	// 1. 判定エンジンとコード検証
	engine := admission.NewEngine(st.records, cfg.MaxCapacity, cfg.Location,
		admission.WithMetrics(collector),
		admission.WithStoreTimeout(cfg.StoreTimeout),
	)
	validator, err := code.New(code.Config{
		Mode:       cfg.CodeMode,
		Length:     cfg.CodeLength,
		SharedCode: cfg.SharedCode,
		Pool:       cfg.CodePool,
		Location:   cfg.Location,
	}, st.codes)
	if err != nil {
		return nil, fmt.Errorf("failed to create code validator: %w", err)
	}

	// 2. 返信文面
	messages := checkin.DefaultMessages(cfg.CodeLength, cfg.ExitKeyword)
	if cfg.MessagesFile != "" {
		messages, err = checkin.LoadMessages(cfg.MessagesFile, messages)
		if err != nil {
			return nil, err
		}
	}

	// 3. LINEクライアント
	lineClient, err := messaging.NewLineClient(cfg.LineChannelAccessToken, "")
	if err != nil {
		return nil, err
	}

	// 4. レート制限
	rateLimiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitPerIP, cfg.RateLimitPerIdentity))

	routerOpts := []checkin.Option{
		checkin.WithThrottler(rateLimiter),
		checkin.WithLogger(log),
	}

	// 5. 決済（CODE_MODE=paymentのときのみ）
	var paymentHandler *handler.PaymentHandler
	if cfg.PaymentEnabled() {
		checkout := payment.NewStripeCheckout(payment.CheckoutConfig{
			SecretKey: cfg.StripeSecretKey,
			PriceID:   cfg.StripePriceID,
			BaseURL:   cfg.BaseURL,
		})
		routerOpts = append(routerOpts, checkin.WithCheckout(checkout))

		processor := payment.NewProcessor(engine, lineClient, payment.Config{
			WebhookSecret: cfg.StripeWebhookSecret,
			CodeLength:    cfg.CodeLength,
			DoorCode:      cfg.DoorCode,
			Messages:      messages,
		}, payment.WithLogger(log))

		pages, err := payment.NewLandingPages(security.NewContentSanitizer(), cfg.PaymentSuccessHTML, cfg.PaymentCancelHTML)
		if err != nil {
			rateLimiter.Stop()
			return nil, fmt.Errorf("failed to render payment pages: %w", err)
		}
		paymentHandler = handler.NewPaymentHandler(processor, pages, collector, log)
	}

	// 6. イベントルーターとWebhookハンドラー
	eventRouter := checkin.NewRouter(engine, validator, checkin.Config{
		ExitKeyword: cfg.ExitKeyword,
		PayKeyword:  cfg.PayKeyword,
		DoorCode:    cfg.DoorCode,
		Messages:    messages,
	}, routerOpts...)

	lineHandler := handler.NewLineWebhookHandler(eventRouter, lineClient, handler.LineHandlerConfig{
		ChannelSecret: cfg.LineChannelSecret,
		Concurrency:   cfg.WebhookConcurrency,
	}, collector, log)

	// 7. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:      log,
		RateLimiter: rateLimiter,
		LineWebhook: lineHandler,
		Payment:     paymentHandler,
		Health:      handler.NewHealthHandler(st.pinger),
		Metrics:     metrics.Handler(reg),
	})

	return &server{handler: router, rateLimiter: rateLimiter}, nil
}

// newRegistry はプロセス・ランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はWebhookサーバーモードで起動する。
// ストアを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	reg := newRegistry()
	srv, err := newServer(cfg, st, reg, slog.Default())
	if err != nil {
		return err
	}
	defer srv.rateLimiter.Stop()

	// メモリストアは別プロセスのworkerから見えないため、保持期間ジョブをここで動かす
	if cfg.StoreBackend == config.BackendMemory {
		job := cleanup.NewCleanupJob(st.retention, cfg.Location, slog.Default(), nil)
		job.RetentionDays = cfg.RetentionDays
		go job.Start(ctx, retentionInterval)
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("webhook server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down webhook server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("webhook server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 保持期間を過ぎた記録と決済イベントを日次で削除する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if cfg.StoreBackend != config.BackendPostgres {
		return fmt.Errorf("worker requires the postgres backend, got %q", cfg.StoreBackend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	job := cleanup.NewCleanupJob(st.retention, cfg.Location, slog.Default(), nil)
	job.RetentionDays = cfg.RetentionDays

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Int("retention_days", cfg.RetentionDays),
		slog.Duration("interval", retentionInterval),
	)

	// 起動直後に1回実行し、以後は日次で実行する（ブロッキング）
	job.Start(ctx, retentionInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreBackend != config.BackendPostgres {
		return fmt.Errorf("migrate requires the postgres backend, got %q", cfg.StoreBackend)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("schema_version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
