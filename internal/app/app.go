// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
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
	"golang.org/x/time/rate"

	"github.com/najeeb2500/agrishare/internal/allocation"
	"github.com/najeeb2500/agrishare/internal/config"
	"github.com/najeeb2500/agrishare/internal/database"
	"github.com/najeeb2500/agrishare/internal/exclusivity"
	"github.com/najeeb2500/agrishare/internal/handler"
	"github.com/najeeb2500/agrishare/internal/logger"
	"github.com/najeeb2500/agrishare/internal/metrics"
	"github.com/najeeb2500/agrishare/internal/middleware"
	"github.com/najeeb2500/agrishare/internal/notification"
	"github.com/najeeb2500/agrishare/internal/repository"
	"github.com/najeeb2500/agrishare/internal/request"
	"github.com/najeeb2500/agrishare/internal/security"
	"github.com/najeeb2500/agrishare/internal/worker/reconcile"
)

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

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	participantRepo := repository.NewPostgresParticipantRepo(db)
	plotRepo := repository.NewPostgresPlotRepo(db)
	occupancyRepo := repository.NewPostgresOccupancyRepo(db)
	requestRepo := repository.NewPostgresRequestRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewMessageSanitizer()

	// 5. 通知の初期化
	notifier := buildNotifier(ssrfGuard, cfg)

	// 6. ドメインサービスの初期化
	index := exclusivity.NewIndex(occupancyRepo, plotRepo, collector)
	engine := allocation.NewEngine(plotRepo, participantRepo, index, notifier, collector)
	workflow := request.NewWorkflow(requestRepo, plotRepo, participantRepo, engine, sanitizer, collector)

	// 7. 占有インデックスの起動時再構築
	// プロセス再起動をまたいだインデックスは検証なしに信用しない
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	entries, err := index.Rebuild(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to rebuild occupancy index: %w", err)
	}
	slog.Info("occupancy index rebuilt", slog.Int("entries", entries))

	// 8. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのRateLimitGeneral/Submitはreq/min単位なのでreq/secに変換する
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.SubmitRate = rate.Limit(float64(cfg.RateLimitSubmit) / 60.0)
	rateLimiterCfg.SubmitBurst = cfg.RateLimitSubmit

	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		ParticipantFinder: participantRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterCfg),
		MetricsGatherer:   registry,

		AuthService: handler.NewAuthServiceAdapter(sessionRepo, participantRepo),
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},

		AllocationService: engine,
		PlotStore:         plotRepo,
		RequestService:    workflow,
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker は照合ワーカーモードで起動する。
// DB接続を開き、排他インデックスの照合ジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	plotRepo := repository.NewPostgresPlotRepo(db)
	occupancyRepo := repository.NewPostgresOccupancyRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. 照合ジョブの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	index := exclusivity.NewIndex(occupancyRepo, plotRepo, collector)

	reconciler := reconcile.NewReconciler(index, sessionRepo, slog.Default())
	reconciler.SessionPurgeAge = cfg.SessionPurgeAge

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Duration("session_purge_age", cfg.SessionPurgeAge),
	)

	// 照合ジョブをメインgoroutineで実行（ブロッキング）
	reconciler.Start(ctx, cfg.ReconcileInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
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

// buildNotifier は設定に応じてWebhook通知を構築する。
// URLが未設定の場合は送信をスキップする通知を返し、
// SSRF検証に失敗したURLは無効化する。
func buildNotifier(guard security.SSRFGuardService, cfg *config.Config) *notification.WebhookNotifier {
	webhookURL := cfg.NotifyWebhookURL
	if webhookURL != "" {
		if err := guard.ValidateURL(webhookURL); err != nil {
			slog.Warn("通知Webhook URLが不正なため通知を無効化します",
				slog.String("error", err.Error()),
			)
			webhookURL = ""
		}
	}
	return notification.NewWebhookNotifier(guard.NewSafeClient(cfg.NotifyTimeout), webhookURL)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
