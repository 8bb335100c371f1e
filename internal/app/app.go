package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hitoshi/lunore/internal/client"
	"github.com/hitoshi/lunore/internal/client/keepalive"
	"github.com/hitoshi/lunore/internal/config"
	"github.com/hitoshi/lunore/internal/database"
	"github.com/hitoshi/lunore/internal/logger"
	"github.com/hitoshi/lunore/internal/metrics"
	"github.com/hitoshi/lunore/internal/security"
	"github.com/hitoshi/lunore/internal/seed"
	"github.com/hitoshi/lunore/internal/worker/cleanup"
	"github.com/hitoshi/lunore/internal/worker/imagecheck"
)

// shutdownTimeout は処理中リクエストの完了を待つ最大時間。
const shutdownTimeout = 30 * time.Second

// imageCheckConcurrency は画像チェッカーの同時接続数。
const imageCheckConcurrency = 5

// Init はアプリケーションの初期化を行う。
// .envファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. .envファイルがあれば読み込む（設定済みの環境変数は上書きしない）
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 4. 設定されたログレベルで再設定する
	logger.SetupDefault(w, cfg.LogLevel)

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
	if cmd == CommandKeepAlive {
		return runKeepAlive(w)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("environment", cfg.AppEnv),
		slog.String("storage_driver", cfg.StorageDriver),
	)

	var subArgs []string
	if len(args) > 1 {
		subArgs = args[1:]
	}

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg, subArgs)
	case CommandSeed:
		return runSeed(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// ストレージを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. ストレージの初期化
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// 2. イベント発行の初期化
	pub, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	// 3. メトリクスの初期化
	reg, mc := newMetrics()

	// 4. ドメインサービスの初期化
	svc := newServices(cfg, st, pub, mc)

	// 5. インメモリの場合は起動のたびに空になるため初期カタログを投入する
	if cfg.UsesMemoryStorage() {
		if _, err := seed.NewSeeder(svc.catalog, svc.auth, slog.Default()).Run(ctx, seedOptions(cfg)); err != nil {
			return fmt.Errorf("failed to seed in-memory storage: %w", err)
		}
	}

	// 6. ルーターの構築
	router, limiter := buildRouter(cfg, svc, reg, mc)
	defer limiter.Stop()

	// 7. HTTPサーバーの起動
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

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// カートクリーンアップと画像チェッカーを並行して実行する。
// ジョブはSQLを直接実行するため、Postgresストレージが必要。
func runWorker(cfg *config.Config) error {
	if cfg.UsesMemoryStorage() {
		return fmt.Errorf("worker requires STORAGE_DRIVER=%s", config.StorageDriverPostgres)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. ストレージの初期化
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// 2. メトリクスの初期化
	reg, mc := newMetrics()
	metricsServer := startMetricsServer(cfg.WorkerMetricsPort, metrics.Handler(reg))

	// 3. ジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(st.db, slog.Default(), mc)
	checker := imagecheck.NewChecker(
		st.products,
		security.NewImageGuard().NewSafeClient(cfg.ImageCheckTimeout),
		slog.Default(),
		mc,
		imageCheckConcurrency,
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Duration("image_check_interval", cfg.ImageCheckInterval),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		cleanupJob.Start(ctx, cfg.CleanupInterval)
	}()
	go func() {
		defer wg.Done()
		checker.Start(ctx, cfg.ImageCheckInterval)
	}()
	wg.Wait()

	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// startMetricsServer はportが空でなければ/metricsだけを公開するサーバーを起動する。
func startMetricsServer(port string, h http.Handler) *http.Server {
	if port == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	return server
}

// runMigrate はデータベースマイグレーションを実行する。
//
//	migrate [up]      すべての未適用マイグレーションを適用する
//	migrate down [n]  直近n件（省略時1件）をロールバックする
//	migrate version   現在のバージョンを表示する
func runMigrate(cfg *config.Config, args []string) error {
	if cfg.UsesMemoryStorage() {
		return fmt.Errorf("migrate requires STORAGE_DRIVER=%s", config.StorageDriverPostgres)
	}

	action := "up"
	if len(args) > 0 {
		action = args[0]
	}

	slog.Info("running database migrations",
		slog.String("action", action),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch action {
	case "up":
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid rollback steps %q: %w", args[1], err)
			}
			steps = n
		}
		if err := database.RollbackMigrations(cfg.DatabaseURL, steps); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
	case "version":
		version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration version: %w", err)
		}
		slog.Info("current migration version",
			slog.Uint64("version", uint64(version)),
			slog.Bool("dirty", dirty),
		)
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q (want up, down or version)", action)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runSeed は初期カタログと管理者アカウントを投入する。
func runSeed(cfg *config.Config) error {
	ctx := context.Background()

	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	pub, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer pub.Close()

	svc := newServices(cfg, st, pub, metrics.Nop{})
	res, err := seed.NewSeeder(svc.catalog, svc.auth, slog.Default()).Run(ctx, seedOptions(cfg))
	if err != nil {
		return fmt.Errorf("seed failed: %w", err)
	}

	slog.Info("seed completed",
		slog.Int("products_created", res.ProductsCreated),
		slog.Bool("catalog_skipped", res.CatalogSkipped),
		slog.Bool("admin_created", res.AdminCreated),
	)
	return nil
}

func seedOptions(cfg *config.Config) seed.Options {
	return seed.Options{
		File:          cfg.SeedFile,
		AdminEmail:    cfg.AdminEmail,
		AdminPassword: cfg.AdminPassword,
		AdminName:     cfg.AdminName,
	}
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /api/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/api/health", port)
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

// runKeepAlive はAPIへのヘルスチェックをシグナルを受信するまで定期的に送る。
// アイドル時にスリープするホスティング環境向けで、APIサーバーの設定は読み込まない。
func runKeepAlive(w io.Writer) error {
	cfg, err := config.LoadKeepAlive()
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	logger.SetupDefault(w, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	keepAlive(ctx, cfg)
	return nil
}

// keepAlive はctxがキャンセルされるまでcfg.URLへpingを送る。
func keepAlive(ctx context.Context, cfg *config.KeepAliveConfig) {
	api := client.New(cfg.URL, client.WithLogger(slog.Default()))
	keepalive.New(api, slog.Default(), cfg.Interval, cfg.Timeout).Start(ctx)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
