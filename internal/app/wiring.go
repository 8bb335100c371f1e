package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/lunore/internal/auth"
	"github.com/hitoshi/lunore/internal/cart"
	"github.com/hitoshi/lunore/internal/catalog"
	"github.com/hitoshi/lunore/internal/config"
	"github.com/hitoshi/lunore/internal/database"
	"github.com/hitoshi/lunore/internal/event"
	"github.com/hitoshi/lunore/internal/handler"
	"github.com/hitoshi/lunore/internal/metrics"
	"github.com/hitoshi/lunore/internal/middleware"
	"github.com/hitoshi/lunore/internal/repository"
	"github.com/hitoshi/lunore/internal/security"
)

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// storage はリポジトリ一式を保持する。dbはPostgres使用時のみ非nil。
type storage struct {
	users    repository.UserRepository
	products repository.ProductRepository
	carts    repository.CartRepository
	db       *sql.DB
}

// openStorage はSTORAGE_DRIVERに応じてリポジトリを構築する。
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.UsesMemoryStorage() {
		slog.Warn("using in-memory storage, data is lost on restart")
		return &storage{
			users:    repository.NewMemoryUserRepo(),
			products: repository.NewMemoryProductRepo(),
			carts:    repository.NewMemoryCartRepo(),
		}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database connection established")

	return &storage{
		users:    repository.NewPostgresUserRepo(db),
		products: repository.NewPostgresProductRepo(db),
		carts:    repository.NewPostgresCartRepo(db),
		db:       db,
	}, nil
}

// Close はDB接続を閉じる。インメモリの場合は何もしない。
func (s *storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// openPublisher はAMQP_URLが設定されていればRabbitMQへ、無ければログへイベントを発行する。
func openPublisher(cfg *config.Config) (event.Publisher, error) {
	if cfg.AMQPURL == "" {
		slog.Info("AMQP_URL is not set, domain events are logged only")
		return event.NewLogPublisher(slog.Default()), nil
	}
	pub, err := event.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to message broker: %w", err)
	}
	slog.Info("message broker connected", slog.String("exchange", cfg.AMQPExchange))
	return pub, nil
}

// newMetrics はプロセス専用のレジストリとコレクターを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// services はHTTP層とseedコマンドが使うドメインサービス一式。
type services struct {
	auth    *auth.Service
	catalog *catalog.Service
	cart    *cart.Service
}

func newServices(cfg *config.Config, st *storage, pub event.Publisher, mc metrics.MetricsCollector) *services {
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)

	return &services{
		auth:    auth.NewService(st.users, tokens, hasher),
		catalog: catalog.NewService(st.products, security.NewTextSanitizer(), security.NewImageGuard(), pub),
		cart:    cart.NewService(st.carts, st.products, pub, mc),
	}
}

// buildRouter はAPIサーバーのハンドラーを構築する。
// 返すRateLimiterはサーバー停止時にStopすること。
func buildRouter(cfg *config.Config, svc *services, reg *prometheus.Registry, mc metrics.MetricsCollector) (http.Handler, *middleware.RateLimiter) {
	limiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)

	var metricsHandler http.Handler
	if reg != nil {
		metricsHandler = metrics.Handler(reg)
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:     svc.auth,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Logger:            slog.Default(),
		Metrics:           mc,
		MetricsHandler:    metricsHandler,
		Environment:       cfg.AppEnv,

		AuthService:    svc.auth,
		ProductService: svc.catalog,
		CartService:    svc.cart,
	})
	return router, limiter
}
