package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lunore/internal/metrics"
	"github.com/hitoshi/lunore/internal/middleware"
	"github.com/hitoshi/lunore/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	// MetricsHandler がnilの場合は/metricsを公開しない
	MetricsHandler http.Handler
	Environment    string

	// サービス
	AuthService    AuthServiceInterface
	ProductService ProductServiceInterface
	CartService    CartServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → [Auth → RateLimit → RequireRole/RequireCartOwner]
//
// 認証が必要なルートではレート制限を認証の後に置き、ユーザーID単位で数える。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	// サブルーターに引き継がせるため、Routeより前に設定する
	r.NotFound(NotFound)
	r.MethodNotAllowed(NotFound)

	authn := middleware.NewAuthMiddleware(deps.Authenticator, deps.Metrics)
	general := deps.RateLimiter.GeneralMiddleware()

	healthHandler := NewHealthHandler(deps.Environment)
	authHandler := NewAuthHandler(deps.AuthService)
	productHandler := NewProductHandler(deps.ProductService)
	cartHandler := NewCartHandler(deps.CartService)

	r.Get("/", healthHandler.Index)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		// 認証
		r.Route("/auth", func(r chi.Router) {
			// 登録・ログインは総当たり対策の専用レート制限
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/register", authHandler.Register)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/login", authHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(authn, general)
				r.Post("/logout", authHandler.Logout)
				r.Get("/me", authHandler.Me)
			})
		})

		// 商品カタログ
		r.Route("/products", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(general)
				r.Get("/", productHandler.List)
				r.Get("/featured", productHandler.Featured)
				r.Get("/search", productHandler.Search)
				r.Get("/category/{category}", productHandler.ByCategory)
				r.Get("/{id}", productHandler.Get)
			})

			// 管理者のみ
			r.Group(func(r chi.Router) {
				r.Use(authn, general, middleware.RequireRole(model.RoleAdmin))
				r.Get("/export", productHandler.Export)
				r.Post("/", productHandler.Create)
				r.Put("/{id}", productHandler.Update)
				r.Delete("/{id}", productHandler.Delete)
			})
		})

		// カート（本人のみ）
		r.Route("/cart/{userId}", func(r chi.Router) {
			r.Use(authn, general, middleware.RequireCartOwner("userId"))
			r.Get("/", cartHandler.Get)
			r.Post("/add", cartHandler.Add)
			r.Put("/update", cartHandler.Update)
			r.Delete("/remove/{productId}", cartHandler.Remove)
			r.Delete("/clear", cartHandler.Clear)
			r.Post("/checkout", cartHandler.Checkout)
		})
	})

	return r
}
