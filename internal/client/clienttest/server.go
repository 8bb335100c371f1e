// Package clienttest はクライアントパッケージのテスト用に、
// インメモリリポジトリで組み立てた実際のAPIサーバーを提供する。
package clienttest

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/lunore/internal/auth"
	"github.com/hitoshi/lunore/internal/cart"
	"github.com/hitoshi/lunore/internal/catalog"
	"github.com/hitoshi/lunore/internal/handler"
	"github.com/hitoshi/lunore/internal/metrics"
	"github.com/hitoshi/lunore/internal/middleware"
	"github.com/hitoshi/lunore/internal/model"
	"github.com/hitoshi/lunore/internal/repository"
	"github.com/hitoshi/lunore/internal/security"
)

// Server はhttptest.Server上で動くAPIサーバー。
// サービスを直接操作してテストの前提データを用意できる。
type Server struct {
	*httptest.Server
	Auth    *auth.Service
	Catalog *catalog.Service
}

// NewServer はサーバーを起動し、テスト終了時に停止する。
func NewServer(t testing.TB) *Server {
	t.Helper()

	users := repository.NewMemoryUserRepo()
	products := repository.NewMemoryProductRepo()
	carts := repository.NewMemoryCartRepo()

	authSvc := auth.NewService(users, auth.NewTokenService("clienttest-secret", 0), auth.NewBcryptHasher(bcrypt.MinCost))
	catalogSvc := catalog.NewService(products, security.NewTextSanitizer(), security.NewImageGuard(), nil)

	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(100000, 100000))
	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator:  authSvc,
		RateLimiter:    rl,
		Logger:         slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Metrics:        metrics.Nop{},
		Environment:    "test",
		AuthService:    authSvc,
		ProductService: catalogSvc,
		CartService:    cart.NewService(carts, products, nil, nil),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		rl.Stop()
	})

	return &Server{Server: srv, Auth: authSvc, Catalog: catalogSvc}
}

// AddProduct はShirtsカテゴリの商品を作成する。
func (s *Server) AddProduct(t testing.TB, name string, price float64) *model.Product {
	t.Helper()
	category := string(model.CategoryShirts)
	image := "/images/" + strings.ToLower(strings.ReplaceAll(name, " ", "-")) + ".jpg"
	description := name + " description"
	stock := 10

	p, err := s.Catalog.Create(context.Background(), "clienttest", catalog.ProductInput{
		Name:        &name,
		Category:    &category,
		Price:       &price,
		Image:       &image,
		Description: &description,
		Stock:       &stock,
	})
	if err != nil {
		t.Fatalf("failed to create product %q: %v", name, err)
	}
	return p
}

// DeleteProduct は商品を削除する。カートに残った行は孤立する。
func (s *Server) DeleteProduct(t testing.TB, id string) {
	t.Helper()
	if _, err := s.Catalog.Delete(context.Background(), "clienttest", id); err != nil {
		t.Fatalf("failed to delete product %q: %v", id, err)
	}
}

// EnsureAdmin は管理者アカウントを用意する。
func (s *Server) EnsureAdmin(t testing.TB, email, password string) {
	t.Helper()
	if _, err := s.Auth.EnsureAdmin(context.Background(), email, password, "Admin"); err != nil {
		t.Fatalf("failed to ensure admin: %v", err)
	}
}
