package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/lunore/internal/auth"
	"github.com/hitoshi/lunore/internal/cart"
	"github.com/hitoshi/lunore/internal/catalog"
	"github.com/hitoshi/lunore/internal/metrics"
	"github.com/hitoshi/lunore/internal/middleware"
	"github.com/hitoshi/lunore/internal/model"
	"github.com/hitoshi/lunore/internal/repository"
	"github.com/hitoshi/lunore/internal/security"
)

// --- 統合テスト用のルーター構築ヘルパー ---

// testServer はインメモリリポジトリと実サービスで組み立てたルーターを保持する。
type testServer struct {
	t       *testing.T
	handler http.Handler
	auth    *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	users := repository.NewMemoryUserRepo()
	products := repository.NewMemoryProductRepo()
	carts := repository.NewMemoryCartRepo()

	authService := auth.NewService(users, auth.NewTokenService("integration-secret", 0), auth.NewBcryptHasher(bcrypt.MinCost))
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(10000, 10000))
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		Authenticator:     authService,
		CORSAllowedOrigin: "http://localhost:5173",
		RateLimiter:       rl,
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		Metrics:           metrics.Nop{},
		Environment:       "test",
		AuthService:       authService,
		ProductService:    catalog.NewService(products, security.NewTextSanitizer(), security.NewImageGuard(), nil),
		CartService:       cart.NewService(carts, products, nil, nil),
	})
	return &testServer{t: t, handler: router, auth: authService}
}

// do はリクエストを送り、レスポンスを返す。bodyが空でなければJSONとして送る。
func (s *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

// register はアカウントを登録し、ユーザーIDとトークンを返す。
func (s *testServer) register(email string) (string, string) {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/auth/register", "", `{"email":"`+email+`","password":"secret1","name":"Shopper"}`)
	if w.Code != http.StatusCreated {
		s.t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	body := decodeBody[authBody](s.t, w)
	return body.User.ID, body.Token
}

// adminToken は管理者アカウントを用意してログインする。
func (s *testServer) adminToken() string {
	s.t.Helper()
	if _, err := s.auth.EnsureAdmin(context.Background(), "admin@lunore.test", "admin-pass", "Admin"); err != nil {
		s.t.Fatalf("EnsureAdmin returned error: %v", err)
	}
	w := s.do(http.MethodPost, "/api/auth/login", "", `{"email":"admin@lunore.test","password":"admin-pass"}`)
	if w.Code != http.StatusOK {
		s.t.Fatalf("admin login status = %d, body = %s", w.Code, w.Body.String())
	}
	return decodeBody[authBody](s.t, w).Token
}

// createProduct は管理者として商品を作成し、IDを返す。
func (s *testServer) createProduct(token, name string, price float64, featured bool) string {
	s.t.Helper()
	payload, _ := json.Marshal(map[string]any{
		"name":        name,
		"category":    "shirts",
		"price":       price,
		"image":       "/images/" + strings.ToLower(name) + ".jpg",
		"description": name + " description",
		"stock":       10,
		"featured":    featured,
	})
	w := s.do(http.MethodPost, "/api/products", token, string(payload))
	if w.Code != http.StatusCreated {
		s.t.Fatalf("create product status = %d, body = %s", w.Code, w.Body.String())
	}
	return decodeBody[productResponse](s.t, w).Product.ID
}

// --- 認証 ---

func TestRouter_RegisterThenLogin_SameUser(t *testing.T) {
	s := newTestServer(t)
	userID, token := s.register("shopper@x.com")
	if token == "" {
		t.Fatal("expected token on register")
	}

	w := s.do(http.MethodPost, "/api/auth/login", "", `{"email":"SHOPPER@x.com","password":"secret1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d", w.Code)
	}
	if got := decodeBody[authBody](t, w).User.ID; got != userID {
		t.Errorf("login user ID = %q, want %q", got, userID)
	}

	w = s.do(http.MethodGet, "/api/auth/me", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("me status = %d", w.Code)
	}

	w = s.do(http.MethodPost, "/api/auth/register", "", `{"email":"shopper@x.com","password":"other","name":"Again"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("duplicate register status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRouter_ProtectedRoutes_RequireToken(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		method, path, token, wantCode string
	}{
		{http.MethodGet, "/api/auth/me", "", model.ErrCodeMissingToken},
		{http.MethodGet, "/api/auth/me", "garbage", model.ErrCodeInvalidToken},
		{http.MethodPost, "/api/auth/logout", "", model.ErrCodeMissingToken},
		{http.MethodGet, "/api/cart/someone", "", model.ErrCodeMissingToken},
	}
	for _, tt := range tests {
		w := s.do(tt.method, tt.path, tt.token, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, w.Code, http.StatusUnauthorized)
		}
		if body := decodeBody[envelope](t, w); body.Error != tt.wantCode {
			t.Errorf("%s %s error = %q, want %q", tt.method, tt.path, body.Error, tt.wantCode)
		}
	}
}

// --- 商品 ---

func TestRouter_ProductAdmin_Authorization(t *testing.T) {
	s := newTestServer(t)
	_, customerToken := s.register("c@x.com")
	body := `{"name":"Tee","category":"Shirts","price":10,"image":"/images/tee.jpg","description":"d"}`

	if w := s.do(http.MethodPost, "/api/products", "", body); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	w := s.do(http.MethodPost, "/api/products", customerToken, body)
	if w.Code != http.StatusForbidden {
		t.Errorf("customer status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if got := decodeBody[envelope](t, w).Message; got != "Admin access required" {
		t.Errorf("customer message = %q", got)
	}
	if w := s.do(http.MethodPost, "/api/products", s.adminToken(), body); w.Code != http.StatusCreated {
		t.Errorf("admin status = %d, want %d", w.Code, http.StatusCreated)
	}
	if w := s.do(http.MethodGet, "/api/products/export", customerToken, ""); w.Code != http.StatusForbidden {
		t.Errorf("customer export status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRouter_ProductCatalog_Flow(t *testing.T) {
	s := newTestServer(t)
	admin := s.adminToken()

	first := s.createProduct(admin, "Linen", 49.99, true)
	time.Sleep(2 * time.Millisecond)
	second := s.createProduct(admin, "Oxford", 89.5, false)

	// 新しい順
	w := s.do(http.MethodGet, "/api/products", "", "")
	list := decodeBody[productListBody](t, w)
	if list.Count != 2 || list.Products[0].ID != second || list.Products[1].ID != first {
		t.Fatalf("list = %+v", list)
	}

	w = s.do(http.MethodGet, "/api/products/featured", "", "")
	if list := decodeBody[productListBody](t, w); list.Count != 1 || list.Products[0].ID != first {
		t.Errorf("featured = %+v", list)
	}

	w = s.do(http.MethodGet, "/api/products/search?q=oxford", "", "")
	if list := decodeBody[productListBody](t, w); list.Count != 1 || list.Products[0].ID != second {
		t.Errorf("search = %+v", list)
	}
	if w := s.do(http.MethodGet, "/api/products/search", "", ""); w.Code != http.StatusBadRequest {
		t.Errorf("search without q status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = s.do(http.MethodGet, "/api/products/category/SHIRTS", "", "")
	if list := decodeBody[productListBody](t, w); list.Count != 2 {
		t.Errorf("category count = %d, want 2", list.Count)
	}

	w = s.do(http.MethodPut, "/api/products/"+first, admin, `{"stock":0}`)
	if p := decodeBody[productResponse](t, w).Product; w.Code != http.StatusOK || p.Stock != 0 || p.Name != "Linen" {
		t.Errorf("update = %d %+v", w.Code, p)
	}

	w = s.do(http.MethodGet, "/api/products/export", admin, "")
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != catalog.ExportContentType || w.Body.Len() == 0 {
		t.Errorf("export status = %d, content-type = %q, size = %d", w.Code, w.Header().Get("Content-Type"), w.Body.Len())
	}

	if w := s.do(http.MethodDelete, "/api/products/"+first, admin, ""); w.Code != http.StatusOK {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/api/products/"+first, "", ""); w.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// --- カート ---

func TestRouter_Cart_Flow(t *testing.T) {
	s := newTestServer(t)
	admin := s.adminToken()
	p1 := s.createProduct(admin, "Linen", 49.99, false)
	p2 := s.createProduct(admin, "Oxford", 89.5, false)
	userID, token := s.register("cart@x.com")
	base := "/api/cart/" + userID

	// 未作成のカートは空
	w := s.do(http.MethodGet, base, token, "")
	if body := decodeBody[cartBody](t, w); w.Code != http.StatusOK || len(body.Cart) != 0 || *body.Count != 0 {
		t.Fatalf("initial cart = %d %+v", w.Code, body)
	}

	// 同じ商品・バリアントの追加は数量を合算する
	s.do(http.MethodPost, base+"/add", token, `{"productId":"`+p1+`","quantity":1,"variant":{"size":"M"}}`)
	w = s.do(http.MethodPost, base+"/add", token, `{"productId":"`+p1+`","quantity":2,"variant":{"size":"M"}}`)
	body := decodeBody[cartBody](t, w)
	if len(body.Cart) != 1 || body.Cart[0].Quantity != 3 {
		t.Fatalf("after merge = %+v", body.Cart)
	}
	if body.Cart[0].Product == nil || body.Cart[0].Product.Name != "Linen" {
		t.Errorf("line product = %+v", body.Cart[0].Product)
	}

	// 別バリアントは別の行
	w = s.do(http.MethodPost, base+"/add", token, `{"productId":"`+p1+`","variant":{"size":"L"}}`)
	if body := decodeBody[cartBody](t, w); len(body.Cart) != 2 {
		t.Errorf("distinct variant lines = %d, want 2", len(body.Cart))
	}

	// 存在しない商品
	if w := s.do(http.MethodPost, base+"/add", token, `{"productId":"nope"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown product status = %d, want %d", w.Code, http.StatusNotFound)
	}

	// 数量の絶対指定と0による削除
	w = s.do(http.MethodPut, base+"/update", token, `{"productId":"`+p1+`","quantity":5,"variant":{"size":"M"}}`)
	if body := decodeBody[cartBody](t, w); body.Cart[0].Quantity != 5 {
		t.Errorf("after update = %+v", body.Cart)
	}
	w = s.do(http.MethodPut, base+"/update", token, `{"productId":"`+p1+`","quantity":0,"variant":{"size":"L"}}`)
	if body := decodeBody[cartBody](t, w); len(body.Cart) != 1 {
		t.Errorf("after zero update lines = %d, want 1", len(body.Cart))
	}

	// 削除は冪等
	s.do(http.MethodPost, base+"/add", token, `{"productId":"`+p2+`"}`)
	for i := 0; i < 2; i++ {
		w = s.do(http.MethodDelete, base+"/remove/"+p2+"?variant=null", token, "")
		if w.Code != http.StatusOK {
			t.Errorf("remove #%d status = %d", i+1, w.Code)
		}
	}
	if body := decodeBody[cartBody](t, w); len(body.Cart) != 1 {
		t.Errorf("after remove lines = %d, want 1", len(body.Cart))
	}

	// チェックアウト: 49.99 × 5
	w = s.do(http.MethodPost, base+"/checkout", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("checkout status = %d, body = %s", w.Code, w.Body.String())
	}
	order := decodeBody[struct {
		Order model.OrderSummary `json:"order"`
	}](t, w).Order
	if order.ItemCount != 5 || order.Total.StringFixed(2) != "249.95" {
		t.Errorf("order = %+v", order)
	}

	w = s.do(http.MethodGet, base, token, "")
	if body := decodeBody[cartBody](t, w); len(body.Cart) != 0 {
		t.Errorf("cart after checkout = %+v", body.Cart)
	}
	if w := s.do(http.MethodPost, base+"/checkout", token, ""); w.Code != http.StatusBadRequest {
		t.Errorf("second checkout status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = s.do(http.MethodDelete, base+"/clear", token, "")
	if body := decodeBody[cartBody](t, w); body.Message != "Cart already empty" {
		t.Errorf("clear message = %q", body.Message)
	}
}

func TestRouter_Cart_OwnerMismatch_Forbidden(t *testing.T) {
	s := newTestServer(t)
	ownerID, _ := s.register("owner@x.com")
	_, intruderToken := s.register("intruder@x.com")

	w := s.do(http.MethodGet, "/api/cart/"+ownerID, intruderToken, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if body := decodeBody[envelope](t, w); body.Error != model.ErrCodeCartNotOwned {
		t.Errorf("error = %q, want %q", body.Error, model.ErrCodeCartNotOwned)
	}

	// 管理者でも他人のカートは操作できない
	w = s.do(http.MethodPost, "/api/cart/"+ownerID+"/add", s.adminToken(), `{"productId":"x"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("admin status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

// 商品が削除されてもカート行は残り、productがnullになる。
func TestRouter_Cart_DeletedProductBecomesOrphan(t *testing.T) {
	s := newTestServer(t)
	admin := s.adminToken()
	pid := s.createProduct(admin, "Linen", 49.99, false)
	userID, token := s.register("orphan@x.com")
	base := "/api/cart/" + userID

	s.do(http.MethodPost, base+"/add", token, `{"productId":"`+pid+`"}`)
	s.do(http.MethodDelete, "/api/products/"+pid, admin, "")

	w := s.do(http.MethodGet, base, token, "")
	body := decodeBody[cartBody](t, w)
	if len(body.Cart) != 1 || body.Cart[0].Product != nil || body.Cart[0].ProductID != pid {
		t.Errorf("orphan cart = %+v", body.Cart)
	}
	if w := s.do(http.MethodPost, base+"/checkout", token, ""); w.Code != http.StatusBadRequest {
		t.Errorf("checkout with orphan status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- ルーティング全般 ---

func TestRouter_HealthIndexAndNotFound(t *testing.T) {
	s := newTestServer(t)

	if w := s.do(http.MethodGet, "/api/health", "", ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/", "", ""); w.Code != http.StatusOK {
		t.Errorf("index status = %d", w.Code)
	}

	for _, path := range []string{"/nope", "/api/nope", "/api/cart"} {
		w := s.do(http.MethodGet, path, "", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusNotFound)
			continue
		}
		if body := decodeBody[envelope](t, w); body.Error != model.ErrCodeRouteNotFound {
			t.Errorf("GET %s error = %q", path, body.Error)
		}
	}
}

func TestRouter_CORSPreflightAndHeaders(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/products", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}

	w = s.do(http.MethodGet, "/api/health", "", "")
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestRouter_MetricsEndpoint_OnlyWhenConfigured(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(http.MethodGet, "/metrics", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("metrics without handler status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
