package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/lunore/internal/auth"
	"github.com/hitoshi/lunore/internal/catalog"
	"github.com/hitoshi/lunore/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn func(ctx context.Context, in auth.RegisterInput) (*auth.Result, error)
	loginFn    func(ctx context.Context, email, password string) (*auth.Result, error)
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*auth.Result, error) {
	return m.registerFn(ctx, in)
}

func (m *mockAuthService) Login(ctx context.Context, email, password string) (*auth.Result, error) {
	return m.loginFn(ctx, email, password)
}

type mockProductService struct {
	listFn       func(ctx context.Context, q catalog.ListQuery) ([]*model.Product, error)
	featuredFn   func(ctx context.Context) ([]*model.Product, error)
	searchFn     func(ctx context.Context, q string) ([]*model.Product, error)
	byCategoryFn func(ctx context.Context, category string) ([]*model.Product, error)
	getFn        func(ctx context.Context, id string) (*model.Product, error)
	createFn     func(ctx context.Context, actorID string, in catalog.ProductInput) (*model.Product, error)
	updateFn     func(ctx context.Context, actorID, id string, in catalog.ProductInput) (*model.Product, error)
	deleteFn     func(ctx context.Context, actorID, id string) (*model.Product, error)
	exportFn     func(ctx context.Context, w io.Writer) error
}

func (m *mockProductService) List(ctx context.Context, q catalog.ListQuery) ([]*model.Product, error) {
	return m.listFn(ctx, q)
}

func (m *mockProductService) Featured(ctx context.Context) ([]*model.Product, error) {
	return m.featuredFn(ctx)
}

func (m *mockProductService) Search(ctx context.Context, q string) ([]*model.Product, error) {
	return m.searchFn(ctx, q)
}

func (m *mockProductService) ByCategory(ctx context.Context, category string) ([]*model.Product, error) {
	return m.byCategoryFn(ctx, category)
}

func (m *mockProductService) Get(ctx context.Context, id string) (*model.Product, error) {
	return m.getFn(ctx, id)
}

func (m *mockProductService) Create(ctx context.Context, actorID string, in catalog.ProductInput) (*model.Product, error) {
	return m.createFn(ctx, actorID, in)
}

func (m *mockProductService) Update(ctx context.Context, actorID, id string, in catalog.ProductInput) (*model.Product, error) {
	return m.updateFn(ctx, actorID, id, in)
}

func (m *mockProductService) Delete(ctx context.Context, actorID, id string) (*model.Product, error) {
	return m.deleteFn(ctx, actorID, id)
}

func (m *mockProductService) Export(ctx context.Context, w io.Writer) error {
	return m.exportFn(ctx, w)
}

type mockCartService struct {
	getFn      func(ctx context.Context, userID string) ([]model.ResolvedLine, error)
	addFn      func(ctx context.Context, userID, productID string, quantity *int, variant model.Variant) ([]model.ResolvedLine, error)
	updateFn   func(ctx context.Context, userID, productID string, quantity *int, variant model.Variant) ([]model.ResolvedLine, error)
	removeFn   func(ctx context.Context, userID, productID string, variant model.Variant) ([]model.ResolvedLine, error)
	clearFn    func(ctx context.Context, userID string) (bool, error)
	checkoutFn func(ctx context.Context, userID string) (*model.OrderSummary, error)
}

func (m *mockCartService) Get(ctx context.Context, userID string) ([]model.ResolvedLine, error) {
	return m.getFn(ctx, userID)
}

func (m *mockCartService) Add(ctx context.Context, userID, productID string, quantity *int, variant model.Variant) ([]model.ResolvedLine, error) {
	return m.addFn(ctx, userID, productID, quantity, variant)
}

func (m *mockCartService) Update(ctx context.Context, userID, productID string, quantity *int, variant model.Variant) ([]model.ResolvedLine, error) {
	return m.updateFn(ctx, userID, productID, quantity, variant)
}

func (m *mockCartService) Remove(ctx context.Context, userID, productID string, variant model.Variant) ([]model.ResolvedLine, error) {
	return m.removeFn(ctx, userID, productID, variant)
}

func (m *mockCartService) Clear(ctx context.Context, userID string) (bool, error) {
	return m.clearFn(ctx, userID)
}

func (m *mockCartService) Checkout(ctx context.Context, userID string) (*model.OrderSummary, error) {
	return m.checkoutFn(ctx, userID)
}

// --- テストヘルパー ---

// envelope はレスポンスの共通フィールド。
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return v
}
