package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lunore/internal/catalog"
	"github.com/hitoshi/lunore/internal/middleware"
	"github.com/hitoshi/lunore/internal/model"
)

// ProductServiceInterface は商品ハンドラーが必要とするサービスインターフェース。
type ProductServiceInterface interface {
	List(ctx context.Context, q catalog.ListQuery) ([]*model.Product, error)
	Featured(ctx context.Context) ([]*model.Product, error)
	Search(ctx context.Context, q string) ([]*model.Product, error)
	ByCategory(ctx context.Context, category string) ([]*model.Product, error)
	Get(ctx context.Context, id string) (*model.Product, error)
	Create(ctx context.Context, actorID string, in catalog.ProductInput) (*model.Product, error)
	Update(ctx context.Context, actorID, id string, in catalog.ProductInput) (*model.Product, error)
	Delete(ctx context.Context, actorID, id string) (*model.Product, error)
	Export(ctx context.Context, w io.Writer) error
}

// ProductHandler は商品カタログのHTTPハンドラー。
type ProductHandler struct {
	service ProductServiceInterface
}

// NewProductHandler はProductHandlerを生成する。
func NewProductHandler(service ProductServiceInterface) *ProductHandler {
	return &ProductHandler{service: service}
}

// productListResponse は商品一覧のレスポンス。
type productListResponse struct {
	Success  bool             `json:"success"`
	Products []*model.Product `json:"products"`
	Count    int              `json:"count"`
}

// productResponse は単一商品のレスポンス。
type productResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Product *model.Product `json:"product"`
}

func writeProductList(w http.ResponseWriter, products []*model.Product) {
	writeJSON(w, http.StatusOK, productListResponse{Success: true, Products: products, Count: len(products)})
}

// List は商品一覧を返す。
// GET /api/products?category=&featured=&search=&limit=&page=
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	products, err := h.service.List(r.Context(), q)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeProductList(w, products)
}

// parseListQuery はクエリパラメータから一覧条件を組み立てる。
func parseListQuery(r *http.Request) (catalog.ListQuery, error) {
	values := r.URL.Query()
	q := catalog.ListQuery{
		Category: values.Get("category"),
		Search:   values.Get("search"),
	}

	if v := values.Get("featured"); v != "" {
		featured, err := strconv.ParseBool(v)
		if err != nil {
			return q, model.NewValidationError("featured must be true or false")
		}
		q.Featured = &featured
	}
	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return q, model.NewValidationError("limit must be a positive integer")
		}
		q.Limit = limit
	}
	if v := values.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return q, model.NewValidationError("page must be a positive integer")
		}
		q.Page = page
	}
	return q, nil
}

// Featured はおすすめ商品を返す。
// GET /api/products/featured
func (h *ProductHandler) Featured(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.Featured(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeProductList(w, products)
}

// Search はキーワードで商品を検索する。
// GET /api/products/search?q=
func (h *ProductHandler) Search(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeProductList(w, products)
}

// ByCategory はカテゴリ別の商品一覧を返す。
// GET /api/products/category/{category}
func (h *ProductHandler) ByCategory(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ByCategory(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeProductList(w, products)
}

// Get は単一の商品を返す。
// GET /api/products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productResponse{Success: true, Product: p})
}

// Create は商品を作成する（管理者のみ）。
// POST /api/products
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if err := decodeJSON(r, &in); err != nil {
		handleServiceError(w, r, err)
		return
	}

	p, err := h.service.Create(r.Context(), actorID(r), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, productResponse{
		Success: true,
		Message: "Product created successfully",
		Product: p,
	})
}

// Update は商品を部分更新する（管理者のみ）。
// PUT /api/products/{id}
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProductInput
	if err := decodeJSON(r, &in); err != nil {
		handleServiceError(w, r, err)
		return
	}

	p, err := h.service.Update(r.Context(), actorID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productResponse{
		Success: true,
		Message: "Product updated successfully",
		Product: p,
	})
}

// Delete は商品を削除し、削除したレコードを返す（管理者のみ）。
// DELETE /api/products/{id}
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Delete(r.Context(), actorID(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, productResponse{
		Success: true,
		Message: "Product deleted successfully",
		Product: p,
	})
}

// Export はカタログをxlsxファイルとして返す（管理者のみ）。
// GET /api/products/export
func (h *ProductHandler) Export(w http.ResponseWriter, r *http.Request) {
	// 書き込み途中で失敗するとステータスを変えられないため、一度バッファに書き出す
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), &buf); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", catalog.ExportContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+catalog.ExportFilename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("failed to write export", slog.String("error", err.Error()))
	}
}

// actorID は操作した管理者のIDを返す。
func actorID(r *http.Request) string {
	id, _ := middleware.UserIDFromContext(r.Context())
	return id
}
