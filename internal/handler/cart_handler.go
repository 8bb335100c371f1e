package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lunore/internal/model"
)

// CartServiceInterface はカートハンドラーが必要とするサービスインターフェース。
type CartServiceInterface interface {
	Get(ctx context.Context, userID string) ([]model.ResolvedLine, error)
	Add(ctx context.Context, userID, productID string, quantity *int, variant model.Variant) ([]model.ResolvedLine, error)
	Update(ctx context.Context, userID, productID string, quantity *int, variant model.Variant) ([]model.ResolvedLine, error)
	Remove(ctx context.Context, userID, productID string, variant model.Variant) ([]model.ResolvedLine, error)
	Clear(ctx context.Context, userID string) (bool, error)
	Checkout(ctx context.Context, userID string) (*model.OrderSummary, error)
}

// CartHandler はカートのHTTPハンドラー。
// ルーターでRequireCartOwnerを通過したリクエストのみを受け取る。
type CartHandler struct {
	service CartServiceInterface
}

// NewCartHandler はCartHandlerを生成する。
func NewCartHandler(service CartServiceInterface) *CartHandler {
	return &CartHandler{service: service}
}

// cartLineRequest はカート追加・更新リクエストのボディ。
type cartLineRequest struct {
	ProductID string        `json:"productId"`
	Quantity  *int          `json:"quantity"`
	Variant   model.Variant `json:"variant"`
}

// cartResponse はカートのレスポンス。
type cartResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message,omitempty"`
	Cart    []model.ResolvedLine `json:"cart"`
	Count   *int                 `json:"count,omitempty"`
}

// Get はカートの内容を返す。
// GET /api/cart/{userId}
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
	lines, err := h.service.Get(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	count := len(lines)
	writeJSON(w, http.StatusOK, cartResponse{Success: true, Cart: lines, Count: &count})
}

// Add は商品をカートに追加する。
// POST /api/cart/{userId}/add
func (h *CartHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req cartLineRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	lines, err := h.service.Add(r.Context(), chi.URLParam(r, "userId"), req.ProductID, req.Quantity, req.Variant)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Success: true, Message: "Item added to cart", Cart: lines})
}

// Update はカート行の数量を設定する。0以下の場合は行を削除する。
// PUT /api/cart/{userId}/update
func (h *CartHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req cartLineRequest
	if err := decodeJSON(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	lines, err := h.service.Update(r.Context(), chi.URLParam(r, "userId"), req.ProductID, req.Quantity, req.Variant)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Success: true, Message: "Cart updated", Cart: lines})
}

// Remove はカート行を削除する。バリアントはJSON文字列のクエリパラメータで指定する。
// DELETE /api/cart/{userId}/remove/{productId}?variant={"size":"M"}
func (h *CartHandler) Remove(w http.ResponseWriter, r *http.Request) {
	var variant model.Variant
	if raw := r.URL.Query().Get("variant"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &variant); err != nil {
			handleServiceError(w, r, model.NewValidationError("variant must be a JSON object"))
			return
		}
	}

	lines, err := h.service.Remove(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "productId"), variant)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cartResponse{Success: true, Message: "Item removed from cart", Cart: lines})
}

// Clear はカートを空にする。
// DELETE /api/cart/{userId}/clear
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.service.Clear(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	msg := "Cart cleared"
	if !cleared {
		msg = "Cart already empty"
	}
	writeJSON(w, http.StatusOK, cartResponse{Success: true, Message: msg, Cart: []model.ResolvedLine{}})
}

// Checkout はカートの内容で注文を確定し、カートを空にする。決済は行わない。
// POST /api/cart/{userId}/checkout
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.Checkout(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool                `json:"success"`
		Message string              `json:"message"`
		Order   *model.OrderSummary `json:"order"`
	}{Success: true, Message: "Order placed", Order: order})
}
