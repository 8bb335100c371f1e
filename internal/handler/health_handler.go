package handler

import (
	"net/http"
	"time"

	"github.com/hitoshi/lunore/internal/model"
)

// apiVersion はAPIインデックスに表示するバージョン。
const apiVersion = "1.0.0"

// HealthHandler はヘルスチェックとAPIインデックスのハンドラー。
type HealthHandler struct {
	environment string
	now         func() time.Time
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(environment string) *HealthHandler {
	return &HealthHandler{environment: environment, now: time.Now}
}

// Health はサーバーの稼働状態を返す。
// GET /api/health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Success     bool   `json:"success"`
		Status      string `json:"status"`
		Message     string `json:"message"`
		Environment string `json:"environment"`
		Timestamp   string `json:"timestamp"`
	}{
		Success:     true,
		Status:      "ok",
		Message:     "Lunore API Server is running",
		Environment: h.environment,
		Timestamp:   h.now().UTC().Format(time.RFC3339),
	})
}

// Index はAPIのエンドポイント一覧を返す。
// GET /
func (h *HealthHandler) Index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Success   bool              `json:"success"`
		Message   string            `json:"message"`
		Version   string            `json:"version"`
		Endpoints map[string]string `json:"endpoints"`
	}{
		Success: true,
		Message: "Welcome to Lunore API",
		Version: apiVersion,
		Endpoints: map[string]string{
			"auth":     "/api/auth",
			"products": "/api/products",
			"cart":     "/api/cart",
			"health":   "/api/health",
		},
	})
}

// NotFound は未定義ルートに404のエラーエンベロープを返す。
func NotFound(w http.ResponseWriter, r *http.Request) {
	handleServiceError(w, r, model.NewRouteNotFoundError())
}
