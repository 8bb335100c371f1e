package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// Categoryによってハンドラー層でHTTPステータスが決まる。
type APIError struct {
	Code     string // エラーコード
	Message  string // クライアントにそのまま表示するメッセージ
	Category string // validation, authentication, authorization, not_found, conflict, storage, rate_limit
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation     = "validation"
	CategoryAuthentication = "authentication"
	CategoryAuthorization  = "authorization"
	CategoryNotFound       = "not_found"
	CategoryConflict       = "conflict"
	CategoryStorage        = "storage"
	CategoryRateLimit      = "rate_limit"
)

// 定義済みエラーコード
const (
	ErrCodeValidation        = "VALIDATION_FAILED"
	ErrCodeMissingFields     = "MISSING_FIELDS"
	ErrCodeInvalidBody       = "INVALID_BODY"
	ErrCodeMissingQuery      = "MISSING_QUERY"
	ErrCodeMissingProductID  = "MISSING_PRODUCT_ID"
	ErrCodeMissingQuantity   = "MISSING_QUANTITY"
	ErrCodeEmptyCart         = "EMPTY_CART"
	ErrCodeMissingToken      = "MISSING_TOKEN"
	ErrCodeInvalidToken      = "INVALID_OR_EXPIRED_TOKEN"
	ErrCodeUnknownUser       = "UNKNOWN_USER"
	ErrCodeUnauthenticated   = "UNAUTHENTICATED"
	ErrCodeInvalidCredential = "INVALID_CREDENTIALS"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeCartNotOwned      = "CART_NOT_OWNED"
	ErrCodeProductNotFound   = "PRODUCT_NOT_FOUND"
	ErrCodeCartNotFound      = "CART_NOT_FOUND"
	ErrCodeCartLineNotFound  = "CART_LINE_NOT_FOUND"
	ErrCodeRouteNotFound     = "ROUTE_NOT_FOUND"
	ErrCodeDuplicateEmail    = "DUPLICATE_EMAIL"
	ErrCodeCartConflict      = "CART_CONFLICT"
	ErrCodeStorage           = "STORAGE_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{Code: ErrCodeValidation, Message: message, Category: CategoryValidation}
}

// NewQuantityLimitError は1行の数量が上限を超える場合のエラーを生成する。
func NewQuantityLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("Quantity cannot exceed %d per item", MaxLineQuantity),
		Category: CategoryValidation,
	}
}

// NewMissingFieldsError は必須フィールド欠落エラーを生成する。
func NewMissingFieldsError(message string) *APIError {
	return &APIError{Code: ErrCodeMissingFields, Message: message, Category: CategoryValidation}
}

// NewInvalidBodyError はリクエストボディのJSONが不正な場合のエラーを生成する。
func NewInvalidBodyError() *APIError {
	return &APIError{Code: ErrCodeInvalidBody, Message: "Invalid JSON request body", Category: CategoryValidation}
}

// NewMissingQueryError は検索クエリ未指定エラーを生成する。
func NewMissingQueryError() *APIError {
	return &APIError{Code: ErrCodeMissingQuery, Message: "Search query is required", Category: CategoryValidation}
}

// NewMissingProductIDError は商品ID未指定エラーを生成する。
func NewMissingProductIDError() *APIError {
	return &APIError{Code: ErrCodeMissingProductID, Message: "Product ID is required", Category: CategoryValidation}
}

// NewMissingQuantityError は数量更新で商品IDまたは数量が欠けている場合のエラーを生成する。
func NewMissingQuantityError() *APIError {
	return &APIError{Code: ErrCodeMissingQuantity, Message: "Product ID and quantity are required", Category: CategoryValidation}
}

// NewEmptyCartError は空のカートでチェックアウトしようとした場合のエラーを生成する。
func NewEmptyCartError() *APIError {
	return &APIError{Code: ErrCodeEmptyCart, Message: "Cart is empty", Category: CategoryValidation}
}

// NewMissingTokenError はAuthorizationヘッダーが無い、または形式が不正な場合のエラーを生成する。
func NewMissingTokenError() *APIError {
	return &APIError{Code: ErrCodeMissingToken, Message: "Authentication required - No token provided", Category: CategoryAuthentication}
}

// NewInvalidTokenError は署名不一致・形式不正・期限切れトークンのエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{Code: ErrCodeInvalidToken, Message: "Token expired or invalid - Please login again", Category: CategoryAuthentication}
}

// NewUnknownUserError はトークンのユーザーIDが既に存在しない場合のエラーを生成する。
func NewUnknownUserError() *APIError {
	return &APIError{Code: ErrCodeUnknownUser, Message: "Invalid token - User not found", Category: CategoryAuthentication}
}

// NewUnauthenticatedError は認証済みユーザーがコンテキストに無い場合のエラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{Code: ErrCodeUnauthenticated, Message: "Authentication required", Category: CategoryAuthentication}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// メールアドレスの有無を区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{Code: ErrCodeInvalidCredential, Message: "Invalid email or password", Category: CategoryAuthentication}
}

// NewForbiddenError はロール不足エラーを生成する。
func NewForbiddenError(required Role) *APIError {
	msg := "Access denied"
	if required == RoleAdmin {
		msg = "Admin access required"
	}
	return &APIError{Code: ErrCodeForbidden, Message: msg, Category: CategoryAuthorization}
}

// NewCartNotOwnedError は他人のカートへのアクセスを拒否するエラーを生成する。
func NewCartNotOwnedError() *APIError {
	return &APIError{Code: ErrCodeCartNotOwned, Message: "Access denied. You can only access your own cart.", Category: CategoryAuthorization}
}

// NewProductNotFoundError は商品未検出エラーを生成する。
func NewProductNotFoundError() *APIError {
	return &APIError{Code: ErrCodeProductNotFound, Message: "Product not found", Category: CategoryNotFound}
}

// NewCartNotFoundError はカート未作成エラーを生成する。
func NewCartNotFoundError() *APIError {
	return &APIError{Code: ErrCodeCartNotFound, Message: "Cart not found", Category: CategoryNotFound}
}

// NewCartLineNotFoundError はカート行未検出エラーを生成する。
func NewCartLineNotFoundError() *APIError {
	return &APIError{Code: ErrCodeCartLineNotFound, Message: "Item not found in cart", Category: CategoryNotFound}
}

// NewRouteNotFoundError は未定義ルートへのアクセスエラーを生成する。
func NewRouteNotFoundError() *APIError {
	return &APIError{Code: ErrCodeRouteNotFound, Message: "Route not found", Category: CategoryNotFound}
}

// NewDuplicateEmailError は登録済みメールアドレスでの再登録エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{Code: ErrCodeDuplicateEmail, Message: "User with this email already exists", Category: CategoryConflict}
}

// NewCartConflictError は同時更新の再試行が上限に達した場合のエラーを生成する。
func NewCartConflictError() *APIError {
	return &APIError{Code: ErrCodeCartConflict, Message: "Cart was modified concurrently. Please retry.", Category: CategoryConflict}
}

// NewStorageError は永続化層の障害を表すエラーを生成する。
// 詳細はログにのみ記録し、クライアントには一般的なメッセージを返す。
func NewStorageError() *APIError {
	return &APIError{Code: ErrCodeStorage, Message: "A storage error occurred. Please try again later.", Category: CategoryStorage}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{Code: ErrCodeRateLimited, Message: "Too many requests. Please try again later.", Category: CategoryRateLimit}
}
