package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/lunore/internal/auth"
	"github.com/hitoshi/lunore/internal/metrics"
	"github.com/hitoshi/lunore/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// Authenticator はAuthorizationヘッダーからユーザーを解決するインターフェース。
// auth.Serviceが実装する。
type Authenticator interface {
	Authenticate(ctx context.Context, authorization string) (*model.User, error)
}

// NewAuthMiddleware はBearerトークンを検証し、解決したユーザーを
// リクエストコンテキストに注入するミドルウェアを返す。
// トークンが無い・無効・ユーザー不明の場合は401を返す。
func NewAuthMiddleware(authn Authenticator, mc metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authn.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					mc.RecordAuthFailure(apiErr.Code)
					WriteAPIError(w, apiErr)
					return
				}
				slog.Error("failed to authenticate request",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteAPIError(w, model.NewStorageError())
				return
			}

			// アクセスログ用にユーザーIDを記録
			if st := requestStateFrom(r.Context()); st != nil {
				st.userID = user.ID
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// RequireRole は認証済みユーザーが指定ロールを持つ場合のみ通過させるミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。
func RequireRole(role model.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, _ := UserFromContext(r.Context())
			if err := auth.Authorize(user, role); err != nil {
				var apiErr *model.APIError
				if !errors.As(err, &apiErr) {
					apiErr = model.NewForbiddenError(role)
				}
				WriteAPIError(w, apiErr)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCartOwner はURLパラメータparamのユーザーIDが認証済みユーザーと一致する場合のみ通過させる。
// 一致しない場合は403 CART_NOT_OWNEDを返す。
func RequireCartOwner(param string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok {
				WriteAPIError(w, model.NewUnauthenticatedError())
				return
			}
			if chi.URLParam(r, param) != user.ID {
				slog.Warn("cart access denied",
					slog.String("user_id", user.ID),
					slog.String("path", r.URL.Path),
				)
				WriteAPIError(w, model.NewCartNotOwnedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, ok := UserFromContext(ctx)
	if !ok || user.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return user.ID, nil
}
