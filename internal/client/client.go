// Package client はストアフロントREST APIの型付きHTTPクライアントを提供する。
// セッションやカートミラーなどクライアント側の状態管理はサブパッケージが担う。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/lunore/internal/model"
)

// defaultTimeout はHTTPクライアント未指定時のリクエストタイムアウト。
const defaultTimeout = 15 * time.Second

// maxResponseBytes はレスポンスボディの読み取り上限。
const maxResponseBytes = 4 << 20

// TokenSource はBearerトークンを供給する。空文字列は未ログインを示す。
type TokenSource interface {
	Token() string
}

// StaticToken は固定のトークンを返すTokenSource。
type StaticToken string

// Token はトークン文字列を返す。
func (t StaticToken) Token() string { return string(t) }

// AuthObserver は認証付きリクエストのHTTPステータスを受け取る。
// TokenSourceがこのインターフェースも実装していれば、Clientはトークンを付けた
// リクエストの完了ごとにObserveAuthを呼び出す。
type AuthObserver interface {
	ObserveAuth(status int)
}

// Error はAPIが返した失敗レスポンス。
// Messageはサーバーのメッセージをそのまま保持し、利用者へ表示できる。
type Error struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。サーバーのメッセージをそのまま返す。
func (e *Error) Error() string {
	return e.Message
}

// IsStatus はerrがstatusを持つ*Errorかどうかを返す。
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// User はAPIレスポンスのユーザー情報。
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      model.Role `json:"role"`
	CreatedAt string     `json:"createdAt"`
}

// IsAdmin は管理者ロールかどうかを返す。
func (u *User) IsAdmin() bool {
	return u.Role == model.RoleAdmin
}

// AuthResult は登録・ログインの結果。
type AuthResult struct {
	Message string `json:"message"`
	User    User   `json:"user"`
	Token   string `json:"token"`
}

// RegisterInput はアカウント登録の入力。
type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// ProductQuery は商品一覧の絞り込み条件。ゼロ値の項目は送信しない。
type ProductQuery struct {
	Category string
	Search   string
	Featured *bool
	Limit    int
	Page     int
}

func (q ProductQuery) values() url.Values {
	v := url.Values{}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Featured != nil {
		v.Set("featured", strconv.FormatBool(*q.Featured))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	return v
}

// CartLineRequest はカート追加・数量更新のリクエスト。
// 追加時にQuantityがnilの場合、サーバーは1として扱う。
type CartLineRequest struct {
	ProductID string        `json:"productId"`
	Quantity  *int          `json:"quantity,omitempty"`
	Variant   model.Variant `json:"variant,omitempty"`
}

// Health はヘルスチェックの結果。
type Health struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Environment string `json:"environment"`
	Timestamp   string `json:"timestamp"`
}

// envelope は全レスポンス共通のフィールド。
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Client はストアフロントAPIのクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	logger     *slog.Logger
}

// Option はClientの設定を変更する。
type Option func(*Client)

// WithHTTPClient は使用するhttp.Clientを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource は認証付きリクエストに使うトークンの供給元を設定する。
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger はロガーを設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New はbaseURL（例: http://localhost:8080）に対するClientを生成する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetTokenSource はトークンの供給元を設定する。
// セッションはClientを使って生成されるため、生成後に一度だけ呼び出す。
func (c *Client) SetTokenSource(ts TokenSource) {
	c.tokens = ts
}

// --- 認証 ---

// Register はcustomerアカウントを登録する。
func (c *Client) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	var res AuthResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", nil, in, false, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Login はメールアドレスとパスワードでログインする。
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{"email": email, "password": password}
	var res AuthResult
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, body, false, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Me はトークンのユーザー情報を取得する。
func (c *Client) Me(ctx context.Context) (*User, error) {
	var res struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, true, &res); err != nil {
		return nil, err
	}
	return &res.User, nil
}

// Logout はサーバーへログアウトを通知する。
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, true, nil)
}

// --- 商品 ---

type productList struct {
	Products []*model.Product `json:"products"`
	Count    int              `json:"count"`
}

// ListProducts は商品一覧を取得する。
func (c *Client) ListProducts(ctx context.Context, q ProductQuery) ([]*model.Product, error) {
	var res productList
	if err := c.do(ctx, http.MethodGet, "/api/products", q.values(), nil, false, &res); err != nil {
		return nil, err
	}
	return res.Products, nil
}

// FeaturedProducts はおすすめ商品を取得する。
func (c *Client) FeaturedProducts(ctx context.Context) ([]*model.Product, error) {
	var res productList
	if err := c.do(ctx, http.MethodGet, "/api/products/featured", nil, nil, false, &res); err != nil {
		return nil, err
	}
	return res.Products, nil
}

// SearchProducts はキーワードで商品を検索する。
func (c *Client) SearchProducts(ctx context.Context, query string) ([]*model.Product, error) {
	var res productList
	v := url.Values{"q": {query}}
	if err := c.do(ctx, http.MethodGet, "/api/products/search", v, nil, false, &res); err != nil {
		return nil, err
	}
	return res.Products, nil
}

// GetProduct は商品を1件取得する。
func (c *Client) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	var res struct {
		Product *model.Product `json:"product"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/products/"+url.PathEscape(id), nil, nil, false, &res); err != nil {
		return nil, err
	}
	return res.Product, nil
}

// --- カート ---

type cartBody struct {
	Cart []model.ResolvedLine `json:"cart"`
}

func cartPath(userID, suffix string) string {
	return "/api/cart/" + url.PathEscape(userID) + suffix
}

// Cart はユーザーのカートを取得する。
func (c *Client) Cart(ctx context.Context, userID string) ([]model.ResolvedLine, error) {
	var res cartBody
	if err := c.do(ctx, http.MethodGet, cartPath(userID, ""), nil, nil, true, &res); err != nil {
		return nil, err
	}
	return res.Cart, nil
}

// AddToCart は商品をカートに追加し、更新後のカートを返す。
func (c *Client) AddToCart(ctx context.Context, userID string, req CartLineRequest) ([]model.ResolvedLine, error) {
	var res cartBody
	if err := c.do(ctx, http.MethodPost, cartPath(userID, "/add"), nil, req, true, &res); err != nil {
		return nil, err
	}
	return res.Cart, nil
}

// UpdateCartQuantity はカート行の数量を設定する。0以下の数量は行の削除になる。
func (c *Client) UpdateCartQuantity(ctx context.Context, userID string, req CartLineRequest) ([]model.ResolvedLine, error) {
	var res cartBody
	if err := c.do(ctx, http.MethodPut, cartPath(userID, "/update"), nil, req, true, &res); err != nil {
		return nil, err
	}
	return res.Cart, nil
}

// RemoveFromCart はカート行を削除する。対象の行が無くてもエラーにならない。
func (c *Client) RemoveFromCart(ctx context.Context, userID, productID string, variant model.Variant) ([]model.ResolvedLine, error) {
	var q url.Values
	if len(variant) > 0 {
		raw, err := json.Marshal(variant)
		if err != nil {
			return nil, fmt.Errorf("failed to encode variant: %w", err)
		}
		q = url.Values{"variant": {string(raw)}}
	}
	var res cartBody
	if err := c.do(ctx, http.MethodDelete, cartPath(userID, "/remove/"+url.PathEscape(productID)), q, nil, true, &res); err != nil {
		return nil, err
	}
	return res.Cart, nil
}

// ClearCart はカートを空にする。
func (c *Client) ClearCart(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, cartPath(userID, "/clear"), nil, nil, true, nil)
}

// Checkout はカートの内容で注文を確定する。
func (c *Client) Checkout(ctx context.Context, userID string) (*model.OrderSummary, error) {
	var res struct {
		Order *model.OrderSummary `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, cartPath(userID, "/checkout"), nil, nil, true, &res); err != nil {
		return nil, err
	}
	return res.Order, nil
}

// --- ヘルスチェック ---

// Health はAPIのヘルスチェックを行う。
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var res Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, false, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// do はリクエストを送り、成功時はレスポンスをoutへデコードする。
// authがtrueの場合はトークンを付与し、結果をAuthObserverへ通知する。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, auth bool, out any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	var token string
	if auth && c.tokens != nil {
		token = c.tokens.Token()
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("API request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if token != "" {
		if obs, ok := c.tokens.(AuthObserver); ok {
			obs.ObserveAuth(resp.StatusCode)
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError は失敗レスポンスのエンベロープを*Errorへ変換する。
// エンベロープでない場合はステータス文言をメッセージにする。
func decodeError(status int, data []byte) *Error {
	apiErr := &Error{Status: status}
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil {
		apiErr.Code = env.Error
		apiErr.Message = env.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
