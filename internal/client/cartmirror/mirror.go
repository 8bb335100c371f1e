// Package cartmirror はサーバーのカートをクライアント側に写したミラーを提供する。
//
// Fetchでサーバーの内容を取り込み、各操作はサーバーの成功応答を受けてから
// ローカルの内容を同じ (productId, variant) の同一性規則で更新する。
// サーバー呼び出しが失敗した場合、ミラーは呼び出し前の状態のまま残る。
package cartmirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/lunore/internal/client"
	"github.com/hitoshi/lunore/internal/model"
)

// ErrLoginRequired はログインせずにカートを操作しようとした場合のエラー。
var ErrLoginRequired = errors.New("please login to add items to your cart")

// ErrQuantityLimit は1行の数量がmodel.MaxLineQuantityを超える場合のエラー。
// サーバーには送信しない。
var ErrQuantityLimit = fmt.Errorf("quantity cannot exceed %d per item", model.MaxLineQuantity)

// API はミラーが使うAPIクライアントのインターフェース。
type API interface {
	Cart(ctx context.Context, userID string) ([]model.ResolvedLine, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	AddToCart(ctx context.Context, userID string, req client.CartLineRequest) ([]model.ResolvedLine, error)
	UpdateCartQuantity(ctx context.Context, userID string, req client.CartLineRequest) ([]model.ResolvedLine, error)
	RemoveFromCart(ctx context.Context, userID, productID string, variant model.Variant) ([]model.ResolvedLine, error)
	ClearCart(ctx context.Context, userID string) error
}

// Identity はログイン中のユーザーIDを供給する。session.Sessionが実装する。
type Identity interface {
	UserID() (string, bool)
}

// Line はミラー内のカート行。Productは取り込み時点の商品情報のスナップショット。
type Line struct {
	Product  model.Product
	Quantity int
	Variant  model.Variant
	AddedAt  time.Time
}

// Subtotal は単価×数量を返す。
func (l Line) Subtotal() decimal.Decimal {
	return model.LineTotal(l.Product.Price, l.Quantity)
}

// DroppedLine は商品情報を取得できずミラーから除外したサーバー側の行。
type DroppedLine struct {
	ProductID string
	Variant   model.Variant
	Quantity  int
	Reason    string
}

// Mirror はカートのミラー。
type Mirror struct {
	api      API
	identity Identity
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	lines   []Line
	dropped []DroppedLine
	loaded  bool
}

// New はMirrorを生成する。
func New(api API, identity Identity, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		api:      api,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// LogoutNotifier はログアウト時のフック登録を受け付ける。
type LogoutNotifier interface {
	OnLogout(fn func())
}

// ResetOnLogout はログアウト時にミラーを空にするフックを登録する。
func (m *Mirror) ResetOnLogout(n LogoutNotifier) {
	n.OnLogout(m.Reset)
}

// Fetch はサーバーのカートを取り込む。
// 未ログインの場合はミラーを空にして読み込み完了とする（エラーではない）。
// 各行は商品を取得し直し、取得に失敗した行はミラーから除外してDroppedに記録する。
func (m *Mirror) Fetch(ctx context.Context) error {
	userID, ok := m.identity.UserID()
	if !ok {
		m.mu.Lock()
		m.lines = nil
		m.dropped = nil
		m.loaded = true
		m.mu.Unlock()
		return nil
	}

	remote, err := m.api.Cart(ctx, userID)
	if err != nil {
		return err
	}

	lines := make([]Line, 0, len(remote))
	var dropped []DroppedLine
	for _, rl := range remote {
		p, err := m.api.GetProduct(ctx, rl.ProductID)
		if err == nil && p == nil {
			err = errors.New("empty product response")
		}
		if err != nil {
			m.logger.Warn("dropping cart line with unavailable product",
				slog.String("product_id", rl.ProductID),
				slog.Int("quantity", rl.Quantity),
				slog.String("error", err.Error()),
			)
			dropped = append(dropped, DroppedLine{
				ProductID: rl.ProductID,
				Variant:   rl.Variant,
				Quantity:  rl.Quantity,
				Reason:    err.Error(),
			})
			continue
		}
		lines = append(lines, Line{
			Product:  *p,
			Quantity: rl.Quantity,
			Variant:  rl.Variant,
			AddedAt:  rl.AddedAt,
		})
	}

	m.mu.Lock()
	m.lines = lines
	m.dropped = dropped
	m.loaded = true
	m.mu.Unlock()
	return nil
}

// Add は商品をカートに追加する。同じ商品・バリアントの行があれば数量を加算する。
// quantityが0以下の場合は1として扱う。
func (m *Mirror) Add(ctx context.Context, product *model.Product, quantity int, variant model.Variant) error {
	userID, ok := m.identity.UserID()
	if !ok {
		return ErrLoginRequired
	}
	if quantity <= 0 {
		quantity = 1
	}
	if quantity > model.MaxLineQuantity-m.quantityOf(product.ID, variant) {
		return ErrQuantityLimit
	}

	if _, err := m.api.AddToCart(ctx, userID, client.CartLineRequest{
		ProductID: product.ID,
		Quantity:  &quantity,
		Variant:   variant,
	}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(product.ID, variant); i >= 0 {
		m.lines[i].Quantity = min(m.lines[i].Quantity+quantity, model.MaxLineQuantity)
		return nil
	}
	m.lines = append(m.lines, Line{
		Product:  *product,
		Quantity: quantity,
		Variant:  variant,
		AddedAt:  m.now(),
	})
	return nil
}

// Remove は商品・バリアントに一致する行を削除する。
func (m *Mirror) Remove(ctx context.Context, productID string, variant model.Variant) error {
	userID, ok := m.identity.UserID()
	if !ok {
		return ErrLoginRequired
	}

	if _, err := m.api.RemoveFromCart(ctx, userID, productID, variant); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(productID, variant)
	return nil
}

// UpdateQuantity は行の数量を設定する。0以下の場合は行を削除する。
func (m *Mirror) UpdateQuantity(ctx context.Context, productID string, quantity int, variant model.Variant) error {
	userID, ok := m.identity.UserID()
	if !ok {
		return ErrLoginRequired
	}
	if quantity > model.MaxLineQuantity {
		return ErrQuantityLimit
	}

	if _, err := m.api.UpdateCartQuantity(ctx, userID, client.CartLineRequest{
		ProductID: productID,
		Quantity:  &quantity,
		Variant:   variant,
	}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if quantity <= 0 {
		m.removeLocked(productID, variant)
		return nil
	}
	if i := m.indexOf(productID, variant); i >= 0 {
		m.lines[i].Quantity = quantity
	}
	return nil
}

// Clear はカートを空にする。
func (m *Mirror) Clear(ctx context.Context) error {
	userID, ok := m.identity.UserID()
	if !ok {
		return ErrLoginRequired
	}

	if err := m.api.ClearCart(ctx, userID); err != nil {
		return err
	}

	m.mu.Lock()
	m.lines = nil
	m.mu.Unlock()
	return nil
}

// quantityOf は一致する行の現在の数量を返す。行が無ければ0。
func (m *Mirror) quantityOf(productID string, variant model.Variant) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i := m.indexOf(productID, variant); i >= 0 {
		return m.lines[i].Quantity
	}
	return 0
}

// Reset はサーバーに問い合わせずにミラーを初期状態に戻す。
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = nil
	m.dropped = nil
	m.loaded = false
}

// Lines はミラーの行のコピーを返す。
func (m *Mirror) Lines() []Line {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Line, len(m.lines))
	copy(out, m.lines)
	return out
}

// ItemCount は数量の合計を返す。
func (m *Mirror) ItemCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, l := range m.lines {
		n += l.Quantity
	}
	return n
}

// Total は取り込み時点の価格で計算した合計金額を返す。
func (m *Mirror) Total() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, l := range m.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Loaded は一度でもFetchが完了したかどうかを返す。
func (m *Mirror) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Dropped は直近のFetchで除外した行を返す。
func (m *Mirror) Dropped() []DroppedLine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DroppedLine, len(m.dropped))
	copy(out, m.dropped)
	return out
}

func (m *Mirror) indexOf(productID string, variant model.Variant) int {
	for i, l := range m.lines {
		if l.Product.ID == productID && l.Variant.Equal(variant) {
			return i
		}
	}
	return -1
}

func (m *Mirror) removeLocked(productID string, variant model.Variant) {
	kept := m.lines[:0]
	for _, l := range m.lines {
		if l.Product.ID == productID && l.Variant.Equal(variant) {
			continue
		}
		kept = append(kept, l)
	}
	m.lines = kept
}
