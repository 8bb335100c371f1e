// Package cart はユーザーごとのカートを管理する。
// サーバー側のカートが唯一の正であり、全ての更新はここを通る。
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hitoshi/lunore/internal/event"
	"github.com/hitoshi/lunore/internal/metrics"
	"github.com/hitoshi/lunore/internal/model"
	"github.com/hitoshi/lunore/internal/repository"
)

// maxSaveAttempts はバージョン競合時に読み直して再適用する最大回数。
const maxSaveAttempts = 3

// カート操作名（メトリクスのラベル）
const (
	opAdd      = "add"
	opUpdate   = "update"
	opRemove   = "remove"
	opClear    = "clear"
	opCheckout = "checkout"
)

// Service はカートのビジネスロジックを提供する。
type Service struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	events   event.Publisher
	metrics  metrics.MetricsCollector
	locks    *userLocks
	now      func() time.Time
}

// NewService はServiceを生成する。eventsはnilでもよい。mcがnilの場合はメトリクスを記録しない。
func NewService(
	carts repository.CartRepository,
	products repository.ProductRepository,
	events event.Publisher,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		carts:    carts,
		products: products,
		events:   events,
		metrics:  mc,
		locks:    newUserLocks(),
		now:      time.Now,
	}
}

// Get はカートの行を商品情報付きで返す。カートが未作成の場合は空の一覧を返す。
func (s *Service) Get(ctx context.Context, userID string) ([]model.ResolvedLine, error) {
	c, err := s.carts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find cart: %w", err)
	}
	if c == nil {
		return []model.ResolvedLine{}, nil
	}
	return s.resolve(ctx, c.Lines)
}

// Add は商品をカートに追加する。
// 同じ (productID, variant) の行が既にあれば数量を加算し、無ければ末尾に追加する。
// quantityがnilの場合は1として扱う。
func (s *Service) Add(ctx context.Context, userID, productID string, quantity *int, variant model.Variant) ([]model.ResolvedLine, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, model.NewMissingProductIDError()
	}
	qty := 1
	if quantity != nil {
		qty = *quantity
	}
	if qty < 1 {
		return nil, model.NewValidationError("Quantity must be a positive integer")
	}
	if qty > model.MaxLineQuantity {
		return nil, model.NewQuantityLimitError()
	}

	p, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	if p == nil {
		return nil, model.NewProductNotFoundError()
	}

	variant = normalizeVariant(variant)
	c, err := s.mutate(ctx, userID, true, func(c *model.Cart) (bool, error) {
		if i := c.IndexOf(productID, variant); i >= 0 {
			if c.Lines[i].Quantity > model.MaxLineQuantity-qty {
				return false, model.NewQuantityLimitError()
			}
			c.Lines[i].Quantity += qty
			return true, nil
		}
		c.Lines = append(c.Lines, model.CartLine{
			ProductID: productID,
			Quantity:  qty,
			Variant:   variant,
			AddedAt:   s.now().UTC(),
		})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordCartMutation(opAdd)
	return s.resolve(ctx, c.Lines)
}

// Update は (productID, variant) に一致する行の数量を設定する（差分ではなく絶対値）。
// quantityが0以下の場合は行を削除する。MaxLineQuantityを超える値は受け付けない。
func (s *Service) Update(ctx context.Context, userID, productID string, quantity *int, variant model.Variant) ([]model.ResolvedLine, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" || quantity == nil {
		return nil, model.NewMissingQuantityError()
	}
	qty := *quantity
	if qty > model.MaxLineQuantity {
		return nil, model.NewQuantityLimitError()
	}

	variant = normalizeVariant(variant)
	c, err := s.mutate(ctx, userID, false, func(c *model.Cart) (bool, error) {
		i := c.IndexOf(productID, variant)
		if i < 0 {
			return false, model.NewCartLineNotFoundError()
		}
		if qty <= 0 {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		} else {
			c.Lines[i].Quantity = qty
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, model.NewCartNotFoundError()
	}
	s.metrics.RecordCartMutation(opUpdate)
	return s.resolve(ctx, c.Lines)
}

// Remove は (productID, variant) に一致する行を削除する。
// カートや行が存在しない場合もエラーにせず、現在の行を返す。
func (s *Service) Remove(ctx context.Context, userID, productID string, variant model.Variant) ([]model.ResolvedLine, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, model.NewMissingProductIDError()
	}

	variant = normalizeVariant(variant)
	removed := false
	c, err := s.mutate(ctx, userID, false, func(c *model.Cart) (bool, error) {
		i := c.IndexOf(productID, variant)
		if i < 0 {
			return false, nil
		}
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		removed = true
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return []model.ResolvedLine{}, nil
	}
	if removed {
		s.metrics.RecordCartMutation(opRemove)
	}
	return s.resolve(ctx, c.Lines)
}

// Clear はカートを空にする。カートドキュメント自体は残す。
// 空にする行があった場合はtrueを返す。カートが未作成の場合もエラーにしない。
func (s *Service) Clear(ctx context.Context, userID string) (bool, error) {
	cleared := false
	_, err := s.mutate(ctx, userID, false, func(c *model.Cart) (bool, error) {
		if len(c.Lines) == 0 {
			return false, nil
		}
		c.Lines = []model.CartLine{}
		cleared = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if cleared {
		s.metrics.RecordCartMutation(opClear)
	}
	return cleared, nil
}

// Checkout はカートの内容から注文サマリーを作り、カートを空にする。決済は行わない。
// 空のカートや削除済み商品を含むカートは受け付けない。
func (s *Service) Checkout(ctx context.Context, userID string) (*model.OrderSummary, error) {
	var summary *model.OrderSummary

	_, err := s.mutate(ctx, userID, false, func(c *model.Cart) (bool, error) {
		if len(c.Lines) == 0 {
			return false, model.NewEmptyCartError()
		}
		lines, err := s.resolve(ctx, c.Lines)
		if err != nil {
			return false, err
		}

		total := decimal.Zero
		count := 0
		for _, l := range lines {
			if l.Product == nil {
				return false, model.NewValidationError("Some items in your cart are no longer available")
			}
			total = total.Add(model.LineTotal(l.Product.Price, l.Quantity))
			count += l.Quantity
		}

		summary = &model.OrderSummary{
			ID:        uuid.NewString(),
			UserID:    userID,
			Items:     lines,
			ItemCount: count,
			Total:     total,
			PlacedAt:  s.now().UTC(),
		}
		c.Lines = []model.CartLine{}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, model.NewEmptyCartError()
	}

	s.metrics.RecordCartMutation(opCheckout)
	s.metrics.RecordCheckout(summary.ItemCount)
	slog.Info("cart checked out",
		slog.String("user_id", userID),
		slog.String("order_id", summary.ID),
		slog.Int("item_count", summary.ItemCount),
		slog.String("total", summary.Total.StringFixed(2)),
	)
	event.Emit(ctx, s.events, event.KeyCartCheckedOut, event.CheckoutEvent{
		OrderID:    summary.ID,
		UserID:     userID,
		ItemCount:  summary.ItemCount,
		Total:      summary.Total.StringFixed(2),
		OccurredAt: summary.PlacedAt,
	})
	return summary, nil
}

// mutate はカートを読み込んでfnを適用し、条件付きで保存する。
//   - 同一ユーザーへの書き込みはプロセス内で直列化する
//   - 他プロセスとの競合（ErrVersionConflict）は読み直して最大maxSaveAttempts回まで再適用する
//   - カートが無い場合、createがtrueなら空のカートを作り、falseならfnを呼ばずにnilを返す
//   - fnがfalseを返した場合は保存しない
func (s *Service) mutate(ctx context.Context, userID string, create bool, fn func(c *model.Cart) (bool, error)) (*model.Cart, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		c, err := s.carts.FindByUserID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to find cart: %w", err)
		}
		if c == nil {
			if !create {
				return nil, nil
			}
			c = model.NewCart(userID, s.now().UTC())
		}

		changed, err := fn(c)
		if err != nil {
			return nil, err
		}
		if !changed {
			return c, nil
		}

		c.UpdatedAt = s.now().UTC()
		err = s.carts.Save(ctx, c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("failed to save cart: %w", err)
		}

		s.metrics.RecordCartConflict()
		slog.Warn("cart version conflict, retrying",
			slog.String("user_id", userID),
			slog.Int("attempt", attempt),
		)
	}
	return nil, model.NewCartConflictError()
}

// resolve はカート行に商品情報を結合する。
// 商品が削除済みの行はProductがnilのまま残す。
func (s *Service) resolve(ctx context.Context, lines []model.CartLine) ([]model.ResolvedLine, error) {
	resolved := make([]model.ResolvedLine, 0, len(lines))
	if len(lines) == 0 {
		return resolved, nil
	}

	ids := make([]string, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cart products: %w", err)
	}

	for _, l := range lines {
		resolved = append(resolved, model.ResolvedLine{CartLine: l, Product: products[l.ProductID]})
	}
	return resolved, nil
}

// normalizeVariant は空のバリアントをnilに揃える。
func normalizeVariant(v model.Variant) model.Variant {
	if len(v) == 0 {
		return nil
	}
	return v
}
