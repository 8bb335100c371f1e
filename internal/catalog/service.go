// Package catalog は商品カタログの参照と管理機能を提供する。
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/lunore/internal/event"
	"github.com/hitoshi/lunore/internal/model"
	"github.com/hitoshi/lunore/internal/repository"
	"github.com/hitoshi/lunore/internal/security"
)

// FeaturedLimit はおすすめ商品の最大件数。
const FeaturedLimit = 6

// maxPageSize はlimitパラメータの上限。
const maxPageSize = 100

// ListQuery は商品一覧の取得条件。
type ListQuery struct {
	Category string
	Featured *bool
	Search   string
	// Limit が0の場合は全件を返す。
	Limit int
	// Page は1始まり。Limitが指定された場合のみ有効。
	Page int
}

// Service は商品カタログのビジネスロジックを提供する。
type Service struct {
	products  repository.ProductRepository
	sanitizer security.TextSanitizer
	images    security.ImageGuard
	events    event.Publisher
	now       func() time.Time
}

// NewService はServiceを生成する。eventsはnilでもよい。
func NewService(
	products repository.ProductRepository,
	sanitizer security.TextSanitizer,
	images security.ImageGuard,
	events event.Publisher,
) *Service {
	return &Service{
		products:  products,
		sanitizer: sanitizer,
		images:    images,
		events:    events,
		now:       time.Now,
	}
}

// List は条件に一致する商品を新しい順に返す。
func (s *Service) List(ctx context.Context, q ListQuery) ([]*model.Product, error) {
	if q.Limit < 0 || q.Limit > maxPageSize {
		return nil, model.NewValidationError(fmt.Sprintf("limit must be between 1 and %d", maxPageSize))
	}
	if q.Page < 0 {
		return nil, model.NewValidationError("page must be a positive integer")
	}

	filter := repository.ProductFilter{
		Category: strings.TrimSpace(q.Category),
		Featured: q.Featured,
		Search:   strings.TrimSpace(q.Search),
		Limit:    q.Limit,
	}
	if q.Limit > 0 && q.Page > 1 {
		filter.Offset = (q.Page - 1) * q.Limit
	}
	return s.list(ctx, filter)
}

// Featured はおすすめ商品を新しい順に最大FeaturedLimit件返す。
func (s *Service) Featured(ctx context.Context) ([]*model.Product, error) {
	featured := true
	return s.list(ctx, repository.ProductFilter{Featured: &featured, Limit: FeaturedLimit})
}

// Search は名前・説明文・カテゴリのいずれかに部分一致する商品を返す。
func (s *Service) Search(ctx context.Context, q string) ([]*model.Product, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, model.NewMissingQueryError()
	}
	return s.list(ctx, repository.ProductFilter{Keyword: q})
}

// ByCategory はカテゴリに一致する商品を返す。未知のカテゴリは空の一覧になる。
func (s *Service) ByCategory(ctx context.Context, category string) ([]*model.Product, error) {
	return s.list(ctx, repository.ProductFilter{Category: strings.TrimSpace(category)})
}

func (s *Service) list(ctx context.Context, filter repository.ProductFilter) ([]*model.Product, error) {
	products, err := s.products.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	if products == nil {
		products = []*model.Product{}
	}
	return products, nil
}

// Get は指定IDの商品を返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Product, error) {
	p, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	if p == nil {
		return nil, model.NewProductNotFoundError()
	}
	return p, nil
}

// Create は商品を作成する。actorIDは操作した管理者のID（イベント用）。
func (s *Service) Create(ctx context.Context, actorID string, in ProductInput) (*model.Product, error) {
	if missing := in.missingRequired(); len(missing) > 0 {
		return nil, model.NewMissingFieldsError("Missing required fields: " + strings.Join(missing, ", "))
	}

	now := s.now().UTC()
	p := &model.Product{
		ID:        uuid.NewString(),
		Images:    []string{},
		Sizes:     []string{},
		Colors:    []model.Color{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := in.applyTo(p, s.sanitizer, s.images); err != nil {
		return nil, err
	}

	if err := s.products.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	slog.Info("product created",
		slog.String("product_id", p.ID),
		slog.String("actor_id", actorID),
	)
	event.Emit(ctx, s.events, event.KeyProductCreated, s.productEvent(p, actorID))
	return p, nil
}

// Update は指定されたフィールドだけを置き換える。
// 変更されたフィールドは作成時と同じ規則で再検証する。
func (s *Service) Update(ctx context.Context, actorID, id string, in ProductInput) (*model.Product, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := in.applyTo(p, s.sanitizer, s.images); err != nil {
		return nil, err
	}
	p.UpdatedAt = s.now().UTC()

	found, err := s.products.Update(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	if !found {
		// 取得後に削除された
		return nil, model.NewProductNotFoundError()
	}

	event.Emit(ctx, s.events, event.KeyProductUpdated, s.productEvent(p, actorID))
	return p, nil
}

// Delete は商品を削除し、削除したレコードを返す。
// 削除された商品を参照するカート行はクリーンアップジョブが除去する。
func (s *Service) Delete(ctx context.Context, actorID, id string) (*model.Product, error) {
	p, err := s.products.Delete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete product: %w", err)
	}
	if p == nil {
		return nil, model.NewProductNotFoundError()
	}

	slog.Info("product deleted",
		slog.String("product_id", p.ID),
		slog.String("actor_id", actorID),
	)
	event.Emit(ctx, s.events, event.KeyProductDeleted, s.productEvent(p, actorID))
	return p, nil
}

// Count は登録済み商品数を返す。
func (s *Service) Count(ctx context.Context) (int, error) {
	n, err := s.products.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

func (s *Service) productEvent(p *model.Product, actorID string) event.ProductEvent {
	return event.ProductEvent{
		ProductID:  p.ID,
		Name:       p.Name,
		Category:   string(p.Category),
		ActorID:    actorID,
		OccurredAt: s.now().UTC(),
	}
}
