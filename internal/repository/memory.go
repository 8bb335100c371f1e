package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/hitoshi/lunore/internal/model"
)

// インメモリ実装はSTORAGE_DRIVER=memoryでのローカル起動とテストで使用する。
// 返す値は常にコピーであり、呼び出し側の変更はストアに影響しない。

// MemoryUserRepo はインメモリのユーザーリポジトリ。
type MemoryUserRepo struct {
	mu      sync.RWMutex
	byID    map[string]*model.User
	byEmail map[string]string
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.FindByID(ctx, id)
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}
	c := *user
	r.byID[user.ID] = &c
	r.byEmail[user.Email] = user.ID
	return nil
}

// MemoryProductRepo はインメモリの商品リポジトリ。
type MemoryProductRepo struct {
	mu       sync.RWMutex
	products map[string]*model.Product
}

// NewMemoryProductRepo はMemoryProductRepoを生成する。
func NewMemoryProductRepo() *MemoryProductRepo {
	return &MemoryProductRepo{products: make(map[string]*model.Product)}
}

// List は条件に一致する商品をcreated_atの降順で返す。
func (r *MemoryProductRepo) List(_ context.Context, filter ProductFilter) ([]*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := []*model.Product{}
	for _, p := range r.products {
		if matchesFilter(p, filter) {
			matched = append(matched, cloneProduct(p))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*model.Product{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func matchesFilter(p *model.Product, f ProductFilter) bool {
	if f.Category != "" && !strings.EqualFold(string(p.Category), f.Category) {
		return false
	}
	if f.Featured != nil && p.Featured != *f.Featured {
		return false
	}
	if f.Search != "" {
		text := strings.ToLower(p.Name + " " + p.Description)
		for _, word := range strings.Fields(strings.ToLower(f.Search)) {
			if !strings.Contains(text, word) {
				return false
			}
		}
	}
	if f.Keyword != "" {
		kw := strings.ToLower(f.Keyword)
		if !strings.Contains(strings.ToLower(p.Name), kw) &&
			!strings.Contains(strings.ToLower(p.Description), kw) &&
			!strings.Contains(strings.ToLower(string(p.Category)), kw) {
			return false
		}
	}
	return true
}

// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *MemoryProductRepo) FindByID(_ context.Context, id string) (*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.products[id]
	if !ok {
		return nil, nil
	}
	return cloneProduct(p), nil
}

// FindByIDs は複数IDの商品をまとめて取得する。
func (r *MemoryProductRepo) FindByIDs(_ context.Context, ids []string) (map[string]*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]*model.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			result[id] = cloneProduct(p)
		}
	}
	return result, nil
}

// Create は商品を作成する。
func (r *MemoryProductRepo) Create(_ context.Context, p *model.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[p.ID] = cloneProduct(p)
	return nil
}

// Update は商品の全フィールドを置き換える。
func (r *MemoryProductRepo) Update(_ context.Context, p *model.Product) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[p.ID]; !ok {
		return false, nil
	}
	r.products[p.ID] = cloneProduct(p)
	return true, nil
}

// Delete は商品を削除し、削除したレコードを返す。
func (r *MemoryProductRepo) Delete(_ context.Context, id string) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, nil
	}
	delete(r.products, id)
	return p, nil
}

// Count は登録済み商品数を返す。
func (r *MemoryProductRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.products), nil
}

func cloneProduct(p *model.Product) *model.Product {
	c := *p
	c.Images = slices.Clone(p.Images)
	c.Sizes = slices.Clone(p.Sizes)
	c.Colors = slices.Clone(p.Colors)
	if p.OriginalPrice != nil {
		v := *p.OriginalPrice
		c.OriginalPrice = &v
	}
	if p.Details != nil {
		d := *p.Details
		c.Details = &d
	}
	return &c
}

// MemoryCartRepo はインメモリのカートリポジトリ。
// Saveはバージョン比較をPostgreSQL実装と同じ規則で行う。
type MemoryCartRepo struct {
	mu    sync.Mutex
	carts map[string]*model.Cart
}

// NewMemoryCartRepo はMemoryCartRepoを生成する。
func NewMemoryCartRepo() *MemoryCartRepo {
	return &MemoryCartRepo{carts: make(map[string]*model.Cart)}
}

// FindByUserID はユーザーのカートを取得する。未作成の場合はnilを返す。
func (r *MemoryCartRepo) FindByUserID(_ context.Context, userID string) (*model.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[userID]
	if !ok {
		return nil, nil
	}
	return cloneCart(c), nil
}

// Save はカートを条件付きで保存する。
func (r *MemoryCartRepo) Save(_ context.Context, cart *model.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.carts[cart.UserID]
	switch {
	case cart.Version == 0 && exists:
		return ErrVersionConflict
	case cart.Version != 0 && (!exists || stored.Version != cart.Version):
		return ErrVersionConflict
	}

	cart.Version++
	r.carts[cart.UserID] = cloneCart(cart)
	return nil
}

func cloneCart(c *model.Cart) *model.Cart {
	out := *c
	out.Lines = make([]model.CartLine, len(c.Lines))
	for i, l := range c.Lines {
		out.Lines[i] = l
		if l.Variant != nil {
			out.Lines[i].Variant = maps.Clone(l.Variant)
		}
	}
	return &out
}

// compile-time interface check
var (
	_ UserRepository    = (*MemoryUserRepo)(nil)
	_ ProductRepository = (*MemoryProductRepo)(nil)
	_ CartRepository    = (*MemoryCartRepo)(nil)
)
