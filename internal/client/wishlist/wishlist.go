// Package wishlist はローカルに保存するウィッシュリストを提供する。
// サーバーには送信せず、商品のスナップショットをKVストアに保持する。
package wishlist

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hitoshi/lunore/internal/client/kvstore"
	"github.com/hitoshi/lunore/internal/model"
)

// Key はウィッシュリストを保存するストアのキー。
const Key = "wishlist"

// Wishlist は追加順に商品を保持する。同じ商品IDは1件のみ。
type Wishlist struct {
	store kvstore.Store

	mu    sync.RWMutex
	items []model.Product
}

// Load はストアからウィッシュリストを読み込む。保存されていなければ空で始める。
func Load(store kvstore.Store) (*Wishlist, error) {
	w := &Wishlist{store: store, items: []model.Product{}}

	raw, ok, err := store.Get(Key)
	if err != nil {
		return nil, fmt.Errorf("failed to read wishlist: %w", err)
	}
	if ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &w.items); err != nil {
			return nil, fmt.Errorf("failed to parse wishlist: %w", err)
		}
	}
	return w, nil
}

// Add は商品を追加する。既に含まれていれば何もしない。
func (w *Wishlist) Add(p *model.Product) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.indexOf(p.ID) >= 0 {
		return nil
	}
	next := append(append([]model.Product{}, w.items...), *p)
	return w.commit(next)
}

// Remove は商品を取り除く。含まれていなければ何もしない。
func (w *Wishlist) Remove(productID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.indexOf(productID)
	if i < 0 {
		return nil
	}
	next := append(append([]model.Product{}, w.items[:i]...), w.items[i+1:]...)
	return w.commit(next)
}

// Toggle は含まれていれば取り除き、無ければ追加する。追加後に含まれているかを返す。
func (w *Wishlist) Toggle(p *model.Product) (bool, error) {
	if w.Contains(p.ID) {
		return false, w.Remove(p.ID)
	}
	return true, w.Add(p)
}

// Contains は商品が含まれているかを返す。
func (w *Wishlist) Contains(productID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.indexOf(productID) >= 0
}

// Items は追加順の商品一覧のコピーを返す。
func (w *Wishlist) Items() []model.Product {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]model.Product, len(w.items))
	copy(out, w.items)
	return out
}

func (w *Wishlist) indexOf(productID string) int {
	for i := range w.items {
		if w.items[i].ID == productID {
			return i
		}
	}
	return -1
}

// commit はストアへの保存に成功した場合のみメモリ上の一覧を差し替える。
func (w *Wishlist) commit(next []model.Product) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode wishlist: %w", err)
	}
	if err := w.store.Set(Key, string(raw)); err != nil {
		return fmt.Errorf("failed to save wishlist: %w", err)
	}
	w.items = next
	return nil
}
