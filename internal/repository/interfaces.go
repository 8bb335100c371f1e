// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/lunore/internal/model"
)

// ErrDuplicateEmail は同一メールアドレスのユーザーが既に存在する場合に返される。
var ErrDuplicateEmail = errors.New("repository: duplicate email")

// ErrVersionConflict はカートのバージョンが読み取り時点から変化していた場合に返される。
var ErrVersionConflict = errors.New("repository: cart version conflict")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error
}

// ProductFilter は商品一覧の絞り込み条件。
// ゼロ値のフィールドは条件に含めない。
type ProductFilter struct {
	// Category は大文字小文字を区別しない完全一致。
	Category string
	// Featured がnilでない場合はfeaturedフラグの完全一致。
	Featured *bool
	// Search は名前と説明文に対する全文検索（全ての語を含む）。
	Search string
	// Keyword は名前・説明文・カテゴリのいずれかに対する部分一致（OR）。
	Keyword string
	// Limit は最大件数。0は無制限。
	Limit int
	// Offset は先頭からのスキップ件数。
	Offset int
}

// ProductRepository は商品データの永続化インターフェース。
// 一覧は常にcreated_atの降順で返す。
type ProductRepository interface {
	// List は条件に一致する商品を新しい順に返す。
	List(ctx context.Context, filter ProductFilter) ([]*model.Product, error)

	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Product, error)

	// FindByIDs は複数IDの商品をまとめて取得する。存在しないIDはマップに含まれない。
	FindByIDs(ctx context.Context, ids []string) (map[string]*model.Product, error)

	// Create は商品を作成する。
	Create(ctx context.Context, product *model.Product) error

	// Update は商品の全フィールドを置き換える。見つからない場合はfalseを返す。
	Update(ctx context.Context, product *model.Product) (bool, error)

	// Delete は商品を削除し、削除したレコードを返す。見つからない場合はnilを返す。
	Delete(ctx context.Context, id string) (*model.Product, error)

	// Count は登録済み商品数を返す。
	Count(ctx context.Context) (int, error)
}

// CartRepository はカートドキュメントの永続化インターフェース。
type CartRepository interface {
	// FindByUserID はユーザーのカートを取得する。未作成の場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Cart, error)

	// Save はカートを条件付きで保存する。
	// cart.Versionが0の場合は新規作成、それ以外は保存済みバージョンと一致する場合のみ更新する。
	// 一致しない場合はErrVersionConflictを返す。成功時はcart.Versionを進める。
	Save(ctx context.Context, cart *model.Cart) error
}
