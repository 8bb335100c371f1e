package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hitoshi/lunore/internal/model"
)

// PostgresCartRepo はPostgreSQLを使用したカートリポジトリ。
// 1ユーザー1行で、カート行はJSONB配列として1ドキュメントに格納する。
// version列による条件付き更新で読み取り後の上書きを防ぐ。
type PostgresCartRepo struct {
	db *sql.DB
}

// NewPostgresCartRepo はPostgresCartRepoを生成する。
func NewPostgresCartRepo(db *sql.DB) *PostgresCartRepo {
	return &PostgresCartRepo{db: db}
}

// FindByUserID はユーザーのカートを取得する。未作成の場合はnilを返す。
func (r *PostgresCartRepo) FindByUserID(ctx context.Context, userID string) (*model.Cart, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, nil
	}

	cart := &model.Cart{UserID: userID}
	var items []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT items, version, created_at, updated_at FROM carts WHERE user_id = $1`,
		userID,
	).Scan(&items, &cart.Version, &cart.CreatedAt, &cart.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find cart: %w", err)
	}

	if err := json.Unmarshal(items, &cart.Lines); err != nil {
		return nil, fmt.Errorf("failed to decode cart items: %w", err)
	}
	if cart.Lines == nil {
		cart.Lines = []model.CartLine{}
	}
	return cart, nil
}

// Save はカートを条件付きで保存する。
func (r *PostgresCartRepo) Save(ctx context.Context, cart *model.Cart) error {
	lines := cart.Lines
	if lines == nil {
		lines = []model.CartLine{}
	}
	items, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("failed to encode cart items: %w", err)
	}

	var result sql.Result
	if cart.Version == 0 {
		// 新規作成: 並行して作成された場合は競合として扱う
		result, err = r.db.ExecContext(ctx,
			`INSERT INTO carts (user_id, items, version, created_at, updated_at)
			 VALUES ($1, $2, 1, $3, $4)
			 ON CONFLICT (user_id) DO NOTHING`,
			cart.UserID, string(items), cart.CreatedAt, cart.UpdatedAt,
		)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE carts SET items = $2, version = version + 1, updated_at = $3
			 WHERE user_id = $1 AND version = $4`,
			cart.UserID, string(items), cart.UpdatedAt, cart.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}

	cart.Version++
	return nil
}

// compile-time interface check
var _ CartRepository = (*PostgresCartRepo)(nil)
