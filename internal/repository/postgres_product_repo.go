package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/lunore/internal/model"
)

// PostgresProductRepo はPostgreSQLを使用した商品リポジトリ。
// 画像ギャラリー、サイズ、カラー、詳細情報はJSONB列に格納する。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

const productColumns = `id, name, category, price, original_price, image, hover_image, images,
	description, stock, featured, badge, sizes, colors, details, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// List は条件に一致する商品をcreated_atの降順で返す。
func (r *PostgresProductRepo) List(ctx context.Context, filter ProductFilter) ([]*model.Product, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Category != "" {
		conds = append(conds, "lower(category) = lower("+arg(filter.Category)+")")
	}
	if filter.Featured != nil {
		conds = append(conds, "featured = "+arg(*filter.Featured))
	}
	if filter.Search != "" {
		conds = append(conds,
			"to_tsvector('simple', name || ' ' || description) @@ plainto_tsquery('simple', "+arg(filter.Search)+")")
	}
	if filter.Keyword != "" {
		p := arg("%" + escapeLike(filter.Keyword) + "%")
		conds = append(conds, "(name ILIKE "+p+" OR description ILIKE "+p+" OR category ILIKE "+p+")")
	}

	query := `SELECT ` + productColumns + ` FROM products`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	products := []*model.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindByID(ctx context.Context, id string) (*model.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	p, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}
	return p, nil
}

// FindByIDs は複数IDの商品をまとめて取得する。
func (r *PostgresProductRepo) FindByIDs(ctx context.Context, ids []string) (map[string]*model.Product, error) {
	result := make(map[string]*model.Product, len(ids))

	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return result, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1::uuid[])`,
		pq.Array(valid),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find products by IDs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return result, nil
}

// Create は商品を作成する。
func (r *PostgresProductRepo) Create(ctx context.Context, p *model.Product) error {
	doc, err := encodeProductDocs(p)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO products (id, name, category, price, original_price, image, hover_image, images,
			description, stock, featured, badge, sizes, colors, details, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14, $15, $16, $17)`,
		p.ID, p.Name, string(p.Category), p.Price, nullFloat(p.OriginalPrice), p.Image, p.HoverImage, doc.images,
		p.Description, p.Stock, p.Featured, string(p.Badge), doc.sizes, doc.colors, doc.details, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

// Update は商品の全フィールドを置き換える。見つからない場合はfalseを返す。
func (r *PostgresProductRepo) Update(ctx context.Context, p *model.Product) (bool, error) {
	doc, err := encodeProductDocs(p)
	if err != nil {
		return false, err
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE products SET name = $2, category = $3, price = $4, original_price = $5, image = $6,
			hover_image = $7, images = $8, description = $9, stock = $10, featured = $11,
			badge = NULLIF($12, ''), sizes = $13, colors = $14, details = $15, updated_at = $16
		 WHERE id = $1`,
		p.ID, p.Name, string(p.Category), p.Price, nullFloat(p.OriginalPrice), p.Image,
		p.HoverImage, doc.images, p.Description, p.Stock, p.Featured,
		string(p.Badge), doc.sizes, doc.colors, doc.details, p.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update product: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete は商品を削除し、削除したレコードを返す。見つからない場合はnilを返す。
func (r *PostgresProductRepo) Delete(ctx context.Context, id string) (*model.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	p, err := scanProduct(r.db.QueryRowContext(ctx,
		`DELETE FROM products WHERE id = $1 RETURNING `+productColumns, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete product: %w", err)
	}
	return p, nil
}

// Count は登録済み商品数を返す。
func (r *PostgresProductRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

// productDocs はJSONB列にエンコード済みの値を保持する。
type productDocs struct {
	images, sizes, colors, details string
}

func encodeProductDocs(p *model.Product) (productDocs, error) {
	var d productDocs
	for _, f := range []struct {
		dst *string
		v   any
	}{
		{&d.images, nonNilStrings(p.Images)},
		{&d.sizes, nonNilStrings(p.Sizes)},
		{&d.colors, nonNilColors(p.Colors)},
		{&d.details, p.Details},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return d, fmt.Errorf("failed to encode product document: %w", err)
		}
		*f.dst = string(b)
	}
	return d, nil
}

func scanProduct(row rowScanner) (*model.Product, error) {
	p := &model.Product{}
	var (
		category                       string
		originalPrice                  sql.NullFloat64
		badge                          sql.NullString
		images, sizes, colors, details []byte
	)
	err := row.Scan(&p.ID, &p.Name, &category, &p.Price, &originalPrice, &p.Image, &p.HoverImage, &images,
		&p.Description, &p.Stock, &p.Featured, &badge, &sizes, &colors, &details, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Category = model.Category(category)
	if originalPrice.Valid {
		v := originalPrice.Float64
		p.OriginalPrice = &v
	}
	p.Badge = model.Badge(badge.String)

	if err := json.Unmarshal(images, &p.Images); err != nil {
		return nil, fmt.Errorf("failed to decode images: %w", err)
	}
	if err := json.Unmarshal(sizes, &p.Sizes); err != nil {
		return nil, fmt.Errorf("failed to decode sizes: %w", err)
	}
	if err := json.Unmarshal(colors, &p.Colors); err != nil {
		return nil, fmt.Errorf("failed to decode colors: %w", err)
	}
	if len(details) > 0 && string(details) != "null" {
		p.Details = &model.ProductDetails{}
		if err := json.Unmarshal(details, p.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details: %w", err)
		}
	}
	return p, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilColors(c []model.Color) []model.Color {
	if c == nil {
		return []model.Color{}
	}
	return c
}

// escapeLike はLIKEパターンのメタ文字をエスケープする。
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)
