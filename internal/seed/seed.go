// Package seed は初期カタログの投入と管理者アカウントの作成を提供する。
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/lunore/internal/catalog"
	"github.com/hitoshi/lunore/internal/model"
)

// seedActor はシードで作成した商品のイベントに記録する操作者ID。
const seedActor = "seed"

//go:embed catalog.yaml
var embeddedCatalog []byte

// ProductStore はシード投入先のカタログ。catalog.Serviceが満たす。
type ProductStore interface {
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, actorID string, in catalog.ProductInput) (*model.Product, error)
}

var _ ProductStore = (*catalog.Service)(nil)

// AdminEnsurer は管理者アカウントを冪等に作成する。auth.Serviceが満たす。
type AdminEnsurer interface {
	EnsureAdmin(ctx context.Context, email, password, name string) (bool, error)
}

// Options はシードの実行条件。
type Options struct {
	// File が空の場合は埋め込みカタログを使用する。
	File string

	AdminEmail    string
	AdminPassword string
	AdminName     string
}

// Result はシードの実行結果。
type Result struct {
	ProductsCreated int
	// CatalogSkipped は既に商品が存在したため投入しなかったことを示す。
	CatalogSkipped bool
	AdminCreated   bool
}

type catalogFile struct {
	Products []catalog.ProductInput `yaml:"products"`
}

// ParseCatalog はYAMLのカタログを読み込む。未知のキーはエラーにする。
func ParseCatalog(r io.Reader) ([]catalog.ProductInput, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f catalogFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("seed catalog is empty")
		}
		return nil, fmt.Errorf("failed to parse seed catalog: %w", err)
	}
	if len(f.Products) == 0 {
		return nil, fmt.Errorf("seed catalog has no products")
	}
	return f.Products, nil
}

// LoadCatalog はpathのカタログを読み込む。pathが空なら埋め込みカタログを使う。
func LoadCatalog(path string) ([]catalog.ProductInput, error) {
	if path == "" {
		return ParseCatalog(bytes.NewReader(embeddedCatalog))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// Seeder はカタログと管理者アカウントを投入する。
type Seeder struct {
	products ProductStore
	admins   AdminEnsurer
	logger   *slog.Logger
}

// NewSeeder はSeederを生成する。
func NewSeeder(products ProductStore, admins AdminEnsurer, logger *slog.Logger) *Seeder {
	return &Seeder{products: products, admins: admins, logger: logger}
}

// Run はシードを実行する。何度実行しても結果は変わらない。
//   - AdminEmailとAdminPasswordが指定されていれば管理者を作成する（既存なら何もしない）
//   - 商品が1件も無い場合のみカタログを投入する
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{}

	if opts.AdminEmail != "" && opts.AdminPassword != "" {
		name := opts.AdminName
		if name == "" {
			name = "Administrator"
		}
		created, err := s.admins.EnsureAdmin(ctx, opts.AdminEmail, opts.AdminPassword, name)
		if err != nil {
			return nil, fmt.Errorf("failed to ensure admin: %w", err)
		}
		res.AdminCreated = created
		s.logger.Info("admin account checked",
			slog.String("email", model.NormalizeEmail(opts.AdminEmail)),
			slog.Bool("created", created),
		)
	}

	count, err := s.products.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}
	if count > 0 {
		res.CatalogSkipped = true
		s.logger.Info("catalog already populated, skipping seed",
			slog.Int("product_count", count),
		)
		return res, nil
	}

	inputs, err := LoadCatalog(opts.File)
	if err != nil {
		return nil, err
	}

	for i, in := range inputs {
		if _, err := s.products.Create(ctx, seedActor, in); err != nil {
			return res, fmt.Errorf("failed to seed product #%d: %w", i+1, err)
		}
		res.ProductsCreated++
	}

	s.logger.Info("catalog seeded",
		slog.Int("product_count", res.ProductsCreated),
		slog.String("source", sourceName(opts.File)),
	)
	return res, nil
}

func sourceName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}
