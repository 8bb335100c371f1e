package catalog

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/lunore/internal/model"
	"github.com/hitoshi/lunore/internal/security"
)

// 価格と在庫の上限。productsテーブルの NUMERIC(12,2) と INTEGER に収まる範囲。
const (
	maxPrice = 1e10
	maxStock = math.MaxInt32
)

// ProductInput は商品の作成・部分更新の入力。
// nilのフィールドは「指定なし」を表し、更新時は既存値を保持する。
// シードファイル(YAML)もこの型で読み込む。
type ProductInput struct {
	Name          *string               `json:"name" yaml:"name"`
	Category      *string               `json:"category" yaml:"category"`
	Price         *float64              `json:"price" yaml:"price"`
	OriginalPrice *float64              `json:"originalPrice" yaml:"originalPrice"`
	Image         *string               `json:"image" yaml:"image"`
	HoverImage    *string               `json:"hoverImage" yaml:"hoverImage"`
	Images        *[]string             `json:"images" yaml:"images"`
	Description   *string               `json:"description" yaml:"description"`
	Stock         *int                  `json:"stock" yaml:"stock"`
	Featured      *bool                 `json:"featured" yaml:"featured"`
	Badge         *string               `json:"badge" yaml:"badge"`
	Sizes         *[]string             `json:"sizes" yaml:"sizes"`
	Colors        *[]model.Color        `json:"colors" yaml:"colors"`
	Details       *model.ProductDetails `json:"details" yaml:"details"`
}

// missingRequired は作成時に必須のフィールドのうち未指定のものを返す。
func (in *ProductInput) missingRequired() []string {
	var missing []string
	if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
		missing = append(missing, "name")
	}
	if in.Category == nil || strings.TrimSpace(*in.Category) == "" {
		missing = append(missing, "category")
	}
	if in.Price == nil {
		missing = append(missing, "price")
	}
	if in.Image == nil || strings.TrimSpace(*in.Image) == "" {
		missing = append(missing, "image")
	}
	if in.Description == nil || strings.TrimSpace(*in.Description) == "" {
		missing = append(missing, "description")
	}
	return missing
}

// applyTo は指定されたフィールドだけをpに反映し、変更のあったフィールドを検証する。
// テキスト項目はサニタイズしてから格納する。
func (in *ProductInput) applyTo(p *model.Product, sanitizer security.TextSanitizer, images security.ImageGuard) error {
	var problems []string

	if in.Name != nil {
		p.Name = sanitizer.SanitizeText(*in.Name)
		if p.Name == "" {
			problems = append(problems, "name must not be empty")
		}
	}
	if in.Category != nil {
		c, ok := model.ParseCategory(*in.Category)
		if !ok {
			problems = append(problems, fmt.Sprintf("category must be one of %v", model.Categories))
		}
		p.Category = c
	}
	if in.Price != nil {
		if problem := checkPrice("price", *in.Price); problem != "" {
			problems = append(problems, problem)
		}
		p.Price = *in.Price
	}
	if in.OriginalPrice != nil {
		if problem := checkPrice("originalPrice", *in.OriginalPrice); problem != "" {
			problems = append(problems, problem)
		}
		v := *in.OriginalPrice
		p.OriginalPrice = &v
	}
	if in.Image != nil {
		p.Image = strings.TrimSpace(*in.Image)
		if err := images.ValidateImageRef(p.Image); err != nil {
			problems = append(problems, "image: "+err.Error())
		}
	}
	if in.HoverImage != nil {
		p.HoverImage = strings.TrimSpace(*in.HoverImage)
		if p.HoverImage != "" {
			if err := images.ValidateImageRef(p.HoverImage); err != nil {
				problems = append(problems, "hoverImage: "+err.Error())
			}
		}
	}
	if in.Images != nil {
		gallery := make([]string, 0, len(*in.Images))
		for _, ref := range *in.Images {
			ref = strings.TrimSpace(ref)
			if err := images.ValidateImageRef(ref); err != nil {
				problems = append(problems, "images: "+err.Error())
				continue
			}
			gallery = append(gallery, ref)
		}
		p.Images = gallery
	}
	if in.Description != nil {
		p.Description = sanitizer.SanitizeText(*in.Description)
		if p.Description == "" {
			problems = append(problems, "description must not be empty")
		}
	}
	if in.Stock != nil {
		if *in.Stock < 0 {
			problems = append(problems, "stock must be non-negative")
		} else if *in.Stock > maxStock {
			problems = append(problems, fmt.Sprintf("stock must not exceed %d", maxStock))
		}
		p.Stock = *in.Stock
	}
	if in.Featured != nil {
		p.Featured = *in.Featured
	}
	if in.Badge != nil {
		b := model.Badge(strings.TrimSpace(*in.Badge))
		if !model.ValidBadge(b) {
			problems = append(problems, fmt.Sprintf("badge must be one of %v", model.Badges))
		}
		p.Badge = b
	}
	if in.Sizes != nil {
		sizes := make([]string, 0, len(*in.Sizes))
		for _, s := range *in.Sizes {
			if s = sanitizer.SanitizeText(s); s != "" {
				sizes = append(sizes, s)
			}
		}
		p.Sizes = sizes
	}
	if in.Colors != nil {
		colors := make([]model.Color, 0, len(*in.Colors))
		for _, c := range *in.Colors {
			colors = append(colors, model.Color{
				Name: sanitizer.SanitizeText(c.Name),
				Hex:  sanitizer.SanitizeText(c.Hex),
			})
		}
		p.Colors = colors
	}
	if in.Details != nil {
		p.Details = &model.ProductDetails{
			Materials: sanitizer.SanitizeText(in.Details.Materials),
			Care:      sanitizer.SanitizeText(in.Details.Care),
			Fit:       sanitizer.SanitizeText(in.Details.Fit),
			Origin:    sanitizer.SanitizeText(in.Details.Origin),
		}
	}

	if len(problems) > 0 {
		return model.NewValidationError("Validation failed: " + strings.Join(problems, "; "))
	}
	return nil
}

// checkPrice は価格の範囲と小数点以下の桁数を検証し、問題があればその説明を返す。
func checkPrice(field string, v float64) string {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return field + " must be a finite number"
	case v < 0:
		return field + " must be non-negative"
	case v >= maxPrice:
		return fmt.Sprintf("%s must be less than %.0f", field, maxPrice)
	case decimal.NewFromFloat(v).Exponent() < -2:
		return field + " must have at most 2 decimal places"
	}
	return ""
}
