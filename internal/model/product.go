package model

import (
	"strings"
	"time"
)

// Category は商品カテゴリ（閉じた列挙）を表す。
type Category string

const (
	CategoryShirts      Category = "Shirts"
	CategoryShoes       Category = "Shoes"
	CategoryAccessories Category = "Accessories"
)

// Categories は有効なカテゴリの一覧。
var Categories = []Category{CategoryShirts, CategoryShoes, CategoryAccessories}

// ParseCategory は大文字小文字を区別せずにカテゴリを解決する。
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, true
		}
	}
	return "", false
}

// Badge は商品カードに表示するバッジ（閉じた列挙）を表す。
type Badge string

const (
	BadgeNew     Badge = "New"
	BadgeHot     Badge = "Hot"
	BadgeSale    Badge = "Sale"
	BadgeTopItem Badge = "Top Item"
	BadgePopular Badge = "Popular"
)

// Badges は有効なバッジの一覧。
var Badges = []Badge{BadgeNew, BadgeHot, BadgeSale, BadgeTopItem, BadgePopular}

// ValidBadge はバッジが定義済みの値かどうかを返す。空文字列は「バッジなし」として有効。
func ValidBadge(b Badge) bool {
	if b == "" {
		return true
	}
	for _, v := range Badges {
		if v == b {
			return true
		}
	}
	return false
}

// Color は商品のカラーバリエーション（表示名とカラーコード）。
type Color struct {
	Name string `json:"name" yaml:"name"`
	Hex  string `json:"hex" yaml:"hex"`
}

// ProductDetails は商品の補足情報。
type ProductDetails struct {
	Materials string `json:"materials,omitempty" yaml:"materials,omitempty"`
	Care      string `json:"care,omitempty" yaml:"care,omitempty"`
	Fit       string `json:"fit,omitempty" yaml:"fit,omitempty"`
	Origin    string `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// Product はカタログの商品を表す。
// PriceとStockは負にならない。
type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Category      Category        `json:"category"`
	Price         float64         `json:"price"`
	OriginalPrice *float64        `json:"originalPrice,omitempty"`
	Image         string          `json:"image"`
	HoverImage    string          `json:"hoverImage,omitempty"`
	Images        []string        `json:"images"`
	Description   string          `json:"description"`
	Stock         int             `json:"stock"`
	Featured      bool            `json:"featured"`
	Badge         Badge           `json:"badge,omitempty"`
	Sizes         []string        `json:"sizes"`
	Colors        []Color         `json:"colors"`
	Details       *ProductDetails `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ImageRefs は商品が参照する全画像（メイン、ホバー、ギャラリー）を返す。
func (p *Product) ImageRefs() []string {
	refs := make([]string, 0, len(p.Images)+2)
	if p.Image != "" {
		refs = append(refs, p.Image)
	}
	if p.HoverImage != "" {
		refs = append(refs, p.HoverImage)
	}
	return append(refs, p.Images...)
}
