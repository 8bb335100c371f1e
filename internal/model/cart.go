package model

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Variant はサイズやカラーなど、同一商品の選択肢を区別する任意のキー・値。
type Variant map[string]any

// Equal は2つのバリアントが構造的に等しいかを返す。
// nilと空のマップはどちらも「バリアントなし」として等しい。
func (v Variant) Equal(other Variant) bool {
	if len(v) == 0 || len(other) == 0 {
		return len(v) == len(other)
	}
	return bytes.Equal(v.canonical(), other.canonical())
}

// canonical はキー順が固定されたJSON表現を返す。
// encoding/jsonはマップのキーをソートして出力する。
func (v Variant) canonical() []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// MaxLineQuantity はカート1行あたりの数量の上限。
const MaxLineQuantity = 999

// CartLine はカート内の1行（商品、数量、バリアント）。
type CartLine struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Variant   Variant   `json:"variant"`
	AddedAt   time.Time `json:"addedAt"`
}

// Matches は行が (productID, variant) の組に一致するかを返す。
func (l CartLine) Matches(productID string, variant Variant) bool {
	return l.ProductID == productID && l.Variant.Equal(variant)
}

// Cart はユーザーごとに1つ存在するカートドキュメント。
// Versionはストレージ層の楽観的排他制御に使用する。0は未保存を示す。
type Cart struct {
	UserID    string
	Lines     []CartLine
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewCart は空のカートを生成する。
func NewCart(userID string, now time.Time) *Cart {
	return &Cart{
		UserID:    userID,
		Lines:     []CartLine{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IndexOf は (productID, variant) に一致する行の位置を返す。見つからない場合は-1。
func (c *Cart) IndexOf(productID string, variant Variant) int {
	for i, l := range c.Lines {
		if l.Matches(productID, variant) {
			return i
		}
	}
	return -1
}

// ResolvedLine はカート行に商品情報を結合した非正規化表現。
// 商品が削除済みの場合Productはnilになる。
type ResolvedLine struct {
	CartLine
	Product *Product `json:"product"`
}

// OrderSummary はチェックアウト時点のカートのスナップショット。
type OrderSummary struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Items     []ResolvedLine  `json:"items"`
	ItemCount int             `json:"itemCount"`
	Total     decimal.Decimal `json:"total"`
	PlacedAt  time.Time       `json:"placedAt"`
}

// LineTotal は単価×数量を返す。
func LineTotal(price float64, quantity int) decimal.Decimal {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(quantity)))
}
