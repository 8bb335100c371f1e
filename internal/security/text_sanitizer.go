package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は商品名や説明文などのプレーンテキスト項目からマークアップを除去する。
type TextSanitizer interface {
	// SanitizeText は全てのHTMLタグを除去し、前後の空白を取り除いた文字列を返す。
	// &、引用符はエスケープせずに残し、< と > はエスケープされたままにする。
	SanitizeText(s string) string
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizerの実装。
// bluemonday.Policyはスレッドセーフであり、1つのインスタンスを共有できる。
type textSanitizer struct {
	policy   *bluemonday.Policy
	unescape *strings.Replacer
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{
		policy:   bluemonday.StrictPolicy(),
		unescape: strings.NewReplacer("&amp;", "&", "&#39;", "'", "&#34;", `"`, "&quot;", `"`),
	}
}

// SanitizeText はテキストからタグを除去する。
func (s *textSanitizer) SanitizeText(text string) string {
	if text == "" {
		return ""
	}
	return strings.TrimSpace(s.unescape.Replace(s.policy.Sanitize(text)))
}
