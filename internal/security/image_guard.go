// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ImageGuard は商品画像の参照先を検証する。
// 商品登録・更新時の静的検証と、画像チェッカーが使うSSRF防止付きHTTPクライアントを提供する。
type ImageGuard interface {
	// ValidateImageRef は画像参照が安全かを検証する。
	// "/images/a.jpg" のようなサイト内の絶対パス、または公開ホストを指すhttp(s) URLのみ許可する。
	ValidateImageRef(ref string) error

	// NewSafeClient はプライベートIP、ループバック、リンクローカル宛てを
	// 接続時にブロックするHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client
}

// allowedSchemes は外部画像URLで許可されるスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は外部画像URLとして拒否するネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// imageGuard はImageGuardの実装。
type imageGuard struct{}

// NewImageGuard はImageGuardを生成する。
func NewImageGuard() ImageGuard {
	return &imageGuard{}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを生成する。
// DNS解決後のIPアドレスをDialerで検証するため、DNS再バインディングにも対応する。
func (g *imageGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateImageRef は画像参照を静的に検証する。DNS解決は行わない。
func (g *imageGuard) ValidateImageRef(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("empty image reference")
	}

	// サイト内パス（プロトコル相対URL "//host" は除く）
	if strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, "//") {
		if strings.Contains(ref, "..") {
			return fmt.Errorf("path traversal in image reference: %s", ref)
		}
		return nil
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("invalid image URL: %w", err)
	}

	if !isAllowedScheme(parsed.Scheme) {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", parsed.Scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in image URL: %s", ref)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// IsExternal は画像参照が外部URL（http/https）かどうかを返す。
func IsExternal(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
