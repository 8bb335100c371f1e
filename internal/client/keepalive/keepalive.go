// Package keepalive はAPIサーバーへ定期的にヘルスチェックを送り、
// アイドル時にスリープするホスティング環境でサーバーを起こしておく。
package keepalive

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/lunore/internal/client"
)

const (
	// DefaultInterval は無通信でスリープする環境（15分）より短い既定の送信間隔。
	DefaultInterval = 14 * time.Minute
	// DefaultTimeout は1回のヘルスチェックのタイムアウト。
	DefaultTimeout = 10 * time.Second
)

// Pinger はヘルスチェックを行う。client.Clientが実装する。
type Pinger interface {
	Health(ctx context.Context) (*client.Health, error)
}

// KeepAlive は定期的なヘルスチェックを行う。
type KeepAlive struct {
	pinger   Pinger
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// New はKeepAliveを生成する。0以下の値は既定値になる。
func New(pinger Pinger, logger *slog.Logger, interval, timeout time.Duration) *KeepAlive {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &KeepAlive{
		pinger:   pinger,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// Ping はヘルスチェックを1回行う。失敗はログに記録して返す。
func (k *KeepAlive) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	h, err := k.pinger.Health(ctx)
	if err != nil {
		k.logger.Warn("backend ping failed", slog.String("error", err.Error()))
		return err
	}
	k.logger.Debug("backend is alive",
		slog.String("status", h.Status),
		slog.String("message", h.Message),
	)
	return nil
}

// Start は直ちに1回送信し、その後intervalごとに送信する。
// ctxがキャンセルされるまでブロックする。失敗しても送信は続ける。
func (k *KeepAlive) Start(ctx context.Context) {
	k.logger.Info("keep-alive started", slog.Duration("interval", k.interval))

	_ = k.Ping(ctx)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keep-alive stopped")
			return
		case <-ticker.C:
			_ = k.Ping(ctx)
		}
	}
}
