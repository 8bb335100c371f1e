// Package imagecheck は商品が参照する外部画像の到達確認ジョブを提供する。
// サイト内パスの画像は対象外。到達できない画像はログとメトリクスに残すだけで商品は変更しない。
package imagecheck

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/lunore/internal/metrics"
	"github.com/hitoshi/lunore/internal/model"
	"github.com/hitoshi/lunore/internal/repository"
	"github.com/hitoshi/lunore/internal/security"
)

// ProductLister は確認対象の商品を取得するインターフェース。
type ProductLister interface {
	List(ctx context.Context, filter repository.ProductFilter) ([]*model.Product, error)
}

// Unreachable は到達できなかった画像URLと、それを参照する商品。
type Unreachable struct {
	URL        string
	ProductIDs []string
	Reason     string
}

// Report は1回の確認結果。
type Report struct {
	Checked     int
	Unreachable []Unreachable
}

// Checker は外部画像URLを並列に確認する。
// clientには本番ではImageGuard.NewSafeClientで生成したクライアントを渡す。
type Checker struct {
	products       ProductLister
	client         *http.Client
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	maxConcurrency int
}

// NewChecker はCheckerを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。
func NewChecker(
	products ProductLister,
	client *http.Client,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
	maxConcurrency int,
) *Checker {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Checker{
		products:       products,
		client:         client,
		logger:         logger,
		metrics:        mc,
		maxConcurrency: maxConcurrency,
	}
}

// Start は起動直後に1回実行し、以降intervalごとにRunOnceを繰り返す。
// コンテキストがキャンセルされるまでブロックする。
func (c *Checker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("画像チェッカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", c.maxConcurrency),
	)

	c.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("画像チェッカーを停止しました")
			return
		case <-ticker.C:
			c.runAndLog(ctx)
		}
	}
}

func (c *Checker) runAndLog(ctx context.Context) {
	if _, err := c.RunOnce(ctx); err != nil {
		c.logger.Error("画像チェックの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は全商品の外部画像URLを重複なく1回ずつ確認する。
// semaphoreパターンで最大並列数を制御する。
func (c *Checker) RunOnce(ctx context.Context) (*Report, error) {
	start := time.Now()

	products, err := c.products.List(ctx, repository.ProductFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	// URLごとに参照元の商品IDをまとめる
	refs := make(map[string][]string)
	for _, p := range products {
		for _, ref := range p.ImageRefs() {
			if !security.IsExternal(ref) {
				continue
			}
			if ids := refs[ref]; len(ids) == 0 || ids[len(ids)-1] != p.ID {
				refs[ref] = append(ids, p.ID)
			}
		}
	}

	report := &Report{Checked: len(refs)}
	if len(refs) == 0 {
		c.logger.Info("確認対象の外部画像はありません")
		return report, nil
	}

	var mu sync.Mutex
	sem := make(chan struct{}, c.maxConcurrency)
	var wg sync.WaitGroup

	for url, ids := range refs {
		wg.Add(1)
		sem <- struct{}{}

		go func(url string, ids []string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := c.probe(ctx, url)
			c.metrics.RecordImageCheck(err == nil)
			if err == nil {
				return
			}

			c.logger.Warn("商品画像に到達できません",
				slog.String("url", url),
				slog.Any("product_ids", ids),
				slog.String("error", err.Error()),
			)
			mu.Lock()
			report.Unreachable = append(report.Unreachable, Unreachable{URL: url, ProductIDs: ids, Reason: err.Error()})
			mu.Unlock()
		}(url, ids)
	}

	wg.Wait()

	sort.Slice(report.Unreachable, func(i, j int) bool {
		return report.Unreachable[i].URL < report.Unreachable[j].URL
	})

	c.logger.Info("画像チェックが完了しました",
		slog.Int("checked", report.Checked),
		slog.Int("unreachable", len(report.Unreachable)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return report, nil
}

// probe はHEADで到達確認を行う。HEAD非対応のサーバーにはGETで再確認する。
func (c *Checker) probe(ctx context.Context, url string) error {
	status, err := c.do(ctx, http.MethodHead, url)
	if err != nil {
		return err
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		status, err = c.do(ctx, http.MethodGet, url)
		if err != nil {
			return err
		}
	}
	if status >= 400 {
		return fmt.Errorf("unexpected status %d", status)
	}
	return nil
}

func (c *Checker) do(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// 接続を再利用できるよう少量だけ読み捨てる
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)
	return resp.StatusCode, nil
}
