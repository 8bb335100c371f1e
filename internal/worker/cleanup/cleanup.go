// Package cleanup は削除済み商品を参照するカート行の除去ジョブを提供する。
// 商品を削除してもカート行は残るため、定期的にまとめて取り除く。
// 行が全て除去されたカートも削除せず空のまま残す。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/lunore/internal/metrics"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// pruneQuery は存在しない商品を指す行を除いたitemsで各カートを書き換える。
// 元の並び順を保ち、versionを進めてAPI側の条件付き更新と競合させる。
// 読み取り後にAPI側が保存したカートはversionが一致しないため上書きせず、次回の実行で除去する。
const pruneQuery = `
UPDATE carts c
SET items = pruned.items,
    version = c.version + 1,
    updated_at = now()
FROM (
    SELECT src.user_id,
           src.version,
           COALESCE(
               jsonb_agg(e.line ORDER BY e.ord) FILTER (WHERE p.id IS NOT NULL),
               '[]'::jsonb
           ) AS items
    FROM carts src
    CROSS JOIN LATERAL jsonb_array_elements(src.items) WITH ORDINALITY AS e(line, ord)
    LEFT JOIN products p ON p.id::text = e.line->>'productId'
    GROUP BY src.user_id
    HAVING bool_or(p.id IS NULL)
) AS pruned
WHERE c.user_id = pruned.user_id
  AND c.version = pruned.version`

// CleanupJob はカートの孤立行を除去するジョブ。
// 冪等であり、除去対象がなければ何も更新しない。
type CleanupJob struct {
	db      Executor
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewCleanupJob は新しいCleanupJobを生成する。
// mcがnilの場合はメトリクスを記録しない。
func NewCleanupJob(db Executor, logger *slog.Logger, mc metrics.MetricsCollector) *CleanupJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &CleanupJob{
		db:      db,
		logger:  logger,
		metrics: mc,
	}
}

// Run は孤立行を含むカートを1回書き換える。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	result, err := j.db.ExecContext(ctx, pruneQuery)
	if err != nil {
		j.logger.Error("カートクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("カートクリーンアップの実行に失敗: %w", err)
	}

	prunedCarts, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("更新件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}

	j.metrics.RecordCartsPruned(int(prunedCarts))

	duration := time.Since(start)
	j.logger.Info("カートクリーンアップジョブが完了しました",
		slog.Int64("pruned_carts", prunedCarts),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを繰り返す。
// コンテキストがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	j.logger.Info("カートクリーンアップを開始しました",
		slog.Duration("interval", interval),
	)

	// 失敗はRun内でログ済み
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("カートクリーンアップを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
