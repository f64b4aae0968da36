// Package cleanup は入退室ログの自動削除ジョブを提供する。
// 保持期間（デフォルト400日）を超過した記録と処理済み決済イベントを
// 日次バッチで削除する。発行済みコードは決済イベントのCASCADE削除で処理される。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/roomgate/internal/metrics"
	"github.com/hitoshi/roomgate/internal/model"
	"github.com/hitoshi/roomgate/internal/repository"
)

// DefaultRetentionDays は記録の保持日数のデフォルト値。
const DefaultRetentionDays = 400

// 削除対象の種別。メトリクスのラベルに使う。
const (
	KindRecords       = "records"
	KindPaymentEvents = "payment_events"
)

// CleanupJob は保持期間を超過したデータの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	repo          repository.RetentionRepository
	logger        *slog.Logger
	metrics       metrics.MetricsCollector
	loc           *time.Location
	now           func() time.Time
	RetentionDays int // 保持日数（デフォルト: 400）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// 日付の境界はlocのタイムゾーンで計算する。
func NewCleanupJob(repo repository.RetentionRepository, loc *time.Location, logger *slog.Logger, m metrics.MetricsCollector) *CleanupJob {
	if m == nil {
		m = metrics.Nop{}
	}
	return &CleanupJob{
		repo:          repo,
		logger:        logger,
		metrics:       m,
		loc:           loc,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Run は保持期間を超過した記録と決済イベントを削除する。
// 記録はRetentionDays日前の日付より前のものを、決済イベントは処理時刻が
// RetentionDays日前より古いものを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().In(j.loc).AddDate(0, 0, -j.RetentionDays)
	cutoffDate := cutoff.Format(model.DateLayout)

	records, err := j.repo.DeleteRecordsBefore(ctx, cutoffDate)
	if err != nil {
		j.logger.Error("記録のクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("記録クリーンアップの実行に失敗: %w", err)
	}
	j.metrics.RecordRetentionDeleted(KindRecords, records)

	events, err := j.repo.DeletePaymentEventsBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("決済イベントのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("決済イベントクリーンアップの実行に失敗: %w", err)
	}
	j.metrics.RecordRetentionDeleted(KindPaymentEvents, events)

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_records", records),
		slog.Int64("deleted_payment_events", events),
		slog.String("cutoff_date", cutoffDate),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
