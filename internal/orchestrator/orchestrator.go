// Package orchestrator はスケジューラーの発火をコレクタージョブに変換する。
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/harvester/internal/model"
	"github.com/hitoshi/harvester/internal/sourcedetect"
)

// SourceFinder はソースの読み取りアクセスを抽象化する。
type SourceFinder interface {
	FindByID(ctx context.Context, id string) (*model.Source, error)
}

// CollectDispatcher はコレクタージョブのルーティング先を抽象化する。
// 実装はコレクター種別ごとの優先度付きキューに振り分ける。
type CollectDispatcher interface {
	DispatchCollect(collectorType model.CollectorType, job model.CollectorJob, priority int) error
}

// Orchestrator はスケジュール発火1回分を処理する。
// ソースの状態を検査し、取得に必要な情報を組み立てて
// 適切なコレクターキューへジョブを送る。
type Orchestrator struct {
	sources    SourceFinder
	dispatcher CollectDispatcher
	logger     *slog.Logger
	fetchLimit int
}

// New はOrchestratorの新しいインスタンスを生成する。
func New(sources SourceFinder, dispatcher CollectDispatcher, logger *slog.Logger, fetchLimit int) *Orchestrator {
	return &Orchestrator{
		sources:    sources,
		dispatcher: dispatcher,
		logger:     logger,
		fetchLimit: fetchLimit,
	}
}

// Handle はオーケストレータージョブを1件処理する。
//   - ソースが存在しない場合は警告ログのみで正常終了（ジョブは破棄）
//   - pausedのソースは静かにスキップ
//   - errorのソースは警告ログ付きで続行（復旧の機会を与える）
//   - 未知のソース種別は設定エラーとしてエラーログを出して破棄
func (o *Orchestrator) Handle(ctx context.Context, job model.OrchestratorJob) error {
	source, err := o.sources.FindByID(ctx, job.SourceID)
	if err != nil {
		o.logger.Warn("ソースの取得に失敗したためジョブを破棄します",
			slog.String("source_id", job.SourceID),
			slog.String("schedule_id", job.ScheduleID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if source == nil {
		o.logger.Warn("ソースが存在しないためジョブを破棄します",
			slog.String("source_id", job.SourceID),
			slog.String("schedule_id", job.ScheduleID),
		)
		return nil
	}

	switch source.Status {
	case model.SourceStatusPaused:
		// 一時停止中のソースはログなしでスキップする
		return nil
	case model.SourceStatusError:
		o.logger.Warn("エラー状態のソースの収集を試行します",
			slog.String("source_id", source.ID),
			slog.String("last_error", source.LastError),
		)
	}

	externalID, err := sourcedetect.ExternalID(source.SourceType, source.URL)
	if err != nil {
		o.logger.Error("外部IDの抽出に失敗したためジョブを破棄します",
			slog.String("source_id", source.ID),
			slog.String("url", source.URL),
			slog.String("error", err.Error()),
		)
		return nil
	}

	collectorType, err := model.CollectorTypeFor(source.SourceType)
	if err != nil {
		// ルーティング不能は設定の欠陥であり、リトライしても解消しない
		o.logger.Error("未知のソース種別のためルーティングできません",
			slog.String("source_id", source.ID),
			slog.String("source_type", string(source.SourceType)),
		)
		return nil
	}

	collectorJob := model.CollectorJob{
		SourceID:   source.ID,
		SourceType: source.SourceType,
		ExternalID: externalID,
		Cursor:     source.Cursor,
		Limit:      o.fetchLimit,
		Priority:   job.Priority,
		Metadata: model.JobMetadata{
			OrchestrationID: uuid.NewString(),
			ScheduledAt:     job.FiredAt,
			PrevCursor:      source.Cursor,
			FetchConfig:     source.FetchConfig,
		},
	}
	if collectorJob.Metadata.ScheduledAt.IsZero() {
		collectorJob.Metadata.ScheduledAt = time.Now()
	}

	if err := o.dispatcher.DispatchCollect(collectorType, collectorJob, job.Priority); err != nil {
		o.logger.Error("コレクタージョブの投入に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("collector_type", string(collectorType)),
			slog.String("error", err.Error()),
		)
		return err
	}

	o.logger.Debug("コレクタージョブを投入しました",
		slog.String("source_id", source.ID),
		slog.String("collector_type", string(collectorType)),
		slog.Int("priority", job.Priority),
		slog.String("orchestration_id", collectorJob.Metadata.OrchestrationID),
	)
	return nil
}
