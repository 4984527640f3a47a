package priority

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/harvester/internal/repository"
)

// ActivityCounter はアクティブユーザー数の問い合わせインターフェース。
type ActivityCounter interface {
	CountActiveInWindow(sourceID string, windowSeconds int) int
}

// SourceScheduler はソースの定期タスクを登録・解除するインターフェース。
type SourceScheduler interface {
	// ScheduleOrSuspend はintervalが0の場合に定期タスクを解除し、
	// それ以外は指定の間隔・優先度で定期タスクをアップサートする。
	ScheduleOrSuspend(sourceID string, priority int, interval time.Duration)
}

// Calculator は全ソースを走査し、ライブの関心度から
// 優先度ティアと再フェッチ間隔を導出してスケジューラーに反映する。
// 実行契機は外部のスケジュール（cron）であり、多重実行は外側で抑止される。
type Calculator struct {
	sourceRepo    repository.SourceRepository
	counter       ActivityCounter
	scheduler     SourceScheduler
	logger        *slog.Logger
	batchSize     int
	windowSeconds int
}

// NewCalculator はCalculatorの新しいインスタンスを生成する。
// batchSizeが0以下の場合はデフォルト値50を使用する。
func NewCalculator(
	sourceRepo repository.SourceRepository,
	counter ActivityCounter,
	scheduler SourceScheduler,
	logger *slog.Logger,
	batchSize int,
	windowSeconds int,
) *Calculator {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Calculator{
		sourceRepo:    sourceRepo,
		counter:       counter,
		scheduler:     scheduler,
		logger:        logger,
		batchSize:     batchSize,
		windowSeconds: windowSeconds,
	}
}

// RunOnce は全ソースを固定サイズのバッチでページングしながら1回走査する。
// バッチ内は並列、バッチ間は逐次に処理してピーク並列度を抑える。
// 個別ソースの失敗はログに記録して続行し、走査全体を中断しない。
func (c *Calculator) RunOnce(ctx context.Context) error {
	start := time.Now()
	offset := 0
	processed := 0
	batches := 0

	for {
		page, err := c.sourceRepo.ListPaginated(ctx, offset, c.batchSize)
		if err != nil {
			return err
		}
		if len(page.Data) == 0 {
			break
		}

		batches++

		g, _ := errgroup.WithContext(ctx)
		for _, source := range page.Data {
			g.Go(func() error {
				c.processSource(source.ID)
				return nil
			})
		}
		// processSourceはエラーを返さないため、ここでのWaitは同期のみ
		_ = g.Wait()

		processed += len(page.Data)
		offset += c.batchSize

		if !page.HasMore {
			break
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	c.logger.Info("優先度再計算が完了しました",
		slog.Int("sources", processed),
		slog.Int("batches", batches),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// processSource は1ソースの優先度を導出しスケジューラーに反映する。
// トラッカーの失敗は「アクティブユーザー0」として扱い、サイクルを失敗させない。
func (c *Calculator) processSource(sourceID string) {
	activeUsers := c.countSafely(sourceID)

	tier := TierFor(activeUsers)
	interval := IntervalFor(activeUsers)

	c.scheduler.ScheduleOrSuspend(sourceID, tier, interval)

	c.logger.Debug("ソースの優先度を更新しました",
		slog.String("source_id", sourceID),
		slog.Int("active_users", activeUsers),
		slog.Int("priority", tier),
		slog.Duration("interval", interval),
	)
}

// countSafely はトラッカーのpanicを吸収してゼロにフォールバックする。
func (c *Calculator) countSafely(sourceID string) (count int) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("アクティブユーザー数の取得に失敗しました。0として扱います",
				slog.String("source_id", sourceID),
				slog.Any("panic", r),
			)
			count = 0
		}
	}()
	return c.counter.CountActiveInWindow(sourceID, c.windowSeconds)
}
