package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/hitoshi/harvester/internal/activity"
	"github.com/hitoshi/harvester/internal/cache"
	"github.com/hitoshi/harvester/internal/collector"
	"github.com/hitoshi/harvester/internal/config"
	"github.com/hitoshi/harvester/internal/media"
	"github.com/hitoshi/harvester/internal/metrics"
	"github.com/hitoshi/harvester/internal/model"
	"github.com/hitoshi/harvester/internal/objectstore"
	"github.com/hitoshi/harvester/internal/orchestrator"
	"github.com/hitoshi/harvester/internal/priority"
	"github.com/hitoshi/harvester/internal/processor"
	"github.com/hitoshi/harvester/internal/queue"
	"github.com/hitoshi/harvester/internal/repository"
	"github.com/hitoshi/harvester/internal/scheduler"
	"github.com/hitoshi/harvester/internal/security"
)

// queueDepthInterval はキュー滞留数メトリクスの更新間隔。
const queueDepthInterval = 15 * time.Second

// pipeline は収集パイプラインの全コンポーネントを束ねる。
// serveとworkerの両モードで共有される。
type pipeline struct {
	cfg    *config.Config
	logger *slog.Logger

	sourceRepo *repository.PostgresSourceRepo
	postRepo   *repository.PostgresPostRepo

	tracker   *activity.Tracker
	postCache *cache.TTLCache
	sched     *scheduler.Scheduler
	calc      *priority.Calculator
	relay     *media.Relay
	cron      *cron.Cron

	metricsCollector *metrics.Collector
	registry         *prometheus.Registry

	orchestrateQueue *queue.Queue[model.OrchestratorJob]
	collectQueues    map[model.CollectorType]*queue.Queue[model.CollectorJob]
	resultQueue      *queue.Queue[model.ResultJob]
}

// orchestrateDispatcher はスケジューラーの発火をオーケストレーションキューへ渡す。
type orchestrateDispatcher struct {
	q *queue.Queue[model.OrchestratorJob]
}

func (d *orchestrateDispatcher) Dispatch(job model.OrchestratorJob) {
	d.q.Enqueue(job, job.Priority)
}

// collectDispatcher はコレクタージョブを種別ごとのキューへ振り分ける。
type collectDispatcher struct {
	queues map[model.CollectorType]*queue.Queue[model.CollectorJob]
}

func (d *collectDispatcher) DispatchCollect(collectorType model.CollectorType, job model.CollectorJob, prio int) error {
	q, ok := d.queues[collectorType]
	if !ok {
		return fmt.Errorf("コレクターキューが存在しません: %s", collectorType)
	}
	q.Enqueue(job, prio)
	return nil
}

// buildPipeline は収集パイプラインの全コンポーネントをワイヤリングする。
// 起動はstartで行う。
func buildPipeline(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*pipeline, error) {
	p := &pipeline{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	p.metricsCollector = metrics.NewCollector(p.registry)

	// リポジトリ
	p.sourceRepo = repository.NewPostgresSourceRepo(db)
	p.postRepo = repository.NewPostgresPostRepo(db)

	// インフラコンポーネント
	p.tracker = activity.NewTracker(logger)
	p.postCache = cache.New()

	// セキュリティ
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()
	safeClient := ssrfGuard.NewSafeClient(cfg.FetchTimeout, cfg.FetchMaxSize)

	// コレクター
	registry := collector.Registry{
		model.CollectorTypeAPI: collector.NewAPICollector(
			safeClient, logger,
			cfg.MessagingAPIBaseURL, cfg.MessagingAPIToken, cfg.MessagingAPIRate,
		),
		model.CollectorTypeRSS:     collector.NewRSSCollector(safeClient, logger, sanitizer),
		model.CollectorTypeScraper: collector.NewScrapeCollector(safeClient, logger, sanitizer),
	}
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("コレクター構成が不正: %w", err)
	}

	// メディア転送
	store, err := buildObjectStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	p.relay = media.NewRelay(store, safeClient, logger, cfg.MediaWorkers, cfg.MediaMaxAttempts).
		WithMetrics(p.metricsCollector)

	// 結果処理
	proc := processor.New(p.sourceRepo, p.postRepo, p.postCache, p.relay, logger, cfg.CacheTTL).
		WithMetrics(p.metricsCollector)
	p.resultQueue = queue.New[model.ResultJob]("results", queue.Options{
		Workers:     cfg.ResultWorkers,
		MaxAttempts: 3,
		JobTimeout:  30 * time.Second,
	}, proc.Handle, logger)

	// コレクターキュー（種別ごとに独立したワーカープール）
	p.collectQueues = make(map[model.CollectorType]*queue.Queue[model.CollectorJob], len(registry))
	for ct, col := range registry {
		p.collectQueues[ct] = queue.New[model.CollectorJob](
			"collect:"+string(ct),
			queue.Options{
				Workers:    cfg.CollectorWorkers,
				JobTimeout: cfg.FetchTimeout + 30*time.Second,
			},
			p.collectHandler(col),
			logger,
		)
	}

	// オーケストレーション
	orch := orchestrator.New(
		p.sourceRepo,
		&collectDispatcher{queues: p.collectQueues},
		logger,
		cfg.FetchLimit,
	)
	p.orchestrateQueue = queue.New[model.OrchestratorJob]("orchestrate", queue.Options{
		Workers:    2,
		JobTimeout: 10 * time.Second,
	}, orch.Handle, logger)

	// スケジューラーと優先度計算
	p.sched = scheduler.New(&orchestrateDispatcher{q: p.orchestrateQueue}, logger)
	p.calc = priority.NewCalculator(
		p.sourceRepo, p.tracker, p.sched, logger,
		cfg.PriorityBatchSize, cfg.ActiveWindowSeconds,
	)

	return p, nil
}

// collectHandler はコレクター1種別分のキューハンドラーを構築する。
// 実行結果は成否を問わず結果キューへ送られる。
func (p *pipeline) collectHandler(col collector.Collector) queue.Handler[model.CollectorJob] {
	return func(ctx context.Context, job model.CollectorJob) error {
		result := col.Collect(ctx, job)

		switch result.Status {
		case model.ResultStatusSuccess:
			p.metricsCollector.RecordCollectSuccess(string(job.SourceType))
		case model.ResultStatusError:
			code := model.ErrCodeUnknown
			if result.Error != nil {
				code = result.Error.Code
			}
			p.metricsCollector.RecordCollectFailure(string(job.SourceType), code)
		}
		p.metricsCollector.RecordCollectLatency(string(job.SourceType), result.ProcessingTime)

		p.resultQueue.Enqueue(result, job.Priority)
		return nil
	}
}

// start はパイプラインの全ワーカーとスケジュールを起動する。
// ctxのキャンセルで全コンポーネントが停止する。
func (p *pipeline) start(ctx context.Context) error {
	// トラッカーとキャッシュのループはキャンセルまで戻らない
	go p.tracker.Start(ctx)
	go p.postCache.Start(ctx)
	p.relay.Start(ctx)
	p.orchestrateQueue.Start(ctx)
	p.resultQueue.Start(ctx)
	for _, q := range p.collectQueues {
		q.Start(ctx)
	}

	// 優先度再計算を外部cronで定期実行する。
	// 前回の走査が終わらないうちは次の発火をスキップし、並列実行を1に抑える。
	p.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := p.cron.AddFunc(p.cfg.PriorityCronSpec, func() {
		if err := p.calc.RunOnce(ctx); err != nil {
			p.logger.Error("優先度再計算に失敗しました", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("優先度再計算のスケジュールに失敗: %w", err)
	}
	p.cron.Start()

	// 起動直後に1回走査して既存ソースのスケジュールを復元する
	go func() {
		if err := p.calc.RunOnce(ctx); err != nil {
			p.logger.Error("初回の優先度計算に失敗しました", slog.String("error", err.Error()))
		}
	}()

	go p.pollQueueDepth(ctx)

	p.logger.Info("収集パイプラインを開始しました",
		slog.Int("collector_workers", p.cfg.CollectorWorkers),
		slog.Int("result_workers", p.cfg.ResultWorkers),
		slog.String("priority_cron", p.cfg.PriorityCronSpec),
	)
	return nil
}

// stop はcronとスケジューラーを停止し、ワーカーの終了を待つ。
func (p *pipeline) stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
	p.sched.Stop()
	p.orchestrateQueue.Wait()
	for _, q := range p.collectQueues {
		q.Wait()
	}
	p.resultQueue.Wait()
	p.relay.Wait()
}

// pollQueueDepth は各キューの滞留ジョブ数を定期的にメトリクスへ反映する。
func (p *pipeline) pollQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.metricsCollector.SetQueueDepth("orchestrate", p.orchestrateQueue.Depth())
			p.metricsCollector.SetQueueDepth("results", p.resultQueue.Depth())
			for ct, q := range p.collectQueues {
				p.metricsCollector.SetQueueDepth("collect:"+string(ct), q.Depth())
			}
			p.metricsCollector.SetQueueDepth("media", p.relay.PendingCount())
		}
	}
}

// buildObjectStore はメディア転送先のストレージを構築する。
// バケット未設定の場合はインメモリ実装にフォールバックする。
func buildObjectStore(cfg *config.Config, logger *slog.Logger) (objectstore.ObjectStore, error) {
	if cfg.MediaBucket == "" {
		logger.Warn("MEDIA_BUCKETが未設定のため、メディアはインメモリストアに保存されます")
		return objectstore.NewMemoryStore(), nil
	}

	store, err := objectstore.NewS3Store(context.Background(), objectstore.S3Options{
		Bucket:   cfg.MediaBucket,
		Region:   cfg.MediaS3Region,
		Endpoint: cfg.MediaS3Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("オブジェクトストレージの初期化に失敗: %w", err)
	}
	return store, nil
}
