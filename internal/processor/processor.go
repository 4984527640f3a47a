package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/harvester/internal/content"
	"github.com/hitoshi/harvester/internal/model"
	"github.com/hitoshi/harvester/internal/repository"
)

// PostCache は投稿一覧キャッシュへの書き込みを抽象化する。
type PostCache interface {
	SetJSON(key string, value any, ttl time.Duration) error
	Delete(key string)
}

// MediaRelay はメディア転送ジョブの投入を抽象化する。
// 投入は非ブロッキングであり、処理の成否はプロセッサーに影響しない。
type MediaRelay interface {
	EnqueueMedia(sourceID, postID string, urls []string)
}

// MetricsRecorder は処理結果のメトリクス記録を抽象化する。
type MetricsRecorder interface {
	RecordPostsSaved(count int)
	RecordPostsDeduplicated(count int)
	RecordSourcePaused(sourceType string)
}

// Processor はコレクターのResultJobを消費し、
// 永続化・キャッシュ更新・ソース状態遷移を行う。
type Processor struct {
	sources  repository.SourceRepository
	posts    repository.PostRepository
	cache    PostCache
	relay    MediaRelay
	metrics  MetricsRecorder
	logger   *slog.Logger
	cacheTTL time.Duration

	// now はテスト時に差し替え可能な現在時刻取得関数。
	now func() time.Time
}

// CacheKeyPosts はソースの投稿一覧キャッシュのキーを返す。
func CacheKeyPosts(sourceID string) string {
	return "posts:" + sourceID
}

// cachedPostLimit はキャッシュに載せる最新投稿の件数。
const cachedPostLimit = 20

// New はProcessorの新しいインスタンスを生成する。
// relayはnil可（メディア転送を無効化する）。
func New(sources repository.SourceRepository, posts repository.PostRepository, cache PostCache, relay MediaRelay, logger *slog.Logger, cacheTTL time.Duration) *Processor {
	return &Processor{
		sources:  sources,
		posts:    posts,
		cache:    cache,
		relay:    relay,
		logger:   logger,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// WithMetrics はメトリクス記録を有効化する。
func (p *Processor) WithMetrics(m MetricsRecorder) *Processor {
	p.metrics = m
	return p
}

// Handle はResultJobを1件処理する。
// 成功結果は重複排除・正規化・永続化・キャッシュ更新・メタデータ更新を行い、
// 失敗結果はエラー分類に応じてソースをerrorまたはpausedに遷移させる。
func (p *Processor) Handle(ctx context.Context, result model.ResultJob) error {
	switch result.Status {
	case model.ResultStatusSuccess:
		return p.handleSuccess(ctx, result)
	case model.ResultStatusError:
		return p.handleError(ctx, result)
	default:
		p.logger.Error("未知の結果ステータスのため破棄します",
			slog.String("source_id", result.SourceID),
			slog.String("status", string(result.Status)),
		)
		return nil
	}
}

// handleSuccess は成功結果を処理する。
// 投稿が空でもメタデータ更新（カーソル・状態遷移）は必ず行う。
func (p *Processor) handleSuccess(ctx context.Context, result model.ResultJob) error {
	newPosts, err := p.dedup(ctx, result)
	if err != nil {
		return err
	}

	saved := make([]*model.Post, 0, len(newPosts))
	for _, fp := range newPosts {
		saved = append(saved, p.normalize(result.SourceID, fp, result.FetchedAt))
	}

	if len(saved) > 0 {
		if err := p.posts.SaveMany(ctx, saved); err != nil {
			return fmt.Errorf("投稿の保存に失敗: %w", err)
		}
		p.enqueueMedia(saved)
	}

	if p.metrics != nil {
		p.metrics.RecordPostsSaved(len(saved))
		p.metrics.RecordPostsDeduplicated(len(result.Posts) - len(saved))
	}

	p.refreshCache(ctx, result.SourceID)

	fetchedAt := result.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = p.now()
	}
	// NextCursorがnilの場合はカーソル据え置き（COALESCEで前回値を維持）
	meta := model.SourceMetadata{
		Status:        model.SourceStatusActive,
		Cursor:        result.NextCursor,
		LastFetchedAt: fetchedAt,
		LastError:     "",
	}
	if err := p.sources.UpdateMetadata(ctx, result.SourceID, meta); err != nil {
		return fmt.Errorf("ソースメタデータの更新に失敗: %w", err)
	}

	p.logger.Info("収集結果を処理しました",
		slog.String("source_id", result.SourceID),
		slog.Int("fetched", len(result.Posts)),
		slog.Int("saved", len(saved)),
		slog.Duration("processing_time", result.ProcessingTime),
	)
	return nil
}

// dedup はバッチ内の投稿から永続化済みのものを1クエリで除外する。
func (p *Processor) dedup(ctx context.Context, result model.ResultJob) ([]model.FetchedPost, error) {
	if len(result.Posts) == 0 {
		return nil, nil
	}

	externalIDs := make([]string, 0, len(result.Posts))
	for _, fp := range result.Posts {
		externalIDs = append(externalIDs, fp.ExternalID)
	}

	existing, err := p.posts.ExistsByExternalIDs(ctx, result.SourceID, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("重複チェックに失敗: %w", err)
	}

	newPosts := make([]model.FetchedPost, 0, len(result.Posts))
	for _, fp := range result.Posts {
		if _, ok := existing[fp.ExternalID]; ok {
			continue
		}
		newPosts = append(newPosts, fp)
	}
	return newPosts, nil
}

// normalize は取得アイテムを永続化可能なPostに変換する。
func (p *Processor) normalize(sourceID string, fp model.FetchedPost, fetchedAt time.Time) *model.Post {
	if fetchedAt.IsZero() {
		fetchedAt = p.now()
	}
	return &model.Post{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		ExternalID:  fp.ExternalID,
		Title:       content.ExtractTitle(fp.Content),
		RawContent:  fp.Content,
		Blocks:      content.Normalize(fp.Content, fp.MediaURLs),
		MediaURLs:   fp.MediaURLs,
		Author:      fp.Author,
		Metrics:     fp.Metrics,
		PublishedAt: fp.PublishedAt,
		FetchedAt:   fetchedAt,
		CreatedAt:   p.now().UTC(),
	}
}

// enqueueMedia は保存済み投稿のメディアURLを転送キューへ渡す。
// 転送はベストエフォートであり、処理をブロックしない。
func (p *Processor) enqueueMedia(saved []*model.Post) {
	if p.relay == nil {
		return
	}
	for _, post := range saved {
		if len(post.MediaURLs) > 0 {
			p.relay.EnqueueMedia(post.SourceID, post.ID, post.MediaURLs)
		}
	}
}

// refreshCache はソースの投稿一覧キャッシュを再構築する。
// キャッシュ更新の失敗は収集結果の処理を失敗させない。
func (p *Processor) refreshCache(ctx context.Context, sourceID string) {
	if p.cache == nil {
		return
	}

	recent, err := p.posts.ListRecentBySource(ctx, sourceID, cachedPostLimit)
	if err != nil {
		p.logger.Warn("キャッシュ再構築用の投稿取得に失敗しました",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := p.cache.SetJSON(CacheKeyPosts(sourceID), recent, p.cacheTTL); err != nil {
		p.logger.Warn("投稿キャッシュの更新に失敗しました",
			slog.String("source_id", sourceID),
			slog.String("error", err.Error()),
		)
	}
}

// handleError は失敗結果を処理する。
// 恒久エラーはソースをpausedに、一時的エラーはerrorに遷移させる。
func (p *Processor) handleError(ctx context.Context, result model.ResultJob) error {
	collectErr := result.Error
	if collectErr == nil {
		collectErr = &model.CollectError{Code: model.ErrCodeUnknown, Message: "詳細不明の収集失敗"}
	}

	fetchedAt := result.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = p.now()
	}

	meta := model.SourceMetadata{
		Cursor:        nil, // 失敗時はカーソル据え置き
		LastFetchedAt: fetchedAt,
		LastError:     collectErr.Error(),
	}

	if isPermanent(collectErr) {
		meta.Status = model.SourceStatusPaused
		if p.metrics != nil {
			p.metrics.RecordSourcePaused(string(result.SourceType))
		}
		p.logger.Warn("恒久エラーのためソースを一時停止します",
			slog.String("source_id", result.SourceID),
			slog.String("error_code", collectErr.Code),
			slog.String("error", collectErr.Message),
		)
	} else {
		meta.Status = model.SourceStatusError
		p.logger.Info("一時的エラーを記録しました",
			slog.String("source_id", result.SourceID),
			slog.String("error_code", collectErr.Code),
			slog.String("error", collectErr.Message),
		)
	}

	if err := p.sources.UpdateMetadata(ctx, result.SourceID, meta); err != nil {
		return fmt.Errorf("ソースメタデータの更新に失敗: %w", err)
	}
	return nil
}
