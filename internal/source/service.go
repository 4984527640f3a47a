// Package source はソース登録・管理のドメインロジックを提供する。
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/harvester/internal/model"
	"github.com/hitoshi/harvester/internal/processor"
	"github.com/hitoshi/harvester/internal/repository"
	"github.com/hitoshi/harvester/internal/scheduler"
	"github.com/hitoshi/harvester/internal/sourcedetect"
)

// TypeDetector はURL分類のインターフェース。
// sourcedetect.Detectorを抽象化してテスタビリティを向上させる。
type TypeDetector interface {
	Detect(ctx context.Context, inputURL string) (model.SourceType, error)
}

// ManualTrigger は手動取得トリガーのインターフェース。
type ManualTrigger interface {
	TriggerManual(sourceID string, opts scheduler.ManualOptions)
}

// ActivityRecorder は閲覧アクティビティ記録のインターフェース。
type ActivityRecorder interface {
	MarkActive(sourceID, userID string)
}

// PostCacheReader は投稿一覧キャッシュの読み取りインターフェース。
type PostCacheReader interface {
	GetJSON(key string, dest any) (bool, error)
}

// Service はソース管理のドメインサービス。
type Service struct {
	sources  repository.SourceRepository
	posts    repository.PostRepository
	cache    PostCacheReader
	detector TypeDetector
	trigger  ManualTrigger
	activity ActivityRecorder
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// trigger・activity・cacheはnil可（該当機能が無効になる）。
func NewService(
	sources repository.SourceRepository,
	posts repository.PostRepository,
	cache PostCacheReader,
	detector TypeDetector,
	trigger ManualTrigger,
	activity ActivityRecorder,
	logger *slog.Logger,
) *Service {
	return &Service{
		sources:  sources,
		posts:    posts,
		cache:    cache,
		detector: detector,
		trigger:  trigger,
		activity: activity,
		logger:   logger,
	}
}

// Register はURLを分類してソースを登録する。
// 登録直後のソースはpending_validationで、初回取得を即時トリガーする。
// 初回取得の成功がソースをactiveに昇格させる。
func (s *Service) Register(ctx context.Context, inputURL string) (*model.Source, error) {
	normalized := strings.TrimSpace(inputURL)

	sourceType, err := s.detector.Detect(ctx, normalized)
	if err != nil {
		return nil, err
	}

	existing, err := s.sources.FindByURL(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("登録済みソースの検索に失敗: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateSourceError()
	}

	collectorType, err := model.CollectorTypeFor(sourceType)
	if err != nil {
		return nil, model.NewSourceNotDetectedError(normalized)
	}

	externalID, err := sourcedetect.ExternalID(sourceType, normalized)
	if err != nil {
		return nil, model.NewSourceNotDetectedError(normalized)
	}

	now := time.Now().UTC()
	src := &model.Source{
		ID:            uuid.NewString(),
		URL:           normalized,
		DisplayName:   displayNameFor(sourceType, externalID, normalized),
		SourceType:    sourceType,
		CollectorType: collectorType,
		Status:        model.SourceStatusPendingValidation,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.sources.Create(ctx, src); err != nil {
		return nil, fmt.Errorf("ソースの作成に失敗: %w", err)
	}

	s.logger.Info("ソースを登録しました",
		slog.String("source_id", src.ID),
		slog.String("source_type", string(sourceType)),
		slog.String("url", normalized),
	)

	// 初回取得を即時トリガーして検証する
	if s.trigger != nil {
		s.trigger.TriggerManual(src.ID, scheduler.ManualOptions{})
	}

	return src, nil
}

// Get はソースを1件取得する。存在しない場合はSourceNotFoundエラー。
func (s *Service) Get(ctx context.Context, sourceID string) (*model.Source, error) {
	src, err := s.sources.FindByID(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗: %w", err)
	}
	if src == nil {
		return nil, model.NewSourceNotFoundError(sourceID)
	}
	return src, nil
}

// Refresh はソースの手動取得を最高優先度でトリガーする。
func (s *Service) Refresh(ctx context.Context, sourceID, userID string) error {
	src, err := s.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	if s.trigger != nil {
		s.trigger.TriggerManual(src.ID, scheduler.ManualOptions{UserID: userID})
	}
	return nil
}

// RecordActivity はソースの閲覧アクティビティを記録する。
// 記録はファイアアンドフォーゲットで、呼び出しをブロックしない。
func (s *Service) RecordActivity(ctx context.Context, sourceID, userID string) error {
	src, err := s.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	if s.activity != nil {
		s.activity.MarkActive(src.ID, userID)
	}
	return nil
}

// ListPosts はソースの最新投稿を返す。
// キャッシュヒット時はデータベースに触れず、ミス時はリポジトリから取得する。
func (s *Service) ListPosts(ctx context.Context, sourceID string, limit int) ([]*model.Post, error) {
	if _, err := s.Get(ctx, sourceID); err != nil {
		return nil, err
	}

	if s.cache != nil {
		var cached []*model.Post
		hit, err := s.cache.GetJSON(processor.CacheKeyPosts(sourceID), &cached)
		if err == nil && hit {
			if limit > 0 && len(cached) > limit {
				cached = cached[:limit]
			}
			return cached, nil
		}
	}

	posts, err := s.posts.ListRecentBySource(ctx, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗: %w", err)
	}
	return posts, nil
}

// displayNameFor は登録時の表示名を導出する。
func displayNameFor(sourceType model.SourceType, externalID, rawURL string) string {
	switch sourceType {
	case model.SourceTypeMessagingChannel, model.SourceTypeScrapedProfile:
		return externalID
	default:
		if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}
		return rawURL
	}
}
