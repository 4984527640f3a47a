// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/harvester/internal/model"
)

// SourceRepository はソースデータの永続化インターフェース。
type SourceRepository interface {
	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Source, error)

	// FindByURL はURLでソースを検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Source, error)

	// Create はソースを作成する。
	Create(ctx context.Context, source *model.Source) error

	// UpdateMetadata はフェッチ試行後のソースメタデータを更新する。
	// meta.Cursorがnilの場合はカーソルを変更しない（据え置き）。
	// 書き込みはResult Processorのみが行う。
	UpdateMetadata(ctx context.Context, id string, meta model.SourceMetadata) error

	// ListPaginated はソース一覧をoffset/limitでページング取得する。
	// Priority Calculatorの全件スキャンに使用する。
	ListPaginated(ctx context.Context, offset, limit int) (*model.SourcePage, error)
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// ExistsByExternalIDs は指定ソースにおいて既に永続化済みの
	// external_idの集合を1クエリで返す（バッチ重複チェック）。
	ExistsByExternalIDs(ctx context.Context, sourceID string, externalIDs []string) (map[string]struct{}, error)

	// SaveMany は投稿をバッチ挿入する。
	// (source_id, external_id)の一意制約衝突はスキップする（insert-or-ignore）。
	SaveMany(ctx context.Context, posts []*model.Post) error

	// ListRecentBySource はソースの最新投稿をpublished_at降順で取得する。
	ListRecentBySource(ctx context.Context, sourceID string, limit int) ([]*model.Post, error)
}
