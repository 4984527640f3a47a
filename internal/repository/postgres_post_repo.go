package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/harvester/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// ExistsByExternalIDs は指定ソースで永続化済みのexternal_idの集合を返す。
// N+1を避けるためANY($2)で1クエリにまとめる。
func (r *PostgresPostRepo) ExistsByExternalIDs(ctx context.Context, sourceID string, externalIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(externalIDs) == 0 {
		return existing, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT external_id FROM posts WHERE source_id = $1 AND external_id = ANY($2)`,
		sourceID, pq.Array(externalIDs))
	if err != nil {
		return nil, fmt.Errorf("重複チェッククエリに失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("external_idの読み取りに失敗しました: %w", err)
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("重複チェック結果の走査に失敗しました: %w", err)
	}

	return existing, nil
}

// SaveMany は投稿をバッチ挿入する。
// (source_id, external_id)の一意制約衝突はON CONFLICT DO NOTHINGでスキップする。
// 先行挿入と競合した再配送がバッチ全体を失敗させないための措置。
func (r *PostgresPostRepo) SaveMany(ctx context.Context, posts []*model.Post) error {
	if len(posts) == 0 {
		return nil
	}

	const cols = 12
	placeholders := make([]string, 0, len(posts))
	args := make([]any, 0, len(posts)*cols)

	for i, post := range posts {
		blocks, err := json.Marshal(post.Blocks)
		if err != nil {
			return fmt.Errorf("ブロックのエンコードに失敗しました: %w", err)
		}
		mediaURLs, err := json.Marshal(post.MediaURLs)
		if err != nil {
			return fmt.Errorf("メディアURLのエンコードに失敗しました: %w", err)
		}
		author, err := json.Marshal(post.Author)
		if err != nil {
			return fmt.Errorf("投稿者情報のエンコードに失敗しました: %w", err)
		}
		metrics, err := json.Marshal(post.Metrics)
		if err != nil {
			return fmt.Errorf("メトリクスのエンコードに失敗しました: %w", err)
		}

		base := i * cols
		ph := make([]string, cols)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")
		args = append(args,
			post.ID, post.SourceID, post.ExternalID, post.Title, post.RawContent,
			blocks, mediaURLs, author, metrics,
			post.PublishedAt, post.FetchedAt, post.CreatedAt,
		)
	}

	query := `INSERT INTO posts (id, source_id, external_id, title, raw_content,
	                             blocks, media_urls, author, metrics,
	                             published_at, fetched_at, created_at)
	          VALUES ` + strings.Join(placeholders, ", ") + `
	          ON CONFLICT (source_id, external_id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("投稿のバッチ挿入に失敗しました: %w", err)
	}
	return nil
}

// ListRecentBySource はソースの最新投稿をpublished_at降順で取得する。
func (r *PostgresPostRepo) ListRecentBySource(ctx context.Context, sourceID string, limit int) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source_id, external_id, title, raw_content,
		        blocks, media_urls, author, metrics,
		        published_at, fetched_at, created_at
		 FROM posts
		 WHERE source_id = $1
		 ORDER BY published_at DESC
		 LIMIT $2`,
		sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post := &model.Post{}
		var blocks, mediaURLs, author, metrics []byte

		err := rows.Scan(
			&post.ID, &post.SourceID, &post.ExternalID, &post.Title, &post.RawContent,
			&blocks, &mediaURLs, &author, &metrics,
			&post.PublishedAt, &post.FetchedAt, &post.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("投稿行の読み取りに失敗しました: %w", err)
		}

		if err := json.Unmarshal(blocks, &post.Blocks); err != nil {
			return nil, fmt.Errorf("ブロックのデコードに失敗しました: %w", err)
		}
		if err := json.Unmarshal(mediaURLs, &post.MediaURLs); err != nil {
			return nil, fmt.Errorf("メディアURLのデコードに失敗しました: %w", err)
		}
		if err := json.Unmarshal(author, &post.Author); err != nil {
			return nil, fmt.Errorf("投稿者情報のデコードに失敗しました: %w", err)
		}
		if err := json.Unmarshal(metrics, &post.Metrics); err != nil {
			return nil, fmt.Errorf("メトリクスのデコードに失敗しました: %w", err)
		}

		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の走査に失敗しました: %w", err)
	}

	return posts, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
