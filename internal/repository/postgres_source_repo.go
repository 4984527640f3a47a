package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/harvester/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, url, display_name, source_type, collector_type, status,
	        cursor, fetch_config, last_fetched_at, last_error, created_at, updated_at`

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)

	source, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return source, nil
}

// FindByURL はURLでソースを検索する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByURL(ctx context.Context, url string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE url = $1`, url)

	source, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによるソースの検索に失敗しました: %w", err)
	}
	return source, nil
}

// Create はソースを作成する。
func (r *PostgresSourceRepo) Create(ctx context.Context, source *model.Source) error {
	fetchConfig, err := json.Marshal(source.FetchConfig)
	if err != nil {
		return fmt.Errorf("フェッチ設定のエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sources (id, url, display_name, source_type, collector_type, status,
		                      cursor, fetch_config, last_fetched_at, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		source.ID, source.URL, source.DisplayName,
		source.SourceType, source.CollectorType, source.Status,
		nullString(source.Cursor), fetchConfig,
		source.LastFetchedAt, nullString(source.LastError),
		source.CreatedAt, source.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ソースの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateMetadata はフェッチ試行後のソースメタデータを更新する。
// meta.Cursorがnilの場合はカーソルを変更しない。
func (r *PostgresSourceRepo) UpdateMetadata(ctx context.Context, id string, meta model.SourceMetadata) error {
	// COALESCEでnilカーソルの据え置きをSQL側で処理する
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET
		    status = $2,
		    cursor = COALESCE($3, cursor),
		    last_fetched_at = $4,
		    last_error = $5,
		    updated_at = now()
		 WHERE id = $1`,
		id, meta.Status, meta.Cursor, meta.LastFetchedAt, nullString(meta.LastError),
	)
	if err != nil {
		return fmt.Errorf("ソースメタデータの更新に失敗しました: %w", err)
	}
	return nil
}

// ListPaginated はソース一覧をoffset/limitでページング取得する。
func (r *PostgresSourceRepo) ListPaginated(ctx context.Context, offset, limit int) (*model.SourcePage, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`).Scan(&total); err != nil {
		return nil, fmt.Errorf("ソース件数の取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY created_at ASC OFFSET $1 LIMIT $2`,
		offset, limit)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("ソース行の読み取りに失敗しました: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の走査に失敗しました: %w", err)
	}

	return &model.SourcePage{
		Data:    sources,
		Total:   total,
		HasMore: offset+len(sources) < total,
	}, nil
}

// rowScanner はsql.Rowとsql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSource は1行をmodel.Sourceにスキャンする。
func scanSource(row rowScanner) (*model.Source, error) {
	source := &model.Source{}
	var cursor, lastError sql.NullString
	var fetchConfig []byte
	var lastFetchedAt sql.NullTime

	err := row.Scan(
		&source.ID, &source.URL, &source.DisplayName,
		&source.SourceType, &source.CollectorType, &source.Status,
		&cursor, &fetchConfig, &lastFetchedAt, &lastError,
		&source.CreatedAt, &source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	source.Cursor = nullStringValue(cursor)
	source.LastError = nullStringValue(lastError)
	if lastFetchedAt.Valid {
		t := lastFetchedAt.Time
		source.LastFetchedAt = &t
	}
	if len(fetchConfig) > 0 {
		if err := json.Unmarshal(fetchConfig, &source.FetchConfig); err != nil {
			return nil, fmt.Errorf("フェッチ設定のデコードに失敗しました: %w", err)
		}
	}

	return source, nil
}

// nullString は空文字列をNULLに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はNullStringから値を取り出す。NULLの場合は空文字列を返す。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ SourceRepository = (*PostgresSourceRepo)(nil)
