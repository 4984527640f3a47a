// Package model はドメインモデルを定義する。
package model

import "time"

// FetchedPost はプロバイダー非依存の取得アイテム1件を表す。
// ExternalIDは(sourceId, externalId)の組で一意となる自然な重複排除キー。
type FetchedPost struct {
	ExternalID  string
	Content     string // 未パースの生テキスト
	MediaURLs   []string
	PublishedAt time.Time
	Author      PostAuthor
	Metrics     PostMetrics
}

// PostAuthor は投稿者情報を表す。全フィールド任意。
// JSONBカラムにそのまま格納されるためjsonタグを持つ。
type PostAuthor struct {
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// PostMetrics はプロバイダー依存のエンゲージメント指標を表す。
type PostMetrics struct {
	Likes    int `json:"likes,omitempty"`
	Comments int `json:"comments,omitempty"`
	Shares   int `json:"shares,omitempty"`
}

// Post は正規化後に永続化される投稿を表す。
type Post struct {
	ID          string
	SourceID    string
	ExternalID  string
	Title       string
	RawContent  string
	Blocks      []ContentBlock
	MediaURLs   []string
	Author      PostAuthor
	Metrics     PostMetrics
	PublishedAt time.Time
	FetchedAt   time.Time
	CreatedAt   time.Time
}

// BlockType はコンテンツブロックの種類を表す。
type BlockType string

const (
	// BlockTypeHeading は見出しブロック。
	BlockTypeHeading BlockType = "heading"
	// BlockTypeParagraph は段落ブロック。
	BlockTypeParagraph BlockType = "paragraph"
	// BlockTypeImage は画像ブロック。
	BlockTypeImage BlockType = "image"
	// BlockTypeVideo は動画ブロック。
	BlockTypeVideo BlockType = "video"
	// BlockTypeAudio は音声ブロック。
	BlockTypeAudio BlockType = "audio"
)

// ContentBlock は正規化されたコンテンツの1ブロックを表す。
// Levelは見出しブロックのみで使用される（1〜3）。
// URLはメディアブロックのみで使用される。
type ContentBlock struct {
	Type  BlockType `json:"type"`
	Text  string    `json:"text,omitempty"`
	Level int       `json:"level,omitempty"`
	URL   string    `json:"url,omitempty"`
}
