// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Source はフォロー可能な外部パブリッシャーのエンドポイントを表す。
type Source struct {
	ID            string
	URL           string
	DisplayName   string
	SourceType    SourceType
	CollectorType CollectorType
	Status        SourceStatus
	// Cursor はプロバイダー固有のページネーショントークン。
	// Result Processorのみが書き込む。
	Cursor      string
	FetchConfig map[string]string
	LastFetchedAt *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SourceType はソースの種類を表す。
type SourceType string

const (
	// SourceTypeMessagingChannel はメッセージングAPI経由で取得するチャンネル。
	SourceTypeMessagingChannel SourceType = "messaging_channel"
	// SourceTypeRSSFeed はRSS/Atomフィード。
	SourceTypeRSSFeed SourceType = "rss_feed"
	// SourceTypeScrapedProfile はHTMLスクレイピングで取得するプロフィールページ。
	SourceTypeScrapedProfile SourceType = "scraped_profile"
)

// AllSourceTypes は登録済みの全ソース種別を返す。
// 起動時のコレクター網羅性チェックに使用する。
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceTypeMessagingChannel,
		SourceTypeRSSFeed,
		SourceTypeScrapedProfile,
	}
}

// CollectorType はソースを処理するコレクター戦略の種類を表す。
type CollectorType string

const (
	// CollectorTypeAPI はメッセージングAPIコレクター。
	CollectorTypeAPI CollectorType = "api"
	// CollectorTypeRSS はRSSコレクター。
	CollectorTypeRSS CollectorType = "rss"
	// CollectorTypeScraper はスクレイピングコレクター。
	CollectorTypeScraper CollectorType = "scraper"
)

// CollectorTypeFor はソース種別から対応するコレクター種別を決定する。
// 対応はソース種別の決定的な関数であり、未知の種別はエラーを返す。
func CollectorTypeFor(st SourceType) (CollectorType, error) {
	switch st {
	case SourceTypeMessagingChannel:
		return CollectorTypeAPI, nil
	case SourceTypeRSSFeed:
		return CollectorTypeRSS, nil
	case SourceTypeScrapedProfile:
		return CollectorTypeScraper, nil
	default:
		return "", fmt.Errorf("未知のソース種別です: %s", st)
	}
}

// SourceStatus はソースの状態を表す。
// 状態遷移: active ⇄ error → paused、pending_validation → active。
type SourceStatus string

const (
	// SourceStatusActive は収集対象のアクティブ状態。
	SourceStatusActive SourceStatus = "active"
	// SourceStatusError は一時的エラーによる劣化状態。収集は継続される。
	SourceStatusError SourceStatus = "error"
	// SourceStatusPaused は恒久的エラーまたは無関心による停止状態。
	// スケジューラーの定期実行からは除外される。
	SourceStatusPaused SourceStatus = "paused"
	// SourceStatusPendingValidation はURL検証待ちの初期状態。
	SourceStatusPendingValidation SourceStatus = "pending_validation"
)

// SourceMetadata はResult Processorがフェッチ試行ごとに更新する
// ソースのメタデータを表す。Cursorがnilの場合は既存カーソルを維持する。
type SourceMetadata struct {
	Status        SourceStatus
	Cursor        *string
	LastFetchedAt time.Time
	LastError     string
}

// SourcePage はページネーション付きソース一覧の1ページを表す。
type SourcePage struct {
	Data    []*Source
	Total   int
	HasMore bool
}
