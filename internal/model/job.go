// Package model はドメインモデルを定義する。
package model

import "time"

// OrchestratorJob はスケジューラーからオーケストレーターへ渡される発火1回分を表す。
type OrchestratorJob struct {
	SourceID   string
	Priority   int
	ScheduleID string
	FiredAt    time.Time
}

// CollectorJob はオーケストレーターからコレクターへ渡される作業単位を表す。
// ディスパッチごとに新規作成され、永続化されず、1回のコレクター呼び出しで消費される。
type CollectorJob struct {
	SourceID   string
	SourceType SourceType
	// ExternalID はソースURLから抽出されたプロバイダー固有のハンドル。
	ExternalID string
	// Cursor はディスパッチ時点のソースのカーソルのスナップショット。
	Cursor   string
	Limit    int
	Priority int
	Metadata JobMetadata
}

// JobMetadata はジョブのトレーサビリティ情報を保持する。
type JobMetadata struct {
	OrchestrationID string
	ScheduledAt     time.Time
	PrevCursor      string
	FetchConfig     map[string]string
}

// ResultStatus はコレクター実行結果の種別を表す。
type ResultStatus string

const (
	// ResultStatusSuccess は収集成功。
	ResultStatusSuccess ResultStatus = "success"
	// ResultStatusError は収集失敗。
	ResultStatusError ResultStatus = "error"
)

// ResultJob はコレクターからResult Processorへ渡される作業単位を表す。
// コレクターが作成し、Result Processorが1回だけ消費する。
type ResultJob struct {
	SourceID   string
	SourceType SourceType
	Status     ResultStatus
	// 成功時のみ設定される。NextCursorがnilの場合はカーソル据え置きを意味する。
	Posts      []FetchedPost
	NextCursor *string
	// 失敗時のみ設定される。
	Error          *CollectError
	ProcessingTime time.Duration
	Metadata       JobMetadata
	FetchedAt      time.Time
}
