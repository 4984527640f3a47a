// Package media は投稿メディアのオブジェクトストレージへの転送を提供する。
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/harvester/internal/objectstore"
)

const (
	// defaultMaxAttempts は1ジョブあたりの最大試行回数。
	defaultMaxAttempts = 5
	// initialBackoff は初回リトライまでの待機時間。以降は指数的に倍増する。
	initialBackoff = 2 * time.Second
	// maxBackoff はリトライ待機時間の上限。
	maxBackoff = 2 * time.Minute
	// queueCapacity は転送待ちジョブの上限。超過分は破棄される。
	queueCapacity = 1024
	// maxFinishedRecords は保持する完了・失敗レコードの上限。
	// 超過時は古いものから刈り取られる。
	maxFinishedRecords = 500
	// maxDownloadSize はダウンロードする1ファイルの最大サイズ。
	maxDownloadSize = 50 * 1024 * 1024
)

// JobState は転送ジョブの状態を表す。
type JobState string

const (
	// JobStatePending は転送待ちまたは転送中。
	JobStatePending JobState = "pending"
	// JobStateCompleted は転送完了。
	JobStateCompleted JobState = "completed"
	// JobStateFailed は最大試行回数到達による失敗。
	JobStateFailed JobState = "failed"
)

// JobStatus は転送ジョブ1件の現在の状態。
type JobStatus struct {
	ID         string
	SourceID   string
	PostID     string
	URL        string
	State      JobState
	Attempts   int
	Location   string // 完了時のストレージロケーション
	LastError  string
	FinishedAt time.Time
}

// transferJob は転送キューに載る内部ジョブ。
type transferJob struct {
	id       string
	sourceID string
	postID   string
	url      string
	attempt  int
}

// MetricsRecorder は転送結果のメトリクス記録を抽象化する。
type MetricsRecorder interface {
	RecordMediaTransferred()
	RecordMediaFailed()
}

// Relay はメディア転送ワーカー。
// プロセッサーからの投入は非ブロッキングで、キュー満杯時はジョブを破棄する。
type Relay struct {
	store       objectstore.ObjectStore
	httpClient  *http.Client
	logger      *slog.Logger
	metrics     MetricsRecorder
	jobs        chan transferJob
	maxAttempts int
	workers     int

	mu       sync.Mutex
	statuses map[string]*JobStatus
	finished []string // 完了・失敗ジョブIDの到着順リスト（刈り取り用）

	wg sync.WaitGroup
}

// NewRelay はRelayの新しいインスタンスを生成する。
// maxAttemptsが0以下の場合はデフォルト値を使用する。
func NewRelay(store objectstore.ObjectStore, httpClient *http.Client, logger *slog.Logger, workers, maxAttempts int) *Relay {
	if workers <= 0 {
		workers = 1
	}
	if maxAttempts <= 0 || maxAttempts > defaultMaxAttempts {
		maxAttempts = defaultMaxAttempts
	}
	return &Relay{
		store:       store,
		httpClient:  httpClient,
		logger:      logger,
		jobs:        make(chan transferJob, queueCapacity),
		maxAttempts: maxAttempts,
		workers:     workers,
		statuses:    make(map[string]*JobStatus),
	}
}

// WithMetrics はメトリクス記録を有効化する。
func (r *Relay) WithMetrics(m MetricsRecorder) *Relay {
	r.metrics = m
	return r
}

// Start は転送ワーカーを起動する。ctxのキャンセルで停止する。
func (r *Relay) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	r.logger.Info("メディア転送ワーカーを開始しました",
		slog.Int("workers", r.workers),
		slog.Int("max_attempts", r.maxAttempts),
	)
}

// Wait は全ワーカーの終了を待つ。
func (r *Relay) Wait() {
	r.wg.Wait()
}

// EnqueueMedia は投稿のメディアURL群を転送キューへ投入する。
// 投入は非ブロッキングで、キュー満杯時は警告ログを出してジョブを破棄する。
func (r *Relay) EnqueueMedia(sourceID, postID string, urls []string) {
	for _, u := range urls {
		job := transferJob{
			id:       uuid.NewString(),
			sourceID: sourceID,
			postID:   postID,
			url:      u,
			attempt:  0,
		}
		r.trackPending(job)

		select {
		case r.jobs <- job:
		default:
			r.logger.Warn("転送キューが満杯のためメディアジョブを破棄します",
				slog.String("source_id", sourceID),
				slog.String("post_id", postID),
				slog.String("url", u),
			)
			r.finish(job.id, JobStateFailed, "", "転送キューが満杯")
		}
	}
}

// Status は転送ジョブの状態を返す。刈り取り済みの場合はnil。
func (r *Relay) Status(id string) *JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.statuses[id]; ok {
		copied := *st
		return &copied
	}
	return nil
}

// PendingCount は転送待ちジョブ数を返す。
func (r *Relay) PendingCount() int {
	return len(r.jobs)
}

func (r *Relay) worker(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.jobs:
			r.transfer(ctx, job)
		}
	}
}

// transfer はメディアを1件ダウンロードしてストレージへ保存する。
// 失敗時は指数バックオフ付きで再投入し、最大試行回数で失敗を確定する。
func (r *Relay) transfer(ctx context.Context, job transferJob) {
	job.attempt++
	r.recordAttempt(job.id, job.attempt)

	location, err := r.transferOnce(ctx, job)
	if err == nil {
		r.finish(job.id, JobStateCompleted, location, "")
		r.logger.Debug("メディアを転送しました",
			slog.String("post_id", job.postID),
			slog.String("url", job.url),
			slog.String("location", location),
		)
		return
	}

	if job.attempt >= r.maxAttempts {
		r.finish(job.id, JobStateFailed, "", err.Error())
		r.logger.Warn("メディア転送が最大試行回数に達しました",
			slog.String("post_id", job.postID),
			slog.String("url", job.url),
			slog.Int("attempts", job.attempt),
			slog.String("error", err.Error()),
		)
		return
	}

	delay := backoffDelay(job.attempt)
	r.logger.Debug("メディア転送をリトライします",
		slog.String("url", job.url),
		slog.Int("attempt", job.attempt),
		slog.Duration("delay", delay),
	)
	time.AfterFunc(delay, func() {
		select {
		case r.jobs <- job:
		default:
			r.finish(job.id, JobStateFailed, "", "リトライ投入時にキューが満杯")
		}
	})
}

// transferOnce は1回分のダウンロードとアップロードを実行する。
func (r *Relay) transferOnce(ctx context.Context, job transferJob) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.url, nil)
	if err != nil {
		return "", fmt.Errorf("リクエストの作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Harvester/1.0 Media Relay")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ダウンロードに失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ダウンロード先がステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return "", fmt.Errorf("ボディの読み取りに失敗: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = guessContentType(job.url)
	}

	key := objectKey(job)
	location, err := r.store.Put(ctx, key, contentType, body)
	if err != nil {
		return "", fmt.Errorf("ストレージへの保存に失敗: %w", err)
	}
	return location, nil
}

// objectKey は転送先のオブジェクトキーを構築する。
func objectKey(job transferJob) string {
	ext := strings.ToLower(path.Ext(stripQuery(job.url)))
	return fmt.Sprintf("media/%s/%s/%s%s", job.sourceID, job.postID, job.id, ext)
}

// guessContentType はURLの拡張子からContent-Typeを推定する。
func guessContentType(rawURL string) string {
	ext := strings.ToLower(path.Ext(stripQuery(rawURL)))
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// stripQuery はURLからクエリ文字列とフラグメントを除去する。
func stripQuery(rawURL string) string {
	if idx := strings.IndexAny(rawURL, "?#"); idx >= 0 {
		return rawURL[:idx]
	}
	return rawURL
}

// backoffDelay はリトライ回数に応じた指数バックオフを返す。
func backoffDelay(attempt int) time.Duration {
	delay := initialBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func (r *Relay) trackPending(job transferJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[job.id] = &JobStatus{
		ID:       job.id,
		SourceID: job.sourceID,
		PostID:   job.postID,
		URL:      job.url,
		State:    JobStatePending,
	}
}

func (r *Relay) recordAttempt(id string, attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.statuses[id]; ok {
		st.Attempts = attempt
	}
}

// finish はジョブの終了状態を記録し、古い終了レコードを刈り取る。
func (r *Relay) finish(id string, state JobState, location, errMsg string) {
	if r.metrics != nil {
		switch state {
		case JobStateCompleted:
			r.metrics.RecordMediaTransferred()
		case JobStateFailed:
			r.metrics.RecordMediaFailed()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.statuses[id]
	if !ok {
		return
	}
	st.State = state
	st.Location = location
	st.LastError = errMsg
	st.FinishedAt = time.Now()
	r.finished = append(r.finished, id)

	// 終了レコードの保持数を制限する
	for len(r.finished) > maxFinishedRecords {
		oldest := r.finished[0]
		r.finished = r.finished[1:]
		delete(r.statuses, oldest)
	}
}
