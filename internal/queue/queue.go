// Package queue は優先度付きインメモリジョブキューとワーカープールを提供する。
// パイプラインの各段（オーケストレーション、コレクター、結果処理、メディア中継）は
// それぞれ独立したキューを持ち、キューごとに設定された並列度でジョブを実行する。
package queue

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler はジョブ1件を処理する関数。
// エラーを返した場合、試行回数が残っていればバックオフ付きで再投入される。
type Handler[T any] func(ctx context.Context, payload T) error

// Options はキューの動作設定。
type Options struct {
	// Workers はワーカー並列度。0以下の場合は1。
	Workers int
	// MaxAttempts はジョブごとの最大試行回数。0以下の場合は1（リトライなし）。
	MaxAttempts int
	// JobTimeout はジョブ1件あたりのタイムアウト。0の場合は無制限。
	JobTimeout time.Duration
	// InitialBackoff はリトライの初回遅延。0の場合は1秒。
	InitialBackoff time.Duration
	// MaxBackoff はリトライ遅延の上限。0の場合は5分。
	MaxBackoff time.Duration
}

// job はキュー内部のジョブ表現。
type job[T any] struct {
	payload  T
	priority int
	seq      uint64
	attempt  int
}

// Queue は優先度付きジョブキュー。
// 優先度の数値が小さいジョブほど先に実行される。同一優先度は投入順。
type Queue[T any] struct {
	name    string
	opts    Options
	handler Handler[T]
	logger  *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	jobs   jobHeap[T]
	seq    uint64
	closed bool

	wg sync.WaitGroup
}

// New は新しいQueueを生成する。
func New[T any](name string, opts Options, handler Handler[T], logger *slog.Logger) *Queue[T] {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}

	q := &Queue[T]{
		name:    name,
		opts:    opts,
		handler: handler,
		logger:  logger,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start はワーカープールを起動する。
// コンテキストのキャンセルで全ワーカーが停止する。
func (q *Queue[T]) Start(ctx context.Context) {
	q.logger.Info("ジョブキューを開始しました",
		slog.String("queue", q.name),
		slog.Int("workers", q.opts.Workers),
		slog.Int("max_attempts", q.opts.MaxAttempts),
	)

	// キャンセル時に待機中のワーカーを起こす
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.cond.Broadcast()
	}()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
}

// Wait は全ワーカーの停止を待つ。
func (q *Queue[T]) Wait() {
	q.wg.Wait()
}

// Enqueue はジョブを投入する。優先度の数値が小さいほど緊急度が高い。
func (q *Queue[T]) Enqueue(payload T, priority int) {
	q.enqueue(job[T]{payload: payload, priority: priority})
}

// EnqueueDelayed は指定遅延後にジョブを投入する。
func (q *Queue[T]) EnqueueDelayed(payload T, priority int, delay time.Duration) {
	if delay <= 0 {
		q.Enqueue(payload, priority)
		return
	}
	time.AfterFunc(delay, func() {
		q.enqueue(job[T]{payload: payload, priority: priority})
	})
}

// Depth は現在の待機ジョブ数を返す。
func (q *Queue[T]) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs.Len()
}

func (q *Queue[T]) enqueue(j job[T]) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.seq++
	j.seq = q.seq
	heap.Push(&q.jobs, j)
	q.mu.Unlock()
	q.cond.Signal()
}

// worker はジョブを1件ずつ取り出して実行するワーカーループ。
func (q *Queue[T]) worker(ctx context.Context) {
	defer q.wg.Done()

	for {
		j, ok := q.pop()
		if !ok {
			return
		}
		q.run(ctx, j)
	}
}

// pop は次のジョブを取り出す。キューが空の間はブロックする。
// キューがクローズされた場合は(ゼロ値, false)を返す。
func (q *Queue[T]) pop() (job[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.jobs.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		var zero job[T]
		return zero, false
	}
	return heap.Pop(&q.jobs).(job[T]), true
}

// run はジョブを実行し、失敗時は試行回数に応じて再投入する。
func (q *Queue[T]) run(ctx context.Context, j job[T]) {
	jobCtx := ctx
	if q.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, q.opts.JobTimeout)
		defer cancel()
	}

	err := q.invoke(jobCtx, j.payload)
	if err == nil {
		return
	}

	attempt := j.attempt + 1
	if attempt >= q.opts.MaxAttempts {
		q.logger.Error("ジョブが最大試行回数に達しました",
			slog.String("queue", q.name),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		return
	}

	delay := backoffDelay(q.opts.InitialBackoff, q.opts.MaxBackoff, j.attempt)
	q.logger.Warn("ジョブが失敗しました。バックオフ後に再試行します",
		slog.String("queue", q.name),
		slog.Int("attempt", attempt),
		slog.Duration("backoff", delay),
		slog.String("error", err.Error()),
	)

	retry := job[T]{payload: j.payload, priority: j.priority, attempt: attempt}
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return
		}
		q.seq++
		retry.seq = q.seq
		heap.Push(&q.jobs, retry)
		q.mu.Unlock()
		q.cond.Signal()
	})
}

// invoke はハンドラーを呼び出し、パニックを失敗として回収する。
// パニックしたジョブは通常の失敗と同様に再試行の対象になる。
func (q *Queue[T]) invoke(ctx context.Context, payload T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("ジョブハンドラーがパニックしました",
				slog.String("queue", q.name),
				slog.Any("panic", r),
			)
			err = fmt.Errorf("ハンドラーのパニック: %v", r)
		}
	}()
	return q.handler(ctx, payload)
}

// backoffDelay は試行回数に基づく指数バックオフ遅延を計算する。
func backoffDelay(initial, max time.Duration, attempt int) time.Duration {
	delay := initial
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > max {
			return max
		}
	}
	return delay
}

// jobHeap は(priority, seq)順のmin-heap。
type jobHeap[T any] []job[T]

func (h jobHeap[T]) Len() int { return len(h) }

func (h jobHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap[T]) Push(x any) { *h = append(*h, x.(job[T])) }

func (h *jobHeap[T]) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	*h = old[:n-1]
	return j
}
