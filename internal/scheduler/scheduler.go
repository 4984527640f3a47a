// Package scheduler はソースごとの定期収集タスクと手動トリガーを管理する。
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/harvester/internal/model"
	"github.com/hitoshi/harvester/internal/priority"
)

// Dispatcher は発火したタスクをオーケストレーションキューへ渡すインターフェース。
type Dispatcher interface {
	// Dispatch は1回の発火につきオーケストレーターを1回起動する。
	Dispatch(job model.OrchestratorJob)
}

// ManualOptions は手動トリガーのオプション。
type ManualOptions struct {
	// UserID はトリガーしたユーザー（任意、ログ用）。
	UserID string
	// Delay は投入までの遅延（任意）。
	Delay time.Duration
}

// recurringTask は1ソース分の定期タスクを表す。
type recurringTask struct {
	interval time.Duration
	priority int
	timer    *time.Timer
}

// Scheduler はソースIDをキーとする定期タスクのアップサート管理と
// 一回限りの手動トリガーを提供する。
// 定期タスクのキーはソースIDから決定的に導出されるため、
// 新しい間隔での再スケジュールはタイマーを重複させず透過的に置換する。
type Scheduler struct {
	mu         sync.Mutex
	tasks      map[string]*recurringTask
	dispatcher Dispatcher
	logger     *slog.Logger
	closed     bool
}

// New はSchedulerの新しいインスタンスを生成する。
func New(dispatcher Dispatcher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:      make(map[string]*recurringTask),
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ScheduleOrSuspend はソースの定期タスクをアップサートまたは解除する。
// intervalが0の場合は既存タスクを解除する（未存在でもエラーとしない）。
// それ以外の場合、既存タイマーをキャンセルしてから新しい間隔で置換する。
// 1ソースにつき定期タスクは常に最大1つ。
func (s *Scheduler) ScheduleOrSuspend(sourceID string, prio int, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	prev, exists := s.tasks[sourceID]
	if exists {
		prev.timer.Stop()
	}

	if interval == 0 {
		if exists {
			delete(s.tasks, sourceID)
			s.logger.Info("定期タスクをサスペンドしました",
				slog.String("source_id", sourceID),
			)
		}
		return
	}

	// 同一間隔・同一優先度の再スケジュールでもタイマーは張り直す。
	// 前回の発火タイミングからのずれは許容される。
	task := &recurringTask{interval: interval, priority: prio}
	task.timer = time.AfterFunc(interval, func() { s.fire(sourceID, task) })
	s.tasks[sourceID] = task

	if !exists || prev.interval != interval || prev.priority != prio {
		s.logger.Info("定期タスクをスケジュールしました",
			slog.String("source_id", sourceID),
			slog.Int("priority", prio),
			slog.Duration("interval", interval),
		)
	}
}

// TriggerManual は最高優先度の一回限りタスクを投入する。
// 定期タスクとは独立しており、既存のスケジュールを変更しない。
func (s *Scheduler) TriggerManual(sourceID string, opts ManualOptions) {
	scheduleID := fmt.Sprintf("manual:%s", uuid.New().String())

	s.logger.Info("手動トリガーを受け付けました",
		slog.String("source_id", sourceID),
		slog.String("schedule_id", scheduleID),
		slog.String("user_id", opts.UserID),
		slog.Duration("delay", opts.Delay),
	)

	dispatch := func() {
		s.dispatcher.Dispatch(model.OrchestratorJob{
			SourceID:   sourceID,
			Priority:   priority.ManualPriority,
			ScheduleID: scheduleID,
			FiredAt:    time.Now(),
		})
	}

	if opts.Delay > 0 {
		time.AfterFunc(opts.Delay, dispatch)
		return
	}
	dispatch()
}

// HasRecurring は指定ソースの定期タスクが存在するかを返す。
func (s *Scheduler) HasRecurring(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[sourceID]
	return ok
}

// Stop は全定期タスクをキャンセルする。以降のスケジュールは無視される。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for sourceID, task := range s.tasks {
		task.timer.Stop()
		delete(s.tasks, sourceID)
	}
	s.logger.Info("スケジューラーを停止しました")
}

// fire は定期タスクの1回の発火を処理し、タスクが現役であれば再装填する。
func (s *Scheduler) fire(sourceID string, task *recurringTask) {
	s.mu.Lock()
	current, ok := s.tasks[sourceID]
	if !ok || current != task || s.closed {
		// 発火と入れ替え/解除が競合した場合、旧タイマーの発火は捨てる
		s.mu.Unlock()
		return
	}
	task.timer = time.AfterFunc(task.interval, func() { s.fire(sourceID, task) })
	s.mu.Unlock()

	s.dispatcher.Dispatch(model.OrchestratorJob{
		SourceID:   sourceID,
		Priority:   task.priority,
		ScheduleID: fmt.Sprintf("recurring:%s", sourceID),
		FiredAt:    time.Now(),
	})
}
