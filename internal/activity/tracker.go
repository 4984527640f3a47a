// Package activity はソースごとのユーザー関心イベントの記録と
// スライディングウィンドウ集計を提供する。
package activity

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// defaultEventBuffer はMarkActiveイベントのバッファサイズ。
	// バッファが満杯の場合イベントは破棄される（呼び出し元は決してブロックしない）。
	defaultEventBuffer = 1024
	// defaultRetention は物理削除までの最大保持期間。
	// これより古いエントリはいかなるウィンドウ指定でもカウントされない前提。
	defaultRetention = 24 * time.Hour
	// defaultPruneInterval は期限切れエントリの物理削除間隔。
	defaultPruneInterval = 10 * time.Minute
)

// event はMarkActiveの1イベントを表す。
type event struct {
	sourceID string
	userID   string
	at       time.Time
}

// entry はウィンドウ内の1レコードを表す。
type entry struct {
	at     time.Time
	userID string
}

// sourceWindow は1ソース分の時刻順エントリとユーザー索引を保持する。
// entriesは時刻昇順で、ユーザーごとに最新の1件のみを含む
// （同一ユーザーの再記録は古いエントリを置換する）。
type sourceWindow struct {
	entries []entry
	byUser  map[string]time.Time
}

// Tracker はソースごとの直近のユーザー関心を記録するアクティビティトラッカー。
// MarkActiveは呼び出し元のリクエストパスを決してブロックせず、
// 記録の失敗はログに記録して握りつぶす。
type Tracker struct {
	mu      sync.RWMutex
	sources map[string]*sourceWindow

	events chan event
	logger *slog.Logger

	retention     time.Duration
	pruneInterval time.Duration
	now           func() time.Time
}

// NewTracker はTrackerの新しいインスタンスを生成する。
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		sources:       make(map[string]*sourceWindow),
		events:        make(chan event, defaultEventBuffer),
		logger:        logger,
		retention:     defaultRetention,
		pruneInterval: defaultPruneInterval,
		now:           time.Now,
	}
}

// Start はイベント消費と定期的な物理削除を開始する。
// コンテキストがキャンセルされるまで実行を継続する。
func (t *Tracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.pruneInterval)
	defer ticker.Stop()

	t.logger.Info("アクティビティトラッカーを開始しました",
		slog.Duration("prune_interval", t.pruneInterval),
	)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("アクティビティトラッカーを停止しました")
			return
		case ev := <-t.events:
			t.record(ev.sourceID, ev.userID, ev.at)
		case <-ticker.C:
			pruned := t.prune(t.now().Add(-t.retention))
			if pruned > 0 {
				t.logger.Info("期限切れアクティビティを削除しました",
					slog.Int("pruned", pruned),
				)
			}
		}
	}
}

// MarkActive はユーザーの関心イベントを記録する。副作用のみで失敗しない。
// バッファ満杯時はイベントを破棄してログに記録する。
func (t *Tracker) MarkActive(sourceID, userID string) {
	select {
	case t.events <- event{sourceID: sourceID, userID: userID, at: t.now()}:
	default:
		t.logger.Warn("アクティビティイベントを破棄しました（バッファ満杯）",
			slog.String("source_id", sourceID),
		)
	}
}

// CountActiveInWindow は未期限切れレコードを持つ相異なるユーザー数を返す。
// entriesが時刻昇順であることを利用し、二分探索でウィンドウ境界を求める。
func (t *Tracker) CountActiveInWindow(sourceID string, windowSeconds int) int {
	cutoff := t.now().Add(-time.Duration(windowSeconds) * time.Second)

	t.mu.RLock()
	defer t.mu.RUnlock()

	w, ok := t.sources[sourceID]
	if !ok {
		return 0
	}

	idx := sort.Search(len(w.entries), func(i int) bool {
		return w.entries[i].at.After(cutoff)
	})
	return len(w.entries) - idx
}

// record は関心イベントを同期的に記録する。
// 同一(source, user)のウィンドウ内重複は最新タイムスタンプ1件に畳み込む。
func (t *Tracker) record(sourceID, userID string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.sources[sourceID]
	if !ok {
		w = &sourceWindow{byUser: make(map[string]time.Time)}
		t.sources[sourceID] = w
	}

	if prev, seen := w.byUser[userID]; seen {
		if !at.After(prev) {
			return
		}
		w.removeEntry(userID, prev)
	}

	w.byUser[userID] = at
	w.insertEntry(entry{at: at, userID: userID})
}

// prune はcutoffより古いエントリを全ソースから物理削除し、削除件数を返す。
func (t *Tracker) prune(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := 0
	for sourceID, w := range t.sources {
		idx := sort.Search(len(w.entries), func(i int) bool {
			return w.entries[i].at.After(cutoff)
		})
		if idx == 0 {
			continue
		}
		for _, e := range w.entries[:idx] {
			delete(w.byUser, e.userID)
		}
		w.entries = append([]entry(nil), w.entries[idx:]...)
		total += idx

		if len(w.entries) == 0 {
			delete(t.sources, sourceID)
		}
	}
	return total
}

// insertEntry は時刻順を保ってエントリを挿入する。
func (w *sourceWindow) insertEntry(e entry) {
	idx := sort.Search(len(w.entries), func(i int) bool {
		return w.entries[i].at.After(e.at)
	})
	w.entries = append(w.entries, entry{})
	copy(w.entries[idx+1:], w.entries[idx:])
	w.entries[idx] = e
}

// removeEntry は指定ユーザーの指定時刻のエントリを削除する。
func (w *sourceWindow) removeEntry(userID string, at time.Time) {
	idx := sort.Search(len(w.entries), func(i int) bool {
		return !w.entries[i].at.Before(at)
	})
	for i := idx; i < len(w.entries) && !w.entries[i].at.After(at); i++ {
		if w.entries[i].userID == userID {
			w.entries = append(w.entries[:i], w.entries[i+1:]...)
			return
		}
	}
}
