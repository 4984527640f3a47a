package priority

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/harvester/internal/model"
)

// fakeSourceRepo はページング呼び出しを記録するスタブ。
type fakeSourceRepo struct {
	sources []*model.Source
	pages   []int // 各呼び出しで返した件数
}

func (f *fakeSourceRepo) ListPaginated(ctx context.Context, offset, limit int) (*model.SourcePage, error) {
	end := offset + limit
	if end > len(f.sources) {
		end = len(f.sources)
	}
	var data []*model.Source
	if offset < len(f.sources) {
		data = f.sources[offset:end]
	}
	f.pages = append(f.pages, len(data))
	return &model.SourcePage{
		Data:    data,
		Total:   len(f.sources),
		HasMore: end < len(f.sources),
	}, nil
}

func (f *fakeSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	return nil, nil
}
func (f *fakeSourceRepo) FindByURL(ctx context.Context, url string) (*model.Source, error) {
	return nil, nil
}
func (f *fakeSourceRepo) Create(ctx context.Context, source *model.Source) error { return nil }
func (f *fakeSourceRepo) UpdateMetadata(ctx context.Context, id string, meta model.SourceMetadata) error {
	return nil
}

// fakeCounter はソースIDごとの固定値を返すスタブ。
type fakeCounter struct {
	counts map[string]int
}

func (f *fakeCounter) CountActiveInWindow(sourceID string, windowSeconds int) int {
	return f.counts[sourceID]
}

// fakeScheduler はScheduleOrSuspendの呼び出しを記録するスタブ。
type fakeScheduler struct {
	mu    sync.Mutex
	calls map[string]struct {
		priority int
		interval time.Duration
	}
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{calls: make(map[string]struct {
		priority int
		interval time.Duration
	})}
}

func (f *fakeScheduler) ScheduleOrSuspend(sourceID string, priority int, interval time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[sourceID] = struct {
		priority int
		interval time.Duration
	}{priority, interval}
}

func makeSources(n int) []*model.Source {
	sources := make([]*model.Source, n)
	for i := range sources {
		sources[i] = &model.Source{ID: fmt.Sprintf("source-%d", i)}
	}
	return sources
}

// 120ソース・バッチサイズ50で、ちょうど3バッチ（50, 50, 20）となり
// ScheduleOrSuspendがソースごとに1回だけ呼ばれることを検証
func TestRunOnce_BatchPaging(t *testing.T) {
	repo := &fakeSourceRepo{sources: makeSources(120)}
	sched := newFakeScheduler()
	calc := NewCalculator(repo, &fakeCounter{counts: map[string]int{}}, sched, slog.Default(), 50, 1800)

	if err := calc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error = %v", err)
	}

	wantPages := []int{50, 50, 20}
	if len(repo.pages) != len(wantPages) {
		t.Fatalf("バッチ数 = %d, want %d (%v)", len(repo.pages), len(wantPages), repo.pages)
	}
	for i, want := range wantPages {
		if repo.pages[i] != want {
			t.Errorf("バッチ%dの件数 = %d, want %d", i, repo.pages[i], want)
		}
	}

	if len(sched.calls) != 120 {
		t.Errorf("ScheduleOrSuspend呼び出しソース数 = %d, want 120", len(sched.calls))
	}
}

// アクティブユーザー数に応じた優先度・間隔がスケジューラーに渡ることを検証
func TestRunOnce_DerivesPriorityAndInterval(t *testing.T) {
	repo := &fakeSourceRepo{sources: []*model.Source{
		{ID: "hot"}, {ID: "warm"}, {ID: "cold"},
	}}
	counter := &fakeCounter{counts: map[string]int{
		"hot":  150,
		"warm": 10,
		"cold": 0,
	}}
	sched := newFakeScheduler()
	calc := NewCalculator(repo, counter, sched, slog.Default(), 50, 1800)

	if err := calc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error = %v", err)
	}

	if c := sched.calls["hot"]; c.priority != 1 || c.interval != 3*time.Minute {
		t.Errorf("hot = %+v, want priority 1 / 3m", c)
	}
	if c := sched.calls["warm"]; c.priority != 4 || c.interval != 15*time.Minute {
		t.Errorf("warm = %+v, want priority 4 / 15m", c)
	}
	// 関心ゼロはinterval=0（サスペンド）
	if c := sched.calls["cold"]; c.priority != 10 || c.interval != 0 {
		t.Errorf("cold = %+v, want priority 10 / suspend", c)
	}
}

// ソース0件でもエラーなく完了することを検証
func TestRunOnce_NoSources(t *testing.T) {
	repo := &fakeSourceRepo{}
	sched := newFakeScheduler()
	calc := NewCalculator(repo, &fakeCounter{counts: map[string]int{}}, sched, slog.Default(), 50, 1800)

	if err := calc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error = %v", err)
	}
	if len(sched.calls) != 0 {
		t.Errorf("呼び出しなしであるべき: %d", len(sched.calls))
	}
}
