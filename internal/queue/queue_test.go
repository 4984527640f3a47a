package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_ProcessesJobs(t *testing.T) {
	var processed atomic.Int64
	done := make(chan struct{})

	q := New[int]("test", Options{Workers: 2, MaxAttempts: 1}, func(ctx context.Context, payload int) error {
		if processed.Add(1) == 3 {
			close(done)
		}
		return nil
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(1, 5)
	q.Enqueue(2, 5)
	q.Enqueue(3, 5)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("3件のジョブが処理されるべき: processed=%d", processed.Load())
	}
}

func TestQueue_PriorityOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	// ワーカー1で順序を観測する
	q := New[int]("test", Options{Workers: 1, MaxAttempts: 1}, func(ctx context.Context, payload int) error {
		mu.Lock()
		order = append(order, payload)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return nil
	}, slog.Default())

	// 起動前に投入し、優先度順の取り出しを検証する
	q.Enqueue(10, 10)
	q.Enqueue(0, 0)
	q.Enqueue(5, 5)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ジョブが処理されなかった")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 5, 10}
	for i, v := range want {
		if order[i] != v {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestQueue_SamePriorityFIFO(t *testing.T) {
	h := jobHeap[string]{}
	q := &Queue[string]{jobs: h}
	_ = q

	jobs := jobHeap[string]{
		{payload: "first", priority: 5, seq: 1},
		{payload: "second", priority: 5, seq: 2},
	}
	if !jobs.Less(0, 1) {
		t.Error("同一優先度では投入順（seq昇順）で取り出されるべき")
	}
}

func TestQueue_RetriesWithBackoff(t *testing.T) {
	var attempts atomic.Int64
	done := make(chan struct{})

	q := New[string]("test", Options{
		Workers:        1,
		MaxAttempts:    3,
		InitialBackoff: 10 * time.Millisecond,
	}, func(ctx context.Context, payload string) error {
		if attempts.Add(1) < 3 {
			return errors.New("一時的失敗")
		}
		close(done)
		return nil
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue("job", 5)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("リトライで成功するべき: attempts=%d", attempts.Load())
	}
}

func TestQueue_StopsRetryingAfterMaxAttempts(t *testing.T) {
	var attempts atomic.Int64

	q := New[string]("test", Options{
		Workers:        1,
		MaxAttempts:    2,
		InitialBackoff: 5 * time.Millisecond,
	}, func(ctx context.Context, payload string) error {
		attempts.Add(1)
		return errors.New("常に失敗")
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue("job", 5)

	time.Sleep(200 * time.Millisecond)
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestQueue_RecoversFromHandlerPanic(t *testing.T) {
	var attempts atomic.Int64
	retried := make(chan struct{})
	followup := make(chan struct{})

	q := New[string]("test", Options{
		Workers:        1,
		MaxAttempts:    2,
		InitialBackoff: 5 * time.Millisecond,
	}, func(ctx context.Context, payload string) error {
		if payload == "followup" {
			close(followup)
			return nil
		}
		if attempts.Add(1) == 1 {
			panic("ハンドラー内の異常")
		}
		close(retried)
		return nil
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue("job", 5)

	// パニックは失敗1回として扱われ、同一ジョブが再試行される
	select {
	case <-retried:
	case <-time.After(2 * time.Second):
		t.Fatalf("パニック後に再試行されるべき: attempts=%d", attempts.Load())
	}

	// 唯一のワーカーが生き残っていれば後続ジョブも処理される
	q.Enqueue("followup", 5)
	select {
	case <-followup:
	case <-time.After(2 * time.Second):
		t.Fatal("後続ジョブが処理されなかった")
	}
}

func TestQueue_StopsOnContextCancel(t *testing.T) {
	q := New[int]("test", Options{Workers: 2, MaxAttempts: 1}, func(ctx context.Context, payload int) error {
		return nil
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	cancel()

	stopped := make(chan struct{})
	go func() {
		q.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後にワーカーは停止するべき")
	}
}

func TestBackoffDelay_ExponentialWithCap(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		got := backoffDelay(time.Second, 30*time.Second, tt.attempt)
		if got != tt.want {
			t.Errorf("backoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestQueue_EnqueueDelayed(t *testing.T) {
	done := make(chan struct{})
	var start time.Time

	q := New[int]("test", Options{Workers: 1, MaxAttempts: 1}, func(ctx context.Context, payload int) error {
		close(done)
		return nil
	}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	start = time.Now()
	q.EnqueueDelayed(1, 5, 50*time.Millisecond)

	select {
	case <-done:
		if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
			t.Errorf("遅延投入が早すぎる: %v", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("遅延ジョブが処理されなかった")
	}
}
