package collector

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/harvester/internal/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestAPICollector(baseURL string) *APICollector {
	return NewAPICollector(&http.Client{}, newTestLogger(), baseURL, "test-token", 100)
}

func TestAPICollectorSuccess(t *testing.T) {
	var gotPath, gotAuth, gotAfterID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAfterID = r.URL.Query().Get("after_id")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"messages": [
				{"id": 101, "text": "first message", "date": 1700000000,
				 "media": [{"url": "https://cdn.example.com/a.jpg"}],
				 "author": {"username": "chan", "display_name": "Channel"},
				 "views": 10, "forwards": 2, "replies": 1},
				{"id": 102, "text": "second message", "date": 1700000100, "author": {"username": "chan"}}
			]
		}`))
	}))
	defer server.Close()

	c := newTestAPICollector(server.URL)
	result := c.Collect(context.Background(), model.CollectorJob{
		SourceID:   "src-1",
		SourceType: model.SourceTypeMessagingChannel,
		ExternalID: "newsfeed",
		Cursor:     "100",
		Limit:      50,
	})

	if result.Status != model.ResultStatusSuccess {
		t.Fatalf("成功ステータスであるべき: %+v", result.Error)
	}
	if gotPath != "/api/channels/newsfeed/messages" {
		t.Errorf("リクエストパスが一致しない: got %s", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("認証ヘッダーが一致しない: got %s", gotAuth)
	}
	if gotAfterID != "100" {
		t.Errorf("カーソルがafter_idとして送信されるべき: got %s", gotAfterID)
	}
	if len(result.Posts) != 2 {
		t.Fatalf("投稿数が一致しない: got %d", len(result.Posts))
	}
	if result.Posts[0].ExternalID != "101" {
		t.Errorf("外部IDが一致しない: got %s", result.Posts[0].ExternalID)
	}
	if len(result.Posts[0].MediaURLs) != 1 {
		t.Errorf("メディアURLが抽出されるべき: got %v", result.Posts[0].MediaURLs)
	}
	if result.Posts[0].Metrics.Likes != 10 || result.Posts[0].Metrics.Shares != 2 {
		t.Errorf("メトリクスが一致しない: %+v", result.Posts[0].Metrics)
	}
	if result.NextCursor == nil || *result.NextCursor != "102" {
		t.Errorf("次カーソルは最大メッセージIDであるべき: got %v", result.NextCursor)
	}
	if result.ProcessingTime <= 0 {
		t.Error("処理時間が計測されるべき")
	}
}

func TestAPICollectorEmptyMessages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages": []}`))
	}))
	defer server.Close()

	c := newTestAPICollector(server.URL)
	result := c.Collect(context.Background(), model.CollectorJob{SourceID: "src-1", ExternalID: "ch"})

	if result.Status != model.ResultStatusSuccess {
		t.Fatalf("空の成功であるべき: %+v", result.Error)
	}
	if len(result.Posts) != 0 {
		t.Errorf("投稿は空であるべき: got %d", len(result.Posts))
	}
	if result.NextCursor != nil {
		t.Errorf("新着なしの場合カーソルは据え置き（nil）であるべき: got %v", *result.NextCursor)
	}
}

func TestAPICollectorStatusMapping(t *testing.T) {
	tests := []struct {
		status        int
		wantCode      string
		wantRetryable bool
	}{
		{http.StatusNotFound, model.ErrCodeProfileNotFound, false},
		{http.StatusForbidden, model.ErrCodePrivateProfile, false},
		{http.StatusUnauthorized, model.ErrCodeAuth, false},
		{http.StatusGone, model.ErrCodeAccountSuspended, false},
		{http.StatusTooManyRequests, model.ErrCodeRateLimited, true},
		{http.StatusInternalServerError, model.ErrCodeUnknown, true},
		{http.StatusBadRequest, model.ErrCodeUnknown, false},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		c := newTestAPICollector(server.URL)
		result := c.Collect(context.Background(), model.CollectorJob{SourceID: "src-1", ExternalID: "ch"})
		server.Close()

		if result.Status != model.ResultStatusError {
			t.Errorf("status=%d: エラーステータスであるべき", tt.status)
			continue
		}
		if result.Error.Code != tt.wantCode {
			t.Errorf("status=%d: エラーコードが一致しない: got %s, want %s", tt.status, result.Error.Code, tt.wantCode)
		}
		if result.Error.Retryable != tt.wantRetryable {
			t.Errorf("status=%d: Retryableが一致しない: got %v", tt.status, result.Error.Retryable)
		}
	}
}

func TestAPICollectorProviderErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": "CHANNEL_MIGRATED", "message": "channel moved"}}`))
	}))
	defer server.Close()

	c := newTestAPICollector(server.URL)
	result := c.Collect(context.Background(), model.CollectorJob{SourceID: "src-1", ExternalID: "ch"})

	if result.Status != model.ResultStatusError {
		t.Fatal("エラーステータスであるべき")
	}
	if result.Error.Code != "CHANNEL_MIGRATED" {
		t.Errorf("プロバイダーのエラーコードが保持されるべき: got %s", result.Error.Code)
	}
}

func TestAPICollectorParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	c := newTestAPICollector(server.URL)
	result := c.Collect(context.Background(), model.CollectorJob{SourceID: "src-1", ExternalID: "ch"})

	if result.Status != model.ResultStatusError {
		t.Fatal("エラーステータスであるべき")
	}
	if result.Error.Code != model.ErrCodeParse {
		t.Errorf("パースエラーコードであるべき: got %s", result.Error.Code)
	}
}

func TestAPICollectorNetworkError(t *testing.T) {
	// 接続先のないアドレス
	c := newTestAPICollector("http://127.0.0.1:1")
	result := c.Collect(context.Background(), model.CollectorJob{SourceID: "src-1", ExternalID: "ch"})

	if result.Status != model.ResultStatusError {
		t.Fatal("エラーステータスであるべき")
	}
	if result.Error.Code != model.ErrCodeNetwork && result.Error.Code != model.ErrCodeTimeout {
		t.Errorf("ネットワーク系エラーコードであるべき: got %s", result.Error.Code)
	}
	if !result.Error.Retryable {
		t.Error("ネットワークエラーはリトライ可能であるべき")
	}
}
