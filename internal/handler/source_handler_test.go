package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/harvester/internal/model"
)

// fakeSourceService はSourceServiceInterfaceのテスト用実装。
type fakeSourceService struct {
	source       *model.Source
	posts        []*model.Post
	registerErr  error
	getErr       error
	refreshErr   error
	activityErr  error
	listErr      error
	refreshed    []string
	activities   [][2]string
	listPostArgs []int
}

func (f *fakeSourceService) Register(_ context.Context, inputURL string) (*model.Source, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return f.source, nil
}

func (f *fakeSourceService) Get(_ context.Context, sourceID string) (*model.Source, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.source, nil
}

func (f *fakeSourceService) Refresh(_ context.Context, sourceID, userID string) error {
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.refreshed = append(f.refreshed, sourceID)
	return nil
}

func (f *fakeSourceService) RecordActivity(_ context.Context, sourceID, userID string) error {
	if f.activityErr != nil {
		return f.activityErr
	}
	f.activities = append(f.activities, [2]string{sourceID, userID})
	return nil
}

func (f *fakeSourceService) ListPosts(_ context.Context, _ string, limit int) ([]*model.Post, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.listPostArgs = append(f.listPostArgs, limit)
	return f.posts, nil
}

func testSource() *model.Source {
	return &model.Source{
		ID:            "src-1",
		URL:           "https://t.me/newsfeed",
		DisplayName:   "newsfeed",
		SourceType:    model.SourceTypeMessagingChannel,
		CollectorType: model.CollectorTypeAPI,
		Status:        model.SourceStatusPendingValidation,
	}
}

func newHandlerRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serveSourceRoutes(service SourceServiceInterface, req *http.Request) *httptest.ResponseRecorder {
	h := NewSourceHandler(service)
	r := newTestRouter(h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRegisterSourceSuccess(t *testing.T) {
	svc := &fakeSourceService{source: testSource()}
	rec := serveSourceRoutes(svc, newHandlerRequest(http.MethodPost, "/api/sources", `{"url":"https://t.me/newsfeed"}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("ステータスコードが不正: got %d, want %d", rec.Code, http.StatusCreated)
	}

	var resp sourceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if resp.ID != "src-1" || resp.SourceType != "messaging_channel" {
		t.Errorf("レスポンスの内容が不正: %+v", resp)
	}
	if resp.Status != "pending_validation" {
		t.Errorf("登録直後のステータスが不正: %s", resp.Status)
	}
}

func TestRegisterSourceEmptyURL(t *testing.T) {
	svc := &fakeSourceService{source: testSource()}
	rec := serveSourceRoutes(svc, newHandlerRequest(http.MethodPost, "/api/sources", `{"url":""}`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("空URLは400を返すべき: got %d", rec.Code)
	}
}

func TestRegisterSourceInvalidJSON(t *testing.T) {
	svc := &fakeSourceService{source: testSource()}
	rec := serveSourceRoutes(svc, newHandlerRequest(http.MethodPost, "/api/sources", `{invalid`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("不正なJSONは400を返すべき: got %d", rec.Code)
	}
}

func TestRegisterSourceErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{"分類失敗", model.NewSourceNotDetectedError("https://example.com"), http.StatusUnprocessableEntity, model.ErrCodeSourceNotDetected},
		{"重複登録", model.NewDuplicateSourceError(), http.StatusConflict, model.ErrCodeDuplicateSource},
		{"SSRFブロック", model.NewSSRFBlockedError(), http.StatusForbidden, model.ErrCodeSSRFBlocked},
		{"無効URL", model.NewInvalidURLError("スキームが不正"), http.StatusBadRequest, model.ErrCodeInvalidURL},
		{"取得失敗", model.NewFetchFailedError("接続できません"), http.StatusBadGateway, model.ErrCodeFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeSourceService{registerErr: tt.serviceErr}
			rec := serveSourceRoutes(svc, newHandlerRequest(http.MethodPost, "/api/sources", `{"url":"https://example.com"}`))

			if rec.Code != tt.wantStatus {
				t.Errorf("ステータスコードが不正: got %d, want %d", rec.Code, tt.wantStatus)
			}

			var resp apiErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("エラーレスポンスの解析に失敗: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("エラーコードが不正: got %s, want %s", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestGetSourceNotFound(t *testing.T) {
	svc := &fakeSourceService{getErr: model.NewSourceNotFoundError("missing")}
	rec := serveSourceRoutes(svc, newHandlerRequest(http.MethodGet, "/api/sources/missing", ""))

	if rec.Code != http.StatusNotFound {
		t.Errorf("存在しないソースは404を返すべき: got %d", rec.Code)
	}
}

func TestListPosts(t *testing.T) {
	now := time.Now()
	svc := &fakeSourceService{
		source: testSource(),
		posts: []*model.Post{
			{
				ID:       "p1",
				SourceID: "src-1",
				Title:    "最初の投稿",
				Blocks: []model.ContentBlock{
					{Type: model.BlockTypeParagraph, Text: "本文"},
				},
				PublishedAt: now,
			},
		},
	}
	rec := serveSourceRoutes(svc, newHandlerRequest(http.MethodGet, "/api/sources/src-1/posts", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("ステータスコードが不正: got %d", rec.Code)
	}

	var resp postListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("レスポンスの解析に失敗: %v", err)
	}
	if resp.Total != 1 || len(resp.Posts) != 1 {
		t.Fatalf("投稿数が不正: %+v", resp)
	}
	if resp.Posts[0].Title != "最初の投稿" {
		t.Errorf("投稿タイトルが不正: %s", resp.Posts[0].Title)
	}
	if len(svc.listPostArgs) != 1 || svc.listPostArgs[0] != 20 {
		t.Errorf("デフォルトのlimitは20であるべき: %v", svc.listPostArgs)
	}
}

func TestListPostsLimitValidation(t *testing.T) {
	tests := []struct {
		query      string
		wantStatus int
	}{
		{"?limit=50", http.StatusOK},
		{"?limit=0", http.StatusBadRequest},
		{"?limit=101", http.StatusBadRequest},
		{"?limit=abc", http.StatusBadRequest},
	}

	for _, tt := range tests {
		svc := &fakeSourceService{source: testSource()}
		rec := serveSourceRoutes(svc, newHandlerRequest(http.MethodGet, "/api/sources/src-1/posts"+tt.query, ""))
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: ステータスコードが不正: got %d, want %d", tt.query, rec.Code, tt.wantStatus)
		}
	}
}

func TestRefreshSourceReturnsAccepted(t *testing.T) {
	svc := &fakeSourceService{source: testSource()}
	rec := serveSourceRoutes(svc, newHandlerRequest(http.MethodPost, "/api/sources/src-1/refresh", ""))

	if rec.Code != http.StatusAccepted {
		t.Errorf("手動取得は202を返すべき: got %d", rec.Code)
	}
	if len(svc.refreshed) != 1 || svc.refreshed[0] != "src-1" {
		t.Errorf("手動取得がトリガーされるべき: %v", svc.refreshed)
	}
}

func TestRecordActivitySuccess(t *testing.T) {
	svc := &fakeSourceService{source: testSource()}
	rec := serveSourceRoutes(svc, newHandlerRequest(http.MethodPost, "/api/sources/src-1/activity", `{"user_id":"user-1"}`))

	if rec.Code != http.StatusNoContent {
		t.Errorf("アクティビティ記録は204を返すべき: got %d", rec.Code)
	}
	if len(svc.activities) != 1 || svc.activities[0] != [2]string{"src-1", "user-1"} {
		t.Errorf("アクティビティが記録されるべき: %v", svc.activities)
	}
}

func TestRecordActivityMissingUserID(t *testing.T) {
	svc := &fakeSourceService{source: testSource()}
	rec := serveSourceRoutes(svc, newHandlerRequest(http.MethodPost, "/api/sources/src-1/activity", `{}`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("user_id欠落は400を返すべき: got %d", rec.Code)
	}
}
