package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/harvester/internal/model"
)

// SourceServiceInterface はソースハンドラーが必要とするサービスインターフェース。
type SourceServiceInterface interface {
	// Register はURLを分類してソースを登録する。
	Register(ctx context.Context, inputURL string) (*model.Source, error)
	// Get はソースを1件取得する。
	Get(ctx context.Context, sourceID string) (*model.Source, error)
	// Refresh はソースの手動取得をトリガーする。
	Refresh(ctx context.Context, sourceID, userID string) error
	// RecordActivity はソースの閲覧アクティビティを記録する。
	RecordActivity(ctx context.Context, sourceID, userID string) error
	// ListPosts はソースの最新投稿を返す。
	ListPosts(ctx context.Context, sourceID string, limit int) ([]*model.Post, error)
}

// SourceHandler はソース管理のHTTPハンドラー。
type SourceHandler struct {
	service SourceServiceInterface
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(service SourceServiceInterface) *SourceHandler {
	return &SourceHandler{service: service}
}

// registerSourceRequest はソース登録リクエストのボディ。
type registerSourceRequest struct {
	URL string `json:"url"`
}

// activityRequest はアクティビティ記録リクエストのボディ。
type activityRequest struct {
	UserID string `json:"user_id"`
}

// refreshRequest は手動取得リクエストのボディ。ボディは省略可能。
type refreshRequest struct {
	UserID string `json:"user_id"`
}

// sourceResponse はソース情報のAPIレスポンス。
type sourceResponse struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	DisplayName   string     `json:"display_name"`
	SourceType    string     `json:"source_type"`
	CollectorType string     `json:"collector_type"`
	Status        string     `json:"status"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// postResponse は投稿情報のAPIレスポンス。
type postResponse struct {
	ID          string               `json:"id"`
	SourceID    string               `json:"source_id"`
	Title       string               `json:"title"`
	Blocks      []model.ContentBlock `json:"blocks"`
	MediaURLs   []string             `json:"media_urls,omitempty"`
	Author      model.PostAuthor     `json:"author"`
	Metrics     model.PostMetrics    `json:"metrics"`
	PublishedAt time.Time            `json:"published_at"`
}

// postListResponse は投稿一覧のAPIレスポンス。
type postListResponse struct {
	Posts []postResponse `json:"posts"`
	Total int            `json:"total"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// RegisterSource はソース登録を処理する。
// POST /api/sources
func (h *SourceHandler) RegisterSource(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	if req.URL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidURLError("URLが空です"))
		return
	}

	src, err := h.service.Register(r.Context(), req.URL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSourceResponse(src))
}

// GetSource はソース詳細を取得する。
// GET /api/sources/:id
func (h *SourceHandler) GetSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	src, err := h.service.Get(r.Context(), sourceID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSourceResponse(src))
}

// ListPosts はソースの最新投稿一覧を取得する。
// GET /api/sources/:id/posts
func (h *SourceHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "limitは1〜100の整数で指定してください。",
				Category: "validation",
				Action:   "クエリパラメータlimitを確認してください。",
			})
			return
		}
		limit = parsed
	}

	posts, err := h.service.ListPosts(r.Context(), sourceID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := postListResponse{
		Posts: make([]postResponse, 0, len(posts)),
		Total: len(posts),
	}
	for _, p := range posts {
		resp.Posts = append(resp.Posts, toPostResponse(p))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// RefreshSource はソースの手動取得をトリガーする。
// POST /api/sources/:id/refresh
//
// 取得はキュー投入のみで完了するため202を返す。
func (h *SourceHandler) RefreshSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	var req refreshRequest
	// ボディなしの手動取得も許容する
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.service.Refresh(r.Context(), sourceID, req.UserID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// RecordActivity はソースの閲覧アクティビティを記録する。
// POST /api/sources/:id/activity
func (h *SourceHandler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "user_idが必要です。",
			Category: "validation",
			Action:   "リクエストボディにuser_idを指定してください。",
		})
		return
	}

	if err := h.service.RecordActivity(r.Context(), sourceID, req.UserID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// toSourceResponse はmodel.SourceからAPIレスポンスに変換する。
func toSourceResponse(src *model.Source) sourceResponse {
	return sourceResponse{
		ID:            src.ID,
		URL:           src.URL,
		DisplayName:   src.DisplayName,
		SourceType:    string(src.SourceType),
		CollectorType: string(src.CollectorType),
		Status:        string(src.Status),
		LastFetchedAt: src.LastFetchedAt,
		LastError:     src.LastError,
	}
}

// toPostResponse はmodel.PostからAPIレスポンスに変換する。
func toPostResponse(p *model.Post) postResponse {
	return postResponse{
		ID:          p.ID,
		SourceID:    p.SourceID,
		Title:       p.Title,
		Blocks:      p.Blocks,
		MediaURLs:   p.MediaURLs,
		Author:      p.Author,
		Metrics:     p.Metrics,
		PublishedAt: p.PublishedAt,
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeSourceNotDetected:
		return http.StatusUnprocessableEntity
	case model.ErrCodeSourceNotFound:
		return http.StatusNotFound
	case model.ErrCodeDuplicateSource:
		return http.StatusConflict
	case model.ErrCodeFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
