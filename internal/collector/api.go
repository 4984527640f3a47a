package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/harvester/internal/model"
)

// APICollector はメッセージングチャンネルのAPIコレクター。
// プロバイダーの公開JSON APIからチャンネルメッセージを取得する。
type APICollector struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	baseURL    string // テスト用にエンドポイントを差し替え可能
	token      string
}

// NewAPICollector はAPICollectorの新しいインスタンスを生成する。
// requestsPerSecはプロバイダーAPIへのリクエストレート上限。
func NewAPICollector(httpClient *http.Client, logger *slog.Logger, baseURL, token string, requestsPerSec float64) *APICollector {
	return &APICollector{
		httpClient: httpClient,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), 1),
		baseURL:    baseURL,
		token:      token,
	}
}

// channelMessagesResponse はプロバイダーAPIのメッセージ一覧レスポンス。
type channelMessagesResponse struct {
	Messages []channelMessage `json:"messages"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// channelMessage はプロバイダーAPIのメッセージ1件。
type channelMessage struct {
	ID    int64  `json:"id"`
	Text  string `json:"text"`
	Date  int64  `json:"date"` // Unix秒
	Media []struct {
		URL string `json:"url"`
	} `json:"media,omitempty"`
	Author struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		AvatarURL   string `json:"avatar_url"`
	} `json:"author"`
	Views    int `json:"views"`
	Forwards int `json:"forwards"`
	Replies  int `json:"replies"`
}

// Collect はチャンネルの新着メッセージを取得してResultJobを返す。
// カーソルは最後に取得したメッセージID。カーソルより新しいメッセージのみ要求する。
func (c *APICollector) Collect(ctx context.Context, job model.CollectorJob) model.ResultJob {
	started := time.Now()

	// レートリミッターで送信ペースを制御
	if err := c.limiter.Wait(ctx); err != nil {
		return errorResult(job, model.NewTimeoutError(fmt.Sprintf("レート待機中にキャンセル: %v", err)), started)
	}

	reqURL, err := c.buildRequestURL(job)
	if err != nil {
		return errorResult(job, model.NewParseError(fmt.Sprintf("リクエストURLの構築に失敗: %v", err)), started)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errorResult(job, model.NewParseError(fmt.Sprintf("HTTPリクエストの作成に失敗: %v", err)), started)
	}
	req.Header.Set("User-Agent", "Harvester/1.0 Content Collector")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("チャンネルAPIの呼び出しに失敗しました",
			slog.String("source_id", job.SourceID),
			slog.String("external_id", job.ExternalID),
			slog.String("error", err.Error()),
		)
		return errorResult(job, classifyTransportError(err), started)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorResult(job, c.classifyStatus(resp, job.ExternalID), started)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResult(job, model.NewNetworkError(fmt.Sprintf("レスポンスボディの読み取りに失敗: %v", err)), started)
	}

	var parsed channelMessagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return errorResult(job, model.NewParseError(fmt.Sprintf("レスポンスJSONのパースに失敗: %v", err)), started)
	}
	if parsed.Error != nil {
		return errorResult(job, &model.CollectError{
			Code:      parsed.Error.Code,
			Message:   parsed.Error.Message,
			Retryable: false,
		}, started)
	}

	posts, nextCursor := c.convertMessages(parsed.Messages)
	return successResult(job, posts, nextCursor, started)
}

// buildRequestURL は取得エンドポイントのURLを構築する。
func (c *APICollector) buildRequestURL(job model.CollectorJob) (string, error) {
	reqURL, err := url.Parse(fmt.Sprintf("%s/api/channels/%s/messages", c.baseURL, url.PathEscape(job.ExternalID)))
	if err != nil {
		return "", err
	}

	q := reqURL.Query()
	if job.Limit > 0 {
		q.Set("limit", strconv.Itoa(job.Limit))
	}
	if job.Cursor != "" {
		// カーソルより新しいメッセージのみを要求する
		q.Set("after_id", job.Cursor)
	}
	reqURL.RawQuery = q.Encode()
	return reqURL.String(), nil
}

// classifyStatus はHTTPステータスコードをCollectErrorに分類する。
func (c *APICollector) classifyStatus(resp *http.Response, externalID string) *model.CollectError {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return model.NewProfileNotFoundError(externalID)
	case http.StatusForbidden:
		return model.NewPrivateProfileError(externalID)
	case http.StatusUnauthorized:
		return model.NewAuthError("APIトークンが無効です")
	case http.StatusGone:
		return model.NewAccountSuspendedError(externalID)
	case http.StatusTooManyRequests:
		return model.NewRateLimitedError(fmt.Sprintf("チャンネルAPIがレート制限を返しました: %s", externalID))
	default:
		retryable := resp.StatusCode >= 500
		return &model.CollectError{
			Code:      model.ErrCodeUnknown,
			Message:   fmt.Sprintf("チャンネルAPIがステータス %d を返しました", resp.StatusCode),
			Retryable: retryable,
		}
	}
}

// convertMessages はAPIメッセージをFetchedPostに変換し、次カーソルを算出する。
// メッセージが空の場合、次カーソルはnil（据え置き）。
func (c *APICollector) convertMessages(messages []channelMessage) ([]model.FetchedPost, *string) {
	posts := make([]model.FetchedPost, 0, len(messages))
	var maxID int64

	for _, m := range messages {
		mediaURLs := make([]string, 0, len(m.Media))
		for _, media := range m.Media {
			if media.URL != "" {
				mediaURLs = append(mediaURLs, media.URL)
			}
		}

		posts = append(posts, model.FetchedPost{
			ExternalID:  strconv.FormatInt(m.ID, 10),
			Content:     m.Text,
			MediaURLs:   mediaURLs,
			PublishedAt: time.Unix(m.Date, 0).UTC(),
			Author: model.PostAuthor{
				Username:    m.Author.Username,
				DisplayName: m.Author.DisplayName,
				AvatarURL:   m.Author.AvatarURL,
			},
			Metrics: model.PostMetrics{
				Likes:    m.Views,
				Comments: m.Replies,
				Shares:   m.Forwards,
			},
		})

		if m.ID > maxID {
			maxID = m.ID
		}
	}

	if len(posts) == 0 {
		return posts, nil
	}
	cursor := strconv.FormatInt(maxID, 10)
	return posts, &cursor
}

// classifyTransportError はトランスポート層のエラーをCollectErrorに分類する。
func classifyTransportError(err error) *model.CollectError {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTimeoutError(err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.NewTimeoutError(err.Error())
	}
	return model.NewNetworkError(err.Error())
}

var _ Collector = (*APICollector)(nil)
