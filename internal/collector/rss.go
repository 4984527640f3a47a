package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/harvester/internal/model"
)

// TextExtractor はHTMLからプレーンテキストを抽出するインターフェース。
// security.ContentSanitizerServiceを抽象化してテスタビリティを向上させる。
type TextExtractor interface {
	PlainText(rawHTML string) string
}

// RSSCollector はRSS/Atomフィードのコレクター。
// gofeedでフィードをパースし、カーソル（最終取得時刻）より新しいアイテムのみ返す。
type RSSCollector struct {
	httpClient *http.Client
	logger     *slog.Logger
	parser     *gofeed.Parser
	extractor  TextExtractor
}

// NewRSSCollector はRSSCollectorの新しいインスタンスを生成する。
func NewRSSCollector(httpClient *http.Client, logger *slog.Logger, extractor TextExtractor) *RSSCollector {
	return &RSSCollector{
		httpClient: httpClient,
		logger:     logger,
		parser:     gofeed.NewParser(),
		extractor:  extractor,
	}
}

// Collect はフィードの新着アイテムを取得してResultJobを返す。
// カーソルはRFC3339形式の最終取得時刻。それ以前のアイテムは除外される。
func (c *RSSCollector) Collect(ctx context.Context, job model.CollectorJob) model.ResultJob {
	started := time.Now()

	// フィードのURLは外部IDとしてそのまま保持されている
	feedURL := job.ExternalID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return errorResult(job, model.NewParseError(fmt.Sprintf("HTTPリクエストの作成に失敗: %v", err)), started)
	}
	req.Header.Set("User-Agent", "Harvester/1.0 Content Collector")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("フィードの取得に失敗しました",
			slog.String("source_id", job.SourceID),
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return errorResult(job, classifyTransportError(err), started)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return errorResult(job, model.NewProfileNotFoundError(feedURL), started)
	case resp.StatusCode == http.StatusTooManyRequests:
		return errorResult(job, model.NewRateLimitedError(fmt.Sprintf("フィードがレート制限を返しました: %s", feedURL)), started)
	case resp.StatusCode != http.StatusOK:
		return errorResult(job, &model.CollectError{
			Code:      model.ErrCodeUnknown,
			Message:   fmt.Sprintf("フィードがステータス %d を返しました", resp.StatusCode),
			Retryable: resp.StatusCode >= 500,
		}, started)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errorResult(job, model.NewNetworkError(fmt.Sprintf("レスポンスボディの読み取りに失敗: %v", err)), started)
	}

	feed, err := c.parser.ParseString(string(body))
	if err != nil {
		return errorResult(job, model.NewParseError(fmt.Sprintf("フィードのパースに失敗: %v", err)), started)
	}

	since := parseCursorTime(job.Cursor)
	posts, nextCursor := c.convertItems(feed.Items, since, job.Limit)
	return successResult(job, posts, nextCursor, started)
}

// parseCursorTime はRFC3339形式のカーソルを時刻に変換する。
// 空または不正なカーソルはゼロ時刻（全件対象）として扱う。
func parseCursorTime(cursor string) time.Time {
	if cursor == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, cursor)
	if err != nil {
		return time.Time{}
	}
	return t
}

// convertItems はフィードアイテムをFetchedPostに変換し、次カーソルを算出する。
// since以前のアイテムは除外し、limit件を超える分は切り捨てる。
// 新着がない場合、次カーソルはnil（据え置き）。
func (c *RSSCollector) convertItems(items []*gofeed.Item, since time.Time, limit int) ([]model.FetchedPost, *string) {
	posts := make([]model.FetchedPost, 0, len(items))
	var newest time.Time

	for _, item := range items {
		if item == nil {
			continue
		}
		publishedAt := itemPublishedAt(item)
		if !since.IsZero() && !publishedAt.After(since) {
			continue
		}
		if limit > 0 && len(posts) >= limit {
			break
		}

		content := item.Content
		if content == "" {
			content = item.Description
		}
		// フィード本文はHTMLを含むことがあるためプレーンテキストに変換する
		if c.extractor != nil {
			content = c.extractor.PlainText(content)
		}
		// タイトル行をコンテンツ先頭に置き、正規化でタイトル抽出できるようにする
		raw := strings.TrimSpace(item.Title)
		if content != "" {
			raw = raw + "\n\n" + content
		}

		post := model.FetchedPost{
			ExternalID:  itemExternalID(item),
			Content:     raw,
			MediaURLs:   itemMediaURLs(item),
			PublishedAt: publishedAt,
		}
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			post.Author = model.PostAuthor{DisplayName: item.Authors[0].Name}
		}
		posts = append(posts, post)

		if publishedAt.After(newest) {
			newest = publishedAt
		}
	}

	if len(posts) == 0 {
		return posts, nil
	}
	cursor := newest.UTC().Format(time.RFC3339)
	return posts, &cursor
}

// itemExternalID はフィードアイテムの一意識別子を返す。
// GUIDを優先し、なければリンクを使用する。
func itemExternalID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

// itemPublishedAt はアイテムの公開時刻を返す。
// 公開時刻がなければ更新時刻、それもなければ現在時刻。
func itemPublishedAt(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return time.Now().UTC()
}

// itemMediaURLs はエンクロージャーとアイテム画像からメディアURLを抽出する。
// 同一URLの重複は除去する。
func itemMediaURLs(item *gofeed.Item) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(u string) {
		if u == "" {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, enc := range item.Enclosures {
		if enc != nil {
			add(enc.URL)
		}
	}
	if item.Image != nil {
		add(item.Image.URL)
	}
	return urls
}

var _ Collector = (*RSSCollector)(nil)
