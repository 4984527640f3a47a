package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/harvester/internal/model"
)

// ScrapeCollector は公開プロフィールページのスクレイピングコレクター。
// goqueryでHTMLから投稿要素を抽出し、カーソル（最終取得投稿ID）までの新着を返す。
type ScrapeCollector struct {
	httpClient *http.Client
	logger     *slog.Logger
	extractor  TextExtractor
}

// NewScrapeCollector はScrapeCollectorの新しいインスタンスを生成する。
func NewScrapeCollector(httpClient *http.Client, logger *slog.Logger, extractor TextExtractor) *ScrapeCollector {
	return &ScrapeCollector{
		httpClient: httpClient,
		logger:     logger,
		extractor:  extractor,
	}
}

// 投稿要素の抽出に使用するセレクター。
// プロフィールページの一般的なマークアップパターンを順に試す。
var postSelectors = []string{
	"article[data-post-id]",
	"article",
	"div.post",
}

// Collect はプロフィールページをスクレイピングしてResultJobを返す。
// カーソルは最後に取得した投稿の外部ID。既出の投稿はカーソルで打ち切る。
func (c *ScrapeCollector) Collect(ctx context.Context, job model.CollectorJob) model.ResultJob {
	started := time.Now()

	pageURL := c.profilePageURL(job)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return errorResult(job, model.NewParseError(fmt.Sprintf("HTTPリクエストの作成に失敗: %v", err)), started)
	}
	req.Header.Set("User-Agent", "Harvester/1.0 Content Collector")
	req.Header.Set("Accept", "text/html, application/xhtml+xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("プロフィールページの取得に失敗しました",
			slog.String("source_id", job.SourceID),
			slog.String("external_id", job.ExternalID),
			slog.String("error", err.Error()),
		)
		return errorResult(job, classifyTransportError(err), started)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errorResult(job, model.NewProfileNotFoundError(job.ExternalID), started)
	case resp.StatusCode == http.StatusForbidden:
		return errorResult(job, model.NewPrivateProfileError(job.ExternalID), started)
	case resp.StatusCode == http.StatusGone:
		return errorResult(job, model.NewAccountSuspendedError(job.ExternalID), started)
	case resp.StatusCode == http.StatusTooManyRequests:
		return errorResult(job, model.NewRateLimitedError(fmt.Sprintf("プロフィールページがレート制限を返しました: %s", job.ExternalID)), started)
	case resp.StatusCode != http.StatusOK:
		return errorResult(job, &model.CollectError{
			Code:      model.ErrCodeUnknown,
			Message:   fmt.Sprintf("プロフィールページがステータス %d を返しました", resp.StatusCode),
			Retryable: resp.StatusCode >= 500,
		}, started)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return errorResult(job, model.NewParseError(fmt.Sprintf("HTMLのパースに失敗: %v", err)), started)
	}

	posts, nextCursor := c.extractPosts(doc, job.Cursor, job.Limit)
	return successResult(job, posts, nextCursor, started)
}

// profilePageURL はジョブのフェッチ設定からページURLを決定する。
// fetch_configにurlが指定されていればそれを優先する。
func (c *ScrapeCollector) profilePageURL(job model.CollectorJob) string {
	if u, ok := job.Metadata.FetchConfig["url"]; ok && u != "" {
		return u
	}
	return job.ExternalID
}

// extractPosts はHTML文書から投稿要素を抽出し、次カーソルを算出する。
// 投稿はページ上で新しい順に並んでいる前提。カーソルに一致する投稿以降は打ち切る。
// 新着がない場合、次カーソルはnil（据え置き）。
func (c *ScrapeCollector) extractPosts(doc *goquery.Document, cursor string, limit int) ([]model.FetchedPost, *string) {
	var selection *goquery.Selection
	for _, sel := range postSelectors {
		selection = doc.Find(sel)
		if selection.Length() > 0 {
			break
		}
	}
	if selection == nil || selection.Length() == 0 {
		return nil, nil
	}

	var posts []model.FetchedPost

	selection.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if limit > 0 && len(posts) >= limit {
			return false
		}

		externalID := postExternalID(s)
		if cursor != "" && externalID == cursor {
			// カーソル投稿に到達: 以降は取得済み
			return false
		}

		html, err := s.Html()
		if err != nil {
			return true
		}
		content := html
		if c.extractor != nil {
			content = c.extractor.PlainText(html)
		}
		if strings.TrimSpace(content) == "" {
			return true
		}

		posts = append(posts, model.FetchedPost{
			ExternalID:  externalID,
			Content:     content,
			MediaURLs:   postMediaURLs(s),
			PublishedAt: postPublishedAt(s),
			Author:      postAuthor(doc),
		})
		return true
	})

	if len(posts) == 0 {
		return posts, nil
	}
	// ページ先頭の投稿が最新
	cursorValue := posts[0].ExternalID
	return posts, &cursorValue
}

// postExternalID は投稿要素から外部IDを抽出する。
// data-post-id属性を優先し、なければパーマリンク、どちらもなければ
// 本文テキストのハッシュを使う。ページ上の位置は取得のたびに変わり得るため
// IDには使わない。
func postExternalID(s *goquery.Selection) string {
	if id, ok := s.Attr("data-post-id"); ok && id != "" {
		return id
	}
	if id, ok := s.Attr("id"); ok && id != "" {
		return id
	}
	if href, ok := s.Find("a[rel=permalink], a.permalink").First().Attr("href"); ok && href != "" {
		return href
	}
	sum := sha256.Sum256([]byte(strings.TrimSpace(s.Text())))
	return "content-" + hex.EncodeToString(sum[:8])
}

// postMediaURLs は投稿要素内のメディアURLを抽出する。
func postMediaURLs(s *goquery.Selection) []string {
	var urls []string
	seen := make(map[string]struct{})

	appendURL := func(u string) {
		if u == "" || !strings.HasPrefix(u, "http") {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	s.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		appendURL(src)
	})
	s.Find("video source[src], video[src]").Each(func(_ int, v *goquery.Selection) {
		src, _ := v.Attr("src")
		appendURL(src)
	})

	return urls
}

// postPublishedAt は投稿要素から公開時刻を抽出する。
// time要素のdatetime属性を解釈し、なければ現在時刻を返す。
func postPublishedAt(s *goquery.Selection) time.Time {
	if dt, ok := s.Find("time[datetime]").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// postAuthor は文書のメタ情報からプロフィール所有者を抽出する。
func postAuthor(doc *goquery.Document) model.PostAuthor {
	author := model.PostAuthor{}
	if name, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
		author.DisplayName = name
	}
	if avatar, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		author.AvatarURL = avatar
	}
	return author
}

var _ Collector = (*ScrapeCollector)(nil)
