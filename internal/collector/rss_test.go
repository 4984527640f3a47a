package collector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/harvester/internal/model"
)

const testFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Test Feed</title>
<item>
  <title>Newest Article</title>
  <link>https://example.com/articles/3</link>
  <guid>https://example.com/articles/3</guid>
  <description>&lt;p&gt;newest body&lt;/p&gt;</description>
  <pubDate>Wed, 15 Nov 2023 12:00:00 GMT</pubDate>
  <enclosure url="https://cdn.example.com/photo.jpg" type="image/jpeg" length="1000"/>
</item>
<item>
  <title>Older Article</title>
  <link>https://example.com/articles/2</link>
  <guid>https://example.com/articles/2</guid>
  <description>older body</description>
  <pubDate>Tue, 14 Nov 2023 12:00:00 GMT</pubDate>
</item>
</channel>
</rss>`

// stripExtractor はタグ除去のテスト用スタブ。
type stripExtractor struct{}

func (stripExtractor) PlainText(s string) string {
	s = strings.ReplaceAll(s, "<p>", "")
	s = strings.ReplaceAll(s, "</p>", "")
	return strings.TrimSpace(s)
}

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeedXML))
	}))
}

func TestRSSCollectorSuccess(t *testing.T) {
	server := newFeedServer(t)
	defer server.Close()

	c := NewRSSCollector(&http.Client{}, newTestLogger(), stripExtractor{})
	result := c.Collect(context.Background(), model.CollectorJob{
		SourceID:   "src-1",
		SourceType: model.SourceTypeRSSFeed,
		ExternalID: server.URL + "/feed",
		Limit:      50,
	})

	if result.Status != model.ResultStatusSuccess {
		t.Fatalf("成功ステータスであるべき: %+v", result.Error)
	}
	if len(result.Posts) != 2 {
		t.Fatalf("投稿数が一致しない: got %d", len(result.Posts))
	}
	if result.Posts[0].ExternalID != "https://example.com/articles/3" {
		t.Errorf("GUIDが外部IDになるべき: got %s", result.Posts[0].ExternalID)
	}
	if !strings.HasPrefix(result.Posts[0].Content, "Newest Article") {
		t.Errorf("タイトルがコンテンツ先頭に置かれるべき: got %q", result.Posts[0].Content)
	}
	if strings.Contains(result.Posts[0].Content, "<p>") {
		t.Errorf("HTMLタグは除去されるべき: got %q", result.Posts[0].Content)
	}
	if len(result.Posts[0].MediaURLs) != 1 || result.Posts[0].MediaURLs[0] != "https://cdn.example.com/photo.jpg" {
		t.Errorf("エンクロージャーがメディアURLになるべき: got %v", result.Posts[0].MediaURLs)
	}

	wantCursor := time.Date(2023, 11, 15, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)
	if result.NextCursor == nil || *result.NextCursor != wantCursor {
		t.Errorf("次カーソルは最新公開時刻であるべき: got %v, want %s", result.NextCursor, wantCursor)
	}
}

func TestRSSCollectorCursorFiltering(t *testing.T) {
	server := newFeedServer(t)
	defer server.Close()

	// 古い記事の公開時刻をカーソルにすると新しい記事のみ返る
	cursor := time.Date(2023, 11, 14, 12, 0, 0, 0, time.UTC).Format(time.RFC3339)

	c := NewRSSCollector(&http.Client{}, newTestLogger(), stripExtractor{})
	result := c.Collect(context.Background(), model.CollectorJob{
		SourceID:   "src-1",
		ExternalID: server.URL,
		Cursor:     cursor,
		Limit:      50,
	})

	if result.Status != model.ResultStatusSuccess {
		t.Fatalf("成功ステータスであるべき: %+v", result.Error)
	}
	if len(result.Posts) != 1 {
		t.Fatalf("カーソル以前の記事は除外されるべき: got %d", len(result.Posts))
	}
	if result.Posts[0].ExternalID != "https://example.com/articles/3" {
		t.Errorf("新しい記事のみ返るべき: got %s", result.Posts[0].ExternalID)
	}
}

func TestRSSCollectorNoNewItems(t *testing.T) {
	server := newFeedServer(t)
	defer server.Close()

	// 最新記事より未来のカーソル
	cursor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)

	c := NewRSSCollector(&http.Client{}, newTestLogger(), stripExtractor{})
	result := c.Collect(context.Background(), model.CollectorJob{
		SourceID:   "src-1",
		ExternalID: server.URL,
		Cursor:     cursor,
	})

	if result.Status != model.ResultStatusSuccess {
		t.Fatalf("成功ステータスであるべき: %+v", result.Error)
	}
	if len(result.Posts) != 0 {
		t.Errorf("新着なしの場合投稿は空であるべき: got %d", len(result.Posts))
	}
	if result.NextCursor != nil {
		t.Errorf("新着なしの場合カーソルは据え置き（nil）であるべき: got %v", *result.NextCursor)
	}
}

func TestRSSCollectorParseError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not a feed"))
	}))
	defer server.Close()

	c := NewRSSCollector(&http.Client{}, newTestLogger(), stripExtractor{})
	result := c.Collect(context.Background(), model.CollectorJob{SourceID: "src-1", ExternalID: server.URL})

	if result.Status != model.ResultStatusError {
		t.Fatal("エラーステータスであるべき")
	}
	if result.Error.Code != model.ErrCodeParse {
		t.Errorf("パースエラーコードであるべき: got %s", result.Error.Code)
	}
}

func TestRSSCollectorFeedGone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	c := NewRSSCollector(&http.Client{}, newTestLogger(), stripExtractor{})
	result := c.Collect(context.Background(), model.CollectorJob{SourceID: "src-1", ExternalID: server.URL})

	if result.Status != model.ResultStatusError {
		t.Fatal("エラーステータスであるべき")
	}
	if result.Error.Code != model.ErrCodeProfileNotFound {
		t.Errorf("消滅したフィードは恒久エラーであるべき: got %s", result.Error.Code)
	}
	if result.Error.Retryable {
		t.Error("消滅したフィードはリトライ不可であるべき")
	}
}

func TestItemMediaURLsDeduplicates(t *testing.T) {
	// gofeedはエンクロージャー画像をItem.Imageにも反映するため、
	// 同一URLが二重にメディアURLへ入らないことを確認する
	item := &gofeed.Item{
		Enclosures: []*gofeed.Enclosure{
			{URL: "https://cdn.example.com/photo.jpg"},
			{URL: "https://cdn.example.com/audio.mp3"},
		},
		Image: &gofeed.Image{URL: "https://cdn.example.com/photo.jpg"},
	}

	got := itemMediaURLs(item)
	want := []string{"https://cdn.example.com/photo.jpg", "https://cdn.example.com/audio.mp3"}
	if len(got) != len(want) {
		t.Fatalf("メディアURL数が一致しない: got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("メディアURLが一致しない: got %v, want %v", got, want)
		}
	}
}

func TestParseCursorTime(t *testing.T) {
	if !parseCursorTime("").IsZero() {
		t.Error("空カーソルはゼロ時刻であるべき")
	}
	if !parseCursorTime("garbage").IsZero() {
		t.Error("不正カーソルはゼロ時刻であるべき")
	}
	want := time.Date(2023, 11, 15, 12, 0, 0, 0, time.UTC)
	if got := parseCursorTime("2023-11-15T12:00:00Z"); !got.Equal(want) {
		t.Errorf("カーソル時刻が一致しない: got %v", got)
	}
}
