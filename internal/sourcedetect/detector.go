// Package sourcedetect はURLからのソース種別判定と外部ID抽出を提供する。
package sourcedetect

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/harvester/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Detector はURLの分類機能を提供する。
type Detector struct {
	ssrfGuard SSRFValidator
}

// NewDetector はDetectorの新しいインスタンスを生成する。
func NewDetector(ssrfGuard SSRFValidator) *Detector {
	return &Detector{
		ssrfGuard: ssrfGuard,
	}
}

// messagingHosts はメッセージングチャンネルとして認識するホスト名。
var messagingHosts = map[string]struct{}{
	"t.me":         {},
	"telegram.me":  {},
	"telegram.dog": {},
}

// feedContentTypes はフィードとして認識するContent-Typeのリスト。
var feedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
}

// xmlContentTypes はXMLとして認識するContent-Type（ボディ解析が必要）。
var xmlContentTypes = []string{
	"text/xml",
	"application/xml",
}

// Detect はURLを分類してソース種別を返す。
// 1. SSRF検証を実行
// 2. メッセージングホストならHTTPアクセスなしで判定
// 3. URLにHTTPリクエストを送信し、Content-Typeとボディからフィードかを判定
// 4. フィードでなければスクレイピング対象のプロフィールページとみなす
func (d *Detector) Detect(ctx context.Context, inputURL string) (model.SourceType, error) {
	if inputURL == "" {
		return "", model.NewInvalidURLError("URLが入力されていません")
	}

	u, err := url.Parse(inputURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", model.NewInvalidURLError(inputURL)
	}

	// メッセージングホストはパスからハンドルが取れる場合のみ採用
	if _, ok := messagingHosts[strings.ToLower(u.Hostname())]; ok {
		if channelHandle(u) == "" {
			return "", model.NewSourceNotDetectedError(inputURL)
		}
		return model.SourceTypeMessagingChannel, nil
	}

	// SSRF検証
	if d.ssrfGuard != nil {
		if err := d.ssrfGuard.ValidateURL(inputURL); err != nil {
			return "", model.NewSSRFBlockedError()
		}
	}

	contentType, body, err := d.fetch(ctx, inputURL)
	if err != nil {
		return "", err
	}

	if isDirectFeed(contentType, body) {
		return model.SourceTypeRSSFeed, nil
	}

	// フィードでないHTMLはプロフィールページとして扱う
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if strings.Contains(strings.ToLower(mediaType), "html") {
		return model.SourceTypeScrapedProfile, nil
	}

	return "", model.NewSourceNotDetectedError(inputURL)
}

// ExternalID はソースのURLから外部IDを抽出する。
// メッセージングチャンネルはチャンネルハンドル、フィードはURL自体、
// プロフィールはパス末尾のハンドル（先頭の@は除去）。
func ExternalID(sourceType model.SourceType, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("URLの解析に失敗: %w", err)
	}

	switch sourceType {
	case model.SourceTypeMessagingChannel:
		handle := channelHandle(u)
		if handle == "" {
			return "", fmt.Errorf("チャンネルハンドルを抽出できません: %s", rawURL)
		}
		return handle, nil

	case model.SourceTypeRSSFeed:
		return rawURL, nil

	case model.SourceTypeScrapedProfile:
		handle := profileHandle(u)
		if handle == "" {
			return "", fmt.Errorf("プロフィールハンドルを抽出できません: %s", rawURL)
		}
		return handle, nil

	default:
		return "", fmt.Errorf("未知のソース種別: %s", sourceType)
	}
}

// channelHandle はメッセージングURLのパスからチャンネルハンドルを抽出する。
// プレビューURL（/s/handle）のプレフィックスは除去する。
func channelHandle(u *url.URL) string {
	segments := pathSegments(u)
	if len(segments) == 0 {
		return ""
	}
	if segments[0] == "s" && len(segments) > 1 {
		return segments[1]
	}
	// joinchainリンクや内部パスはハンドルとして扱わない
	if strings.HasPrefix(segments[0], "+") || segments[0] == "joinchat" {
		return ""
	}
	return segments[0]
}

// profileHandle はプロフィールURLのパスからハンドルを抽出する。
func profileHandle(u *url.URL) string {
	segments := pathSegments(u)
	if len(segments) == 0 {
		// パスがない場合はホスト名をハンドルとみなす
		return strings.ToLower(u.Hostname())
	}
	return strings.TrimPrefix(segments[len(segments)-1], "@")
}

// pathSegments はURLパスを空要素を除いたセグメント列に分解する。
func pathSegments(u *url.URL) []string {
	var segments []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// fetch はURLにGETリクエストを送信し、Content-Typeとボディを返す。
func (d *Detector) fetch(ctx context.Context, inputURL string) (string, []byte, error) {
	client := d.getHTTPClient()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inputURL, nil)
	if err != nil {
		return "", nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", "Harvester/1.0 Content Collector")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html, */*")

	resp, err := client.Do(req)
	if err != nil {
		return "", nil, model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	// レスポンスボディを読み込み（最大5MB）
	const maxBodySize = 5 * 1024 * 1024
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", nil, model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}

	return resp.Header.Get("Content-Type"), body, nil
}

// getHTTPClient はHTTPクライアントを取得する。
// SSRFGuardが設定されている場合はSSRF防止付きクライアントを返す。
func (d *Detector) getHTTPClient() *http.Client {
	if d.ssrfGuard != nil {
		return d.ssrfGuard.NewSafeClient(10*time.Second, 5*1024*1024)
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// isDirectFeed はContent-Typeとボディを解析して、
// レスポンスがRSS/Atomフィードかどうかを判定する。
func isDirectFeed(contentType string, body []byte) bool {
	// Content-Typeからメディアタイプを抽出（charsetなどのパラメータを除去）
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	for _, feedCT := range feedContentTypes {
		if mediaType == feedCT {
			return true
		}
	}

	// 汎用XML Content-Typeの場合はボディ解析が必要
	isXML := false
	for _, xmlCT := range xmlContentTypes {
		if mediaType == xmlCT {
			isXML = true
			break
		}
	}

	if !isXML || len(body) == 0 {
		return false
	}

	return isRSSOrAtomXML(body)
}

// isRSSOrAtomXML はXMLボディの先頭部分を解析してRSS/Atomフィードかを判定する。
func isRSSOrAtomXML(body []byte) bool {
	// 先頭4KBを検査（XMLプロローグ + ルート要素が含まれるのに十分）
	checkSize := 4096
	if len(body) < checkSize {
		checkSize = len(body)
	}
	prefix := strings.ToLower(string(body[:checkSize]))

	if strings.Contains(prefix, "<rss") {
		return true
	}
	if strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	if strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom") {
		return true
	}

	return false
}
