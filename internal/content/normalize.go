// Package content は取得した生テキストの構造化コンテンツブロックへの正規化を提供する。
package content

import (
	"path"
	"strings"

	"github.com/hitoshi/harvester/internal/model"
)

const (
	// maxHeadingLevel はMarkdown見出しとして解釈する最大レベル。
	maxHeadingLevel = 3
	// boldHeadingMaxLen は強調行を見出しとみなす最大文字数。
	boldHeadingMaxLen = 100
	// upperHeadingMaxLen は大文字行を見出しとみなす最大文字数。
	upperHeadingMaxLen = 80
	// titleMaxLen は抽出タイトルの最大文字数。
	titleMaxLen = 100
)

// videoExtensions は動画ブロックとして扱う拡張子。
var videoExtensions = map[string]struct{}{
	".mp4": {}, ".mov": {}, ".avi": {}, ".webm": {}, ".mkv": {}, ".m4v": {},
}

// audioExtensions は音声ブロックとして扱う拡張子。
var audioExtensions = map[string]struct{}{
	".mp3": {}, ".wav": {}, ".ogg": {}, ".m4a": {}, ".flac": {}, ".aac": {},
}

// Normalize は生テキストとメディアURLを順序付きのコンテンツブロック列に変換する。
// テキストブロックの後に各メディアURLのブロックが続く。
func Normalize(raw string, mediaURLs []string) []model.ContentBlock {
	blocks := ParseBlocks(raw)
	for _, url := range mediaURLs {
		blocks = append(blocks, MediaBlock(url))
	}
	return blocks
}

// ParseBlocks は生テキストを型付きブロックの順序付きリストに変換する。
// 空行境界で段落に分割し、複数行の段落は各行を独立に判定する。
func ParseBlocks(raw string) []model.ContentBlock {
	var blocks []model.ContentBlock

	for _, paragraph := range splitParagraphs(raw) {
		for _, line := range strings.Split(paragraph, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			blocks = append(blocks, classifyLine(line))
		}
	}

	return blocks
}

// MediaBlock はメディアURLを拡張子判定でimage/video/audioブロックに変換する。
// 動画拡張子は動画ブロック、音声拡張子は音声ブロック、それ以外は画像ブロック。
func MediaBlock(url string) model.ContentBlock {
	ext := strings.ToLower(path.Ext(stripQuery(url)))

	if _, ok := videoExtensions[ext]; ok {
		return model.ContentBlock{Type: model.BlockTypeVideo, URL: url}
	}
	if _, ok := audioExtensions[ext]; ok {
		return model.ContentBlock{Type: model.BlockTypeAudio, URL: url}
	}
	return model.ContentBlock{Type: model.BlockTypeImage, URL: url}
}

// ExtractTitle は生コンテンツの先頭行を表示タイトルとして抽出する。
// 100文字を超える場合は切り詰めて省略記号を付与する。
func ExtractTitle(raw string) string {
	line := raw
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		line = raw[:idx]
	}
	line = strings.TrimSpace(line)

	runes := []rune(line)
	if len(runes) <= titleMaxLen {
		return line
	}
	return string(runes[:titleMaxLen]) + "..."
}

// splitParagraphs は空行境界でテキストを段落に分割する。
// 空白のみの行も空行として扱う。
func splitParagraphs(raw string) []string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(normalized, "\n")

	var paragraphs []string
	var current []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				paragraphs = append(paragraphs, strings.Join(current, "\n"))
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, strings.Join(current, "\n"))
	}
	return paragraphs
}

// classifyLine は1行を見出しまたは段落ブロックに分類する。
func classifyLine(line string) model.ContentBlock {
	if level, text, ok := parseMarkdownHeading(line); ok {
		return model.ContentBlock{Type: model.BlockTypeHeading, Text: text, Level: level}
	}
	if text, ok := parseBoldHeading(line); ok {
		return model.ContentBlock{Type: model.BlockTypeHeading, Text: text, Level: 2}
	}
	if isUpperHeading(line) {
		return model.ContentBlock{Type: model.BlockTypeHeading, Text: line, Level: 2}
	}
	return model.ContentBlock{Type: model.BlockTypeParagraph, Text: line}
}

// parseMarkdownHeading は「#」1〜3個＋空白で始まる行をMarkdown見出しとして解釈する。
// レベルは3を上限とする。
func parseMarkdownHeading(line string) (level int, text string, ok bool) {
	hashes := 0
	for hashes < len(line) && line[hashes] == '#' {
		hashes++
	}
	if hashes == 0 || hashes > maxHeadingLevel {
		return 0, "", false
	}
	if hashes >= len(line) || line[hashes] != ' ' {
		return 0, "", false
	}
	text = strings.TrimSpace(line[hashes+1:])
	if text == "" {
		return 0, "", false
	}
	return hashes, text, true
}

// parseBoldHeading は全体が**…**または__…__で囲まれた100文字以下の行を
// レベル2見出しとして解釈する（囲み文字は除去）。
func parseBoldHeading(line string) (string, bool) {
	if len([]rune(line)) > boldHeadingMaxLen {
		return "", false
	}

	for _, marker := range []string{"**", "__"} {
		if strings.HasPrefix(line, marker) && strings.HasSuffix(line, marker) && len(line) > 2*len(marker) {
			inner := line[len(marker) : len(line)-len(marker)]
			// 内側に同じ囲み文字を含む場合は単なる強調の連続とみなす
			if strings.Contains(inner, marker) {
				return "", false
			}
			return strings.TrimSpace(inner), true
		}
	}
	return "", false
}

// isUpperHeading は80文字以下で自身の大文字化と一致し、
// 大小の区別を持つ文字を1つ以上含む行を見出しとみなす。
func isUpperHeading(line string) bool {
	if len([]rune(line)) > upperHeadingMaxLen {
		return false
	}
	if line != strings.ToUpper(line) {
		return false
	}
	// 大文字化で不変の行（数字・記号のみ等）を除外する
	return line != strings.ToLower(line)
}

// stripQuery はURLからクエリ文字列とフラグメントを除去する。
func stripQuery(url string) string {
	if idx := strings.IndexAny(url, "?#"); idx >= 0 {
		return url[:idx]
	}
	return url
}
