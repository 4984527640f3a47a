// Package processor はコレクター実行結果の唯一の消費者であるResult Processorを提供する。
package processor

import (
	"strings"

	"github.com/hitoshi/harvester/internal/model"
)

// permanentErrorCodes はソースを一時停止させる恒久エラーコード。
// このリストとの一致はCollectErrorのRetryableフラグより優先される。
var permanentErrorCodes = map[string]struct{}{
	model.ErrCodeProfileNotFound:  {},
	model.ErrCodePrivateProfile:   {},
	model.ErrCodeAccountSuspended: {},
	model.ErrCodeAuth:             {},
}

// retryableSubstrings はメッセージから一時的エラーを推定する部分文字列。
// 大文字小文字を区別しない。
var retryableSubstrings = []string{
	"rate limit",
	"timeout",
	"timed out",
	"network",
	"connection",
	"temporarily",
}

// isPermanent はエラーが恒久的（ソースを一時停止すべき）かを判定する。
// 恒久コードリストとの一致が最優先。一致しない場合はRetryableフラグと
// メッセージのヒューリスティックで一時的エラーを推定し、
// どちらにも該当しなければ恒久的とみなす。
func isPermanent(collectErr *model.CollectError) bool {
	if collectErr == nil {
		return false
	}
	if _, ok := permanentErrorCodes[collectErr.Code]; ok {
		return true
	}
	if collectErr.Retryable {
		return false
	}
	lower := strings.ToLower(collectErr.Message)
	for _, sub := range retryableSubstrings {
		if strings.Contains(lower, sub) {
			return false
		}
	}
	return true
}
