// Package model はドメインモデルを定義する。
package model

import "fmt"

// CollectError はプロバイダーレベルの失敗を構造化したエラー。
// コレクターは例外を送出せず、必ずCollectErrorとしてResultJobに載せて返す。
type CollectError struct {
	Code      string
	Message   string
	Retryable bool
}

// Error はerrorインターフェースを実装する。
func (e *CollectError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// プロバイダーエラーコード。
// Permanent系のコードはResult Processorの分類でRetryableフラグより優先される。
const (
	ErrCodeRateLimited      = "RATE_LIMITED_ERROR"
	ErrCodeTimeout          = "TIMEOUT_ERROR"
	ErrCodeNetwork          = "NETWORK_ERROR"
	ErrCodeProfileNotFound  = "PROFILE_NOT_FOUND_ERROR"
	ErrCodePrivateProfile   = "PRIVATE_PROFILE_ERROR"
	ErrCodeAccountSuspended = "ACCOUNT_SUSPENDED_ERROR"
	ErrCodeAuth             = "AUTH_ERROR"
	ErrCodeParse            = "PARSE_ERROR"
	ErrCodeUnknown          = "UNKNOWN_ERROR"
)

// NewRateLimitedError はレート制限エラーを生成する。
func NewRateLimitedError(message string) *CollectError {
	return &CollectError{Code: ErrCodeRateLimited, Message: message, Retryable: true}
}

// NewTimeoutError はタイムアウトエラーを生成する。
func NewTimeoutError(message string) *CollectError {
	return &CollectError{Code: ErrCodeTimeout, Message: message, Retryable: true}
}

// NewNetworkError はネットワークエラーを生成する。
func NewNetworkError(message string) *CollectError {
	return &CollectError{Code: ErrCodeNetwork, Message: message, Retryable: true}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError(externalID string) *CollectError {
	return &CollectError{
		Code:      ErrCodeProfileNotFound,
		Message:   fmt.Sprintf("プロフィールが見つかりません: %s", externalID),
		Retryable: false,
	}
}

// NewPrivateProfileError は非公開プロフィールエラーを生成する。
func NewPrivateProfileError(externalID string) *CollectError {
	return &CollectError{
		Code:      ErrCodePrivateProfile,
		Message:   fmt.Sprintf("プロフィールが非公開です: %s", externalID),
		Retryable: false,
	}
}

// NewAccountSuspendedError はアカウント凍結エラーを生成する。
func NewAccountSuspendedError(externalID string) *CollectError {
	return &CollectError{
		Code:      ErrCodeAccountSuspended,
		Message:   fmt.Sprintf("アカウントが凍結されています: %s", externalID),
		Retryable: false,
	}
}

// NewAuthError は認証エラーを生成する。
func NewAuthError(message string) *CollectError {
	return &CollectError{Code: ErrCodeAuth, Message: message, Retryable: false}
}

// NewParseError はパースエラーを生成する。
func NewParseError(message string) *CollectError {
	return &CollectError{Code: ErrCodeParse, Message: message, Retryable: false}
}

// APIError はHTTP API向けの統一エラーフォーマットを表す。
type APIError struct {
	Code     string
	Message  string
	Category string // カテゴリ: validation, source, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みAPIエラーコード
const (
	ErrCodeInvalidURL        = "INVALID_URL"
	ErrCodeSSRFBlocked       = "SSRF_BLOCKED"
	ErrCodeSourceNotDetected = "SOURCE_NOT_DETECTED"
	ErrCodeSourceNotFound    = "SOURCE_NOT_FOUND"
	ErrCodeDuplicateSource   = "DUPLICATE_SOURCE"
	ErrCodeFetchFailed       = "FETCH_FAILED"
)

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewSourceNotDetectedError はソース分類失敗エラーを生成する。
func NewSourceNotDetectedError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotDetected,
		Message:  fmt.Sprintf("指定されたURLからソース種別を判定できませんでした: %s", url),
		Category: "source",
		Action:   "チャンネルURL、フィードURL、またはプロフィールページのURLを確認してください。",
	}
}

// NewSourceNotFoundError はソース未検出エラーを生成する。
func NewSourceNotFoundError(sourceID string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  fmt.Sprintf("指定されたソースが見つかりません: %s", sourceID),
		Category: "source",
		Action:   "ソースIDを確認してください。",
	}
}

// NewFetchFailedError はURL取得失敗エラーを生成する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("URLの取得に失敗しました: %s", reason),
		Category: "source",
		Action:   "URLが正しいか、サイトがアクセス可能か確認してください。",
	}
}

// NewDuplicateSourceError は登録済みソースの再登録エラーを生成する。
func NewDuplicateSourceError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSource,
		Message:  "このソースは既に登録されています。",
		Category: "source",
		Action:   "ソース一覧から該当ソースを確認してください。",
	}
}
