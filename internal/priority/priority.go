// Package priority はアクティブユーザー数からの優先度導出と
// 全ソースの定期的な再スケジューリングを提供する。
package priority

import "time"

// ManualPriority は手動トリガーに割り当てる最高優先度。
const ManualPriority = 0

// TierFor はアクティブユーザー数から優先度ティアを導出する。
// 数値が小さいほど緊急度が高い。
func TierFor(activeUsers int) int {
	switch {
	case activeUsers >= 100:
		return 1
	case activeUsers >= 50:
		return 2
	case activeUsers >= 20:
		return 3
	case activeUsers >= 10:
		return 4
	case activeUsers >= 5:
		return 5
	case activeUsers >= 2:
		return 6
	case activeUsers >= 1:
		return 7
	default:
		return 10
	}
}

// IntervalFor はアクティブユーザー数から再フェッチ間隔を導出する。
// 0は「関心なし → サスペンド」を意味する。
func IntervalFor(activeUsers int) time.Duration {
	switch {
	case activeUsers >= 100:
		return 3 * time.Minute
	case activeUsers >= 50:
		return 5 * time.Minute
	case activeUsers >= 20:
		return 10 * time.Minute
	case activeUsers >= 10:
		return 15 * time.Minute
	case activeUsers >= 5:
		return 30 * time.Minute
	case activeUsers >= 2:
		return 60 * time.Minute
	case activeUsers >= 1:
		return 120 * time.Minute
	default:
		return 0
	}
}
