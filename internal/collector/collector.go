// Package collector はソース種別ごとのコンテンツ収集機能を提供する。
// 各コレクターは例外を送出せず、結果を必ずResultJobとして返す。
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/harvester/internal/model"
)

// Collector は1ソース種別のコンテンツ取得を担う。
// Collectはエラーをerror戻り値として返さない。失敗も含めて
// ResultJobのStatusとErrorフィールドで表現する。
type Collector interface {
	Collect(ctx context.Context, job model.CollectorJob) model.ResultJob
}

// Registry はコレクター種別からコレクター実装への対応表。
type Registry map[model.CollectorType]Collector

// Validate は全ソース種別に対応するコレクターが登録されているかを検証する。
// 起動時に呼び出し、未登録があれば設定エラーとして扱う。
func (r Registry) Validate() error {
	for _, st := range model.AllSourceTypes() {
		ct, err := model.CollectorTypeFor(st)
		if err != nil {
			return err
		}
		if _, ok := r[ct]; !ok {
			return fmt.Errorf("コレクターが未登録です: %s (ソース種別: %s)", ct, st)
		}
	}
	return nil
}

// successResult は成功ResultJobを構築する。
func successResult(job model.CollectorJob, posts []model.FetchedPost, nextCursor *string, started time.Time) model.ResultJob {
	return model.ResultJob{
		SourceID:       job.SourceID,
		SourceType:     job.SourceType,
		Status:         model.ResultStatusSuccess,
		Posts:          posts,
		NextCursor:     nextCursor,
		ProcessingTime: time.Since(started),
		Metadata:       job.Metadata,
		FetchedAt:      time.Now(),
	}
}

// errorResult は失敗ResultJobを構築する。
func errorResult(job model.CollectorJob, collectErr *model.CollectError, started time.Time) model.ResultJob {
	return model.ResultJob{
		SourceID:       job.SourceID,
		SourceType:     job.SourceType,
		Status:         model.ResultStatusError,
		Error:          collectErr,
		ProcessingTime: time.Since(started),
		Metadata:       job.Metadata,
		FetchedAt:      time.Now(),
	}
}
