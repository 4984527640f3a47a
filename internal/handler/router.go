package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/harvester/internal/metrics"
	"github.com/hitoshi/harvester/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// ソース管理
	SourceService SourceServiceInterface

	// ヘルスチェック用DB疎通（nil可）
	DB DBPinger

	// メトリクス公開用（nil可、nilなら/metricsを公開しない）
	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	sourceHandler := NewSourceHandler(deps.SourceService)
	healthHandler := NewHealthHandler(deps.DB)

	// --- 監視用ルート（レート制限の外） ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- APIルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/sources", func(r chi.Router) {
			// POST /api/sources - ソース登録（登録専用レート制限を追加）
			r.With(deps.RateLimiter.SourceRegistrationMiddleware()).Post("/", sourceHandler.RegisterSource)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sourceHandler.GetSource)
				r.Get("/posts", sourceHandler.ListPosts)
				r.Post("/refresh", sourceHandler.RefreshSource)
				r.Post("/activity", sourceHandler.RecordActivity)
			})
		})
	})

	return r
}
