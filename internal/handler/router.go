package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/najeeb2500/agrishare/internal/metrics"
	"github.com/najeeb2500/agrishare/internal/middleware"
	"github.com/najeeb2500/agrishare/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	ParticipantFinder middleware.ParticipantFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// メトリクス
	MetricsGatherer prometheus.Gatherer

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 区画
	AllocationService AllocationServiceInterface
	PlotStore         PlotStoreInterface

	// 申請
	RequestService RequestServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Logging → Recovery → Session → RateLimit(General)
//
// /health・/metrics・認証ルート（/auth/*）はセッション認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// 全ルートに効くミドルウェアを最上位に適用
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))
	r.Use(middleware.NewRecoveryMiddleware())

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	plotHandler := NewPlotHandler(deps.AllocationService, deps.PlotStore)
	requestHandler := NewRequestHandler(deps.RequestService)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// セッション管理（ハンドラーが直接Cookieを検証する）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/me", authHandler.Me)
		r.Post("/logout", authHandler.Logout)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.ParticipantFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 区画管理
		r.Route("/api/plots", func(r chi.Router) {
			// POST /api/plots - 区画登録（土地所有者と管理者のみ）
			r.With(middleware.NewRequireRoleMiddleware(model.RoleLandowner, model.RoleAdmin)).
				Post("/", plotHandler.CreatePlot)

			// GET /api/plots/mine - 自分の提供区画一覧
			r.With(middleware.NewRequireRoleMiddleware(model.RoleLandowner, model.RoleAdmin)).
				Get("/mine", plotHandler.ListMyPlots)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", plotHandler.GetPlot)

				// 割り当て操作は管理者のみ
				r.Group(func(r chi.Router) {
					r.Use(middleware.NewRequireRoleMiddleware(model.RoleAdmin))
					r.Post("/allocate", plotHandler.AllocatePlot)
					r.Post("/release", plotHandler.ReleasePlot)
					r.Post("/cancel", plotHandler.CancelPlot)
				})

				// 栽培開始はガーデナーまたは管理者
				r.With(middleware.NewRequireRoleMiddleware(model.RoleGardener, model.RoleAdmin)).
					Post("/cultivate", plotHandler.CultivatePlot)

				// 提供状態の切り替えは所有者または管理者
				r.Group(func(r chi.Router) {
					r.Use(middleware.NewRequireRoleMiddleware(model.RoleLandowner, model.RoleAdmin))
					r.Post("/maintenance", plotHandler.MaintenancePlot)
					r.Post("/unavailable", plotHandler.UnavailablePlot)
					r.Post("/available", plotHandler.AvailablePlot)
				})
			})
		})

		// 申請管理
		r.Route("/api/requests", func(r chi.Router) {
			// POST /api/requests - 申請登録（ガーデナーのみ、申請専用レート制限を追加）
			r.With(
				middleware.NewRequireRoleMiddleware(model.RoleGardener),
				deps.RateLimiter.SubmitMiddleware(),
			).Post("/", requestHandler.SubmitRequest)

			// GET /api/requests - 裁定待ちキュー（管理者のみ）
			r.With(middleware.NewRequireRoleMiddleware(model.RoleAdmin)).
				Get("/", requestHandler.ListPendingRequests)

			// GET /api/requests/mine - 自分の申請一覧
			r.Get("/mine", requestHandler.ListMyRequests)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", requestHandler.GetRequest)

				// 裁定は管理者のみ
				r.Group(func(r chi.Router) {
					r.Use(middleware.NewRequireRoleMiddleware(model.RoleAdmin))
					r.Post("/approve", requestHandler.ApproveRequest)
					r.Post("/reject", requestHandler.RejectRequest)
				})
			})
		})
	})

	return r
}
