package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/roster/internal/middleware"
)

// HealthChecker はヘルスチェックに必要なストア疎通確認インターフェース。
// *sql.DBがそのまま満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	HTTPMetrics       middleware.HTTPStatusRecorder

	// ヘルスチェック
	HealthChecker HealthChecker

	// アカウント台帳
	AccountService AccountServiceInterface

	// セッション管理
	SessionService SessionServiceInterface
	Authorizer     UpdateAuthorizer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → HTTPMetrics
//
// 認証はエンドポイントごとの表明検証で行うため、共通の認証ミドルウェアは持たない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r.Use(middleware.NewLoggingMiddleware(logger))

	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewHTTPMetricsMiddleware(deps.HTTPMetrics))
	}

	accountHandler := NewAccountHandler(deps.AccountService, deps.Authorizer)
	authHandler := NewAuthHandler(deps.SessionService)

	// アカウント管理
	r.Route("/users", func(r chi.Router) {
		r.Get("/", accountHandler.ListAccounts)
		r.Post("/", accountHandler.CreateAccount)

		r.Route("/{userId}", func(r chi.Router) {
			r.Get("/", accountHandler.GetAccount)
			r.Put("/", accountHandler.UpdateAccount)
		})
	})

	// セッション管理
	r.Post("/login", authHandler.Login)
	r.Post("/logout/{userId}", authHandler.Logout)

	// ヘルスチェック
	r.Get("/health", newHealthHandler(deps.HealthChecker))

	return r
}

// newHealthHandler はストア疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
