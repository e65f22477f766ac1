package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/cmsgate/internal/metrics"
	"github.com/hitoshi/cmsgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ゲート
	Gate              middleware.GateEvaluator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	// CSRF がnilの場合はCSRF検証を行わない
	CSRF *middleware.CSRFConfig

	// 認証
	Authenticator Authenticator
	SessionIssuer SessionIssuer
	AuthConfig    AuthHandlerConfig

	// 運用
	HealthChecker   HealthChecker
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// Upstream はゲートを通過したリクエストの転送先
	Upstream http.Handler
}

// NewRouter はゲートと上流プロキシを含むルーティングを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → StatusMetrics → CORS → Gate → (CSRF)
//
// ゲートは全ルートに適用し、公開ルートでは資格情報を解決しない。
// ゲート自身が応答しないパスはすべて上流へ転送する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewStatusMetricsMiddleware(collector))
	// CORSはゲートより前段に置き、プリフライトを認証対象にしない
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewGateMiddleware(deps.Gate, logger))

	authHandler := NewAuthHandler(deps.Authenticator, deps.SessionIssuer, deps.AuthConfig, collector)
	adminHandler := NewAdminHandler()

	// --- 運用エンドポイント ---
	r.Get("/health", HealthHandler(deps.HealthChecker))
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	// --- ゲート自身が応答するルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware())
		r.Use(middleware.NewNoStoreMiddleware())

		r.Route("/api/auth", func(r chi.Router) {
			login := http.HandlerFunc(authHandler.Login)
			if deps.RateLimiter != nil {
				r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", login)
			} else {
				r.Post("/login", login)
			}
			r.Post("/logout", authHandler.Logout)

			if deps.CSRF != nil {
				r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(*deps.CSRF))
			}
		})

		r.With(csrfMiddleware(deps.CSRF)...).Get("/api/admin/me", adminHandler.Me)
	})

	// --- 上流への転送 ---
	r.With(csrfMiddleware(deps.CSRF)...).Handle("/*", deps.Upstream)

	return r
}

// csrfMiddleware はCSRF検証が有効な場合のみミドルウェアを返す。
func csrfMiddleware(cfg *middleware.CSRFConfig) []func(http.Handler) http.Handler {
	if cfg == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{middleware.NewCSRFMiddleware(*cfg)}
}
