package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/thejerf/abtime"

	"github.com/hitoshi/cmsgate/internal/access"
	"github.com/hitoshi/cmsgate/internal/auth"
	"github.com/hitoshi/cmsgate/internal/config"
	"github.com/hitoshi/cmsgate/internal/handler"
	"github.com/hitoshi/cmsgate/internal/metrics"
	"github.com/hitoshi/cmsgate/internal/middleware"
	"github.com/hitoshi/cmsgate/internal/model"
	"github.com/hitoshi/cmsgate/internal/proxy"
	"github.com/hitoshi/cmsgate/internal/repository"
	"github.com/hitoshi/cmsgate/internal/session"
)

// Gateway はワイヤリング済みのゲートHTTPハンドラーと、その後始末に必要な資源を保持する。
type Gateway struct {
	Handler  http.Handler
	Registry *prometheus.Registry

	rateLimiter *middleware.RateLimiter
}

// NewGateway は設定と資格情報ストアからゲートを構築する。
func NewGateway(cfg *config.Config, store repository.AdminUserRepository, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	codec, err := newCodec(cfg, abtime.NewRealTime())
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	resolver := auth.NewResolver(store, codec, auth.ResolverConfig{
		LookupTimeout: cfg.StoreLookupTimeout,
	}, collector, logger)
	gate := access.NewGate(access.NewClassifier(cfg.LoginPath), resolver, collector)

	upstream, err := proxy.New(proxy.Config{
		UpstreamURL: cfg.UpstreamURL,
		Timeout:     cfg.UpstreamTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	rl := middleware.NewRateLimiter(middleware.LoginRateLimiterConfig(cfg.LoginRateLimit), collector)

	var csrf *middleware.CSRFConfig
	if cfg.CSRFProtection {
		csrf = &middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		}
	}

	h := handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		Gate:              gate,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		CSRF:              csrf,
		Authenticator:     resolver,
		SessionIssuer:     codec,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain: cfg.CookieDomain,
			CookieSecure: cfg.CookieSecure,
		},
		HealthChecker:   store,
		Metrics:         collector,
		MetricsGatherer: registry,
		Upstream:        upstream,
	})

	return &Gateway{
		Handler:     h,
		Registry:    registry,
		rateLimiter: rl,
	}, nil
}

// Close はバックグラウンドで動作する資源を停止する。
func (g *Gateway) Close() {
	g.rateLimiter.Stop()
}

// newCodec は設定に応じてセッションCookieのCodecを生成する。
func newCodec(cfg *config.Config, clock abtime.AbstractTime) (*session.Codec, error) {
	if cfg.SessionLegacyUnsigned {
		slog.Warn("session cookies are unsigned; enable signing by unsetting SESSION_LEGACY_UNSIGNED")
		return session.NewLegacyCodec(clock), nil
	}
	codec, err := session.NewSignedCodec([]byte(cfg.SessionSecret), clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create session codec: %w", err)
	}
	return codec, nil
}

// seedMemoryStore はADMIN_*の設定からmemoryストアに管理ユーザーを1件登録する。
func seedMemoryStore(ctx context.Context, store *repository.MemoryAdminUserRepo, cfg *config.Config) error {
	if cfg.AdminEmail == "" && cfg.AdminPasswordHash == "" {
		slog.Warn("memory credential store has no admin users; set ADMIN_EMAIL and ADMIN_PASSWORD_HASH")
		return nil
	}
	if cfg.AdminEmail == "" || cfg.AdminPasswordHash == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD_HASH must be set together")
	}

	role, ok := model.ParseRole(cfg.AdminRole)
	if !ok {
		return fmt.Errorf("invalid ADMIN_ROLE %q: must be admin or super_admin", cfg.AdminRole)
	}

	now := time.Now().UTC()
	err := store.Create(ctx, &model.Identity{
		ID:           uuid.NewString(),
		Email:        cfg.AdminEmail,
		PasswordHash: cfg.AdminPasswordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return fmt.Errorf("failed to seed memory credential store: %w", err)
	}

	slog.Info("memory credential store seeded",
		slog.String("admin_email", model.NormalizeEmail(cfg.AdminEmail)),
		slog.String("role", string(role)),
	)
	return nil
}
