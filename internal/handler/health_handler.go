package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/cmsgate/internal/middleware"
)

// healthCheckTimeout はヘルスチェック時のストア疎通確認の期限。
const healthCheckTimeout = 2 * time.Second

// HealthChecker は資格情報ストアの疎通を確認する。
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler は資格情報ストアに到達できれば200、できなければ503を返す。
// GET /health
func HealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := checker.Ping(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}

		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
