package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cmsgate/internal/access"
	"github.com/hitoshi/cmsgate/internal/model"
)

// GateEvaluator はリクエストのアクセス判定を行う。access.Gateが実装する。
type GateEvaluator interface {
	Evaluate(ctx context.Context, req *http.Request) access.Decision
	LoginPath() string
}

// NewGateMiddleware はすべてのリクエストにアクセス判定を適用するミドルウェアを返す。
// 管理者と判定された場合はX-User-Email / X-User-Roleヘッダーとコンテキストに
// Identityを設定して次へ渡す。管理画面はログインページへリダイレクトし、
// 管理APIには401を返す。
func NewGateMiddleware(gate GateEvaluator, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// クライアントが送った転送用ヘッダーは信用しない
			r.Header.Del(HeaderUserEmail)
			r.Header.Del(HeaderUserRole)

			d := gate.Evaluate(r.Context(), r)

			// 判定中に切断されたクライアントには何も返さない
			if err := r.Context().Err(); err != nil {
				logger.Debug("client gone before gate decision",
					slog.String("path", r.URL.Path),
				)
				return
			}

			ctx := ContextWithDecision(r.Context(), d)

			switch d.Outcome {
			case access.OutcomeAllow:
				if d.Identity != nil {
					r.Header.Set(HeaderUserEmail, d.Identity.Email)
					r.Header.Set(HeaderUserRole, string(d.Identity.Role))
					ctx = ContextWithIdentity(ctx, d.Identity)
					annotateAdminEmail(ctx, d.Identity.Email)
				}
				next.ServeHTTP(w, r.WithContext(ctx))

			case access.OutcomeRedirect:
				http.Redirect(w, r, gate.LoginPath(), http.StatusTemporaryRedirect)

			default:
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			}
		})
	}
}
