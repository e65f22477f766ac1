// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cmsgate/internal/auth"
	"github.com/hitoshi/cmsgate/internal/metrics"
	"github.com/hitoshi/cmsgate/internal/middleware"
	"github.com/hitoshi/cmsgate/internal/model"
	"github.com/hitoshi/cmsgate/internal/session"
)

// Authenticator はログインリクエストのBasic認証ヘッダーを検証する。auth.Resolverが実装する。
type Authenticator interface {
	Login(ctx context.Context, req *http.Request) (*model.Identity, error)
}

// SessionIssuer はセッションCookieの値を発行する。session.Codecが実装する。
type SessionIssuer interface {
	Issue(ident *model.Identity) model.Session
	Encode(s model.Session) (string, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain string
	CookieSecure bool
}

// AuthHandler はログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	authenticator Authenticator
	issuer        SessionIssuer
	config        AuthHandlerConfig
	metrics       metrics.MetricsCollector
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(authenticator Authenticator, issuer SessionIssuer, config AuthHandlerConfig, collector metrics.MetricsCollector) *AuthHandler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &AuthHandler{
		authenticator: authenticator,
		issuer:        issuer,
		config:        config,
		metrics:       collector,
	}
}

// loginResponse はログイン成功時のレスポンスボディ。
type loginResponse struct {
	Email   string `json:"email"`
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Login はBasic認証ヘッダーを検証し、管理者であればセッションCookieを発行する。
// 失敗理由に関わらず同一の401レスポンスを返す。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ident, err := h.authenticator.Login(r.Context(), r)
	if err != nil {
		h.metrics.RecordLoginAttempt(loginFailureResult(err))
		if r.Context().Err() != nil {
			return
		}
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	value, err := h.issuer.Encode(h.issuer.Issue(ident))
	if err != nil {
		slog.Error("failed to encode session cookie", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	http.SetCookie(w, h.sessionCookie(value, session.CookieMaxAge))
	h.metrics.RecordLoginAttempt(metrics.LoginSuccess)

	slog.Info("admin logged in",
		slog.String("admin_email", ident.Email),
		slog.String("role", string(ident.Role)),
	)

	middleware.WriteJSON(w, http.StatusOK, loginResponse{
		Email:   ident.Email,
		Role:    string(ident.Role),
		Message: "Login successful",
	})
}

// Logout はセッションCookieを削除する。サーバー側の状態はないため常に成功する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, h.sessionCookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     session.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// loginFailureResult はログイン失敗の原因をメトリクスのラベルに変換する。
func loginFailureResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrStoreUnavailable):
		return metrics.LoginStoreError
	case errors.Is(err, auth.ErrNotAdmin):
		return metrics.LoginNonAdmin
	default:
		return metrics.LoginInvalid
	}
}
