// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"

	"github.com/hitoshi/cmsgate/internal/access"
	"github.com/hitoshi/cmsgate/internal/model"
)

// 下流ハンドラーへ認証済みIdentityを伝えるヘッダー。
// クライアントが送ったものはゲートで必ず削除する。
const (
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// identityContextKey はリクエストコンテキストに管理者Identityを格納するためのキー。
	identityContextKey = contextKey("admin_identity")
	// decisionContextKey はゲート判定を格納するためのキー。
	decisionContextKey = contextKey("gate_decision")
	// requestLogContextKey はアクセスログ用の付加情報を格納するためのキー。
	requestLogContextKey = contextKey("request_log")
)

// IdentityFromContext はリクエストコンテキストから管理者Identityを取得する。
// ゲートでAUTHENTICATED_ADMINと判定されたリクエストでのみ有効。
func IdentityFromContext(ctx context.Context) (*model.Identity, error) {
	ident, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || ident == nil {
		return nil, fmt.Errorf("identity not found in context")
	}
	return ident, nil
}

// ContextWithIdentity はコンテキストに管理者Identityを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithIdentity(ctx context.Context, ident *model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, ident)
}

// DecisionFromContext はゲート判定を取得する。ゲートを通過していない場合はfalseを返す。
func DecisionFromContext(ctx context.Context) (access.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey).(access.Decision)
	return d, ok
}

// ContextWithDecision はコンテキストにゲート判定を注入する。
func ContextWithDecision(ctx context.Context, d access.Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey, d)
}
