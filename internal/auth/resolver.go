// Package auth は資格情報の解決と管理者認証を提供する。
//
// リクエストからBasic認証ヘッダー、次にセッションCookieの順で資格情報を取り出し、
// 資格情報ストアを参照して管理者のIdentityに解決する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/cmsgate/internal/metrics"
	"github.com/hitoshi/cmsgate/internal/model"
	"github.com/hitoshi/cmsgate/internal/session"
)

// DefaultLookupTimeout は資格情報ストア参照のデフォルト期限。
const DefaultLookupTimeout = 3 * time.Second

const tracerName = "github.com/hitoshi/cmsgate/internal/auth"

var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードが一致しない場合のエラー。
	// 未登録メールとパスワード誤りを区別しない。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNotAdmin は認証は成功したが管理者ロールを持たない場合のエラー。
	ErrNotAdmin = errors.New("identity is not an admin")
	// ErrStoreUnavailable は資格情報ストアが応答しない場合のエラー。
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// CredentialStore は資格情報ストアの参照インターフェース。
// 該当するメールアドレスが存在しない場合は nil, nil を返す。
type CredentialStore interface {
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)
}

// Resolution は資格情報解決の結果。
type Resolution struct {
	// Identity は解決されたIdentity。未解決の場合はnil。
	// パスワードハッシュは含まない。
	Identity *model.Identity
	// Carrier はIdentityを解決した資格情報の種類。
	Carrier model.CredentialCarrier
	// StoreFailed はストア参照が失敗・タイムアウトした場合にtrue。
	StoreFailed bool
}

// ResolverConfig はResolverの設定。
type ResolverConfig struct {
	LookupTimeout time.Duration
}

// Resolver はリクエストの資格情報をIdentityに解決する。
// 状態を持たず、複数のgoroutineから同時に使用してよい。
type Resolver struct {
	store   CredentialStore
	codec   *session.Codec
	timeout time.Duration
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewResolver はResolverを生成する。
// collectorとloggerがnilの場合は何も記録しない実装とデフォルトロガーを使う。
func NewResolver(
	store CredentialStore,
	codec *session.Codec,
	cfg ResolverConfig,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Resolver {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:   store,
		codec:   codec,
		timeout: cfg.LookupTimeout,
		metrics: collector,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// Resolve はリクエストからIdentityを解決する。
// Basic認証ヘッダーを優先し、解決できなければセッションCookieを試す。
// どちらでも解決できない場合はIdentityがnilのResolutionを返す（エラーではない）。
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) Resolution {
	var res Resolution

	if email, password, ok := req.BasicAuth(); ok {
		ident, err := r.Authenticate(ctx, email, password)
		switch {
		case err == nil:
			return Resolution{Identity: ident, Carrier: model.CarrierBasic}
		case errors.Is(err, ErrStoreUnavailable):
			res.StoreFailed = true
		}
	}

	cookie, err := req.Cookie(session.CookieName)
	if err != nil {
		return res
	}

	decoded := r.codec.Decode(cookie.Value)
	if !decoded.Valid() {
		return res
	}

	// ロールはCookieではなくストアの現在値を使う
	ident, err := r.lookup(ctx, decoded.Session.Email)
	if err != nil {
		res.StoreFailed = true
		return res
	}
	if ident == nil {
		return res
	}

	return Resolution{
		Identity:    sanitize(ident),
		Carrier:     model.CarrierSession,
		StoreFailed: res.StoreFailed,
	}
}

// Authenticate はメールアドレスとパスワードを検証してIdentityを返す。
// 未登録メールとパスワード誤りはいずれもErrInvalidCredentialsを返す。
// ロールの検査は行わない。
func (r *Resolver) Authenticate(ctx context.Context, email, password string) (*model.Identity, error) {
	email = model.NormalizeEmail(email)
	if email == "" {
		burnCompare(password)
		return nil, ErrInvalidCredentials
	}

	ident, err := r.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		burnCompare(password)
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(ident.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return sanitize(ident), nil
}

// Login はログインエンドポイント用にBasic認証ヘッダーを検証する。
// 管理者ロールを持たないIdentityはErrNotAdminを返す。
func (r *Resolver) Login(ctx context.Context, req *http.Request) (*model.Identity, error) {
	email, password, ok := req.BasicAuth()
	if !ok {
		return nil, ErrInvalidCredentials
	}

	ident, err := r.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !ident.IsAdmin() {
		return nil, ErrNotAdmin
	}
	return ident, nil
}

type lookupResult struct {
	ident *model.Identity
	err   error
}

// lookup は期限付きで資格情報ストアを参照する。
// ストアがcontextを無視しても、期限を過ぎた時点で失敗として返す。
func (r *Resolver) lookup(ctx context.Context, email string) (*model.Identity, error) {
	ctx, span := r.tracer.Start(ctx, "credential_store.find_by_email",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan lookupResult, 1)
	go func() {
		ident, err := r.store.FindByEmail(lookupCtx, email)
		done <- lookupResult{ident: ident, err: err}
	}()

	var result lookupResult
	select {
	case result = <-done:
	case <-lookupCtx.Done():
		result = lookupResult{err: lookupCtx.Err()}
	}
	r.metrics.RecordStoreLookup(time.Since(start))

	if result.err == nil {
		span.SetAttributes(attribute.Bool("cmsgate.identity_found", result.ident != nil))
		return result.ident, nil
	}

	span.RecordError(result.err)
	span.SetStatus(codes.Error, "credential store lookup failed")

	// クライアント切断による中断は運用エラーとして扱わない
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
	}

	reason := metrics.StoreErrorFailure
	if errors.Is(result.err, context.DeadlineExceeded) {
		reason = metrics.StoreErrorTimeout
	}
	r.metrics.RecordStoreError(reason)
	r.logger.Error("credential store lookup failed",
		slog.String("reason", reason),
		slog.Duration("timeout", r.timeout),
		slog.String("error", result.err.Error()),
	)

	return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, result.err)
}

// sanitize はパスワードハッシュを除いたIdentityのコピーを返す。
func sanitize(ident *model.Identity) *model.Identity {
	cp := *ident
	cp.PasswordHash = ""
	cp.Email = model.NormalizeEmail(cp.Email)
	return &cp
}
