package access

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/thejerf/abtime"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/cmsgate/internal/auth"
	"github.com/hitoshi/cmsgate/internal/model"
	"github.com/hitoshi/cmsgate/internal/repository"
	"github.com/hitoshi/cmsgate/internal/session"
)

// --- モック定義 ---

type mockResolver struct {
	resolveFn func(ctx context.Context, req *http.Request) auth.Resolution
	calls     int
}

func (m *mockResolver) Resolve(ctx context.Context, req *http.Request) auth.Resolution {
	m.calls++
	if m.resolveFn != nil {
		return m.resolveFn(ctx, req)
	}
	return auth.Resolution{}
}

type gateFixture struct {
	gate  *Gate
	codec *session.Codec
	clock *abtime.ManualTime
}

const fixturePassword = "s3cret-pass"

// newGateFixture は管理者・非管理者を登録したメモリストアでGateを組み立てる。
func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(fixturePassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	store := repository.NewMemoryAdminUserRepo()
	ctx := context.Background()
	for _, ident := range []*model.Identity{
		{ID: "1", Email: "admin@example.com", PasswordHash: string(hash), Role: model.RoleAdmin},
		{ID: "2", Email: "owner@example.com", PasswordHash: string(hash), Role: model.RoleSuperAdmin},
		{ID: "3", Email: "viewer@example.com", PasswordHash: string(hash)},
	} {
		if err := store.Create(ctx, ident); err != nil {
			t.Fatalf("failed to seed store: %v", err)
		}
	}

	clock := abtime.NewManualAtTime(time.Unix(1700000000, 0).UTC())
	codec, err := session.NewSignedCodec([]byte("gate-test-secret"), clock)
	if err != nil {
		t.Fatalf("NewSignedCodec returned error: %v", err)
	}
	resolver := auth.NewResolver(store, codec, auth.ResolverConfig{LookupTimeout: time.Second}, nil, nil)

	return &gateFixture{
		gate:  NewGate(NewClassifier("/admin"), resolver, nil),
		codec: codec,
		clock: clock,
	}
}

func (f *gateFixture) cookieFor(t *testing.T, email string, role model.Role) *http.Cookie {
	t.Helper()
	value, err := f.codec.Encode(f.codec.Issue(&model.Identity{Email: email, Role: role}))
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	return &http.Cookie{Name: session.CookieName, Value: value}
}

// --- Public ---

func TestEvaluate_PublicRoute_NoResolution(t *testing.T) {
	resolver := &mockResolver{}
	gate := NewGate(NewClassifier("/admin"), resolver, nil)

	req := httptest.NewRequest(http.MethodGet, "/blog/post-1", nil)
	req.Header.Set("Authorization", "Basic %%%garbage")
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: "garbage"})

	d := gate.Evaluate(context.Background(), req)
	if d.Outcome != OutcomeAllow || d.State != model.StatePublic {
		t.Errorf("decision = %+v, want public allow", d)
	}
	if resolver.calls != 0 {
		t.Errorf("resolver calls = %d, want 0 for public route", resolver.calls)
	}
}

func TestEvaluate_LoginPage_NoCredentials_Allowed(t *testing.T) {
	f := newGateFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	d := f.gate.Evaluate(context.Background(), req)
	if d.Outcome != OutcomeAllow {
		t.Errorf("Outcome = %v, want allow", d.Outcome)
	}
}

// --- 未認証 ---

func TestEvaluate_AdminUI_NoCredentials_Redirect(t *testing.T) {
	f := newGateFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	d := f.gate.Evaluate(context.Background(), req)
	if d.Outcome != OutcomeRedirect {
		t.Errorf("Outcome = %v, want redirect", d.Outcome)
	}
	if d.State != model.StateUnauthenticated {
		t.Errorf("State = %q, want unauthenticated", d.State)
	}
	if f.gate.LoginPath() != "/admin" {
		t.Errorf("LoginPath = %q, want /admin", f.gate.LoginPath())
	}
}

func TestEvaluate_AdminAPI_NoCredentials_Reject(t *testing.T) {
	f := newGateFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	d := f.gate.Evaluate(context.Background(), req)
	if d.Outcome != OutcomeReject {
		t.Errorf("Outcome = %v, want reject", d.Outcome)
	}
}

// --- Basic認証 ---

func TestEvaluate_BasicAuth_Admin_Allowed(t *testing.T) {
	f := newGateFixture(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/blog/posts/1", nil)
	req.SetBasicAuth("owner@example.com", fixturePassword)

	d := f.gate.Evaluate(context.Background(), req)
	if d.Outcome != OutcomeAllow || d.State != model.StateAuthenticatedAdmin {
		t.Fatalf("decision = %+v, want admin allow", d)
	}
	if d.Identity == nil || d.Identity.Email != "owner@example.com" || d.Identity.Role != model.RoleSuperAdmin {
		t.Errorf("Identity = %+v", d.Identity)
	}
	if d.Carrier != model.CarrierBasic {
		t.Errorf("Carrier = %q, want basic", d.Carrier)
	}
}

func TestEvaluate_BasicAuth_WrongPassword_SameAsUnknownEmail(t *testing.T) {
	f := newGateFixture(t)

	wrong := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	wrong.SetBasicAuth("admin@example.com", "nope")
	unknown := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	unknown.SetBasicAuth("nobody@example.com", fixturePassword)

	dWrong := f.gate.Evaluate(context.Background(), wrong)
	dUnknown := f.gate.Evaluate(context.Background(), unknown)

	if dWrong.Outcome != OutcomeReject || dUnknown.Outcome != OutcomeReject {
		t.Fatalf("outcomes = %v / %v, want reject", dWrong.Outcome, dUnknown.Outcome)
	}
	if dWrong.State != dUnknown.State {
		t.Errorf("states differ: %q vs %q", dWrong.State, dUnknown.State)
	}
}

func TestEvaluate_BasicAuth_NonAdmin_RejectedAsNonAdmin(t *testing.T) {
	f := newGateFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/posts", nil)
	req.SetBasicAuth("viewer@example.com", fixturePassword)

	d := f.gate.Evaluate(context.Background(), req)
	if d.Outcome != OutcomeRedirect {
		t.Errorf("Outcome = %v, want redirect", d.Outcome)
	}
	if d.State != model.StateAuthenticatedNonAdmin {
		t.Errorf("State = %q, want authenticated_non_admin", d.State)
	}
	if d.Identity != nil {
		t.Error("non-admin decision must not carry an identity")
	}
}

// --- セッションCookie ---

func TestEvaluate_SessionCookie_Admin_Allowed(t *testing.T) {
	f := newGateFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.AddCookie(f.cookieFor(t, "admin@example.com", model.RoleAdmin))

	d := f.gate.Evaluate(context.Background(), req)
	if d.Outcome != OutcomeAllow {
		t.Fatalf("Outcome = %v, want allow", d.Outcome)
	}
	if d.Identity.Email != "admin@example.com" || d.Identity.Role != model.RoleAdmin {
		t.Errorf("Identity = %+v", d.Identity)
	}
	if d.Carrier != model.CarrierSession {
		t.Errorf("Carrier = %q, want session", d.Carrier)
	}
}

func TestEvaluate_SessionCookie_25HoursOld_SameAsNoCookie(t *testing.T) {
	f := newGateFixture(t)

	cookie := f.cookieFor(t, "admin@example.com", model.RoleAdmin)
	f.clock.Advance(25 * time.Hour)

	withCookie := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	withCookie.AddCookie(cookie)
	without := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)

	dWith := f.gate.Evaluate(context.Background(), withCookie)
	dWithout := f.gate.Evaluate(context.Background(), without)
	if dWith.Outcome != dWithout.Outcome || dWith.State != dWithout.State {
		t.Errorf("expired cookie decision %+v differs from no-cookie %+v", dWith, dWithout)
	}
}

func TestEvaluate_SessionCookie_ExpiryBoundary(t *testing.T) {
	f := newGateFixture(t)
	cookie := f.cookieFor(t, "admin@example.com", model.RoleAdmin)

	evaluate := func() Outcome {
		req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
		req.AddCookie(cookie)
		return f.gate.Evaluate(context.Background(), req).Outcome
	}

	if got := evaluate(); got != OutcomeAllow {
		t.Errorf("fresh cookie Outcome = %v, want allow", got)
	}
	f.clock.Advance(model.SessionTTL + time.Millisecond)
	if got := evaluate(); got != OutcomeReject {
		t.Errorf("cookie at TTL+1ms Outcome = %v, want reject", got)
	}
}

func TestEvaluate_SessionCookie_TamperedNeverAllowed(t *testing.T) {
	f := newGateFixture(t)
	value := f.cookieFor(t, "viewer@example.com", model.RoleNone).Value

	for i := 0; i < len(value); i++ {
		b := []byte(value)
		b[i] ^= 0x01
		req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
		req.AddCookie(&http.Cookie{Name: session.CookieName, Value: string(b)})

		if d := f.gate.Evaluate(context.Background(), req); d.Outcome == OutcomeAllow {
			t.Fatalf("tampered cookie at %d was allowed", i)
		}
	}
}

func TestEvaluate_UnsignedCookieForgery_Rejected(t *testing.T) {
	f := newGateFixture(t)

	forged := base64.StdEncoding.EncodeToString([]byte(
		`{"email":"admin@example.com","role":"admin","timestamp":1700000000000}`,
	))
	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: forged})

	if d := f.gate.Evaluate(context.Background(), req); d.Outcome != OutcomeReject {
		t.Errorf("Outcome = %v, want reject for unsigned cookie in signed mode", d.Outcome)
	}
}

// --- ストア障害 ---

func TestEvaluate_StoreFailure_FailsClosed(t *testing.T) {
	resolver := &mockResolver{
		resolveFn: func(context.Context, *http.Request) auth.Resolution {
			return auth.Resolution{StoreFailed: true}
		},
	}
	gate := NewGate(NewClassifier("/admin"), resolver, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	d := gate.Evaluate(context.Background(), req)
	if d.Outcome != OutcomeReject {
		t.Errorf("Outcome = %v, want reject", d.Outcome)
	}
	if !d.StoreFailed {
		t.Error("expected StoreFailed to propagate")
	}
}

func TestAuthorize_States(t *testing.T) {
	if got := Authorize(nil); got != model.StateUnauthenticated {
		t.Errorf("nil = %q", got)
	}
	if got := Authorize(&model.Identity{Role: model.RoleNone}); got != model.StateAuthenticatedNonAdmin {
		t.Errorf("no role = %q", got)
	}
	if got := Authorize(&model.Identity{Role: model.RoleAdmin}); got != model.StateAuthenticatedAdmin {
		t.Errorf("admin = %q", got)
	}
	if got := Authorize(&model.Identity{Role: model.RoleSuperAdmin}); got != model.StateAuthenticatedAdmin {
		t.Errorf("super_admin = %q", got)
	}
}

func TestOutcome_String(t *testing.T) {
	if OutcomeAllow.String() != "allow" || OutcomeRedirect.String() != "redirect" || OutcomeReject.String() != "reject" {
		t.Error("unexpected Outcome string values")
	}
}
