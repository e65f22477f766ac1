package access

import (
	"context"
	"net/http"

	"github.com/hitoshi/cmsgate/internal/auth"
	"github.com/hitoshi/cmsgate/internal/metrics"
	"github.com/hitoshi/cmsgate/internal/model"
)

// Outcome はゲート判定の結果としてHTTP層が取る動作。
type Outcome int

const (
	// OutcomeAllow はリクエストを通過させる。
	OutcomeAllow Outcome = iota
	// OutcomeRedirect はログインページへリダイレクトする。
	OutcomeRedirect
	// OutcomeReject は401で拒否する。
	OutcomeReject
)

// String はログ用の文字列表現を返す。
func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeRedirect:
		return "redirect"
	default:
		return "reject"
	}
}

// IdentityResolver はリクエストの資格情報をIdentityに解決する。
type IdentityResolver interface {
	Resolve(ctx context.Context, req *http.Request) auth.Resolution
}

// Decision は1リクエストに対するゲート判定。
type Decision struct {
	Class   RouteClass
	State   model.AccessState
	Outcome Outcome
	// Identity はAUTHENTICATED_ADMINの場合のみ設定される。
	Identity    *model.Identity
	Carrier     model.CredentialCarrier
	StoreFailed bool
}

// Gate はルート分類・資格情報解決・認可判定を行う。
// リクエスト間で状態を共有しない。
type Gate struct {
	classifier *Classifier
	resolver   IdentityResolver
	metrics    metrics.MetricsCollector
}

// NewGate はGateを生成する。
func NewGate(classifier *Classifier, resolver IdentityResolver, collector metrics.MetricsCollector) *Gate {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Gate{
		classifier: classifier,
		resolver:   resolver,
		metrics:    collector,
	}
}

// LoginPath はリダイレクト先のログインページのパスを返す。
func (g *Gate) LoginPath() string {
	return g.classifier.LoginPath()
}

// Evaluate はリクエストを判定する。
// Publicルートでは資格情報の解決を一切行わない。
func (g *Gate) Evaluate(ctx context.Context, req *http.Request) Decision {
	class := g.classifier.Classify(req.Method, req.URL.Path)
	if class == ClassPublic {
		g.metrics.RecordGateDecision(string(class), string(model.StatePublic))
		return Decision{Class: class, State: model.StatePublic, Outcome: OutcomeAllow}
	}

	res := g.resolver.Resolve(ctx, req)
	state := Authorize(res.Identity)

	d := Decision{
		Class:       class,
		State:       state,
		Carrier:     res.Carrier,
		StoreFailed: res.StoreFailed,
	}
	switch {
	case state == model.StateAuthenticatedAdmin:
		d.Outcome = OutcomeAllow
		d.Identity = res.Identity
	case class == ClassAdminUI:
		d.Outcome = OutcomeRedirect
	default:
		d.Outcome = OutcomeReject
	}

	g.metrics.RecordGateDecision(string(class), string(state))
	return d
}

// Authorize は解決済みIdentityのアクセス状態を返す。
// ロールはストアから取得した現在値であること。
func Authorize(ident *model.Identity) model.AccessState {
	switch {
	case ident == nil:
		return model.StateUnauthenticated
	case ident.IsAdmin():
		return model.StateAuthenticatedAdmin
	default:
		return model.StateAuthenticatedNonAdmin
	}
}
