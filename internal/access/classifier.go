// Package access はリクエストのルート分類とアクセス判定を提供する。
package access

import (
	"net/http"
	"path"
	"strings"
)

// RouteClass はルートの分類。分類ごとに認証失敗時の扱いが異なる。
type RouteClass string

const (
	// ClassPublic は認証不要のルート。
	ClassPublic RouteClass = "public"
	// ClassAdminUI は管理画面。認証失敗時はログインページへリダイレクトする。
	ClassAdminUI RouteClass = "admin_ui"
	// ClassAdminAPI は管理API。認証失敗時は401を返す。
	ClassAdminAPI RouteClass = "admin_api"
)

// DefaultLoginPath はログインページのデフォルトパス。
const DefaultLoginPath = "/admin"

// Classifier はパスとメソッドからRouteClassを決定する。
// 先に一致した規則が優先される。
type Classifier struct {
	loginPath string
}

// NewClassifier はClassifierを生成する。loginPathが空の場合はDefaultLoginPathを使う。
func NewClassifier(loginPath string) *Classifier {
	loginPath = trimTrailingSlash(loginPath)
	if loginPath == "" {
		loginPath = DefaultLoginPath
	}
	return &Classifier{loginPath: loginPath}
}

// LoginPath はログインページのパスを返す。
func (c *Classifier) LoginPath() string {
	return c.loginPath
}

// Classify はリクエストのRouteClassを返す。
func (c *Classifier) Classify(method, urlPath string) RouteClass {
	// ドット区間を含むパスで公開ルートを経由した回り込みを防ぐ
	urlPath = cleanPath(urlPath)

	switch {
	case trimTrailingSlash(urlPath) == c.loginPath:
		return ClassPublic
	case hasSegmentPrefix(urlPath, "/api/auth"):
		return ClassPublic
	case hasSegmentPrefix(urlPath, "/api/admin"):
		return ClassAdminAPI
	case isUnsafe(method) && (hasSegmentPrefix(urlPath, "/api/blog/posts") || hasSegmentPrefix(urlPath, "/api/fonts")):
		return ClassAdminAPI
	case !isUnsafe(method) && isImageAsset(urlPath):
		return ClassPublic
	case hasSegmentPrefix(urlPath, "/admin"):
		return ClassAdminUI
	default:
		return ClassPublic
	}
}

// hasSegmentPrefix はpathがprefixと一致するか、prefix配下のパスであるかを返す。
// "/administrator" は "/admin" 配下とはみなさない。
func hasSegmentPrefix(urlPath, prefix string) bool {
	if !strings.HasPrefix(urlPath, prefix) {
		return false
	}
	return len(urlPath) == len(prefix) || urlPath[len(prefix)] == '/'
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	cleaned := path.Clean(p)
	if strings.HasSuffix(p, "/") && cleaned != "/" {
		cleaned += "/"
	}
	return cleaned
}

func trimTrailingSlash(p string) string {
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	if p == "/" {
		return ""
	}
	return p
}

// imageExtensions は管理画面配下でも公開する画像アセットの拡張子。
var imageExtensions = map[string]struct{}{
	".svg": {}, ".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".ico": {},
}

func isImageAsset(urlPath string) bool {
	_, ok := imageExtensions[path.Ext(urlPath)]
	return ok
}

func isUnsafe(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
