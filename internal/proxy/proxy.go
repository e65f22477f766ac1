// Package proxy はゲートを通過したリクエストを上流のアプリケーションへ転送する。
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/hitoshi/cmsgate/internal/middleware"
	"github.com/hitoshi/cmsgate/internal/model"
)

// Config は上流プロキシの設定。
type Config struct {
	UpstreamURL string
	// Timeout は上流からのレスポンスヘッダー待ちの上限。0の場合は無制限。
	Timeout time.Duration
}

// New は上流アプリケーションへのリバースプロキシを生成する。
// X-User-Email / X-User-Role はゲートが設定したものだけが上流へ届く。
func New(cfg Config, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("upstream url must be http or https: %q", cfg.UpstreamURL)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("upstream url has no host: %q", cfg.UpstreamURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) || r.Context().Err() != nil {
				logger.Debug("client canceled proxied request",
					slog.String("path", r.URL.Path),
				)
				return
			}
			logger.Error("upstream request failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("upstream", target.Host),
				slog.String("error", err.Error()),
			)
			middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewBadGatewayError())
		},
	}

	return rp, nil
}
