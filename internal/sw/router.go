package sw

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/zx-tiles/offline-proxy/internal/cache"
	"github.com/zx-tiles/offline-proxy/internal/strategy"
)

// Router 决定请求是否被拦截以及由哪个策略处理。
type Router struct {
	origin string
}

// NewRouter 以站点 Origin 构造路由器，Origin 只取 scheme + host + 端口。
func NewRouter(origin string) (*Router, error) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("origin must be absolute: %q", origin)
	}
	return &Router{origin: originKey(parsed)}, nil
}

// Route 返回处理请求的策略；第二个返回值为 false 表示不拦截，请求应直接透传。
func (r *Router) Route(req *cache.Request) (strategy.Kind, bool) {
	if req == nil {
		return "", false
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return "", false
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return "", false
	}
	if originKey(parsed) != r.origin {
		return "", false
	}
	kind := strategy.Classify(parsed.Path)
	if kind == "" {
		return "", false
	}
	return kind, true
}

// originKey 归一化 scheme、主机名与有效端口，默认端口显式补齐。
func originKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + host + ":" + port
}
