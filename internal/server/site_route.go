package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/zx-tiles/offline-proxy/internal/config"
)

// SiteRoute 聚合站点配置与解析后的 Origin/Upstream URL，
// 供代理层在请求 URL 与上游地址之间换算，避免重复解析配置。
type SiteRoute struct {
	// Config 是 config.toml 中 [Site] 的副本，避免外部修改。
	Config config.SiteConfig
	// ListenPort 记录当前 CLI 监听端口，方便日志/转发头输出。
	ListenPort int
	// OriginURL/UpstreamURL 在构造时提前解析完成。
	OriginURL   *url.URL
	UpstreamURL *url.URL
}

// NewSiteRoute 根据配置构建站点路由。调用方应在启动阶段创建一次并复用。
func NewSiteRoute(cfg *config.Config) (*SiteRoute, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	origin, err := url.Parse(cfg.Site.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("origin must be absolute: %q", cfg.Site.Origin)
	}

	upstream, err := url.Parse(cfg.Site.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("upstream must be absolute: %q", cfg.Site.Upstream)
	}

	return &SiteRoute{
		Config:      cfg.Site,
		ListenPort:  cfg.Global.ListenPort,
		OriginURL:   &url.URL{Scheme: origin.Scheme, Host: origin.Host},
		UpstreamURL: upstream,
	}, nil
}

// RequestURL 用入站请求的协议、Host 与 request-URI 还原被拦截请求的绝对 URL。
// request-URI 已经是绝对形式时原样返回。
func (r *SiteRoute) RequestURL(scheme, host, requestURI string) string {
	if strings.HasPrefix(requestURI, "http://") || strings.HasPrefix(requestURI, "https://") {
		return requestURI
	}
	if requestURI == "" || requestURI[0] != '/' {
		requestURI = "/" + requestURI
	}
	if scheme == "" {
		scheme = "http"
	}
	normalized, port := normalizeHost(host)
	if normalized == "" {
		normalized = r.OriginURL.Host
	} else if port > 0 {
		normalized = net.JoinHostPort(normalized, strconv.Itoa(port))
	}
	return scheme + "://" + normalized + requestURI
}

// UpstreamFor 把被拦截请求的 URL 映射到上游：保留路径与查询串，替换 scheme 与 Host，
// 并拼接上游地址自带的路径前缀。
func (r *SiteRoute) UpstreamFor(rawURL string) (*url.URL, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	target := *r.UpstreamURL
	basePath := strings.TrimSuffix(target.Path, "/")
	target.Path = basePath + ensureLeadingSlash(parsed.Path)
	if parsed.RawPath != "" {
		target.RawPath = strings.TrimSuffix(r.UpstreamURL.EscapedPath(), "/") + ensureLeadingSlash(parsed.RawPath)
	} else {
		target.RawPath = ""
	}
	target.RawQuery = parsed.RawQuery
	target.Fragment = ""
	return &target, nil
}

func ensureLeadingSlash(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

// normalizeHost 去掉末尾的点并转小写，同时拆出端口。
func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
