package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/zx-tiles/offline-proxy/internal/cache"
	"github.com/zx-tiles/offline-proxy/internal/server"
)

// Fetcher 通过共享 http.Client 访问上游站点，是缓存策略使用的网络端口。
type Fetcher struct {
	client *http.Client
	route  *server.SiteRoute
}

// NewFetcher 创建 Fetcher。
func NewFetcher(client *http.Client, route *server.SiteRoute) *Fetcher {
	return &Fetcher{client: client, route: route}
}

// Fetch 执行上游请求并读取完整响应。只有传输失败（含超时）返回 error，
// 上游返回的任何状态码都作为响应交给调用方。
func (f *Fetcher) Fetch(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	resp, err := f.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	header := http.Header{}
	server.CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return &cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

// do 构造并发送上游请求，调用方负责关闭响应体。
func (f *Fetcher) do(ctx context.Context, req *cache.Request) (*http.Response, error) {
	upstreamReq, err := f.newUpstreamRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", upstreamReq.URL.Redacted(), err)
	}
	return resp, nil
}

func (f *Fetcher) newUpstreamRequest(ctx context.Context, req *cache.Request) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	target, err := f.route.UpstreamFor(req.URL)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		server.CopyHeaders(upstreamReq.Header, req.Header)
	}
	// 由 Transport 负责压缩协商，保证缓存与回放的都是解压后的正文。
	upstreamReq.Header.Del("Accept-Encoding")
	upstreamReq.Header.Del("Host")
	upstreamReq.Host = target.Host
	return upstreamReq, nil
}
