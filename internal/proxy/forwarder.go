package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/zx-tiles/offline-proxy/internal/cache"
	"github.com/zx-tiles/offline-proxy/internal/logging"
	"github.com/zx-tiles/offline-proxy/internal/server"
)

// Forwarder 处理不被拦截的请求（非 GET、跨源、无可用 worker）：直接转发到上游并流式返回，
// 不读写缓存。
type Forwarder struct {
	fetcher *Fetcher
	logger  *logrus.Logger
}

// NewForwarder 创建 Forwarder。
func NewForwarder(fetcher *Fetcher, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		fetcher: fetcher,
		logger:  logger,
	}
}

// Forward 把请求原样转发到上游。上游不可达时返回 502 upstream_failed。
func (f *Forwarder) Forward(c fiber.Ctx, req *cache.Request, requestID string, started time.Time) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp, err := f.fetcher.do(ctx, req)
	if err != nil {
		f.logResult(req, requestID, 0, started, err)
		setRequestIDHeader(c, requestID)
		c.Set(HeaderStrategy, StrategyPassthrough)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	setRequestIDHeader(c, requestID)
	c.Set(HeaderStrategy, StrategyPassthrough)
	c.Set(HeaderSource, "network")
	c.Status(resp.StatusCode)

	if req.Method == http.MethodHead {
		f.logResult(req, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	f.logResult(req, requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (f *Forwarder) logResult(req *cache.Request, requestID string, status int, started time.Time, err error) {
	if f.logger == nil {
		return
	}
	fields := logging.RequestFields(StrategyPassthrough, "network", "", status)
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["url"] = req.URL
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		f.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	f.logger.WithFields(fields).Info("proxy_complete")
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

// copyResponseHeaders 复制允许透传的响应头；Content-Length 由 fasthttp 根据正文重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
