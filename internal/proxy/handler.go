package proxy

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/zx-tiles/offline-proxy/internal/cache"
	"github.com/zx-tiles/offline-proxy/internal/logging"
	"github.com/zx-tiles/offline-proxy/internal/server"
	"github.com/zx-tiles/offline-proxy/internal/sw"
)

// 代理附加的响应头。
const (
	HeaderStrategy = "X-Offline-Proxy-Strategy"
	HeaderSource   = "X-Offline-Proxy-Source"
	HeaderVersion  = "X-Offline-Proxy-Version"

	StrategyPassthrough = "passthrough"
)

// Handler 把每个 HTTP 请求转换为一次 fetch 事件交给 Registration；
// 未被拦截的请求交给 Forwarder 直接转发。
type Handler struct {
	route     *server.SiteRoute
	reg       *sw.Registration
	forwarder *Forwarder
	logger    *logrus.Logger
}

// NewHandler constructs the fetch bridge.
func NewHandler(route *server.SiteRoute, reg *sw.Registration, forwarder *Forwarder, logger *logrus.Logger) *Handler {
	return &Handler{
		route:     route,
		reg:       reg,
		forwarder: forwarder,
		logger:    logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	req := h.buildRequest(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, intercepted, err := h.dispatch(ctx, req)
	if err != nil {
		h.logFailure(req, requestID, err)
		setRequestIDHeader(c, requestID)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "fetch_handler_panic"})
	}
	if !intercepted {
		return h.forwarder.Forward(c, req, requestID, started)
	}
	return h.writeResult(c, req, result, requestID, started)
}

// dispatch 调用 Registration.Fetch，并把 panic 转换为错误，避免单个请求拖垮连接。
func (h *Handler) dispatch(ctx context.Context, req *cache.Request) (result sw.Result, intercepted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	result, intercepted = h.reg.Fetch(ctx, req)
	return result, intercepted, nil
}

func (h *Handler) writeResult(c fiber.Ctx, req *cache.Request, result sw.Result, requestID string, started time.Time) error {
	resp := result.Response
	if resp == nil {
		resp = &cache.Response{Status: http.StatusServiceUnavailable}
	}

	copyResponseHeaders(c, resp.Header)
	setRequestIDHeader(c, requestID)
	c.Set(HeaderStrategy, string(result.Kind))
	c.Set(HeaderSource, string(result.Source))
	c.Set(HeaderVersion, result.Version)
	c.Status(resp.Status)

	h.logResult(req, result, resp.Status, requestID, started)
	return c.Send(resp.Body)
}

// buildRequest 复制入站请求的 URL、方法、请求头与正文，并补充 X-Forwarded-* 头。
// fasthttp 会复用请求缓冲区，这里必须拷贝，后台写缓存任务才能安全持有。
func (h *Handler) buildRequest(c fiber.Ctx) *cache.Request {
	host := server.RequestHost(c)
	rawURL := h.route.RequestURL(c.Scheme(), host, string(c.Request().RequestURI()))

	header := fiberHeadersAsHTTP(c)
	header.Del("Host")
	header.Set("X-Forwarded-Host", host)
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	header.Set("X-Forwarded-Proto", c.Scheme())
	header.Set("X-Forwarded-Port", routePort(h.route))

	return &cache.Request{
		Method: c.Method(),
		URL:    rawURL,
		Header: header,
		Body:   append([]byte(nil), c.Body()...),
	}
}

func (h *Handler) logResult(req *cache.Request, result sw.Result, status int, requestID string, started time.Time) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(string(result.Kind), string(result.Source), result.Version, status)
	fields["action"] = "fetch"
	fields["url"] = req.URL
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

func (h *Handler) logFailure(req *cache.Request, requestID string, err error) {
	if h.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action": "fetch",
		"url":    req.URL,
		"error":  "fetch_handler_panic",
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithFields(fields).Error(err.Error())
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func routePort(route *server.SiteRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return strconv.Itoa(route.ListenPort)
}
