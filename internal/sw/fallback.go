package sw

import (
	"encoding/base64"
	"net/http"

	"github.com/zx-tiles/offline-proxy/internal/cache"
	"github.com/zx-tiles/offline-proxy/internal/config"
	"github.com/zx-tiles/offline-proxy/internal/strategy"
)

const (
	placeholderGIF = "R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"
	// PlaceholderDataURI 是图片兜底响应的默认正文（data URI 字符串本身）。
	PlaceholderDataURI = "data:image/gif;base64," + placeholderGIF
	// OfflinePage 是导航兜底页面。
	OfflinePage = "<html><body><h1>Offline</h1></body></html>"
)

// imagePlaceholder 返回 1x1 透明 GIF 占位响应；literal 模式下正文是 data URI 字符串。
func imagePlaceholder(mode string) *cache.Response {
	body := []byte(PlaceholderDataURI)
	if mode == config.PlaceholderDecoded {
		if decoded, err := base64.StdEncoding.DecodeString(placeholderGIF); err == nil {
			body = decoded
		}
	}
	return &cache.Response{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"image/gif"}},
		Body:   body,
	}
}

func staticUnavailable() *cache.Response {
	return &cache.Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{},
		Body:   []byte{},
	}
}

func offlinePage() *cache.Response {
	return &cache.Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": []string{"text/html"}},
		Body:   []byte(OfflinePage),
	}
}

// terminalFallback 返回策略在网络与缓存均失败时的最终响应。
func terminalFallback(kind strategy.Kind, placeholderMode string) *cache.Response {
	switch kind {
	case strategy.KindImage:
		return imagePlaceholder(placeholderMode)
	case strategy.KindStatic:
		return staticUnavailable()
	default:
		return offlinePage()
	}
}
