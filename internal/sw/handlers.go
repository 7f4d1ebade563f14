package sw

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/errgroup"

	"github.com/zx-tiles/offline-proxy/internal/cache"
	"github.com/zx-tiles/offline-proxy/internal/logging"
	"github.com/zx-tiles/offline-proxy/internal/strategy"
)

// deleteConcurrency 限制同时进行的命名空间删除数量。
const deleteConcurrency = 4

type strategyHandler func(ctx context.Context, w *Worker, req *cache.Request) Result

var strategyHandlers = map[strategy.Kind]strategyHandler{
	strategy.KindImage:      handleImage,
	strategy.KindStatic:     handleStatic,
	strategy.KindNavigation: handleNavigation,
}

// runStrategy 执行策略处理函数；处理函数 panic 时返回该策略的最终兜底响应。
func (w *Worker) runStrategy(ctx context.Context, kind strategy.Kind, req *cache.Request) Result {
	handler, ok := strategyHandlers[kind]
	if !ok {
		return Result{Source: SourceSynthesized, Response: terminalFallback(kind, w.site.ImagePlaceholder)}
	}

	var (
		catcher panics.Catcher
		result  Result
	)
	catcher.Try(func() {
		result = handler(ctx, w, req)
	})
	if recovered := catcher.Recovered(); recovered != nil {
		w.logger.WithFields(logrus.Fields{
			"action":   "fetch",
			"strategy": string(kind),
			"url":      req.URL,
			"panic":    recovered.Value,
		}).Error("strategy handler panicked")
		return Result{Source: SourceSynthesized, Response: terminalFallback(kind, w.site.ImagePlaceholder)}
	}
	return result
}

func handleImage(ctx context.Context, w *Worker, req *cache.Request) Result {
	result, err := w.cacheFirst(ctx, req, strategy.PurposeImages)
	if err == nil {
		return result
	}
	w.logFallback(strategy.KindImage, req, err)
	if cached, ok := w.globalMatch(ctx, req); ok {
		return Result{Source: SourceFallbackCache, Response: cached}
	}
	return Result{Source: SourceSynthesized, Response: imagePlaceholder(w.site.ImagePlaceholder)}
}

func handleStatic(ctx context.Context, w *Worker, req *cache.Request) Result {
	result, err := w.cacheFirst(ctx, req, strategy.PurposeAssets)
	if err == nil {
		return result
	}
	w.logFallback(strategy.KindStatic, req, err)
	if cached, ok := w.globalMatch(ctx, req); ok {
		return Result{Source: SourceFallbackCache, Response: cached}
	}
	return Result{Source: SourceSynthesized, Response: staticUnavailable()}
}

func handleNavigation(ctx context.Context, w *Worker, req *cache.Request) Result {
	resp, err := w.fetcher.Fetch(ctx, req)
	if err == nil {
		if resp.OK() {
			clone := resp.Clone()
			name := w.namespaces.Assets
			w.bg.Go("cache_put", func(ctx context.Context) error {
				c, err := w.storage.Open(ctx, name)
				if err != nil {
					return fmt.Errorf("open %s: %w", name, err)
				}
				return c.Put(ctx, req, clone)
			})
		}
		return Result{Source: SourceNetwork, Response: resp}
	}

	w.logFallback(strategy.KindNavigation, req, err)
	if cached, ok := w.globalMatch(ctx, req); ok {
		return Result{Source: SourceFallbackCache, Response: cached}
	}
	shell := cache.NewRequest(w.site.Origin + "/")
	if cached, ok := w.globalMatch(ctx, shell); ok {
		return Result{Source: SourceAppShell, Response: cached}
	}
	return Result{Source: SourceSynthesized, Response: offlinePage()}
}

// cacheFirst 先查当前版本的命名空间，未命中再访问网络，成功响应在后台写回缓存。
// 打开命名空间失败或网络失败时返回 error，由调用方进入兜底链路。
func (w *Worker) cacheFirst(ctx context.Context, req *cache.Request, purpose strategy.Purpose) (Result, error) {
	name := w.namespaces.For(purpose)
	c, err := w.storage.Open(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", name, err)
	}

	cached, err := c.Match(ctx, req)
	switch {
	case err == nil:
		return Result{Source: SourceCache, Response: cached}, nil
	case errors.Is(err, cache.ErrNotFound):
	default:
		w.logger.WithFields(logging.CacheFields(name, req.URL)).WithError(err).Warn("cache match failed")
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch: %w", err)
	}
	if resp.OK() {
		clone := resp.Clone()
		w.bg.Go("cache_put", func(ctx context.Context) error {
			return c.Put(ctx, req, clone)
		})
	}
	return Result{Source: SourceNetwork, Response: resp}, nil
}

// globalMatch 在全部命名空间中查找请求，查找失败视为未命中。
func (w *Worker) globalMatch(ctx context.Context, req *cache.Request) (*cache.Response, bool) {
	resp, err := w.storage.Match(ctx, req)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			w.logger.WithFields(logging.CacheFields("*", req.URL)).WithError(err).Warn("global cache match failed")
		}
		return nil, false
	}
	return resp, true
}

// deleteNamespaces 并发删除 shouldDelete 返回 true 的命名空间；单个删除失败只记录日志。
func (w *Worker) deleteNamespaces(ctx context.Context, action string, shouldDelete func(name string) bool) {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.logger.WithField("action", action).WithError(err).Warn("list cache namespaces failed")
		return
	}

	var g errgroup.Group
	g.SetLimit(deleteConcurrency)
	for _, name := range names {
		if !shouldDelete(name) {
			continue
		}
		g.Go(func() error {
			fields := logging.CacheFields(name, "")
			fields["action"] = action
			fields["version"] = w.Version()
			if _, err := w.storage.Delete(ctx, name); err != nil {
				w.logger.WithFields(fields).WithError(err).Warn("delete cache namespace failed")
				return nil
			}
			w.logger.WithFields(fields).Info("cache namespace deleted")
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) logFallback(kind strategy.Kind, req *cache.Request, err error) {
	w.logger.WithFields(logrus.Fields{
		"action":   "fetch",
		"strategy": string(kind),
		"url":      req.URL,
		"version":  w.Version(),
	}).WithError(err).Debug("falling back to cache")
}
