package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/zx-tiles/offline-proxy/internal/cache"
	"github.com/zx-tiles/offline-proxy/internal/config"
	"github.com/zx-tiles/offline-proxy/internal/logging"
	"github.com/zx-tiles/offline-proxy/internal/proxy"
	"github.com/zx-tiles/offline-proxy/internal/server"
	"github.com/zx-tiles/offline-proxy/internal/server/routes"
	"github.com/zx-tiles/offline-proxy/internal/sw"
	"github.com/zx-tiles/offline-proxy/internal/version"
)

// proxyRuntime 持有进程生命周期内共享的缓存存储、上游 fetcher 与 worker 注册表。
// 配置热加载只会替换 worker，其余组件保持不变。
type proxyRuntime struct {
	cfg       *config.Config
	logger    *logrus.Logger
	route     *server.SiteRoute
	storage   cache.Storage
	fetcher   *proxy.Fetcher
	forwarder *proxy.Forwarder
	bg        *sw.Background
	reg       *sw.Registration

	mu      sync.Mutex
	current config.SiteConfig
}

// newRuntime 按“配置 → 站点路由 → 缓存存储 → 上游客户端 → 注册表”的顺序组装组件。
func newRuntime(cfg *config.Config, logger *logrus.Logger) (*proxyRuntime, error) {
	route, err := server.NewSiteRoute(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建站点路由失败: %w", err)
	}

	storage, err := cache.NewStorage(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	fetcher := proxy.NewFetcher(server.NewUpstreamClient(cfg), route)
	bg := sw.NewBackground(logger)

	return &proxyRuntime{
		cfg:       cfg,
		logger:    logger,
		route:     route,
		storage:   storage,
		fetcher:   fetcher,
		forwarder: proxy.NewForwarder(fetcher, logger),
		bg:        bg,
		reg:       sw.NewRegistration(logger, bg),
	}, nil
}

// installVersion 为站点配置构造新的 worker 并安装。
func (rt *proxyRuntime) installVersion(ctx context.Context, site config.SiteConfig) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	w, err := sw.NewWorker(site, sw.Deps{
		Storage:    rt.storage,
		Fetcher:    rt.fetcher,
		Background: rt.bg,
		Logger:     rt.logger,
	})
	if err != nil {
		return err
	}
	if err := rt.reg.Install(ctx, w); err != nil {
		return err
	}
	rt.current = site
	return nil
}

// reload 处理配置文件变更：只有 Version 或缓存相关字段变化时才安装新 worker，
// Origin/Upstream/存储等变更需要重启进程。
func (rt *proxyRuntime) reload(cfg *config.Config, err error) {
	fields := logging.BaseFields("reload", "")
	if err != nil {
		rt.logger.WithFields(fields).WithError(err).Warn("配置重载失败，继续使用当前 worker")
		return
	}

	overrides, envErr := config.ParseEnv()
	if envErr == nil {
		overrides.Apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		rt.logger.WithFields(fields).WithError(err).Warn("配置重载失败，继续使用当前 worker")
		return
	}

	rt.mu.Lock()
	current := rt.current
	rt.mu.Unlock()

	next := cfg.Site
	if next.Origin != current.Origin || next.Upstream != current.Upstream ||
		cfg.Global.StorageDriver != rt.cfg.Global.StorageDriver ||
		cfg.Global.StoragePath != rt.cfg.Global.StoragePath {
		rt.logger.WithFields(fields).Warn("Origin/Upstream/存储配置变更需要重启后生效")
		next.Origin = current.Origin
		next.Upstream = current.Upstream
	}
	if next == current {
		rt.logger.WithFields(fields).Debug("站点配置未变化")
		return
	}

	fields["version"] = next.Version
	fields["previous_version"] = current.Version
	if err := rt.installVersion(context.Background(), next); err != nil {
		rt.logger.WithFields(fields).WithError(err).Error("安装新 worker 失败")
		return
	}
	rt.logger.WithFields(fields).Info("新版本 worker 已安装")
}

// newApp 构建 Fiber 应用并挂载代理与控制接口。
func (rt *proxyRuntime) newApp() (*fiber.App, error) {
	handler := proxy.NewHandler(rt.route, rt.reg, rt.forwarder, rt.logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:     rt.logger,
		Proxy:      handler,
		ListenPort: rt.cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterControlRoutes(app, rt.reg, rt.logger)
	routes.RegisterStrategyRoutes(app, rt.reg)
	return app, nil
}

// Close 等待后台任务结束后关闭缓存存储。
func (rt *proxyRuntime) Close() error {
	rt.bg.Wait()
	return rt.storage.Close()
}

func serve(opts cliOptions, cfg *config.Config, logger *logrus.Logger) error {
	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.WithError(err).Warn("关闭缓存存储失败")
		}
	}()

	if err := rt.installVersion(context.Background(), cfg.Site); err != nil {
		return fmt.Errorf("安装 worker 失败: %w", err)
	}

	app, err := rt.newApp()
	if err != nil {
		return err
	}

	if opts.watch {
		if err := config.Watch(opts.configPath, rt.reload); err != nil {
			return err
		}
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Site.Origin
	fields["upstream"] = cfg.Site.Upstream
	fields["site_version"] = cfg.Site.Version
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["listen_port"] = cfg.Global.ListenPort
	fields["watch"] = opts.watch
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   cfg.Global.ListenPort,
		}).Info("Fiber 服务启动")
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.Global.ListenPort))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("收到退出信号，等待请求与后台任务结束")
	if err := app.Shutdown(); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
