package sw

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zx-tiles/offline-proxy/internal/cache"
	"github.com/zx-tiles/offline-proxy/internal/config"
	"github.com/zx-tiles/offline-proxy/internal/logging"
	"github.com/zx-tiles/offline-proxy/internal/strategy"
)

// Fetcher 是访问上游网络的端口；只有传输层失败才返回 error，HTTP 错误状态码照常返回响应。
type Fetcher interface {
	Fetch(ctx context.Context, req *cache.Request) (*cache.Response, error)
}

// FetcherFunc 允许使用普通函数实现 Fetcher。
type FetcherFunc func(ctx context.Context, req *cache.Request) (*cache.Response, error)

// Fetch 调用 f 本身。
func (f FetcherFunc) Fetch(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	return f(ctx, req)
}

// State 是 worker 的生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// EventKind 标识 worker 能处理的事件。
type EventKind string

const (
	EventInstall  EventKind = "install"
	EventActivate EventKind = "activate"
	EventFetch    EventKind = "fetch"
	EventMessage  EventKind = "message"
)

// ErrUnknownEvent 表示派发了 worker 没有注册处理函数的事件。
var ErrUnknownEvent = errors.New("unknown worker event")

// Event 是派发给 worker 的单个事件。fetch 事件通过 RespondWith 给出响应，
// 未调用 RespondWith 表示不拦截。
type Event struct {
	Kind    EventKind
	Request *cache.Request
	Data    string

	result *Result
}

// RespondWith 设置 fetch 事件的响应。
func (e *Event) RespondWith(result Result) {
	e.result = &result
}

// Result 返回 fetch 事件的响应（若已设置）。
func (e *Event) Result() (Result, bool) {
	if e.result == nil {
		return Result{}, false
	}
	return *e.result, true
}

// Source 描述响应的来源。
type Source string

const (
	SourceNetwork       Source = "network"
	SourceCache         Source = "cache"
	SourceFallbackCache Source = "fallback-cache"
	SourceAppShell      Source = "app-shell"
	SourceSynthesized   Source = "synthesized"
)

// Result 是一次被拦截请求的处理结果。
type Result struct {
	Kind     strategy.Kind
	Source   Source
	Version  string
	Response *cache.Response
}

// EventHandler 处理单个事件。
type EventHandler func(ctx context.Context, w *Worker, ev *Event) error

// Deps 是 worker 依赖的外部端口。
type Deps struct {
	Storage    cache.Storage
	Fetcher    Fetcher
	Background *Background
	Logger     *logrus.Logger
}

// Worker 对应一个部署版本的拦截实例。
type Worker struct {
	site       config.SiteConfig
	namespaces Namespaces
	router     *Router
	storage    cache.Storage
	fetcher    Fetcher
	bg         *Background
	logger     *logrus.Logger
	handlers   map[EventKind]EventHandler

	mu          sync.Mutex
	state       State
	skipWaiting bool
	reg         *Registration

	// inflight 由所属 Registration 的锁保护。
	inflight int
}

// NewWorker 按站点配置构造 worker，命名空间在此一次性计算。
func NewWorker(site config.SiteConfig, deps Deps) (*Worker, error) {
	if deps.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if site.Version == "" {
		return nil, errors.New("site version is required")
	}
	router, err := NewRouter(site.Origin)
	if err != nil {
		return nil, err
	}
	for _, meta := range strategy.List() {
		if _, ok := strategyHandlers[meta.Kind]; !ok {
			return nil, fmt.Errorf("no handler for strategy %s", meta.Kind)
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	bg := deps.Background
	if bg == nil {
		bg = NewBackground(logger)
	}
	return &Worker{
		site:       site,
		namespaces: NewNamespaces(site.Version, site.AssetCachePrefix, site.ImageCachePrefix),
		router:     router,
		storage:    deps.Storage,
		fetcher:    deps.Fetcher,
		bg:         bg,
		logger:     logger,
		handlers:   defaultHandlers(),
		state:      StateParsed,
	}, nil
}

func defaultHandlers() map[EventKind]EventHandler {
	return map[EventKind]EventHandler{
		EventInstall:  onInstall,
		EventActivate: onActivate,
		EventFetch:    onFetch,
		EventMessage:  onMessage,
	}
}

// Version 返回 worker 的版本标签。
func (w *Worker) Version() string {
	return w.namespaces.Version
}

// Namespaces 返回 worker 使用的命名空间。
func (w *Worker) Namespaces() Namespaces {
	return w.namespaces
}

// State 返回当前生命周期状态。
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Dispatch 把事件交给对应的处理函数。
func (w *Worker) Dispatch(ctx context.Context, ev *Event) error {
	handler, ok := w.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Kind)
	}
	return handler(ctx, w, ev)
}

// Fetch 派发 fetch 事件；第二个返回值为 false 表示请求未被拦截。
func (w *Worker) Fetch(ctx context.Context, req *cache.Request) (Result, bool) {
	ev := &Event{Kind: EventFetch, Request: req}
	if err := w.Dispatch(ctx, ev); err != nil {
		w.logger.WithFields(logging.WorkerFields(w.Version(), string(w.State()))).
			WithError(err).Warn("fetch dispatch failed")
		return Result{}, false
	}
	return ev.Result()
}

// PostMessage 派发 message 事件。
func (w *Worker) PostMessage(ctx context.Context, data string) error {
	return w.Dispatch(ctx, &Event{Kind: EventMessage, Data: data})
}

// SkipWaiting 请求跳过等待：安装阶段调用时安装完成即激活，处于等待状态时立即触发激活。
func (w *Worker) SkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	reg := w.reg
	waiting := w.state == StateInstalled
	w.mu.Unlock()

	if reg != nil && waiting {
		w.bg.Go("skip_waiting", func(ctx context.Context) error {
			reg.activate(ctx, w)
			return nil
		})
	}
}

// Claim 让注册表立即把后续请求交给该 worker。
func (w *Worker) Claim() {
	w.mu.Lock()
	reg := w.reg
	w.mu.Unlock()
	if reg != nil {
		reg.claim(w)
	}
}

func (w *Worker) skipWaitingRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipWaiting
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
	w.logger.WithFields(logging.WorkerFields(w.Version(), string(state))).Debug("worker state changed")
}

// transition 仅在当前状态为 from 时切换到 to。
func (w *Worker) transition(from, to State) bool {
	w.mu.Lock()
	if w.state != from {
		w.mu.Unlock()
		return false
	}
	w.state = to
	w.mu.Unlock()
	w.logger.WithFields(logging.WorkerFields(w.Version(), string(to))).Debug("worker state changed")
	return true
}

func (w *Worker) attach(reg *Registration) {
	w.mu.Lock()
	w.reg = reg
	w.mu.Unlock()
}

func onInstall(_ context.Context, w *Worker, _ *Event) error {
	w.logger.WithFields(logging.WorkerFields(w.Version(), string(StateInstalling))).
		WithField("action", "install").Info("worker installing")
	if w.site.SkipWaitingOnInstall {
		w.SkipWaiting()
	}
	return nil
}

func onActivate(ctx context.Context, w *Worker, _ *Event) error {
	w.logger.WithFields(logging.WorkerFields(w.Version(), string(StateActivating))).
		WithField("action", "activate").Info("worker activating")
	w.deleteNamespaces(ctx, "activate_cleanup", func(name string) bool {
		return !w.namespaces.Current(name)
	})
	w.Claim()
	return nil
}

func onFetch(ctx context.Context, w *Worker, ev *Event) error {
	kind, ok := w.router.Route(ev.Request)
	if !ok {
		return nil
	}
	result := w.runStrategy(ctx, kind, ev.Request)
	result.Kind = kind
	result.Version = w.Version()
	ev.RespondWith(result)
	return nil
}
