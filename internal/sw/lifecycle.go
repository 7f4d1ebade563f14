package sw

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zx-tiles/offline-proxy/internal/cache"
	"github.com/zx-tiles/offline-proxy/internal/logging"
)

// 控制消息的目标 worker。
const (
	TargetAuto    = ""
	TargetActive  = "active"
	TargetWaiting = "waiting"
)

var (
	// ErrNoWorker 表示目标 worker 不存在。
	ErrNoWorker = errors.New("no worker for target")
	// ErrUnknownTarget 表示目标名称不受支持。
	ErrUnknownTarget = errors.New("unknown message target")
)

// Registration 管理 worker 的安装、激活与请求控制权。
//
// active 是最近一次开始激活的 worker，controller 是接收新请求的 worker，
// waiting 是已安装但尚未激活的 worker。
type Registration struct {
	logger *logrus.Logger
	bg     *Background

	mu         sync.Mutex
	active     *Worker
	waiting    *Worker
	controller *Worker
}

// NewRegistration 创建空注册表。
func NewRegistration(logger *logrus.Logger, bg *Background) *Registration {
	if logger == nil {
		logger = logging.Discard()
	}
	if bg == nil {
		bg = NewBackground(logger)
	}
	return &Registration{logger: logger, bg: bg}
}

// Install 安装 worker。worker 请求跳过等待，或当前控制者没有进行中的请求时，
// 安装完成后立即激活；否则进入等待状态，直到控制者空闲或收到 skipWaiting。
func (r *Registration) Install(ctx context.Context, w *Worker) error {
	if w == nil {
		return errors.New("worker is nil")
	}
	if !w.transition(StateParsed, StateInstalling) {
		return fmt.Errorf("worker %s already installed", w.Version())
	}
	w.attach(r)

	if err := w.Dispatch(ctx, &Event{Kind: EventInstall}); err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("install %s: %w", w.Version(), err)
	}
	w.setState(StateInstalled)

	r.mu.Lock()
	if previous := r.waiting; previous != nil && previous != w {
		previous.setState(StateRedundant)
	}
	r.waiting = w
	promote := w.skipWaitingRequested() || r.controllerIdleLocked()
	r.mu.Unlock()

	r.logger.WithFields(logging.WorkerFields(w.Version(), string(StateInstalled))).
		WithField("action", "install").Info("worker installed")

	if promote {
		r.activate(ctx, w)
	}
	return nil
}

// Fetch 把请求交给当前控制者；第二个返回值为 false 表示没有 worker 或请求未被拦截。
func (r *Registration) Fetch(ctx context.Context, req *cache.Request) (Result, bool) {
	r.mu.Lock()
	w := r.controller
	if w == nil {
		r.mu.Unlock()
		return Result{}, false
	}
	w.inflight++
	r.mu.Unlock()

	defer r.release(w)
	return w.Fetch(ctx, req)
}

// PostMessage 把控制消息投递给目标 worker，默认优先等待中的 worker。
func (r *Registration) PostMessage(ctx context.Context, target, data string) (*Worker, error) {
	w, err := r.target(target)
	if err != nil {
		return nil, err
	}
	if err := w.PostMessage(ctx, data); err != nil {
		return nil, err
	}
	return w, nil
}

// Controller 返回当前接收请求的 worker。
func (r *Registration) Controller() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controller
}

// Active 返回当前激活的 worker。
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Waiting 返回等待激活的 worker。
func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Background 返回注册表使用的后台任务组。
func (r *Registration) Background() *Background {
	return r.bg
}

// WorkerStatus 是 worker 的诊断快照。
type WorkerStatus struct {
	Version    string   `json:"version"`
	State      State    `json:"state"`
	InFlight   int      `json:"in_flight"`
	Namespaces []string `json:"namespaces"`
}

// Status 是注册表的诊断快照。
type Status struct {
	Active     *WorkerStatus `json:"active,omitempty"`
	Waiting    *WorkerStatus `json:"waiting,omitempty"`
	Controller string        `json:"controller,omitempty"`
}

// Status 返回当前注册表状态。
func (r *Registration) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := Status{
		Active:  workerStatus(r.active),
		Waiting: workerStatus(r.waiting),
	}
	if r.controller != nil {
		status.Controller = r.controller.Version()
	}
	return status
}

// workerStatus 在持有 r.mu 时调用。
func workerStatus(w *Worker) *WorkerStatus {
	if w == nil {
		return nil
	}
	return &WorkerStatus{
		Version:    w.Version(),
		State:      w.State(),
		InFlight:   w.inflight,
		Namespaces: w.namespaces.List(),
	}
}

func (r *Registration) target(target string) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var w *Worker
	switch target {
	case TargetAuto:
		w = r.waiting
		if w == nil {
			w = r.active
		}
	case TargetActive:
		w = r.active
	case TargetWaiting:
		w = r.waiting
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	if w == nil {
		return nil, ErrNoWorker
	}
	return w, nil
}

// activate 激活等待中的 worker：派发 activate 事件（清理旧命名空间并 claim），
// 结束后旧的激活 worker 变为 redundant。同一 worker 只会被激活一次。
func (r *Registration) activate(ctx context.Context, w *Worker) {
	r.mu.Lock()
	if r.waiting != w || !w.transition(StateInstalled, StateActivating) {
		r.mu.Unlock()
		return
	}
	r.waiting = nil
	previous := r.active
	r.active = w
	r.mu.Unlock()

	if err := w.Dispatch(ctx, &Event{Kind: EventActivate}); err != nil {
		r.logger.WithFields(logging.WorkerFields(w.Version(), string(StateActivating))).
			WithError(err).Warn("activate handler failed")
	}

	r.claim(w)
	w.setState(StateActivated)
	if previous != nil && previous != w {
		previous.setState(StateRedundant)
	}

	r.logger.WithFields(logging.WorkerFields(w.Version(), string(StateActivated))).
		WithField("action", "activate").Info("worker activated")
}

// claim 让 w 成为控制者；w 已被更新的 worker 取代时不生效。
func (r *Registration) claim(w *Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != w || r.controller == w {
		return
	}
	r.controller = w
	r.logger.WithFields(logging.WorkerFields(w.Version(), string(w.State()))).
		WithField("action", "claim").Info("worker claimed clients")
}

// release 在请求结束后调用；控制者空闲且有等待中的 worker 时在后台激活它。
func (r *Registration) release(w *Worker) {
	r.mu.Lock()
	w.inflight--
	waiting := r.waiting
	promote := waiting != nil && waiting.State() == StateInstalled && r.controllerIdleLocked()
	r.mu.Unlock()

	if promote {
		r.bg.Go("activate_waiting", func(ctx context.Context) error {
			r.activate(ctx, waiting)
			return nil
		})
	}
}

func (r *Registration) controllerIdleLocked() bool {
	return r.controller == nil || r.controller.inflight == 0
}
