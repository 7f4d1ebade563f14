package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

type registry struct {
	mu         sync.RWMutex
	strategies map[Kind]Metadata
}

func newRegistry() *registry {
	return &registry{strategies: make(map[Kind]Metadata)}
}

// Register 将策略元数据加入全局注册表，重复键或多个默认策略会返回错误。
func Register(meta Metadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(meta Metadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定策略的元数据。
func Resolve(kind Kind) (Metadata, bool) {
	return globalRegistry.resolve(kind)
}

// List 返回按优先级排序的策略列表。
func List() []Metadata {
	return globalRegistry.list()
}

// Classify 按优先级返回第一个命中 urlPath 后缀的策略；均未命中时返回默认策略。
func Classify(urlPath string) Kind {
	return globalRegistry.classify(urlPath)
}

func (r *registry) register(meta Metadata) error {
	kind := Kind(strings.ToLower(strings.TrimSpace(string(meta.Kind))))
	if kind == "" {
		return fmt.Errorf("strategy kind is required")
	}
	meta.Kind = kind
	exts := make([]string, 0, len(meta.Extensions))
	for _, ext := range meta.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	meta.Extensions = exts

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[kind]; exists {
		return fmt.Errorf("strategy %s already registered", kind)
	}
	if meta.Default() {
		for _, existing := range r.strategies {
			if existing.Default() {
				return fmt.Errorf("default strategy already registered: %s", existing.Kind)
			}
		}
	}
	r.strategies[kind] = meta
	return nil
}

func (r *registry) resolve(kind Kind) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.strategies[Kind(strings.ToLower(string(kind)))]
	return meta, ok
}

func (r *registry) list() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Metadata, 0, len(r.strategies))
	for _, meta := range r.strategies {
		result = append(result, meta)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Priority == result[j].Priority {
			return result[i].Kind < result[j].Kind
		}
		return result[i].Priority < result[j].Priority
	})
	return result
}

func (r *registry) classify(urlPath string) Kind {
	var fallback Kind
	for _, meta := range r.list() {
		if meta.Default() {
			if fallback == "" {
				fallback = meta.Kind
			}
			continue
		}
		if meta.Matches(urlPath) {
			return meta.Kind
		}
	}
	return fallback
}
