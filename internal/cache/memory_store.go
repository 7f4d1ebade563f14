package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// NewMemoryStorage 返回进程内缓存，进程退出即丢失，适合开发与测试。
func NewMemoryStorage() Storage {
	return &memoryStore{}
}

type memoryStore struct {
	mu    sync.RWMutex
	order []*memoryNamespace
}

type memoryNamespace struct {
	name    string
	deleted bool
	entries map[string]*entry
}

type memoryCache struct {
	store *memoryStore
	ns    *memoryNamespace
}

func (s *memoryStore) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("namespace name required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ns := s.find(name); ns != nil {
		return &memoryCache{store: s, ns: ns}, nil
	}
	ns := &memoryNamespace{name: name, entries: make(map[string]*entry)}
	s.order = append(s.order, ns)
	return &memoryCache{store: s, ns: ns}, nil
}

func (s *memoryStore) Match(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := RequestKey(req)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ns := range s.order {
		if e, ok := ns.entries[key]; ok && e.matches(req) {
			return e.response(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryStore) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.find(name) != nil, nil
}

func (s *memoryStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, ns := range s.order {
		if ns.name == name {
			ns.deleted = true
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.order))
	for i, ns := range s.order {
		names[i] = ns.name
	}
	return names, nil
}

func (s *memoryStore) Close() error {
	return nil
}

func (s *memoryStore) find(name string) *memoryNamespace {
	for _, ns := range s.order {
		if ns.name == name {
			return ns
		}
	}
	return nil
}

func (c *memoryCache) Name() string {
	return c.ns.name
}

func (c *memoryCache) Match(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := RequestKey(req)
	if err != nil {
		return nil, err
	}

	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	// 已删除的命名空间在旧句柄上仍可读，与平台行为一致。
	if e, ok := c.ns.entries[key]; ok && e.matches(req) {
		return e.response(), nil
	}
	return nil, ErrNotFound
}

func (c *memoryCache) Put(ctx context.Context, req *Request, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, key, err := newEntry(req, resp)
	if err != nil {
		return err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	if c.ns.deleted {
		return fmt.Errorf("%w: %s", ErrNamespaceGone, c.ns.name)
	}
	c.ns.entries[key] = e
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, req *Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key, err := RequestKey(req)
	if err != nil {
		return false, err
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	e, ok := c.ns.entries[key]
	if !ok || !e.matches(req) {
		return false, nil
	}
	delete(c.ns.entries, key)
	return true, nil
}

func (c *memoryCache) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	keys := make([]string, 0, len(c.ns.entries))
	for key := range c.ns.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
