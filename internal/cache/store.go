package cache

import (
	"context"
	"errors"
)

// Storage 对应浏览器中的 CacheStorage：按名称管理多个命名空间，并支持跨命名空间查找。
//
// 命名空间在首次 Open 时隐式创建；Keys 按创建顺序返回名称，Match 按同样顺序
// 返回第一个命中的条目。
type Storage interface {
	// Open 打开（必要时创建）指定名称的命名空间。
	Open(ctx context.Context, name string) (Cache, error)

	// Match 在所有命名空间中查找请求，未命中返回 ErrNotFound。不会创建命名空间。
	Match(ctx context.Context, req *Request) (*Response, error)

	// Has 报告命名空间是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整个命名空间及其全部条目，返回命名空间此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 按创建顺序返回全部命名空间名称。
	Keys(ctx context.Context) ([]string, error)

	// Close 释放底层资源。
	Close() error
}

// Cache 是单个命名空间的句柄。命名空间被删除后，句柄上的写入返回 ErrNamespaceGone。
type Cache interface {
	// Name 返回命名空间名称。
	Name() string

	// Match 返回与请求匹配的响应快照，未命中返回 ErrNotFound。
	Match(ctx context.Context, req *Request) (*Response, error)

	// Put 以整体替换的方式写入响应快照。
	Put(ctx context.Context, req *Request, resp *Response) error

	// Delete 删除与请求匹配的条目，返回是否删除了条目。
	Delete(ctx context.Context, req *Request) (bool, error)

	// Keys 返回当前命名空间中全部条目的 URL。
	Keys(ctx context.Context) ([]string, error)
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrNamespaceGone 表示句柄对应的命名空间已经被删除。
	ErrNamespaceGone = errors.New("cache namespace deleted")
	// ErrVaryWildcard 表示响应带有 Vary: *，无法被缓存。
	ErrVaryWildcard = errors.New("response with Vary: * cannot be cached")
	// ErrUncacheable 表示请求或响应不满足写入条件（非 GET、206 等）。
	ErrUncacheable = errors.New("request or response is not cacheable")
)
