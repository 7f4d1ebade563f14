package cache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	namespaceMarker = ".namespace"
	entrySuffix     = ".entry"
)

// NewFileStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。磁盘布局：
//
//	<StoragePath>/<namespace>/.namespace        # 名称与创建时间
//	<StoragePath>/<namespace>/<sha256(url)>.entry # 元数据 JSON 行 + 正文
//
// 条目通过临时文件 + rename 原子替换。
func NewFileStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一条目并发写入；nsMu 串行化命名空间的创建与删除。
type fileStore struct {
	basePath string

	nsMu sync.Mutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type namespaceInfo struct {
	Name      string    `json:"name"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

type fileCache struct {
	store *fileStore
	name  string
	dir   string
}

func (s *fileStore) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.namespaceDir(name)
	if err != nil {
		return nil, err
	}

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	marker := filepath.Join(dir, namespaceMarker)
	if _, err := os.Stat(marker); err == nil {
		return &fileCache{store: s, name: name, dir: dir}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create namespace %s: %w", name, err)
	}
	existing, err := s.namespaces()
	if err != nil {
		return nil, err
	}
	var seq int64
	for _, info := range existing {
		if info.Seq > seq {
			seq = info.Seq
		}
	}
	payload, err := json.Marshal(namespaceInfo{Name: name, Seq: seq + 1, CreatedAt: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(dir, marker, bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("create namespace %s: %w", name, err)
	}
	return &fileCache{store: s, name: name, dir: dir}, nil
}

func (s *fileStore) Match(ctx context.Context, req *Request) (*Response, error) {
	if _, err := RequestKey(req); err != nil {
		return nil, err
	}
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		dir, err := s.namespaceDir(name)
		if err != nil {
			continue
		}
		c := &fileCache{store: s, name: name, dir: dir}
		resp, err := c.Match(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// 单个命名空间的条目损坏不影响其余命名空间的查找。
	}
	return nil, ErrNotFound
}

func (s *fileStore) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.namespaceDir(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(filepath.Join(dir, namespaceMarker)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *fileStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.namespaceDir(name)
	if err != nil {
		return false, err
	}

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	// 先移除 marker，旧句柄上的写入随即失败，不会让命名空间“复活”。
	if err := os.Remove(filepath.Join(dir, namespaceMarker)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return true, fmt.Errorf("remove namespace %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos, err := s.namespaces()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names, nil
}

// namespaces 读取全部 marker，按创建序号排序。
func (s *fileStore) namespaces() ([]namespaceInfo, error) {
	dirs, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	infos := make([]namespaceInfo, 0, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.basePath, d.Name(), namespaceMarker))
		if err != nil {
			continue
		}
		var info namespaceInfo
		if err := json.Unmarshal(raw, &info); err != nil || info.Name == "" {
			continue
		}
		infos = append(infos, info)
	}

	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Seq == infos[j].Seq {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].Seq < infos[j].Seq
	})
	return infos, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (c *fileCache) Name() string {
	return c.name
}

func (c *fileCache) Match(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := RequestKey(req)
	if err != nil {
		return nil, err
	}

	e, err := readEntry(c.entryPath(key))
	if err != nil {
		return nil, err
	}
	if e.URL != key || !e.matches(req) {
		return nil, ErrNotFound
	}
	return e.response(), nil
}

func (c *fileCache) Put(ctx context.Context, req *Request, resp *Response) error {
	e, key, err := newEntry(req, resp)
	if err != nil {
		return err
	}

	unlock := c.store.lockEntry(c.name + "::" + key)
	defer unlock()

	if _, err := os.Stat(filepath.Join(c.dir, namespaceMarker)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNamespaceGone, c.name)
		}
		return err
	}

	header, err := json.Marshal(e)
	if err != nil {
		return err
	}
	body := io.MultiReader(bytes.NewReader(header), strings.NewReader("\n"), bytes.NewReader(e.Body))
	return writeAtomicContext(ctx, c.dir, c.entryPath(key), body)
}

func (c *fileCache) Delete(ctx context.Context, req *Request) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key, err := RequestKey(req)
	if err != nil {
		return false, err
	}

	unlock := c.store.lockEntry(c.name + "::" + key)
	defer unlock()

	e, err := readEntry(c.entryPath(key))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !e.matches(req) {
		return false, nil
	}
	if err := os.Remove(c.entryPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	return true, nil
}

func (c *fileCache) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), entrySuffix) {
			continue
		}
		e, err := readEntry(filepath.Join(c.dir, f.Name()))
		if err != nil {
			continue
		}
		keys = append(keys, e.URL)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *fileCache) entryPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+entrySuffix)
}

func (s *fileStore) namespaceDir(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("namespace name required")
	}
	dir := filepath.Join(s.basePath, url.PathEscape(name))
	if filepath.Dir(dir) != s.basePath {
		return "", fmt.Errorf("invalid namespace name %q", name)
	}
	return dir, nil
}

func (s *fileStore) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func readEntry(filePath string) (*entry, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read entry header: %w", err)
	}
	var e entry
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, fmt.Errorf("decode entry header: %w", err)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read entry body: %w", err)
	}
	e.Body = body
	return &e, nil
}

func writeAtomic(dir, target string, body io.Reader) error {
	return writeAtomicContext(context.Background(), dir, target, body)
}

func writeAtomicContext(ctx context.Context, dir, target string, body io.Reader) error {
	tempFile, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
