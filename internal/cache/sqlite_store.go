package cache

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// sqliteStore 将命名空间与条目保存在单个 SQLite 文件中，删除命名空间时级联删除条目。
type sqliteStore struct {
	db *sql.DB
}

type sqliteCache struct {
	db   *sql.DB
	id   int64
	name string
}

// NewSQLiteStorage 打开（必要时创建）path 指向的数据库并执行建表脚本。
func NewSQLiteStorage(path string) (Storage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath +
		"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func applyMigrations(db *sql.DB) error {
	files, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, name := range files {
		script, err := migrationFS.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(script)); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (s *sqliteStore) Open(ctx context.Context, name string) (Cache, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("namespace name required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO namespaces (name, created_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING`,
		name, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("create namespace %s: %w", name, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM namespaces WHERE name = ?`, name).Scan(&id); err != nil {
		return nil, fmt.Errorf("open namespace %s: %w", name, err)
	}
	return &sqliteCache{db: s.db, id: id, name: name}, nil
}

func (s *sqliteStore) Match(ctx context.Context, req *Request) (*Response, error) {
	key, err := RequestKey(req)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT e.url, e.vary, e.status, e.header, e.body, e.stored_at
FROM entries e
JOIN namespaces n ON n.id = e.namespace_id
WHERE e.url = ?
ORDER BY n.id ASC
`, key)
	if err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			// 损坏的行只影响所在命名空间。
			continue
		}
		if e.matches(req) {
			return e.response(), nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	return nil, ErrNotFound
}

func (s *sqliteStore) Has(ctx context.Context, name string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM namespaces WHERE name = ?`, name).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *sqliteStore) Delete(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM namespaces WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete namespace %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM namespaces ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (c *sqliteCache) Name() string {
	return c.name
}

func (c *sqliteCache) Match(ctx context.Context, req *Request) (*Response, error) {
	key, err := RequestKey(req)
	if err != nil {
		return nil, err
	}
	row := c.db.QueryRowContext(ctx, `
SELECT url, vary, status, header, body, stored_at
FROM entries
WHERE namespace_id = ? AND url = ?
`, c.id, key)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !e.matches(req) {
		return nil, ErrNotFound
	}
	return e.response(), nil
}

func (c *sqliteCache) Put(ctx context.Context, req *Request, resp *Response) error {
	e, key, err := newEntry(req, resp)
	if err != nil {
		return err
	}
	vary := ""
	if len(e.Vary) > 0 {
		raw, err := json.Marshal(e.Vary)
		if err != nil {
			return err
		}
		vary = string(raw)
	}
	header, err := json.Marshal(e.Header)
	if err != nil {
		return err
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}

	res, err := c.db.ExecContext(ctx, `
INSERT INTO entries (namespace_id, url, vary, status, header, body, stored_at)
SELECT ?, ?, ?, ?, ?, ?, ?
WHERE EXISTS (SELECT 1 FROM namespaces WHERE id = ?)
ON CONFLICT(namespace_id, url) DO UPDATE SET
	vary = excluded.vary,
	status = excluded.status,
	header = excluded.header,
	body = excluded.body,
	stored_at = excluded.stored_at
`,
		c.id, key, vary, e.Status, string(header), body, e.StoredAt.UnixNano(),
		c.id,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNamespaceGone, c.name)
	}
	return nil
}

func (c *sqliteCache) Delete(ctx context.Context, req *Request) (bool, error) {
	resp, err := c.Match(ctx, req)
	if err != nil || resp == nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	key, err := RequestKey(req)
	if err != nil {
		return false, err
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM entries WHERE namespace_id = ? AND url = ?`, c.id, key)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (c *sqliteCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT url FROM entries WHERE namespace_id = ? ORDER BY url ASC`, c.id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*entry, error) {
	var (
		e        entry
		vary     string
		header   string
		storedAt int64
	)
	if err := row.Scan(&e.URL, &vary, &e.Status, &header, &e.Body, &storedAt); err != nil {
		return nil, err
	}
	if vary != "" {
		e.Vary = http.Header{}
		if err := json.Unmarshal([]byte(vary), &e.Vary); err != nil {
			return nil, fmt.Errorf("decode vary: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(header), &e.Header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	e.StoredAt = time.Unix(0, storedAt).UTC()
	return &e, nil
}
