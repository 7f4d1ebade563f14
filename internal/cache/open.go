package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// 支持的存储驱动。
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// sqliteFileName 是 sqlite 驱动在 StoragePath 下使用的数据库文件名。
const sqliteFileName = "cache.db"

// NewStorage 根据驱动名称构建 Storage。StoragePath 对 fs 是根目录，对 sqlite 是数据库所在目录。
func NewStorage(driver, storagePath string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverFS:
		return NewFileStorage(storagePath)
	case DriverSQLite:
		if err := os.MkdirAll(storagePath, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		return NewSQLiteStorage(filepath.Join(storagePath, sqliteFileName))
	case DriverMemory:
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
