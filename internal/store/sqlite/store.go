package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

var ErrNotFound = errors.New("not found")

// Store 持久化账号、任务历史、抢票结果和通知设置。
type Store struct {
	db *sql.DB
}

// 内存库不支持 WAL，只设置忙等待。
func pragmasFor(path string) []string {
	if path == memoryPath {
		return []string{"busy_timeout = 5000"}
	}
	return []string{"busy_timeout = 5000", "journal_mode = WAL", "synchronous = NORMAL"}
}

// Open 打开（必要时创建）数据库文件并执行迁移。path 为 ":memory:" 时使用内存库，测试用。
func Open(ctx context.Context, path string) (*Store, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// 单连接：结果写入来自多个任务 goroutine，避免 SQLITE_BUSY；内存库也依赖它保持同一份数据。
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, p := range pragmasFor(path) {
		if _, err := db.ExecContext(ctx, "PRAGMA "+p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite pragma %s: %w", p, err)
		}
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
