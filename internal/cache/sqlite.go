package cache

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/webgpt-go/internal/logger"
)

// ErrClosed is returned by a SQLiteStore used after Close.
var ErrClosed = errors.New("sqlite cache is closed")

// SQLiteStore keeps values in a single-table SQLite file. The database is
// opened lazily and the table created on first use.
type SQLiteStore struct {
	path string

	once    sync.Once
	db      *sql.DB
	initErr error
}

func NewSQLiteStore(path string) *SQLiteStore {
	if path == "" {
		path = "cache.db"
	}
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) init() {
	db, err := sql.Open("sqlite", "file:"+s.path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		s.initErr = err
		logger.L.Warn("sqlite cache open failed", "path", s.path, "error", err)
		return
	}
	if _, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
        key TEXT PRIMARY KEY,
        value TEXT NOT NULL
    );`); err != nil {
		db.Close()
		s.initErr = err
		logger.L.Warn("sqlite cache table creation failed", "path", s.path, "error", err)
		return
	}
	s.db = db
	logger.L.Info("sqlite cache initialized", "path", s.path)
}

func (s *SQLiteStore) conn() (*sql.DB, error) {
	s.once.Do(s.init)
	return s.db, s.initErr
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value;`, key, value)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	db, err := s.conn()
	if err != nil {
		return "", false, err
	}
	var v string
	err = db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?;`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?;`, key)
	return err
}

// Clear empties the whole table, whoever wrote the rows.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM kv;`)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	logger.L.Warn("sqlite cache cleared", "keys", n)
	return nil
}

// Close releases the database. A store closed before first use never opens
// it; later calls fail with ErrClosed.
func (s *SQLiteStore) Close() error {
	s.once.Do(func() { s.initErr = ErrClosed })
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
