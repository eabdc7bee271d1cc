package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// NewStore opens a sqlite-backed store at path, or an in-memory store when
// path is empty (tests, dry runs).
func NewStore(path string) (Store, error) {
	if strings.TrimSpace(path) == "" {
		return NewMemoryStore(), nil
	}
	return NewSQLiteStore(path)
}

// SQLiteStore persists rules in a local sqlite database.
type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := db.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Rule{}); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(pattern, behavior string) error {
	if strings.TrimSpace(pattern) == "" {
		return errors.New("rule pattern is required")
	}
	r := newRule(pattern, behavior)
	return s.db.Create(&r).Error
}

func (s *SQLiteStore) Rules() ([]Rule, error) {
	var out []Rule
	if err := s.db.Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// MemoryStore keeps rules in-process.
type MemoryStore struct {
	mu    sync.RWMutex
	rules []Rule
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) Append(pattern, behavior string) error {
	if strings.TrimSpace(pattern) == "" {
		return errors.New("rule pattern is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := newRule(pattern, behavior)
	r.ID = uint(len(s.rules) + 1)
	s.rules = append(s.rules, r)
	return nil
}

func (s *MemoryStore) Rules() ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
