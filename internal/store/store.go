// Package store keeps skip-trace results in a local SQLite database so that
// repeated lookups and resumed batches do not hit the search sites again.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"skiptracer/internal/search"
)

// Trace 的状态。
const (
	StatusMatched = "matched"
	StatusEmpty   = "empty"
	StatusError   = "error"
)

var ErrNotFound = errors.New("trace not found")

// Trace 是对一个地址的一次查找记录。
type Trace struct {
	ID       string         `json:"id"`
	Address  string         `json:"address"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	TracedAt time.Time      `json:"traced_at"`
	Matches  []search.Match `json:"matches,omitempty"`
	// MatchCount 在 Recent 中代替 Matches。
	MatchCount int `json:"match_count"`
}

// Store 是基于 modernc.org/sqlite 的结果库。
type Store struct {
	db   *sql.DB
	path string
}

// Open 打开或创建数据库文件, 必要时创建目录。
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite 只有一个写者
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, path: path}
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS traces (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		address_key TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		traced_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_traces_key ON traces(address_key, traced_at);

	CREATE TABLE IF NOT EXISTS matches (
		trace_id TEXT NOT NULL REFERENCES traces(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		phones TEXT NOT NULL,
		city_state TEXT,
		source TEXT NOT NULL,
		PRIMARY KEY (trace_id, position)
	);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// SaveTrace 写入一次查找及其结果。ID 和 TracedAt 为空时自动填充, Status 为空时按结果推断。
func (s *Store) SaveTrace(ctx context.Context, t *Trace) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.TracedAt.IsZero() {
		t.TracedAt = time.Now()
	}
	if t.Status == "" {
		switch {
		case t.Error != "":
			t.Status = StatusError
		case len(t.Matches) > 0:
			t.Status = StatusMatched
		default:
			t.Status = StatusEmpty
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO traces (id, address, address_key, status, error, traced_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, search.NormalizeAddress(t.Address), search.AddressKey(t.Address), t.Status, t.Error, t.TracedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}

	for i, m := range t.Matches {
		phones, err := json.Marshal(m.Phones)
		if err != nil {
			return fmt.Errorf("failed to serialize phones: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO matches (trace_id, position, name, phones, city_state, source) VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, i, m.Name, string(phones), m.CityState, m.Source,
		); err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
	}
	return tx.Commit()
}

// LatestTrace 返回地址最近一次的查找记录, 没有时返回 ErrNotFound。
func (s *Store) LatestTrace(ctx context.Context, address string) (*Trace, error) {
	t := &Trace{}
	var (
		errText  sql.NullString
		tracedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, address, status, error, traced_at FROM traces WHERE address_key = ? ORDER BY traced_at DESC, rowid DESC LIMIT 1`,
		search.AddressKey(address),
	).Scan(&t.ID, &t.Address, &t.Status, &errText, &tracedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	t.Error = errText.String
	t.TracedAt = time.UnixMilli(tracedAt)

	if t.Matches, err = s.matches(ctx, t.ID); err != nil {
		return nil, err
	}
	t.MatchCount = len(t.Matches)
	return t, nil
}

// Recent 返回最近的查找记录 (不含结果明细)。
func (s *Store) Recent(ctx context.Context, limit int) ([]*Trace, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.id, t.address, t.status, t.error, t.traced_at, COUNT(m.trace_id)
		 FROM traces t LEFT JOIN matches m ON m.trace_id = t.id
		 GROUP BY t.id ORDER BY t.traced_at DESC, t.rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent traces: %w", err)
	}
	defer rows.Close()

	var out []*Trace
	for rows.Next() {
		t := &Trace{}
		var (
			errText  sql.NullString
			tracedAt int64
		)
		if err := rows.Scan(&t.ID, &t.Address, &t.Status, &errText, &tracedAt, &t.MatchCount); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		t.Error = errText.String
		t.TracedAt = time.UnixMilli(tracedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) matches(ctx context.Context, traceID string) ([]search.Match, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, phones, city_state, source FROM matches WHERE trace_id = ? ORDER BY position`, traceID)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var out []search.Match
	for rows.Next() {
		var (
			m         search.Match
			phones    string
			cityState sql.NullString
		)
		if err := rows.Scan(&m.Name, &phones, &cityState, &m.Source); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if err := json.Unmarshal([]byte(phones), &m.Phones); err != nil {
			return nil, fmt.Errorf("failed to deserialize phones: %w", err)
		}
		m.CityState = cityState.String
		out = append(out, m)
	}
	return out, rows.Err()
}
