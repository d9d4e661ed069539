// Package reportlog archives daily reconciliation reports in SQLite,
// one row per UTC day. Rerunning a day replaces its earlier report.
package reportlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"tradecore/internal/reconcile"
)

const dayKeyLayout = "2006-01-02"

// ErrNotFound is returned for days without an archived report.
var ErrNotFound = errors.New("report not found")

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

var _ reconcile.Archiver = (*Store)(nil)

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("report log: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reconciliation_reports (
			day TEXT PRIMARY KEY,
			report_id TEXT NOT NULL,
			generated_at INTEGER NOT NULL,
			local_fills INTEGER NOT NULL,
			remote_fills INTEGER NOT NULL,
			matched INTEGER NOT NULL,
			discrepancies INTEGER NOT NULL,
			clean INTEGER NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recon_reports_generated ON reconciliation_reports(generated_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) conn() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("report log not initialized")
	}
	return db, nil
}

// Save implements reconcile.Archiver; the day column keys the upsert.
func (s *Store) Save(ctx context.Context, rep *reconcile.Report) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if rep == nil {
		return fmt.Errorf("nil report")
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	clean := 0
	if rep.Clean() {
		clean = 1
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO reconciliation_reports
			(day, report_id, generated_at, local_fills, remote_fills, matched, discrepancies, clean, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			report_id=excluded.report_id,
			generated_at=excluded.generated_at,
			local_fills=excluded.local_fills,
			remote_fills=excluded.remote_fills,
			matched=excluded.matched,
			discrepancies=excluded.discrepancies,
			clean=excluded.clean,
			payload=excluded.payload`,
		rep.Day.UTC().Format(dayKeyLayout),
		rep.ID,
		rep.GeneratedAt.UnixMilli(),
		rep.LocalFills,
		rep.RemoteFills,
		len(rep.Matched),
		len(rep.Discrepancies),
		clean,
		string(payload),
	)
	return err
}

// Get loads the archived report for one UTC day.
func (s *Store) Get(ctx context.Context, day time.Time) (*reconcile.Report, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var payload string
	err = db.QueryRowContext(ctx,
		`SELECT payload FROM reconciliation_reports WHERE day = ?`,
		day.UTC().Format(dayKeyLayout),
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rep reconcile.Report
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		return nil, fmt.Errorf("decode report for %s: %w", day.Format(dayKeyLayout), err)
	}
	return &rep, nil
}

// Summary is one archive listing row.
type Summary struct {
	Day           time.Time `json:"day"`
	ReportID      string    `json:"report_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	LocalFills    int       `json:"local_fills"`
	RemoteFills   int       `json:"remote_fills"`
	Matched       int       `json:"matched"`
	Discrepancies int       `json:"discrepancies"`
	Clean         bool      `json:"clean"`
}

// List returns archive summaries, newest day first.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 90
	}
	rows, err := db.QueryContext(ctx, `
		SELECT day, report_id, generated_at, local_fills, remote_fills, matched, discrepancies, clean
		FROM reconciliation_reports
		ORDER BY day DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum    Summary
			dayKey string
			genAt  int64
			clean  int
		)
		if err := rows.Scan(&dayKey, &sum.ReportID, &genAt,
			&sum.LocalFills, &sum.RemoteFills, &sum.Matched, &sum.Discrepancies, &clean); err != nil {
			return nil, err
		}
		day, err := time.ParseInLocation(dayKeyLayout, dayKey, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("bad day key %q: %w", dayKey, err)
		}
		sum.Day = day
		sum.GeneratedAt = time.UnixMilli(genAt).UTC()
		sum.Clean = clean != 0
		out = append(out, sum)
	}
	return out, rows.Err()
}
