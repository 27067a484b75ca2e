// Package sink stores collected update records in PostgreSQL.
package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/shadimotaali/first-full-paper/internal/record"
)

const defaultBatchSize = 5000

// RecordStore bulk-loads records with COPY, one transaction per batch.
type RecordStore struct {
	db        *sql.DB
	table     string
	batchSize int
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn, table string) (*RecordStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewRecordStore(db, table), nil
}

// NewRecordStore wraps an open database handle.
func NewRecordStore(db *sql.DB, table string) *RecordStore {
	if table == "" {
		table = "bgp_updates"
	}
	return &RecordStore{db: db, table: table, batchSize: defaultBatchSize}
}

// columns are the CSV columns lowercased, preceded by the run id.
func columns() []string {
	cols := []string{"run_id"}
	for _, c := range record.Columns {
		cols = append(cols, strings.ToLower(c))
	}
	return cols
}

// EnsureSchema creates the table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\tid BIGSERIAL PRIMARY KEY,\n", pq.QuoteIdentifier(s.table))
	for _, c := range columns() {
		fmt.Fprintf(&b, "\t%s TEXT NOT NULL DEFAULT '',\n", pq.QuoteIdentifier(c))
	}
	b.WriteString("\tinserted_at TIMESTAMPTZ NOT NULL DEFAULT now()\n)")

	if _, err := s.db.ExecContext(ctx, b.String()); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Insert copies records in batches and returns how many were committed.
// A failed batch is rolled back and stops the load.
func (s *RecordStore) Insert(ctx context.Context, runID string, records []record.Record) (int, error) {
	written := 0
	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.copyBatch(ctx, runID, records[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}

func (s *RecordStore) copyBatch(ctx context.Context, runID string, batch []record.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(s.table, columns()...))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}
	for _, r := range batch {
		vals := r.Values()
		args := make([]interface{}, 0, len(vals)+1)
		args = append(args, runID)
		for _, v := range vals {
			args = append(args, v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			return fmt.Errorf("copy row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("close copy: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *RecordStore) Close() error { return s.db.Close() }
