package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dataprofiler/dashboard/internal/models"
)

// DuckOptions tunes the DuckDB connection.
type DuckOptions struct {
	Threads     int
	MemoryLimit string
	Limit       int
}

// DuckStore keeps report history in a DuckDB file. Report bodies are stored
// as msgpack blobs; the summary columns are queryable.
type DuckStore struct {
	db     *sql.DB
	path   string
	limit  int
	logger *slog.Logger
}

// NewDuckStore opens or creates the database at path.
func NewDuckStore(path string, opts DuckOptions, logger *slog.Logger) (*DuckStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "duckstore")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	pragmas := []string{"PRAGMA enable_progress_bar=false"}
	if opts.Threads > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA threads=%d", opts.Threads))
	}
	if opts.MemoryLimit != "" {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit))
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return fmt.Errorf("%s: %w", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS reports (
			id VARCHAR PRIMARY KEY,
			job_id VARCHAR,
			file_name VARCHAR,
			total_rows INTEGER,
			total_columns INTEGER,
			created_at TIMESTAMP,
			body BLOB
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create reports table: %w", err)
	}

	logger.Info("report database opened", "path", path, "pragmas", pragmas)
	return &DuckStore{db: db, path: path, limit: opts.Limit, logger: logger}, nil
}

// Save inserts a report and prunes history beyond the limit.
func (s *DuckStore) Save(jobID string, report *models.Report) (*models.ReportRecord, error) {
	if report == nil {
		return nil, fmt.Errorf("nil report")
	}
	rec := newRecord(jobID, report)

	body, err := msgpack.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO reports (id, job_id, file_name, total_rows, total_columns, created_at, body)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.JobID, rec.FileName, rec.TotalRows, rec.TotalColumns, rec.CreatedAt, body,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting report: %w", err)
	}

	if s.limit > 0 {
		_, err = s.db.Exec(`
			DELETE FROM reports WHERE id NOT IN (
				SELECT id FROM reports ORDER BY created_at DESC LIMIT ?
			)`, s.limit)
		if err != nil {
			s.logger.Warn("pruning report history failed", "error", err)
		}
	}
	return rec, nil
}

// Get loads a full record, body included.
func (s *DuckStore) Get(id string) (*models.ReportRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, job_id, file_name, total_rows, total_columns, created_at, body
		 FROM reports WHERE id = ?`, id)

	var rec models.ReportRecord
	var createdAt time.Time
	var body []byte
	err := row.Scan(&rec.ID, &rec.JobID, &rec.FileName, &rec.TotalRows, &rec.TotalColumns, &createdAt, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying report: %w", err)
	}
	rec.CreatedAt = createdAt.UTC()

	var report models.Report
	if err := msgpack.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", id, err)
	}
	rec.Report = &report
	return &rec, nil
}

// List returns record summaries, newest first.
func (s *DuckStore) List(limit int) ([]*models.ReportRecord, error) {
	query := `SELECT id, job_id, file_name, total_rows, total_columns, created_at
		FROM reports ORDER BY created_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reports: %w", err)
	}
	defer rows.Close()

	list := []*models.ReportRecord{}
	for rows.Next() {
		var rec models.ReportRecord
		var createdAt time.Time
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.FileName, &rec.TotalRows, &rec.TotalColumns, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning report: %w", err)
		}
		rec.CreatedAt = createdAt.UTC()
		list = append(list, &rec)
	}
	return list, rows.Err()
}

// Delete removes a record.
func (s *DuckStore) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the database.
func (s *DuckStore) Close() error {
	return s.db.Close()
}
