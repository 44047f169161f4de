package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dataprofiler/dashboard/internal/models"
)

// ErrNotFound is returned when a report ID is unknown.
var ErrNotFound = errors.New("report not found")

// Store defines the interface for report history storage.
type Store interface {
	Save(jobID string, report *models.Report) (*models.ReportRecord, error)
	Get(id string) (*models.ReportRecord, error)
	List(limit int) ([]*models.ReportRecord, error)
	Delete(id string) error
	Close() error
}

const recordExt = ".msgpack"

// EncodeRecord serializes a record in the on-disk msgpack format.
func EncodeRecord(rec *models.ReportRecord) ([]byte, error) {
	return msgpack.Marshal(rec)
}

// DecodeRecord parses a record written by EncodeRecord.
func DecodeRecord(data []byte) (*models.ReportRecord, error) {
	var rec models.ReportRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func newRecord(jobID string, report *models.Report) *models.ReportRecord {
	return &models.ReportRecord{
		ID:           uuid.New().String(),
		JobID:        jobID,
		FileName:     report.NameFile,
		TotalRows:    report.TotalMaxRows,
		TotalColumns: report.TotalColumns,
		CreatedAt:    time.Now().UTC(),
		Report:       report,
	}
}

// LocalStore implements Store with one msgpack file per report.
type LocalStore struct {
	mu      sync.RWMutex
	dir     string
	limit   int
	records map[string]*models.ReportRecord
}

// NewLocalStore opens the report directory and indexes existing records.
// A positive limit prunes the oldest records beyond it.
func NewLocalStore(dir string, limit int) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}

	s := &LocalStore{
		dir:     dir,
		limit:   limit,
		records: make(map[string]*models.ReportRecord),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) load() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading report directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), recordExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		rec, err := DecodeRecord(data)
		if err != nil || rec.ID == "" {
			// Skip files this version cannot read.
			continue
		}
		s.records[rec.ID] = rec
	}
	return nil
}

func (s *LocalStore) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

// Save persists a report and returns its record.
func (s *LocalStore) Save(jobID string, report *models.Report) (*models.ReportRecord, error) {
	if report == nil {
		return nil, fmt.Errorf("nil report")
	}
	rec := newRecord(jobID, report)

	data, err := EncodeRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}

	tmp := s.path(rec.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return nil, fmt.Errorf("writing report: %w", err)
	}
	if err := os.Rename(tmp, s.path(rec.ID)); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("writing report: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	s.pruneLocked()

	return rec, nil
}

func (s *LocalStore) pruneLocked() {
	if s.limit <= 0 || len(s.records) <= s.limit {
		return
	}
	list := s.sortedLocked()
	for _, rec := range list[s.limit:] {
		os.Remove(s.path(rec.ID))
		delete(s.records, rec.ID)
	}
}

func (s *LocalStore) sortedLocked() []*models.ReportRecord {
	list := make([]*models.ReportRecord, 0, len(s.records))
	for _, rec := range s.records {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Get retrieves a full record by ID.
func (s *LocalStore) Get(id string) (*models.ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

// List returns record summaries, newest first.
func (s *LocalStore) List(limit int) ([]*models.ReportRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.sortedLocked()
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]*models.ReportRecord, len(list))
	for i, rec := range list {
		out[i] = rec.Summary()
	}
	return out, nil
}

// Delete removes a record.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting report: %w", err)
	}
	delete(s.records, id)
	return nil
}

// Close is a no-op; records are written through on Save.
func (s *LocalStore) Close() error {
	return nil
}
