// mock_storage.go - Mock report store implementation for testing
package testutil

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dataprofiler/dashboard/internal/models"
	"github.com/dataprofiler/dashboard/internal/storage"
)

// MockReportStore implements storage.Store in memory
type MockReportStore struct {
	mu      sync.RWMutex
	records map[string]*models.ReportRecord
	saveErr error
	saved   chan *models.ReportRecord
}

// NewMockReportStore creates an empty mock store
func NewMockReportStore() *MockReportStore {
	return &MockReportStore{
		records: make(map[string]*models.ReportRecord),
		saved:   make(chan *models.ReportRecord, 16),
	}
}

func (m *MockReportStore) Save(jobID string, report *models.Report) (*models.ReportRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return nil, m.saveErr
	}
	rec := &models.ReportRecord{
		ID:           generateTestID(),
		JobID:        jobID,
		FileName:     report.NameFile,
		TotalRows:    report.TotalMaxRows,
		TotalColumns: report.TotalColumns,
		CreatedAt:    time.Now(),
		Report:       report,
	}
	m.records[rec.ID] = rec
	select {
	case m.saved <- rec:
	default:
	}
	return rec, nil
}

func (m *MockReportStore) Get(id string) (*models.ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return rec, nil
}

func (m *MockReportStore) List(limit int) ([]*models.ReportRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*models.ReportRecord, 0, len(m.records))
	for _, rec := range m.records {
		list = append(list, rec.Summary())
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MockReportStore) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	delete(m.records, id)
	return nil
}

func (m *MockReportStore) Close() error {
	return nil
}

// Ensure MockReportStore implements storage.Store
var _ storage.Store = (*MockReportStore)(nil)

// Test Helper Methods

// AddRecord inserts a record directly
func (m *MockReportStore) AddRecord(id, fileName string, createdAt time.Time) *models.ReportRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &models.ReportRecord{
		ID:           id,
		JobID:        "job-" + id,
		FileName:     fileName,
		TotalRows:    10,
		TotalColumns: 1,
		CreatedAt:    createdAt,
		Report: &models.Report{
			NameFile:     fileName,
			TotalMaxRows: 10,
			TotalColumns: 1,
			Columns:      []models.ColumnResult{{Name: "id", MainType: "int", CountFilled: 10, FilledRatio: 1}},
		},
	}
	m.records[id] = rec
	return rec
}

// FailSaves makes Save return err
func (m *MockReportStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// WaitSaved blocks until Save stores a record or timeout passes
func (m *MockReportStore) WaitSaved(timeout time.Duration) (*models.ReportRecord, error) {
	select {
	case rec := <-m.saved:
		return rec, nil
	case <-time.After(timeout):
		return nil, errors.New("no report saved")
	}
}

// Count returns the number of stored records
func (m *MockReportStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// generateTestID generates a simple test ID
var testIDCounter int
var testIDMutex sync.Mutex

func generateTestID() string {
	testIDMutex.Lock()
	defer testIDMutex.Unlock()
	testIDCounter++
	return fmt.Sprintf("test-id-%d", testIDCounter)
}
