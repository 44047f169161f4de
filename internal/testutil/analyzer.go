// analyzer.go - Scripted analysis call for engine tests
package testutil

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dataprofiler/dashboard/internal/client"
	"github.com/dataprofiler/dashboard/internal/models"
)

// SampleReportJSON is a minimal successful profiler response.
const SampleReportJSON = `{
  "NameFile": "a.csv",
  "TotalMaxRows": 3,
  "TotalColumns": 2,
  "Columns": [
    {"name": "id", "main_type": "int", "blank_count": 0, "count_filled": 3, "filled_ratio": 1, "blank_ratio": 0, "consistency_ratio": 1},
    {"name": "email", "main_type": "str", "blank_count": 1, "count_filled": 2, "filled_ratio": 0.67, "blank_ratio": 0.33, "consistency_ratio": 1}
  ]
}`

// FakeAnalyzer implements upload.Analyzer. It answers with a fixed response
// and can be held open until Release or cancellation.
type FakeAnalyzer struct {
	mu      sync.Mutex
	resp    *client.Response
	err     error
	release chan struct{}

	calls     atomic.Int32
	cancelled atomic.Int32
	started   chan string
}

// NewFakeAnalyzer answers 200 with SampleReportJSON.
func NewFakeAnalyzer() *FakeAnalyzer {
	a := &FakeAnalyzer{started: make(chan string, 16)}
	a.Respond(http.StatusOK, SampleReportJSON)
	return a
}

// Respond sets the response returned by later calls.
func (a *FakeAnalyzer) Respond(status int, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resp = &client.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       []byte(body),
	}
	a.err = nil
}

// FailWith makes later calls fail as if the server was unreachable.
func (a *FakeAnalyzer) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resp = nil
	a.err = err
}

// Hold makes later calls block until Release or context cancellation.
func (a *FakeAnalyzer) Hold() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release = make(chan struct{})
}

// Release unblocks held calls.
func (a *FakeAnalyzer) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.release != nil {
		close(a.release)
		a.release = nil
	}
}

// Calls returns how many calls were made.
func (a *FakeAnalyzer) Calls() int {
	return int(a.calls.Load())
}

// Cancelled returns how many calls ended through context cancellation.
func (a *FakeAnalyzer) Cancelled() int {
	return int(a.cancelled.Load())
}

// WaitStarted blocks until a call begins and returns the file name.
func (a *FakeAnalyzer) WaitStarted(timeout time.Duration) (string, error) {
	select {
	case name := <-a.started:
		return name, nil
	case <-time.After(timeout):
		return "", fmt.Errorf("no analysis call within %s", timeout)
	}
}

// Analyze implements upload.Analyzer.
func (a *FakeAnalyzer) Analyze(ctx context.Context, file *models.FileInfo) (*client.Response, error) {
	a.calls.Add(1)
	select {
	case a.started <- file.Name:
	default:
	}

	a.mu.Lock()
	release := a.release
	a.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			a.cancelled.Add(1)
			return nil, fmt.Errorf("post analysis: %w", ctx.Err())
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	cp := *a.resp
	return &cp, nil
}
