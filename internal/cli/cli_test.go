package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataprofiler/dashboard/internal/models"
	"github.com/dataprofiler/dashboard/internal/testutil"
)

func writeConfig(t *testing.T, srv *testutil.AnalysisServer) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dashboard.yaml")
	body := fmt.Sprintf(`analysis:
  base_url: %s
  events_url: %s
  cleanup_delay_ms: 50
  reconnect_delay_ms: 20
storage:
  data_directory: ./data
  backend: local
  history_limit: 10
advanced:
  log_level: error
`, srv.URL, srv.EventsURL())
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Flag values survive between Execute calls.
	analyzeWaitOpen = 2 * time.Second
	analyzeNoSave = false
	reportsLimit = 20

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,email\n1,a@b.c\n2,\n3,c@d.e\n"), 0644))
	return path
}

func TestAnalyzeThenReports(t *testing.T) {
	srv := testutil.NewAnalysisServer(t)
	cfgPath := writeConfig(t, srv)
	csv := writeCSV(t)

	out, err := run(t, "analyze", "--config", cfgPath, "--wait-open", "1s", csv)
	require.NoError(t, err, out)
	assert.Contains(t, out, "a.csv: 3 rows, 2 columns")
	assert.Contains(t, out, "reading")
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "email")

	uploads := srv.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "a.csv", uploads[0].FileName)

	out, err = run(t, "reports", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "FILE")
	assert.Contains(t, out, "a.csv")

	id := regexp.MustCompile(`(?m)^([0-9a-f-]{36})\s`).FindStringSubmatch(out)
	require.Len(t, id, 2, out)

	out, err = run(t, "reports", "show", "--config", cfgPath, id[1])
	require.NoError(t, err)
	assert.Contains(t, out, `"fileName": "a.csv"`)

	out, err = run(t, "reports", "delete", "--config", cfgPath, id[1])
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted "+id[1])

	out, err = run(t, "reports", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No reports found.")
}

func TestAnalyze_ServerError(t *testing.T) {
	srv := testutil.NewAnalysisServer(t)
	srv.Respond(http.StatusBadRequest, "file is not valid CSV")
	cfgPath := writeConfig(t, srv)

	out, err := run(t, "analyze", "--config", cfgPath, "--wait-open", "1s", "--no-save", writeCSV(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server")
	assert.Contains(t, out, "Error (server)")
	assert.Contains(t, out, "file is not valid CSV")
}

func TestAnalyze_MissingFile(t *testing.T) {
	srv := testutil.NewAnalysisServer(t)
	cfgPath := writeConfig(t, srv)

	_, err := run(t, "analyze", "--config", cfgPath, filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
	assert.Zero(t, len(srv.Uploads()))
}

func TestReportsShow_NotFound(t *testing.T) {
	srv := testutil.NewAnalysisServer(t)
	cfgPath := writeConfig(t, srv)

	_, err := run(t, "reports", "show", "--config", cfgPath, "missing")
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	start := time.Now()
	var buf bytes.Buffer
	printResult(&buf, &models.JobResult{
		Report: &models.Report{
			NameFile:     "people.csv",
			TotalMaxRows: 10,
			TotalColumns: 1,
			Columns:      []models.ColumnResult{{Name: "age", MainType: "int", FilledRatio: 0.9, BlankCount: 1}},
		},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	})
	assert.Contains(t, buf.String(), "people.csv: 10 rows, 1 columns (1.5s)")
	assert.Contains(t, buf.String(), "filled  90.0%")

	buf.Reset()
	printResult(&buf, &models.JobResult{ErrorKind: "timeout", Message: "The analysis took longer than 5m0s and was cancelled."})
	assert.True(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "Error (timeout)"))
}

func TestPrintSnapshot(t *testing.T) {
	var buf bytes.Buffer
	printSnapshot(&buf, models.StatusSnapshot{Status: models.StatusStreaming, Progress: 42})
	printSnapshot(&buf, models.StatusSnapshot{Status: models.StatusConnectionLost, Progress: 42})
	assert.Equal(t, "  streaming         42%\n  connection_lost\n", buf.String())
}
