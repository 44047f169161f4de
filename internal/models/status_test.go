package models

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusIdle, StatusReading, true},
		{StatusIdle, StatusConnectionLost, true},
		{StatusIdle, StatusProcessing, false},
		{StatusIdle, StatusDone, false},
		{StatusIdle, StatusError, false},
		{StatusReading, StatusProcessing, true},
		{StatusProcessing, StatusStreaming, true},
		{StatusStreaming, StatusFinishing, true},
		{StatusFinishing, StatusReading, true},
		{StatusStreaming, StatusDone, true},
		{StatusReading, StatusError, true},
		{StatusReading, StatusConnectionLost, true},
		{StatusReading, StatusIdle, false},
		{StatusConnectionLost, StatusStreaming, true},
		{StatusConnectionLost, StatusDone, true},
		{StatusConnectionLost, StatusError, true},
		{StatusConnectionLost, StatusIdle, false},
		{StatusDone, StatusIdle, true},
		{StatusDone, StatusReading, false},
		{StatusDone, StatusError, false},
		{StatusError, StatusIdle, true},
		{StatusError, StatusDone, false},
		{StatusError, StatusConnectionLost, false},
		{StatusDone, StatusDone, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestParseJobStatus(t *testing.T) {
	st, err := ParseJobStatus("streaming")
	require.NoError(t, err)
	assert.Equal(t, StatusStreaming, st)

	_, err = ParseJobStatus("uploading")
	assert.Error(t, err)
	_, err = ParseJobStatus("")
	assert.Error(t, err)
}

func TestShowsProgress(t *testing.T) {
	shown := map[JobStatus]bool{
		StatusReading:    true,
		StatusProcessing: true,
		StatusStreaming:  true,
		StatusDone:       true,
	}
	for _, st := range []JobStatus{StatusIdle, StatusReading, StatusProcessing, StatusStreaming,
		StatusFinishing, StatusDone, StatusError, StatusConnectionLost} {
		assert.Equal(t, shown[st], st.ShowsProgress(), st)
	}
}

func TestEffectiveProgress(t *testing.T) {
	assert.Equal(t, 100, StatusSnapshot{Status: StatusDone, Progress: 40}.EffectiveProgress())
	assert.Equal(t, 40, StatusSnapshot{Status: StatusStreaming, Progress: 40}.EffectiveProgress())
}

func TestClampProgress(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{-5, 0},
		{0, 0},
		{41.4, 41},
		{41.5, 42},
		{100, 100},
		{250, 100},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampProgress(tt.in), tt.in)
	}
}

func TestReport_UnmarshalJSON(t *testing.T) {
	t.Run("profiler names", func(t *testing.T) {
		var r Report
		err := json.Unmarshal([]byte(`{"NameFile":"a.csv","TotalMaxRows":10,"TotalColumns":2,"Columns":[{"name":"id"},{"name":"email"}]}`), &r)
		require.NoError(t, err)
		assert.Equal(t, "a.csv", r.NameFile)
		assert.Equal(t, 10, r.TotalMaxRows)
		assert.Equal(t, 2, r.TotalColumns)
		assert.Len(t, r.Columns, 2)
	})

	t.Run("short form", func(t *testing.T) {
		var r Report
		err := json.Unmarshal([]byte(`{"file":"b.csv","Columns":[{"name":"id","main_type":"int","filled_ratio":0.5}]}`), &r)
		require.NoError(t, err)
		assert.Equal(t, "b.csv", r.NameFile)
		assert.Equal(t, 1, r.TotalColumns)
		assert.Equal(t, "int", r.Columns[0].MainType)
		assert.Equal(t, 0.5, r.Columns[0].FilledRatio)
	})

	t.Run("invalid", func(t *testing.T) {
		var r Report
		assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &r))
	})
}

func TestFileInfo(t *testing.T) {
	var nilFile *FileInfo
	assert.False(t, nilFile.Selected())
	assert.False(t, (&FileInfo{Name: "x.csv"}).Selected())

	f := NewFileFromBytes("x.csv", []byte("a,b\n1,2\n"))
	assert.True(t, f.Selected())
	assert.Equal(t, int64(8), f.Size)

	rc, err := f.Open()
	require.NoError(t, err)
	rc.Close()

	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("id\n1\n"), 0644))
	pf, err := NewFileFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "data.csv", pf.Name)
	assert.Equal(t, int64(5), pf.Size)

	_, err = NewFileFromPath(filepath.Dir(path))
	assert.Error(t, err)
	_, err = NewFileFromPath(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
