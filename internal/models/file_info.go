package models

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FileInfo describes the CSV file selected for analysis.
type FileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	SelectedAt time.Time `json:"selectedAt"`

	open func() (io.ReadCloser, error)
}

// NewFileFromPath selects a file on the local filesystem.
func NewFileFromPath(path string) (*FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &FileInfo{
		Name:       filepath.Base(path),
		Size:       st.Size(),
		SelectedAt: time.Now(),
		open:       func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// NewFileFromBytes selects an in-memory file, e.g. one received from the browser.
func NewFileFromBytes(name string, data []byte) *FileInfo {
	return &FileInfo{
		Name:       name,
		Size:       int64(len(data)),
		SelectedAt: time.Now(),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Selected reports whether f refers to an actual file.
func (f *FileInfo) Selected() bool {
	return f != nil && f.Name != "" && f.open != nil
}

// Open returns a fresh reader over the file content.
func (f *FileInfo) Open() (io.ReadCloser, error) {
	if !f.Selected() {
		return nil, fmt.Errorf("no file selected")
	}
	return f.open()
}
