package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dataprofiler/dashboard/internal/models"
)

// ErrEmptyMessage is returned for blank payloads.
var ErrEmptyMessage = errors.New("empty push message")

// PushMessage is the wire shape of a status push: {"status"?, "progress"?, "bytes"?}.
type PushMessage struct {
	Status   *string  `json:"status,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
	Bytes    *int64   `json:"bytes,omitempty"`
}

// Update is a validated PushMessage.
type Update struct {
	Status      models.JobStatus
	HasStatus   bool
	Progress    int
	HasProgress bool
	Bytes       int64
}

// ProgressPtr returns the progress as a pointer, nil when absent.
func (u Update) ProgressPtr() *int {
	if !u.HasProgress {
		return nil
	}
	p := u.Progress
	return &p
}

// ParseMessage decodes and validates one push payload.
func ParseMessage(data []byte) (Update, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Update{}, ErrEmptyMessage
	}

	var msg PushMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Update{}, fmt.Errorf("decode push message: %w", err)
	}

	var upd Update
	if msg.Status != nil {
		st, err := models.ParseJobStatus(*msg.Status)
		if err != nil {
			return Update{}, err
		}
		upd.Status = st
		upd.HasStatus = true
	}
	if msg.Progress != nil {
		upd.Progress = models.ClampProgress(*msg.Progress)
		upd.HasProgress = true
	}
	if msg.Bytes != nil {
		upd.Bytes = *msg.Bytes
	}
	return upd, nil
}
