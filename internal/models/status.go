package models

import "fmt"

// JobStatus is the lifecycle state of the single upload job tracked by the dashboard.
type JobStatus string

const (
	StatusIdle           JobStatus = "idle"
	StatusReading        JobStatus = "reading"
	StatusProcessing     JobStatus = "processing"
	StatusStreaming      JobStatus = "streaming"
	StatusFinishing      JobStatus = "finishing"
	StatusDone           JobStatus = "done"
	StatusError          JobStatus = "error"
	StatusConnectionLost JobStatus = "connection_lost"
)

// ParseJobStatus converts a wire value into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	switch st := JobStatus(s); st {
	case StatusIdle, StatusReading, StatusProcessing, StatusStreaming,
		StatusFinishing, StatusDone, StatusError, StatusConnectionLost:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// IsActive reports whether the server is still working on the job.
func (s JobStatus) IsActive() bool {
	switch s {
	case StatusReading, StatusProcessing, StatusStreaming, StatusFinishing:
		return true
	}
	return false
}

// ShowsProgress reports whether the progress value is meaningful for display.
func (s JobStatus) ShowsProgress() bool {
	switch s {
	case StatusReading, StatusStreaming, StatusProcessing, StatusDone:
		return true
	}
	return false
}

// CanTransition enforces the job state machine edges.
func CanTransition(from, to JobStatus) bool {
	switch {
	case from == to:
		return true
	case from == StatusIdle:
		return to == StatusReading || to == StatusConnectionLost
	case from.IsActive():
		return to.IsActive() || to == StatusConnectionLost || to == StatusDone || to == StatusError
	case from == StatusConnectionLost:
		return to.IsActive() || to == StatusDone || to == StatusError
	case from == StatusDone, from == StatusError:
		return to == StatusIdle
	}
	return false
}

// StatusSnapshot is the status and progress pair shown to the user.
type StatusSnapshot struct {
	Status   JobStatus `json:"status" msgpack:"status"`
	Progress int       `json:"progress" msgpack:"progress"` // 0-100
}

// IdleSnapshot is the state at mount and after cleanup.
func IdleSnapshot() StatusSnapshot {
	return StatusSnapshot{Status: StatusIdle, Progress: 0}
}

// EffectiveProgress is the value a progress bar should render.
func (s StatusSnapshot) EffectiveProgress() int {
	if s.Status == StatusDone {
		return 100
	}
	return s.Progress
}

// ClampProgress rounds a wire progress value into 0..100.
func ClampProgress(p float64) int {
	switch {
	case p != p, p <= 0:
		return 0
	case p >= 100:
		return 100
	}
	return int(p + 0.5)
}
