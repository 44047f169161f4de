package models

import "time"

// JobResult is the outcome of the most recent upload, exposed to the view layer.
type JobResult struct {
	JobID      string    `json:"jobId"`
	FileName   string    `json:"fileName"`
	Report     *Report   `json:"report,omitempty"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	Message    string    `json:"message,omitempty"` // user-facing
	Details    string    `json:"details,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Succeeded reports whether the job produced a report.
func (r *JobResult) Succeeded() bool {
	return r != nil && r.Report != nil && r.ErrorKind == ""
}

// Duration is the wall time between start and settlement.
func (r *JobResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
