package upload

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dataprofiler/dashboard/internal/client"
	"github.com/dataprofiler/dashboard/internal/eventloop"
	"github.com/dataprofiler/dashboard/internal/events"
	"github.com/dataprofiler/dashboard/internal/metrics"
	"github.com/dataprofiler/dashboard/internal/models"
	"github.com/dataprofiler/dashboard/internal/status"
)

// AbandonedKind is the ErrorKind of a job cut short by teardown.
const AbandonedKind = "abandoned"

// DefaultDeadline is the hard limit on one analysis call.
const DefaultDeadline = 300 * time.Second

// Analyzer performs the analysis call.
type Analyzer interface {
	Analyze(ctx context.Context, file *models.FileInfo) (*client.Response, error)
}

// ChannelMonitor exposes the push channel's connection state.
type ChannelMonitor interface {
	ReadyState() events.ReadyState
}

// Loop is the event loop the manager schedules on.
type Loop interface {
	eventloop.Scheduler
	Do(fn func()) error
}

// SuccessHook is called on the loop after a job produced a report.
type SuccessHook func(jobID string, report *models.Report)

// Job is one upload from start to settlement.
type Job struct {
	ID        string
	File      *models.FileInfo
	StartedAt time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	deadline *eventloop.Timer
	settled  bool
	done     chan struct{}
	result   *models.JobResult
}

// Done is closed once the job settles.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result returns the outcome; nil until Done is closed.
func (j *Job) Result() *models.JobResult {
	select {
	case <-j.done:
		return j.result
	default:
		return nil
	}
}

// Wait blocks until the job settles or ctx ends. Abandon settles the job too.
func (j *Job) Wait(ctx context.Context) (*models.JobResult, error) {
	select {
	case <-j.done:
		return j.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Manager runs upload jobs one at a time.
type Manager struct {
	analyzer Analyzer
	monitor  ChannelMonitor
	loop     Loop
	rec      *status.Reconciler
	metrics  *metrics.Collector
	logger   *slog.Logger
	deadline time.Duration
	onOK     SuccessHook

	active  *Job // loop-owned
	loading atomic.Bool
	last    atomic.Pointer[models.JobResult]
}

// NewManager creates an upload manager.
func NewManager(analyzer Analyzer, monitor ChannelMonitor, loop Loop, rec *status.Reconciler, deadline time.Duration, m *metrics.Collector, logger *slog.Logger) *Manager {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		analyzer: analyzer,
		monitor:  monitor,
		loop:     loop,
		rec:      rec,
		metrics:  m,
		logger:   logger.With("component", "upload"),
		deadline: deadline,
	}
}

// OnSuccess registers a hook for successful reports.
func (m *Manager) OnSuccess(hook SuccessHook) {
	m.onOK = hook
}

// Loading reports whether a job is in flight.
func (m *Manager) Loading() bool {
	return m.loading.Load()
}

// LastResult returns the result of the most recently settled job.
func (m *Manager) LastResult() *models.JobResult {
	return m.last.Load()
}

// StartJob validates the selection and begins the analysis call. ctx bounds
// the call together with the deadline; cancelling it abandons the job.
func (m *Manager) StartJob(ctx context.Context, file *models.FileInfo) (*Job, error) {
	if !file.Selected() {
		return nil, NewValidationError()
	}

	var job *Job
	var startErr error
	err := m.loop.Do(func() {
		if m.active != nil {
			startErr = ErrJobAlreadyRunning
			return
		}
		callCtx, cancel := context.WithCancel(ctx)
		job = &Job{
			ID:        uuid.New().String(),
			File:      file,
			StartedAt: time.Now(),
			ctx:       callCtx,
			cancel:    cancel,
			done:      make(chan struct{}),
		}
		m.active = job
		m.loading.Store(true)
		m.metrics.Inc(metrics.JobsStarted)

		open := m.monitor.ReadyState() == events.Open
		m.rec.BeginJob(open)
		job.deadline = m.loop.AfterFunc(m.deadline, func() { m.onDeadline(job) })

		m.logger.Info("job started",
			"job_id", job.ID,
			"filename", file.Name,
			"size_bytes", file.Size,
			"channel_open", open,
		)
	})
	if err != nil {
		return nil, err
	}
	if startErr != nil {
		return nil, startErr
	}

	go m.call(job)
	return job, nil
}

func (m *Manager) call(job *Job) {
	resp, err := m.analyzer.Analyze(job.ctx, job.File)
	report, jobErr := m.classify(job, resp, err)
	m.loop.Post(func() { m.settle(job, report, jobErr) })
}

// classify maps the exchange to a report or a JobError, highest priority first.
func (m *Manager) classify(job *Job, resp *client.Response, err error) (*models.Report, *JobError) {
	if errors.Is(job.ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return nil, NewTimeoutError(m.deadline)
	}
	if errors.Is(err, client.ErrFileUnreadable) {
		return nil, NewUnreadableFileError(err)
	}
	if err != nil {
		return nil, NewConnectionError(err)
	}
	if !resp.OK() {
		return nil, NewServerError(resp.StatusCode, resp.Diagnostic())
	}

	var report models.Report
	if err := json.Unmarshal(resp.Body, &report); err != nil {
		return nil, NewProtocolError("invalid report JSON", err)
	}
	if report.NameFile == "" {
		return nil, NewProtocolError("report has no file name", nil)
	}
	if report.Columns == nil {
		report.Columns = []models.ColumnResult{}
	}
	return &report, nil
}

// onDeadline aborts the call first and then settles the job as timed out.
func (m *Manager) onDeadline(job *Job) {
	if job.settled {
		return
	}
	job.cancel()
	m.logger.Warn("job deadline exceeded", "job_id", job.ID, "deadline", m.deadline)
	m.settle(job, nil, NewTimeoutError(m.deadline))
}

// settle runs once per job on the loop; later outcomes for the same job are dropped.
func (m *Manager) settle(job *Job, report *models.Report, jobErr *JobError) {
	if job.settled {
		m.logger.Debug("late outcome dropped", "job_id", job.ID)
		return
	}
	job.settled = true
	job.deadline.Stop()
	job.cancel()

	result := &models.JobResult{
		JobID:      job.ID,
		FileName:   job.File.Name,
		StartedAt:  job.StartedAt,
		FinishedAt: time.Now(),
	}

	if jobErr == nil {
		hundred := 100
		m.rec.ProposeUpdate(status.SourceJobOperation, models.StatusDone, &hundred)
		m.rec.ScheduleCleanup(status.SourceJobOperation)
		result.Report = report
		m.metrics.Inc(metrics.JobsSucceeded)
		m.logger.Info("job succeeded",
			"job_id", job.ID,
			"filename", job.File.Name,
			"columns", report.TotalColumns,
			"rows", report.TotalMaxRows,
			"duration_ms", result.Duration().Milliseconds(),
		)
		if m.onOK != nil {
			m.onOK(job.ID, report)
		}
	} else {
		m.rec.ProposeUpdate(status.SourceJobOperation, models.StatusError, nil)
		result.ErrorKind = string(jobErr.Kind)
		result.Message = jobErr.Message
		result.Details = jobErr.Details
		m.metrics.Inc(metrics.JobsFailed)
		m.logger.Warn("job failed",
			"job_id", job.ID,
			"filename", job.File.Name,
			"kind", jobErr.Kind,
			"error", jobErr.Error(),
		)
	}
	m.metrics.RecordJob(result.Duration())

	job.result = result
	m.last.Store(result)
	if m.active == job {
		m.active = nil
	}
	m.loading.Store(false)
	close(job.done)
}

// Abandon cancels the active job on teardown. The job settles with
// ErrorKind "abandoned" and no status write, so waiters return.
func (m *Manager) Abandon() {
	_ = m.loop.Do(func() {
		job := m.active
		if job == nil || job.settled {
			return
		}
		job.settled = true
		job.deadline.Stop()
		job.cancel()

		result := &models.JobResult{
			JobID:      job.ID,
			FileName:   job.File.Name,
			StartedAt:  job.StartedAt,
			FinishedAt: time.Now(),
			ErrorKind:  AbandonedKind,
			Message:    "The analysis was cancelled because the dashboard shut down.",
		}
		job.result = result
		m.last.Store(result)
		m.active = nil
		m.loading.Store(false)
		close(job.done)
		m.logger.Info("job abandoned", "job_id", job.ID)
	})
}
