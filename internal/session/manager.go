// Package session mounts the status synchronization engine for one dashboard
// and owns its lifetime.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/dataprofiler/dashboard/internal/client"
	"github.com/dataprofiler/dashboard/internal/eventloop"
	"github.com/dataprofiler/dashboard/internal/events"
	"github.com/dataprofiler/dashboard/internal/metrics"
	"github.com/dataprofiler/dashboard/internal/models"
	"github.com/dataprofiler/dashboard/internal/status"
	"github.com/dataprofiler/dashboard/internal/storage"
	"github.com/dataprofiler/dashboard/internal/upload"
)

// ErrClosed is returned by operations on a torn-down session.
var ErrClosed = errors.New("session closed")

// Options configures a mounted session. Zero durations take package defaults.
type Options struct {
	AnalysisURL string
	UploadPath  string
	EventsURL   string

	Deadline       time.Duration
	CleanupDelay   time.Duration
	ReconnectDelay time.Duration
	MaxMessageSize int64

	HTTPClient *http.Client

	// Transport and Analyzer replace the network-backed defaults.
	Transport events.Transport
	Analyzer  upload.Analyzer

	// Reports receives every successful report; optional.
	Reports storage.Store

	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// Manager is one mounted dashboard: event loop, status store, reconciler,
// push channel and job operation.
type Manager struct {
	loop    *eventloop.Loop
	store   *status.Store
	rec     *status.Reconciler
	channel *events.Channel
	jobs    *upload.Manager
	reports storage.Store
	metrics *metrics.Collector
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	persist   sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// Mount builds the engine and opens the push subscription.
func Mount(opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewCollector()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	analyzer := opts.Analyzer
	if analyzer == nil {
		c, err := client.New(opts.AnalysisURL, opts.UploadPath, httpClient)
		if err != nil {
			return nil, err
		}
		analyzer = c
	}

	transport := opts.Transport
	if transport == nil {
		if opts.EventsURL == "" {
			return nil, fmt.Errorf("events url is required")
		}
		t, err := events.NewTransport(opts.EventsURL, events.TransportOptions{
			HTTPClient:     httpClient,
			MaxMessageSize: opts.MaxMessageSize,
		})
		if err != nil {
			return nil, err
		}
		transport = t
	}

	loop := eventloop.New(logger)
	store := status.NewStore(loop, logger)
	rec := status.NewReconciler(store, loop, opts.CleanupDelay, m, logger)
	channel := events.NewChannel(transport, loop, rec, events.Options{ReconnectDelay: opts.ReconnectDelay}, m, logger)
	jobs := upload.NewManager(analyzer, channel, loop, rec, opts.Deadline, m, logger)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Manager{
		loop:    loop,
		store:   store,
		rec:     rec,
		channel: channel,
		jobs:    jobs,
		reports: opts.Reports,
		metrics: m,
		logger:  logger.With("component", "session"),
		ctx:     ctx,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
	jobs.OnSuccess(s.persistReport)

	channel.Start()
	s.logger.Info("session mounted", "events_url", opts.EventsURL, "analysis_url", opts.AnalysisURL)
	return s, nil
}

// Upload starts a job for file. It returns a validation error when no file is
// selected and upload.ErrJobAlreadyRunning while another job is active.
func (s *Manager) Upload(file *models.FileInfo) (*upload.Job, error) {
	select {
	case <-s.closed:
		return nil, ErrClosed
	default:
	}
	job, err := s.jobs.StartJob(s.ctx, file)
	if errors.Is(err, eventloop.ErrClosed) {
		return nil, ErrClosed
	}
	return job, err
}

// View returns the status snapshot as last published to observers.
func (s *Manager) View() models.StatusSnapshot {
	return s.store.View()
}

// Authoritative returns the status snapshot as of the last write.
func (s *Manager) Authoritative() models.StatusSnapshot {
	return s.store.ReadAuthoritative()
}

// Subscribe streams published status snapshots until unsubscribed or closed.
func (s *Manager) Subscribe(buffer int) (<-chan models.StatusSnapshot, func()) {
	return s.store.Subscribe(buffer)
}

// Loading reports whether a job is in flight.
func (s *Manager) Loading() bool {
	return s.jobs.Loading()
}

// Result returns the most recent job outcome, or nil before the first job settles.
func (s *Manager) Result() *models.JobResult {
	return s.jobs.LastResult()
}

// ReadyState reports the push channel's connection state.
func (s *Manager) ReadyState() events.ReadyState {
	return s.channel.ReadyState()
}

// Metrics returns the session's collector.
func (s *Manager) Metrics() *metrics.Collector {
	return s.metrics
}

// Reports returns the report history store, which may be nil.
func (s *Manager) Reports() storage.Store {
	return s.reports
}

// Done is closed once Close has started.
func (s *Manager) Done() <-chan struct{} {
	return s.closed
}

// persistReport runs on the loop; the write happens off it.
func (s *Manager) persistReport(jobID string, report *models.Report) {
	if s.reports == nil {
		return
	}
	s.persist.Add(1)
	go func() {
		defer s.persist.Done()
		rec, err := s.reports.Save(jobID, report)
		if err != nil {
			s.logger.Error("failed to persist report", "job_id", jobID, "error", err)
			return
		}
		s.logger.Info("report saved", "job_id", jobID, "report_id", rec.ID, "filename", rec.FileName)
	}()
}

// Close tears the session down in order: push subscription, reconciler and
// its cleanup timers, in-flight call, loop. No status write happens once the
// reconciler is closed.
func (s *Manager) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.channel.Close()
		if err := s.loop.Do(s.rec.Close); err != nil {
			s.logger.Warn("reconciler close skipped", "error", err)
		}
		s.jobs.Abandon()
		s.cancel()
		s.loop.Close()
		s.persist.Wait()
		s.logger.Info("session closed")
	})
}
