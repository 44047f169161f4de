package status

import (
	"log/slog"
	"time"

	"github.com/dataprofiler/dashboard/internal/eventloop"
	"github.com/dataprofiler/dashboard/internal/metrics"
	"github.com/dataprofiler/dashboard/internal/models"
)

// DefaultCleanupDelay is how long a done job stays visible before reverting to idle.
const DefaultCleanupDelay = 4 * time.Second

// Source identifies who proposed a status write.
type Source string

const (
	SourceEventChannel Source = "event_channel"
	SourceJobOperation Source = "job_operation"
	SourceCleanup      Source = "cleanup"
)

// Outcome is the result of a proposal.
type Outcome int

const (
	Rejected Outcome = iota
	Noop
	Committed
)

func (o Outcome) String() string {
	switch o {
	case Noop:
		return "noop"
	case Committed:
		return "committed"
	}
	return "rejected"
}

// Reconciler is the single gate for status writes. Every method must run on
// the event loop; that serialization is what makes its check-then-write
// sequences safe without a lock.
type Reconciler struct {
	store        *Store
	sched        eventloop.Scheduler
	cleanupDelay time.Duration
	metrics      *metrics.Collector
	logger       *slog.Logger

	timers map[*eventloop.Timer]struct{}
	closed bool
}

// NewReconciler creates a reconciler writing to store.
func NewReconciler(store *Store, sched eventloop.Scheduler, cleanupDelay time.Duration, m *metrics.Collector, logger *slog.Logger) *Reconciler {
	if cleanupDelay <= 0 {
		cleanupDelay = DefaultCleanupDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:        store,
		sched:        sched,
		cleanupDelay: cleanupDelay,
		metrics:      m,
		logger:       logger.With("component", "reconciler"),
		timers:       make(map[*eventloop.Timer]struct{}),
	}
}

// Current returns the authoritative snapshot.
func (r *Reconciler) Current() models.StatusSnapshot {
	return r.store.ReadAuthoritative()
}

// ProposeUpdate asks to move to next. A proposal equal to the current status
// only updates progress when one is given. Idle cannot be proposed; it is
// reached through cleanup or BeginJob.
func (r *Reconciler) ProposeUpdate(src Source, next models.JobStatus, progress *int) Outcome {
	if r.closed {
		return Rejected
	}
	cur := r.store.ReadAuthoritative()

	if next == cur.Status {
		r.metrics.Inc(metrics.ProposalsNoop)
		if progress != nil && *progress != cur.Progress && next != models.StatusDone {
			r.store.write(models.StatusSnapshot{Status: cur.Status, Progress: *progress})
			r.metrics.Inc(metrics.ProgressUpdates)
			r.logger.Debug("progress update", "status", cur.Status, "progress", *progress, "source", src)
		}
		return Noop
	}

	if next == models.StatusIdle || !models.CanTransition(cur.Status, next) {
		r.metrics.Inc(metrics.ProposalsRejected)
		r.logger.Warn("transition rejected", "from", cur.Status, "to", next, "source", src)
		return Rejected
	}

	snap := models.StatusSnapshot{Status: next, Progress: cur.Progress}
	if progress != nil {
		snap.Progress = *progress
	}
	if next == models.StatusDone {
		snap.Progress = 100
	}
	r.commit(src, cur, snap)
	return Committed
}

// ProposeProgress updates progress alone. It is accepted only while a job is
// running or monitoring is lost; terminal and idle snapshots keep their value.
func (r *Reconciler) ProposeProgress(src Source, progress int) Outcome {
	if r.closed {
		return Rejected
	}
	cur := r.store.ReadAuthoritative()
	if !cur.Status.IsActive() && cur.Status != models.StatusConnectionLost {
		r.metrics.Inc(metrics.ProposalsRejected)
		r.logger.Debug("progress ignored", "status", cur.Status, "progress", progress, "source", src)
		return Rejected
	}
	if progress == cur.Progress {
		r.metrics.Inc(metrics.ProposalsNoop)
		return Noop
	}
	r.store.write(models.StatusSnapshot{Status: cur.Status, Progress: progress})
	r.metrics.Inc(metrics.ProgressUpdates)
	return Committed
}

// BeginJob clears a finished job and moves to the first status of a new one:
// reading when the push channel is open, connection_lost otherwise.
func (r *Reconciler) BeginJob(channelOpen bool) Outcome {
	if r.closed {
		return Rejected
	}
	// Timers armed for the previous job must not reach this one's done.
	for t := range r.timers {
		t.Stop()
		delete(r.timers, t)
		r.metrics.Inc(metrics.CleanupsSkipped)
	}

	cur := r.store.ReadAuthoritative()
	if cur.Status != models.StatusIdle {
		if !models.CanTransition(cur.Status, models.StatusIdle) {
			r.logger.Warn("stale status at job start", "status", cur.Status)
		}
		r.commit(SourceJobOperation, cur, models.IdleSnapshot())
		cur = models.IdleSnapshot()
	} else if cur.Progress != 0 {
		r.store.write(models.IdleSnapshot())
	}

	first := models.StatusReading
	if !channelOpen {
		first = models.StatusConnectionLost
	}
	zero := 0
	return r.ProposeUpdate(SourceJobOperation, first, &zero)
}

// ScheduleCleanup arms the terminal cleanup timer. Several timers may be armed
// for the same done snapshot; whichever fires first resets to idle and the
// rest find nothing to do.
func (r *Reconciler) ScheduleCleanup(src Source) {
	if r.closed {
		return
	}
	r.metrics.Inc(metrics.CleanupsScheduled)
	var t *eventloop.Timer
	t = r.sched.AfterFunc(r.cleanupDelay, func() {
		delete(r.timers, t)
		r.fireCleanup(src)
	})
	r.timers[t] = struct{}{}
	r.logger.Debug("cleanup scheduled", "delay", r.cleanupDelay, "source", src)
}

// fireCleanup resets done to idle. Idempotence relies on running on the loop;
// a truly parallel caller would need a compare-and-swap on the snapshot.
func (r *Reconciler) fireCleanup(armedBy Source) {
	if r.closed {
		return
	}
	cur := r.store.ReadAuthoritative()
	if cur.Status != models.StatusDone {
		r.metrics.Inc(metrics.CleanupsSkipped)
		r.logger.Debug("cleanup skipped", "status", cur.Status, "armed_by", armedBy)
		return
	}
	r.metrics.Inc(metrics.CleanupsFired)
	r.commit(SourceCleanup, cur, models.IdleSnapshot())
}

// Close stops pending cleanup timers and rejects further proposals.
func (r *Reconciler) Close() {
	if r.closed {
		return
	}
	r.closed = true
	for t := range r.timers {
		t.Stop()
	}
	r.timers = nil
	r.store.closeSubscribers()
}

func (r *Reconciler) commit(src Source, from, to models.StatusSnapshot) {
	r.store.write(to)
	r.metrics.Inc(metrics.TransitionsCommitted)
	r.logger.Info("status transition",
		"from", from.Status,
		"to", to.Status,
		"progress", to.Progress,
		"source", src,
	)
}
