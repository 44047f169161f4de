package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataprofiler/dashboard/internal/eventloop"
	"github.com/dataprofiler/dashboard/internal/logging"
	"github.com/dataprofiler/dashboard/internal/metrics"
	"github.com/dataprofiler/dashboard/internal/models"
)

type fixture struct {
	loop    *eventloop.Loop
	store   *Store
	rec     *Reconciler
	metrics *metrics.Collector
}

func newFixture(t *testing.T, cleanup time.Duration) *fixture {
	t.Helper()
	l := eventloop.New(logging.Discard())
	m := metrics.NewCollector()
	s := NewStore(l, logging.Discard())
	f := &fixture{
		loop:    l,
		store:   s,
		rec:     NewReconciler(s, l, cleanup, m, logging.Discard()),
		metrics: m,
	}
	t.Cleanup(func() {
		f.loop.Do(f.rec.Close)
		f.loop.Close()
	})
	return f
}

// on runs fn on the loop and waits for it.
func (f *fixture) on(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, f.loop.Do(fn))
}

func (f *fixture) propose(t *testing.T, st models.JobStatus, progress *int) Outcome {
	t.Helper()
	var out Outcome
	f.on(t, func() { out = f.rec.ProposeUpdate(SourceEventChannel, st, progress) })
	return out
}

// settle waits until pending view publications have run.
func (f *fixture) settle(t *testing.T) {
	t.Helper()
	f.on(t, func() {})
}

func intp(v int) *int { return &v }

// walk drives the store to st from idle through legal edges.
func (f *fixture) walk(t *testing.T, st models.JobStatus) {
	t.Helper()
	if st == models.StatusIdle {
		return
	}
	f.on(t, func() { f.rec.BeginJob(true) })
	switch st {
	case models.StatusReading:
	case models.StatusConnectionLost, models.StatusProcessing, models.StatusStreaming,
		models.StatusFinishing, models.StatusDone, models.StatusError:
		require.Equal(t, Committed, f.propose(t, st, nil))
	}
}

func TestStore_InitialIdle(t *testing.T) {
	f := newFixture(t, time.Hour)
	assert.Equal(t, models.IdleSnapshot(), f.store.ReadAuthoritative())
	assert.Equal(t, models.IdleSnapshot(), f.store.View())
}

func TestStore_ViewLagsOneTick(t *testing.T) {
	f := newFixture(t, time.Hour)

	var auth, view models.StatusSnapshot
	f.on(t, func() {
		f.rec.BeginJob(true)
		auth = f.store.ReadAuthoritative()
		view = f.store.View()
	})
	assert.Equal(t, models.StatusReading, auth.Status)
	assert.Equal(t, models.StatusIdle, view.Status, "view publishes on the next tick")

	f.settle(t)
	assert.Equal(t, models.StatusReading, f.store.View().Status)
}

func TestStore_SubscribeInCommitOrder(t *testing.T) {
	f := newFixture(t, time.Hour)
	ch, unsubscribe := f.store.Subscribe(8)
	defer unsubscribe()

	f.walk(t, models.StatusReading)
	f.propose(t, models.StatusProcessing, intp(10))
	f.propose(t, models.StatusStreaming, intp(50))
	f.propose(t, models.StatusDone, nil)
	f.settle(t)

	var got []models.JobStatus
	for len(got) < 4 {
		select {
		case snap := <-ch:
			got = append(got, snap.Status)
		case <-time.After(time.Second):
			t.Fatalf("only received %v", got)
		}
	}
	assert.Equal(t, []models.JobStatus{
		models.StatusReading, models.StatusProcessing, models.StatusStreaming, models.StatusDone,
	}, got)
}

func TestStore_Unsubscribe(t *testing.T) {
	f := newFixture(t, time.Hour)
	ch, unsubscribe := f.store.Subscribe(1)
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)

	f.walk(t, models.StatusReading)
	f.settle(t)
}

func TestReconciler_TransitionTable(t *testing.T) {
	all := []models.JobStatus{
		models.StatusReading, models.StatusProcessing, models.StatusStreaming, models.StatusFinishing,
		models.StatusDone, models.StatusError, models.StatusConnectionLost,
	}
	for _, from := range append([]models.JobStatus{models.StatusIdle}, all...) {
		for _, to := range all {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				f := newFixture(t, time.Hour)
				f.walk(t, from)
				got := f.propose(t, to, nil)

				switch {
				case from == to:
					assert.Equal(t, Noop, got)
				case models.CanTransition(from, to):
					assert.Equal(t, Committed, got)
					assert.Equal(t, to, f.store.ReadAuthoritative().Status)
				default:
					assert.Equal(t, Rejected, got)
					assert.Equal(t, from, f.store.ReadAuthoritative().Status)
				}
			})
		}
	}
}

func TestReconciler_IdleCannotBeProposed(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.walk(t, models.StatusDone)
	assert.Equal(t, Rejected, f.propose(t, models.StatusIdle, nil))
	assert.Equal(t, models.StatusDone, f.store.ReadAuthoritative().Status)
}

func TestReconciler_SameStatusUpdatesProgress(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.walk(t, models.StatusStreaming)
	before := f.metrics.Get(metrics.TransitionsCommitted)

	assert.Equal(t, Noop, f.propose(t, models.StatusStreaming, intp(42)))
	assert.Equal(t, models.StatusSnapshot{Status: models.StatusStreaming, Progress: 42}, f.store.ReadAuthoritative())
	assert.Equal(t, before, f.metrics.Get(metrics.TransitionsCommitted))
	assert.Equal(t, int64(1), f.metrics.Get(metrics.ProgressUpdates))

	assert.Equal(t, Noop, f.propose(t, models.StatusStreaming, nil))
	assert.Equal(t, 42, f.store.ReadAuthoritative().Progress)
}

func TestReconciler_DoneForcesFullProgress(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.walk(t, models.StatusStreaming)
	f.propose(t, models.StatusStreaming, intp(70))

	assert.Equal(t, Committed, f.propose(t, models.StatusDone, intp(30)))
	assert.Equal(t, 100, f.store.ReadAuthoritative().Progress)

	// A repeated done never lowers it.
	f.propose(t, models.StatusDone, intp(10))
	assert.Equal(t, 100, f.store.ReadAuthoritative().Progress)
}

func TestReconciler_ProgressKeptAcrossTransition(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.walk(t, models.StatusStreaming)
	f.propose(t, models.StatusStreaming, intp(55))
	f.propose(t, models.StatusConnectionLost, nil)

	assert.Equal(t, models.StatusSnapshot{Status: models.StatusConnectionLost, Progress: 55}, f.store.ReadAuthoritative())
}

func TestReconciler_ProposeProgress(t *testing.T) {
	tests := []struct {
		from models.JobStatus
		want Outcome
	}{
		{models.StatusIdle, Rejected},
		{models.StatusReading, Committed},
		{models.StatusStreaming, Committed},
		{models.StatusConnectionLost, Committed},
		{models.StatusDone, Rejected},
		{models.StatusError, Rejected},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			f := newFixture(t, time.Hour)
			f.walk(t, tt.from)
			before := f.store.ReadAuthoritative()

			var got Outcome
			f.on(t, func() { got = f.rec.ProposeProgress(SourceEventChannel, 37) })
			assert.Equal(t, tt.want, got)

			after := f.store.ReadAuthoritative()
			assert.Equal(t, before.Status, after.Status)
			if tt.want == Committed {
				assert.Equal(t, 37, after.Progress)
			} else {
				assert.Equal(t, before.Progress, after.Progress)
			}
		})
	}
}

func TestReconciler_BeginJob(t *testing.T) {
	tests := []struct {
		name        string
		from        models.JobStatus
		channelOpen bool
		want        models.JobStatus
	}{
		{"idle open", models.StatusIdle, true, models.StatusReading},
		{"idle closed", models.StatusIdle, false, models.StatusConnectionLost},
		{"done open", models.StatusDone, true, models.StatusReading},
		{"error open", models.StatusError, true, models.StatusReading},
		{"error closed", models.StatusError, false, models.StatusConnectionLost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Hour)
			f.walk(t, tt.from)

			var out Outcome
			f.on(t, func() { out = f.rec.BeginJob(tt.channelOpen) })
			assert.Equal(t, Committed, out)
			assert.Equal(t, models.StatusSnapshot{Status: tt.want, Progress: 0}, f.store.ReadAuthoritative())
		})
	}
}

func TestReconciler_BeginJobPassesThroughIdle(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.walk(t, models.StatusDone)
	f.settle(t)

	ch, unsubscribe := f.store.Subscribe(4)
	defer unsubscribe()
	f.on(t, func() { f.rec.BeginJob(true) })
	f.settle(t)

	assert.Equal(t, models.StatusIdle, (<-ch).Status)
	assert.Equal(t, models.StatusReading, (<-ch).Status)
}

func TestReconciler_CleanupResetsDone(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	f.walk(t, models.StatusDone)
	f.on(t, func() { f.rec.ScheduleCleanup(SourceJobOperation) })

	assert.Eventually(t, func() bool {
		return f.store.ReadAuthoritative() == models.IdleSnapshot()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), f.metrics.Get(metrics.CleanupsFired))
}

func TestReconciler_DoubleCleanupCommitsOnce(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	f.walk(t, models.StatusDone)
	before := f.metrics.Get(metrics.TransitionsCommitted)
	f.on(t, func() {
		f.rec.ScheduleCleanup(SourceJobOperation)
		f.rec.ScheduleCleanup(SourceEventChannel)
	})

	assert.Eventually(t, func() bool {
		return f.metrics.Get(metrics.CleanupsFired)+f.metrics.Get(metrics.CleanupsSkipped) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), f.metrics.Get(metrics.CleanupsFired))
	assert.Equal(t, int64(1), f.metrics.Get(metrics.CleanupsSkipped))
	assert.Equal(t, before+1, f.metrics.Get(metrics.TransitionsCommitted))
	assert.Equal(t, models.StatusIdle, f.store.ReadAuthoritative().Status)
}

func TestReconciler_CleanupSkipsNewJob(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.walk(t, models.StatusDone)
	f.on(t, func() {
		f.rec.ScheduleCleanup(SourceJobOperation)
		f.rec.BeginJob(true)
	})

	assert.Eventually(t, func() bool {
		return f.metrics.Get(metrics.CleanupsSkipped) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StatusReading, f.store.ReadAuthoritative().Status)
}

func TestReconciler_StaleCleanupSparesNextJob(t *testing.T) {
	const delay = 150 * time.Millisecond
	f := newFixture(t, delay)

	// First job: pushed done and call done arm two timers 100ms apart.
	f.walk(t, models.StatusDone)
	f.on(t, func() { f.rec.ScheduleCleanup(SourceEventChannel) })
	time.Sleep(100 * time.Millisecond)
	f.on(t, func() { f.rec.ScheduleCleanup(SourceJobOperation) })
	require.Eventually(t, func() bool {
		return f.store.ReadAuthoritative().Status == models.StatusIdle
	}, time.Second, 2*time.Millisecond)

	// Second job reaches done while the first job's later timer is pending.
	f.walk(t, models.StatusDone)
	doneAt := time.Now()
	f.on(t, func() { f.rec.ScheduleCleanup(SourceJobOperation) })

	require.Eventually(t, func() bool {
		return f.store.ReadAuthoritative().Status == models.StatusIdle
	}, time.Second, 2*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(doneAt), delay-10*time.Millisecond)
	assert.Equal(t, int64(2), f.metrics.Get(metrics.CleanupsFired))
	assert.Equal(t, int64(1), f.metrics.Get(metrics.CleanupsSkipped))
}

func TestReconciler_CloseStopsTimersAndSubscribers(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	ch, _ := f.store.Subscribe(8)
	f.walk(t, models.StatusDone)
	f.on(t, func() {
		f.rec.ScheduleCleanup(SourceJobOperation)
		f.rec.Close()
	})

	for range ch {
	}

	time.Sleep(40 * time.Millisecond)
	f.settle(t)
	assert.Equal(t, models.StatusDone, f.store.ReadAuthoritative().Status)
	assert.Zero(t, f.metrics.Get(metrics.CleanupsFired))

	assert.Equal(t, Rejected, f.propose(t, models.StatusError, nil))
	var out Outcome
	f.on(t, func() { out = f.rec.BeginJob(true) })
	assert.Equal(t, Rejected, out)
}
