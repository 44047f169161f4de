package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataprofiler/dashboard/internal/eventloop"
	"github.com/dataprofiler/dashboard/internal/events"
	"github.com/dataprofiler/dashboard/internal/logging"
	"github.com/dataprofiler/dashboard/internal/metrics"
	"github.com/dataprofiler/dashboard/internal/models"
	"github.com/dataprofiler/dashboard/internal/status"
	"github.com/dataprofiler/dashboard/internal/testutil"
)

const waitFor = time.Second

type harness struct {
	loop      *eventloop.Loop
	store     *status.Store
	rec       *status.Reconciler
	channel   *events.Channel
	transport *testutil.PushTransport
	metrics   *metrics.Collector
}

func newHarness(t *testing.T, tr events.Transport, opts events.Options) *harness {
	t.Helper()
	l := eventloop.New(logging.Discard())
	m := metrics.NewCollector()
	s := status.NewStore(l, logging.Discard())
	rec := status.NewReconciler(s, l, 20*time.Millisecond, m, logging.Discard())
	h := &harness{
		loop:    l,
		store:   s,
		rec:     rec,
		channel: events.NewChannel(tr, l, rec, opts, m, logging.Discard()),
		metrics: m,
	}
	if pt, ok := tr.(*testutil.PushTransport); ok {
		h.transport = pt
	}
	t.Cleanup(func() {
		h.channel.Close()
		l.Do(rec.Close)
		l.Close()
	})
	return h
}

func newPushHarness(t *testing.T) (*harness, *testutil.PushStream) {
	t.Helper()
	h := newHarness(t, testutil.NewPushTransport(), events.Options{ReconnectDelay: 10 * time.Millisecond})
	h.channel.Start()
	stream, err := h.transport.WaitConnected(waitFor)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.channel.ReadyState() == events.Open }, waitFor, time.Millisecond)
	return h, stream
}

func (h *harness) beginJob(t *testing.T) {
	t.Helper()
	require.NoError(t, h.loop.Do(func() { h.rec.BeginJob(h.channel.ReadyState() == events.Open) }))
}

func (h *harness) current() models.StatusSnapshot {
	var snap models.StatusSnapshot
	h.loop.Do(func() { snap = h.rec.Current() })
	return snap
}

func (h *harness) waitStatus(t *testing.T, want models.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return h.current().Status == want },
		waitFor, 2*time.Millisecond, "status never became %s (now %s)", want, h.current().Status)
}

func TestChannel_AppliesPushedStatus(t *testing.T) {
	h, _ := newPushHarness(t)
	h.beginJob(t)

	h.transport.PushStatus("processing", 10)
	h.transport.PushStatus("streaming", 42)
	h.waitStatus(t, models.StatusStreaming)
	assert.Equal(t, 42, h.current().Progress)

	h.transport.Push(`{"progress":60}`)
	assert.Eventually(t, func() bool { return h.current().Progress == 60 }, waitFor, 2*time.Millisecond)
	assert.Equal(t, models.StatusStreaming, h.current().Status)
}

func TestChannel_DoneSchedulesCleanup(t *testing.T) {
	h, _ := newPushHarness(t)
	h.beginJob(t)
	require.NoError(t, h.loop.Do(func() {}))
	updates, unsubscribe := h.store.Subscribe(8)
	defer unsubscribe()

	h.transport.PushStatus("done", -1)

	var seen []models.StatusSnapshot
	for len(seen) < 2 {
		select {
		case snap := <-updates:
			seen = append(seen, snap)
		case <-time.After(waitFor):
			t.Fatalf("only saw %v", seen)
		}
	}
	assert.Equal(t, models.StatusSnapshot{Status: models.StatusDone, Progress: 100}, seen[0])
	assert.Equal(t, models.IdleSnapshot(), seen[1])
	assert.Equal(t, int64(1), h.metrics.Get(metrics.CleanupsFired))
}

func TestChannel_IgnoresPushesWhileIdle(t *testing.T) {
	h, _ := newPushHarness(t)

	h.transport.PushStatus("streaming", 50)
	h.transport.Push(`{"progress":70}`)
	h.transport.PushStatus("done", -1)

	assert.Eventually(t, func() bool { return h.metrics.Get(metrics.MessagesReceived) == 3 }, waitFor, 2*time.Millisecond)
	assert.Equal(t, models.IdleSnapshot(), h.current())
}

func TestChannel_MalformedMessagesDropped(t *testing.T) {
	h, _ := newPushHarness(t)
	h.beginJob(t)

	h.transport.Push(`not json`)
	h.transport.Push(`{"status":"exploded"}`)
	h.transport.PushStatus("processing", 20)
	h.waitStatus(t, models.StatusProcessing)

	assert.Equal(t, int64(2), h.metrics.Get(metrics.MalformedMessages))
	assert.Equal(t, events.Open, h.channel.ReadyState())
}

func TestChannel_FaultWhileActive(t *testing.T) {
	h, _ := newPushHarness(t)
	h.beginJob(t)
	h.transport.PushStatus("streaming", 30)
	h.waitStatus(t, models.StatusStreaming)

	h.transport.Drop()
	h.waitStatus(t, models.StatusConnectionLost)
	assert.Equal(t, 30, h.current().Progress)

	// Reconnect and recover.
	_, err := h.transport.WaitConnected(waitFor)
	require.NoError(t, err)
	h.transport.PushStatus("finishing", -1)
	h.waitStatus(t, models.StatusFinishing)
	assert.GreaterOrEqual(t, h.metrics.Get(metrics.ChannelReconnects), int64(1))
}

func TestChannel_FaultWhileIdleOrTerminal(t *testing.T) {
	for _, st := range []models.JobStatus{models.StatusIdle, models.StatusError} {
		t.Run(string(st), func(t *testing.T) {
			h, _ := newPushHarness(t)
			if st == models.StatusError {
				h.beginJob(t)
				h.transport.PushStatus("error", -1)
				h.waitStatus(t, models.StatusError)
			}

			h.transport.Drop()
			assert.Eventually(t, func() bool { return h.metrics.Get(metrics.ChannelFaults) == 1 }, waitFor, 2*time.Millisecond)
			assert.Equal(t, st, h.current().Status)
		})
	}
}

func TestChannel_ConnectFailure(t *testing.T) {
	tr := testutil.NewPushTransport()
	tr.FailConnects(errors.New("connection refused"))
	h := newHarness(t, tr, events.Options{ReconnectDelay: 5 * time.Millisecond})
	h.channel.Start()

	assert.Eventually(t, func() bool { return tr.Connects() >= 3 }, waitFor, 2*time.Millisecond)
	assert.NotEqual(t, events.Open, h.channel.ReadyState())

	tr.FailConnects(nil)
	_, err := tr.WaitConnected(waitFor)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return h.channel.ReadyState() == events.Open }, waitFor, time.Millisecond)
}

func TestChannel_DisableReconnect(t *testing.T) {
	tr := testutil.NewPushTransport()
	h := newHarness(t, tr, events.Options{ReconnectDelay: 5 * time.Millisecond, DisableReconnect: true})
	h.channel.Start()
	_, err := tr.WaitConnected(waitFor)
	require.NoError(t, err)

	tr.Drop()
	assert.Eventually(t, func() bool { return h.channel.ReadyState() == events.Closed }, waitFor, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 1, tr.Connects())
}

func TestChannel_InertAfterClose(t *testing.T) {
	h, stream := newPushHarness(t)
	h.beginJob(t)
	before := h.metrics.Get(metrics.MessagesReceived)

	h.channel.Close()
	assert.True(t, stream.Closed())
	assert.Equal(t, events.Closed, h.channel.ReadyState())

	stream.Push(`{"status":"done"}`)
	stream.Fail(errors.New("late fault"))
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, models.StatusReading, h.current().Status)
	assert.Equal(t, before, h.metrics.Get(metrics.MessagesReceived))
	assert.Equal(t, 1, h.transport.Connects())

	// Idempotent.
	h.channel.Close()
}

func TestChannel_OverSSE(t *testing.T) {
	srv := testutil.NewAnalysisServer(t)
	tr, err := events.NewTransport(srv.EventsURL(), events.TransportOptions{})
	require.NoError(t, err)

	h := newHarness(t, tr, events.Options{ReconnectDelay: 10 * time.Millisecond})
	h.channel.Start()
	require.Eventually(t, func() bool { return srv.Subscribers() == 1 }, waitFor, 2*time.Millisecond)
	require.Eventually(t, func() bool { return h.channel.ReadyState() == events.Open }, waitFor, time.Millisecond)
	h.beginJob(t)

	srv.BroadcastStatus("streaming", 64)
	h.waitStatus(t, models.StatusStreaming)
	assert.Equal(t, 64, h.current().Progress)

	srv.CloseStreams()
	h.waitStatus(t, models.StatusConnectionLost)
}

func TestChannel_OverWebSocket(t *testing.T) {
	srv := testutil.NewAnalysisServer(t)
	tr, err := events.NewTransport(srv.WebSocketURL(), events.TransportOptions{MaxMessageSize: 4096})
	require.NoError(t, err)

	h := newHarness(t, tr, events.Options{ReconnectDelay: 10 * time.Millisecond})
	h.channel.Start()
	require.Eventually(t, func() bool { return srv.Subscribers() == 1 }, waitFor, 2*time.Millisecond)
	h.beginJob(t)

	srv.BroadcastStatus("processing", 15)
	h.waitStatus(t, models.StatusProcessing)

	srv.BroadcastStatus("done", -1)
	h.waitStatus(t, models.StatusDone)
}

func TestWebSocketTransport_DialFailure(t *testing.T) {
	tr := &events.WebSocketTransport{URL: "ws://127.0.0.1:1/ws"}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := tr.Connect(ctx)
	assert.Error(t, err)
}
