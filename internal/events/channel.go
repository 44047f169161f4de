// Package events manages the subscription to the analysis service's status
// push stream and feeds what it hears into the reconciler.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dataprofiler/dashboard/internal/eventloop"
	"github.com/dataprofiler/dashboard/internal/metrics"
	"github.com/dataprofiler/dashboard/internal/models"
	"github.com/dataprofiler/dashboard/internal/status"
)

// DefaultReconnectDelay matches the browser EventSource default.
const DefaultReconnectDelay = 3 * time.Second

// ReadyState mirrors the EventSource readyState values.
type ReadyState int32

const (
	Connecting ReadyState = iota
	Open
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	}
	return "CLOSED"
}

// Options tunes a Channel.
type Options struct {
	// ReconnectDelay is the wait before re-subscribing after a fault.
	ReconnectDelay time.Duration
	// DisableReconnect leaves the channel CLOSED after the first fault.
	DisableReconnect bool
}

// Channel owns exactly one push-stream subscription for the engine's lifetime.
// Reading happens on its own goroutine; every reaction is posted to the loop.
type Channel struct {
	transport Transport
	loop      eventloop.Scheduler
	rec       *status.Reconciler
	metrics   *metrics.Collector
	logger    *slog.Logger
	opts      Options

	state atomic.Int32
	torn  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	stream Stream
	opened int
}

// NewChannel creates a channel in the CONNECTING state. Call Start to subscribe.
func NewChannel(transport Transport, loop eventloop.Scheduler, rec *status.Reconciler, opts Options, m *metrics.Collector, logger *slog.Logger) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		transport: transport,
		loop:      loop,
		rec:       rec,
		metrics:   m,
		logger:    logger.With("component", "event_channel"),
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the subscription in the background.
func (c *Channel) Start() {
	c.wg.Add(1)
	go c.run()
}

// ReadyState reports the current connection state.
func (c *Channel) ReadyState() ReadyState {
	return ReadyState(c.state.Load())
}

// Close tears the subscription down. After Close returns the channel never
// writes status again.
func (c *Channel) Close() {
	if c.torn.Swap(true) {
		return
	}
	c.cancel()
	c.mu.Lock()
	if c.stream != nil {
		c.stream.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	c.state.Store(int32(Closed))
	c.logger.Info("push channel closed")
}

func (c *Channel) run() {
	defer c.wg.Done()
	delay := c.opts.ReconnectDelay

	for {
		c.state.Store(int32(Connecting))
		stream, err := c.transport.Connect(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if c.opts.DisableReconnect {
				c.state.Store(int32(Closed))
			}
			c.post(func() { c.onFault(err) })
		} else {
			if d := c.consume(stream); d > 0 {
				delay = d
			}
			if c.ctx.Err() != nil {
				return
			}
		}

		if c.opts.DisableReconnect {
			c.state.Store(int32(Closed))
			return
		}
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(delay):
			c.metrics.Inc(metrics.ChannelReconnects)
		}
	}
}

// consume reads stream until it fails and returns the server's retry hint.
func (c *Channel) consume(stream Stream) time.Duration {
	c.mu.Lock()
	if c.torn.Load() {
		c.mu.Unlock()
		stream.Close()
		return 0
	}
	c.stream = stream
	c.opened++
	first := c.opened == 1
	c.mu.Unlock()

	c.state.Store(int32(Open))
	c.post(func() { c.onOpen(first) })

	for {
		data, err := stream.Next()
		if err != nil {
			c.mu.Lock()
			c.stream = nil
			c.mu.Unlock()
			stream.Close()
			if c.ctx.Err() != nil {
				return 0
			}
			if c.opts.DisableReconnect {
				c.state.Store(int32(Closed))
			} else {
				c.state.Store(int32(Connecting))
			}
			c.post(func() { c.onFault(err) })

			if h, ok := stream.(retryHinter); ok {
				return h.RetryDelay()
			}
			return 0
		}
		c.post(func() { c.onMessage(data) })
	}
}

// post runs fn on the loop unless the channel has been torn down by then.
func (c *Channel) post(fn func()) {
	if c.torn.Load() {
		return
	}
	c.loop.Post(func() {
		if c.torn.Load() {
			return
		}
		fn()
	})
}

func (c *Channel) onOpen(first bool) {
	c.logger.Info("push channel open", "reconnect", !first)
}

func (c *Channel) onMessage(data []byte) {
	c.metrics.Inc(metrics.MessagesReceived)

	upd, err := ParseMessage(data)
	if err != nil {
		c.metrics.Inc(metrics.MalformedMessages)
		c.logger.Warn("malformed push message dropped", "error", err, "payload", truncate(data, 256))
		return
	}

	cur := c.rec.Current()
	switch {
	case upd.HasStatus && upd.Status != cur.Status:
		c.rec.ProposeUpdate(status.SourceEventChannel, upd.Status, upd.ProgressPtr())
	case upd.HasProgress:
		c.rec.ProposeProgress(status.SourceEventChannel, upd.Progress)
	}

	if upd.HasStatus && upd.Status == models.StatusDone && c.rec.Current().Status == models.StatusDone {
		c.rec.ScheduleCleanup(status.SourceEventChannel)
	}
}

func (c *Channel) onFault(err error) {
	c.metrics.Inc(metrics.ChannelFaults)

	cur := c.rec.Current()
	if !cur.Status.IsActive() {
		c.logger.Debug("push channel fault ignored", "status", cur.Status, "error", err)
		return
	}
	c.logger.Warn("push channel lost while job active", "status", cur.Status, "error", err)
	c.rec.ProposeUpdate(status.SourceEventChannel, models.StatusConnectionLost, nil)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
