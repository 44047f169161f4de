// push.go - In-memory push stream for driving the event channel in tests
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dataprofiler/dashboard/internal/events"
)

// ErrDropped is the fault injected by PushTransport.Drop.
var ErrDropped = errors.New("push stream dropped")

// PushTransport implements events.Transport with scripted streams.
type PushTransport struct {
	mu         sync.Mutex
	current    *PushStream
	connects   int
	connectErr error
	connected  chan *PushStream
}

// NewPushTransport creates a transport whose Connect succeeds until FailConnects is called.
func NewPushTransport() *PushTransport {
	return &PushTransport{connected: make(chan *PushStream, 16)}
}

// Connect implements events.Transport.
func (p *PushTransport) Connect(ctx context.Context) (events.Stream, error) {
	p.mu.Lock()
	p.connects++
	if p.connectErr != nil {
		err := p.connectErr
		p.mu.Unlock()
		return nil, err
	}
	s := &PushStream{
		msgs:   make(chan []byte, 64),
		faults: make(chan error, 1),
		closed: make(chan struct{}),
	}
	p.current = s
	p.mu.Unlock()

	select {
	case p.connected <- s:
	default:
	}
	return s, nil
}

// FailConnects makes every later Connect fail with err; nil restores success.
func (p *PushTransport) FailConnects(err error) {
	p.mu.Lock()
	p.connectErr = err
	p.mu.Unlock()
}

// Connects returns how many times Connect was called.
func (p *PushTransport) Connects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects
}

// WaitConnected blocks until a stream is opened or timeout passes.
func (p *PushTransport) WaitConnected(timeout time.Duration) (*PushStream, error) {
	select {
	case s := <-p.connected:
		return s, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no push stream connected within %s", timeout)
	}
}

// Current returns the most recently opened stream.
func (p *PushTransport) Current() *PushStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Push sends a raw payload on the current stream.
func (p *PushTransport) Push(payload string) {
	if s := p.Current(); s != nil {
		s.Push(payload)
	}
}

// PushStatus sends {"status": st, "progress": progress}; progress < 0 omits it.
func (p *PushTransport) PushStatus(st string, progress float64) {
	if progress < 0 {
		p.Push(fmt.Sprintf(`{"status":%q}`, st))
		return
	}
	p.Push(fmt.Sprintf(`{"status":%q,"progress":%g}`, st, progress))
}

// Drop faults the current stream.
func (p *PushTransport) Drop() {
	if s := p.Current(); s != nil {
		s.Fail(ErrDropped)
	}
}

// PushStream is one scripted connection.
type PushStream struct {
	msgs      chan []byte
	faults    chan error
	closed    chan struct{}
	closeOnce sync.Once
}

// Push queues a payload for Next.
func (s *PushStream) Push(payload string) {
	select {
	case s.msgs <- []byte(payload):
	case <-s.closed:
	}
}

// Fail makes Next return err once queued messages are drained.
func (s *PushStream) Fail(err error) {
	select {
	case s.faults <- err:
	default:
	}
}

// Next implements events.Stream.
func (s *PushStream) Next() ([]byte, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	default:
	}
	select {
	case m := <-s.msgs:
		return m, nil
	case err := <-s.faults:
		return nil, err
	case <-s.closed:
		return nil, events.ErrStreamClosed
	}
}

// Close implements events.Stream.
func (s *PushStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// Closed reports whether the stream was closed.
func (s *PushStream) Closed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
