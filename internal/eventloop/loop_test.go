package eventloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunsInPostOrder(t *testing.T) {
	l := New(nil)
	defer l.Close()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Do(func() {}))

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestLoop_CallbacksNeverOverlap(t *testing.T) {
	l := New(nil)
	defer l.Close()

	var running, overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Post(func() {
					if atomic.AddInt32(&running, 1) > 1 {
						atomic.AddInt32(&overlaps, 1)
					}
					atomic.AddInt32(&running, -1)
				})
			}
		}()
	}
	wg.Wait()
	require.NoError(t, l.Do(func() {}))
	assert.Zero(t, atomic.LoadInt32(&overlaps))
}

func TestLoop_DoAfterClose(t *testing.T) {
	l := New(nil)
	l.Close()

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Do(func() {}), ErrClosed)

	// Close is idempotent.
	l.Close()
}

func TestLoop_CloseDrainsQueue(t *testing.T) {
	l := New(nil)

	var ran int32
	block := make(chan struct{})
	l.Post(func() { <-block })
	for i := 0; i < 10; i++ {
		l.Post(func() { atomic.AddInt32(&ran, 1) })
	}
	close(block)
	l.Close()

	assert.Equal(t, int32(10), atomic.LoadInt32(&ran))
}

func TestLoop_RecoversFromPanic(t *testing.T) {
	l := New(nil)
	defer l.Close()

	l.Post(func() { panic("boom") })

	ran := false
	require.NoError(t, l.Do(func() { ran = true }))
	assert.True(t, ran)
}

func TestTimer_Fires(t *testing.T) {
	l := New(nil)
	defer l.Close()

	fired := make(chan struct{})
	l.AfterFunc(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestTimer_StopBeforeFire(t *testing.T) {
	l := New(nil)
	defer l.Close()

	var fired int32
	tm := l.AfterFunc(20*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.Do(func() {}))
	assert.Zero(t, atomic.LoadInt32(&fired))
}

func TestTimer_StopWhileCallbackQueued(t *testing.T) {
	l := New(nil)
	defer l.Close()

	var fired int32
	var tm *Timer
	release := make(chan struct{})

	// Hold the loop so the timer's callback queues behind us.
	l.Post(func() { <-release })
	tm = l.AfterFunc(time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	time.Sleep(20 * time.Millisecond)

	assert.True(t, tm.Stop(), "callback queued but not run counts as pending")
	close(release)
	require.NoError(t, l.Do(func() {}))
	assert.Zero(t, atomic.LoadInt32(&fired))
}

func TestTimer_StopAfterFire(t *testing.T) {
	l := New(nil)
	defer l.Close()

	fired := make(chan struct{})
	tm := l.AfterFunc(time.Millisecond, func() { close(fired) })
	<-fired
	assert.False(t, tm.Stop())
}

func TestTimer_NilStop(t *testing.T) {
	var tm *Timer
	assert.False(t, tm.Stop())
}
