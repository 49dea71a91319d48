//go:build !windows

package signals

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatchRoutesByKind(t *testing.T) {
	var d Dispatcher
	var reloads, stops atomic.Int32
	d.OnReload(func() { reloads.Add(1) })
	d.OnInterrupt(func() { stops.Add(1) })
	d.OnInterrupt(func() { stops.Add(1) })

	d.Dispatch(syscall.SIGHUP)
	d.Dispatch(syscall.SIGTERM)
	d.Dispatch(syscall.SIGINT)
	d.Dispatch(syscall.SIGUSR1)

	assert.Equal(t, int32(1), reloads.Load())
	assert.Equal(t, int32(4), stops.Load())
}

func TestRemoveAndNil(t *testing.T) {
	var d Dispatcher
	var calls atomic.Int32
	assert.Equal(t, HandlerID(-1), d.OnReload(nil))
	id := d.OnReload(func() { calls.Add(1) })
	d.Remove(id)
	d.Dispatch(syscall.SIGHUP)
	assert.Zero(t, calls.Load())
}

func TestPanicIsolated(t *testing.T) {
	var d Dispatcher
	var after atomic.Bool
	d.OnInterrupt(func() { panic("handler failure") })
	d.OnInterrupt(func() { after.Store(true) })
	assert.NotPanics(t, func() { d.Dispatch(syscall.SIGINT) })
	assert.True(t, after.Load())
}

func TestRunDeliversProcessSignal(t *testing.T) {
	var d Dispatcher
	got := make(chan struct{}, 1)
	d.OnReload(func() { got <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	// give Run time to install its handler
	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("reload handler not called")
	}
	cancel()
	<-done
}
