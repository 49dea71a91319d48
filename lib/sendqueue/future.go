package sendqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/oops"
)

var (
	// ErrSendTimeout is returned when a wait ends before the packet was sent or answered.
	ErrSendTimeout = errors.New("send timed out")
	// ErrQueueClosed is returned for packets still queued when the queue stops.
	ErrQueueClosed = errors.New("send queue closed")
)

// SendFuture completes once its packet has been handed to the transport.
type SendFuture struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newSendFuture() *SendFuture {
	return &SendFuture{done: make(chan struct{})}
}

func (f *SendFuture) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the send has finished or failed.
func (f *SendFuture) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the packet is sent or ctx ends. A cancelled or expired
// context yields ErrSendTimeout; the packet stays queued.
func (f *SendFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return oops.Wrapf(ErrSendTimeout, "%v", ctx.Err())
	}
}

// WaitTimeout is Wait with a deadline d from now.
func (f *SendFuture) WaitTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return f.Wait(ctx)
}
