// Package netfiber adapts internal/netpoll's platform I/O pollers into
// fiber-suspending readiness waits, so fiber code can await a socket
// becoming readable or writable the same way it awaits a Future.
package netfiber

import (
	"context"
	"sync"
	"time"

	greenthread "github.com/joeycumines/greenthread"
	"github.com/joeycumines/greenthread/internal/netpoll"
)

// Re-exported so callers don't need to import internal/netpoll directly.
const (
	EventRead    = netpoll.EventRead
	EventWrite   = netpoll.EventWrite
	EventError   = netpoll.EventError
	EventHangup  = netpoll.EventHangup
)

// IOEvents is netpoll.IOEvents, re-exported for callers of this package.
type IOEvents = netpoll.IOEvents

// Poller runs a platform poller on its own goroutine and exposes
// fiber-suspending readiness waits on top of it.
type Poller struct {
	poller netpoll.FastPoller
	stop   chan struct{}
	done   chan struct{}

	closeOnce sync.Once
}

// New creates and starts a Poller.
func New() (*Poller, error) {
	p := &Poller{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if err := p.poller.Init(); err != nil {
		return nil, err
	}
	go p.run()
	return p, nil
}

// pollInterval bounds how long a single PollIO call blocks, so Close can
// notice the stop signal promptly without the poller needing its own
// wakeup-fd plumbing wired in from this package.
const pollInterval = 100 * time.Millisecond

func (p *Poller) run() {
	defer close(p.done)
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		if _, err := p.poller.PollIO(int(pollInterval / time.Millisecond)); err != nil {
			return
		}
	}
}

// Close stops the poller's goroutine and releases its underlying
// platform handle.
func (p *Poller) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
		err = p.poller.Close()
	})
	return err
}

// AwaitReady suspends the calling fiber until fd becomes ready for any of
// the requested events (or ctx is cancelled), then returns the events
// that actually fired. The registration is one-shot: fd is unregistered
// from the poller as soon as it fires, matching the reactor-completion
// adapter contract in AwaitCallback.
func (p *Poller) AwaitReady(ctx context.Context, fd int, events IOEvents) (IOEvents, error) {
	ev, err := greenthread.AwaitCallback(ctx, func(complete func(IOEvents, error)) {
		regErr := p.poller.RegisterFD(fd, events, func(fired IOEvents) {
			_ = p.poller.UnregisterFD(fd)
			complete(fired, nil)
		})
		if regErr != nil {
			complete(0, regErr)
		}
	})
	if err != nil {
		// ctx was cancelled (or AwaitCallback's Get otherwise returned
		// early) before the fd fired: drop the now-orphaned registration.
		_ = p.poller.UnregisterFD(fd)
	}
	return ev, err
}

// Cancel unregisters fd from the poller without firing any pending
// AwaitReady callback, for use when a caller abandons a wait through some
// path other than ctx cancellation (e.g. closing the socket).
func (p *Poller) Cancel(fd int) error {
	return p.poller.UnregisterFD(fd)
}
