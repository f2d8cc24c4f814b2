//go:build windows

package netpoll

import (
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Maximum file descriptor we support with direct indexing.
const maxFDs = 65536

// MaxFDLimit is the maximum FD value we support for dynamic growth.
// 100M is enough for production with high FD limits.
const MaxFDLimit = 100000000

// IOEvents represents the type of I/O events to monitor.
type IOEvents uint32

const (
	EventRead IOEvents = 1 << iota
	EventWrite
	EventError
	EventHangup
)

var (
	ErrFDOutOfRange        = errors.New("eventloop: fd out of range (max 100000000)")
	ErrFDAlreadyRegistered = errors.New("eventloop: fd already registered")
	ErrFDNotRegistered     = errors.New("eventloop: fd not registered")
	ErrPollerClosed        = errors.New("eventloop: poller closed")
)

// IOCallback is the callback type for I/O events.
type IOCallback func(IOEvents)

// fdInfo stores per-FD callback information.
type fdInfo struct {
	callback IOCallback
	events   IOEvents
	active   bool
}

// ioState represents I/O state for a registered handle.
// This structure is passed to IOCP and returned in completion packets.
type ioState struct {
	fd     int            // File descriptor (handle in Windows context)
	events IOEvents       // Events being monitored
	data   unsafe.Pointer // User data
}

// FastPoller manages I/O event registration using IOCP (Windows).
//
// PERFORMANCE: Uses RWMutex for fdInfo access. The mutex is only held briefly
// during registration/callback dispatch. Uses IOCP for efficient I/O notification.
type FastPoller struct { // betteralign:ignore
	_        [64]byte       // Cache line padding //nolint:unused
	iocp     windows.Handle // IOCP handle
	_        [56]byte       // Pad to cache line //nolint:unused
	wakeSock windows.Socket // Socket for wake-up mechanism
	fds      []fdInfo       // Dynamic slice, grows on demand
	fdMu     sync.RWMutex   // Protects fds array access
	closed   atomic.Bool
}

// Init initializes the IOCP instance.
func (p *FastPoller) Init() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}

	// Create IO completion port
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return err
	}
	p.iocp = iocp

	// Create wake-up socket pair
	// We use a temporary socket for waking up IOCP
	wakeSock, err := windows.Socket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		_ = windows.CloseHandle(iocp)
		return err
	}
	p.wakeSock = wakeSock

	// Associate wake socket with IOCP (for PostQueuedCompletionStatus waking)
	_, err = windows.CreateIoCompletionPort(wakeSock, iocp, 0, 0)
	if err != nil {
		_ = windows.CloseHandle(wakeSock)
		_ = windows.CloseHandle(iocp)
		return err
	}

	p.fds = make([]fdInfo, maxFDs)

	return nil
}

// Close closes the IOCP instance and associated resources.
func (p *FastPoller) Close() error {
	p.closed.Store(true)
	if p.iocp != 0 {
		_ = windows.CloseHandle(p.iocp)
	}
	if p.wakeSock != windows.InvalidHandle {
		_ = windows.Closesocket(p.wakeSock)
	}
	return nil
}

// RegisterFD registers a file descriptor for I/O event monitoring.
func (p *FastPoller) RegisterFD(fd int, events IOEvents, cb IOCallback) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= MaxFDLimit {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) {
		newSize := fd*2 + 1
		if newSize > MaxFDLimit {
			newSize = MaxFDLimit + 1
		}
		newFds := make([]fdInfo, newSize)
		copy(newFds, p.fds)
		p.fds = newFds
	}

	if p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDAlreadyRegistered
	}

	p.fds[fd] = fdInfo{callback: cb, events: events, active: true}
	p.fdMu.Unlock()

	// Associate the handle with IOCP
	handle := windows.Handle(fd)
	_, err := windows.CreateIoCompletionPort(handle, p.iocp, 0, 0)
	if err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdInfo{} // Rollback
		p.fdMu.Unlock()
		return err
	}

	return nil
}

// UnregisterFD removes a file descriptor from monitoring by clearing its
// fdInfo under fdMu. On Windows, dispatchEvents never invokes registered
// callbacks, so there are no in-flight callbacks for it to race with.
func (p *FastPoller) UnregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}

	p.fds[fd] = fdInfo{}
	p.fdMu.Unlock()

	// On Windows, we don't need to explicitly remove the association
	// Closing the handle will automatically remove it from IOCP
	return nil
}

// ModifyFD updates the events being monitored for a file descriptor.
func (p *FastPoller) ModifyFD(fd int, events IOEvents) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return ErrFDNotRegistered
	}

	p.fds[fd].events = events
	p.fdMu.Unlock()

	// On IOCP, changes to event monitoring are handled via the
	// actual I/O operations posted (WSASend/WSARecv), which are
	// managed by the user code. We just update our tracking here.

	return nil
}

// PollIO polls for I/O events using IOCP.
func (p *FastPoller) PollIO(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	var timeout *uint32
	if timeoutMs >= 0 {
		t := uint32(timeoutMs)
		timeout = &t
	}

	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped

	// Wait for completion notification
	err := windows.GetQueuedCompletionStatus(p.iocp, &bytes, &key, &overlapped, timeout)
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			if errno == windows.WAIT_TIMEOUT {
				return 0, nil
			}
			if errno == windows.ERROR_ABANDONED_WAIT_0 || errno == windows.ERROR_INVALID_HANDLE {
				return 0, ErrPollerClosed
			}
		}
		return 0, err
	}

	if overlapped == nil {
		// This is a wake-up notification (via PostQueuedCompletionStatus)
		return 0, nil
	}

	// For simplicity in this implementation, we dispatch a generic event
	// A more sophisticated implementation would track per-FD state
	p.dispatchEvents(1)

	return 1, nil
}

// dispatchEvents does not look up any fdInfo and does not invoke any
// registered callback; its loop body is empty.
func (p *FastPoller) dispatchEvents(n int) {
	for i := 0; i < n; i++ {
		// In a full implementation, we would extract the FD from overlapping
		// and look up the corresponding fdInfo
		// For now, this is a simplified implementation
	}
}

// Wakeup wakes up the poller from another thread.
func (p *FastPoller) Wakeup() error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	return windows.PostQueuedCompletionStatus(p.iocp, 0, 0, nil)
}
