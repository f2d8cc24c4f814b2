package greenthread

import "context"

// AwaitCallback adapts a completion-based operation — anything that
// invokes a callback exactly once, eventually, such as a reactor timer or
// an internal/netpoll readiness notification — into a synchronous-looking
// suspension point. register is called once, synchronously, and must
// arrange for the complete function it receives to be invoked exactly
// once; AwaitCallback suspends the calling fiber (without consuming an OS
// thread) until that happens, then returns its result inline.
//
// It may only be called from within a fiber.
func AwaitCallback[T any](ctx context.Context, register func(complete func(T, error))) (T, error) {
	requireCurrentFiber("AwaitCallback")

	p := NewPromise[T]()
	fut := p.GetFuture()

	register(func(v T, err error) {
		defer func() { recover() }() // a misbehaving register calling complete twice must not crash the reactor pump
		if err != nil {
			p.SetError(err)
		} else {
			p.SetValue(v)
		}
	})

	return fut.Get(ctx)
}

// FutureCallback adapts a completion-based operation the same way
// AwaitCallback does, but returns a Future immediately instead of
// suspending the caller — for starting several such operations
// concurrently before awaiting any of them. Unlike AwaitCallback, it may
// be called from foreign goroutines as well as fibers.
func FutureCallback[T any](register func(complete func(T, error))) Future[T] {
	p := NewPromise[T]()
	fut := p.GetFuture()

	register(func(v T, err error) {
		defer func() { recover() }()
		if err != nil {
			p.SetError(err)
		} else {
			p.SetValue(v)
		}
	})

	return fut
}
