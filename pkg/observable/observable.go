// Package observable provides the cold, cancellable, single-producer /
// single-consumer stream primitive used throughout Lens: the execution
// engine, the operation log's change feed, and the protocol handler all
// speak this one vocabulary.
package observable

import "sync"

// Observer receives values from a subscription. Next, Error and Complete
// are all optional — a nil field is simply not invoked.
type Observer[T any] struct {
	Next     func(T)
	Error    func(error)
	Complete func()
}

// Subscription is returned by Subscribe. Unsubscribe is idempotent and,
// once it returns, the producer has run every registered cleanup before
// doing any further wall-clock work.
type Subscription struct {
	unsubscribe func()
	once        sync.Once
}

// Unsubscribe tears down the subscription. Safe to call more than once;
// only the first call has any effect.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// Producer is invoked fresh for every Subscribe call. It receives the
// sink (already guarded against post-terminal and post-unsubscribe
// sends) and must return a cleanup function, which may be nil.
type Producer[T any] func(sink Sink[T]) func()

// Sink is the producer-facing half of an Observer: calling Next, Error
// or Complete after a terminal event or after Unsubscribe is a no-op.
type Sink[T any] struct {
	next     func(T)
	err      func(error)
	complete func()
}

func (s Sink[T]) Next(v T)       { s.next(v) }
func (s Sink[T]) Error(err error) { s.err(err) }
func (s Sink[T]) Complete()      { s.complete() }

// Observable is a cold stream: every Subscribe call triggers a fresh
// invocation of the producer — there is no sharing between subscribers.
type Observable[T any] struct {
	produce Producer[T]
}

// New builds an Observable from a producer function.
func New[T any](produce Producer[T]) Observable[T] {
	return Observable[T]{produce: produce}
}

// Subscribe triggers a fresh producer invocation for this Observer.
// After Error or Complete is delivered, no further Next/Error/Complete
// reaches the observer. The producer's cleanup runs when Unsubscribe is
// called; Error or Complete alone does not run it.
func (o Observable[T]) Subscribe(observer Observer[T]) *Subscription {
	var mu sync.Mutex
	terminated := false
	unsubscribed := false

	guard := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		if terminated || unsubscribed {
			return
		}
		fn()
	}

	sink := Sink[T]{
		next: func(v T) {
			guard(func() {
				if observer.Next != nil {
					observer.Next(v)
				}
			})
		},
		err: func(e error) {
			guard(func() {
				terminated = true
				if observer.Error != nil {
					observer.Error(e)
				}
			})
		},
		complete: func() {
			guard(func() {
				terminated = true
				if observer.Complete != nil {
					observer.Complete()
				}
			})
		},
	}

	var cleanup func()
	if o.produce != nil {
		cleanup = o.produce(sink)
	}

	sub := &Subscription{}
	sub.unsubscribe = func() {
		mu.Lock()
		unsubscribed = true
		mu.Unlock()
		if cleanup != nil {
			cleanup()
		}
	}
	return sub
}

// FirstValueFrom resolves to the first emitted value and auto-unsubscribes.
// If the observable errors or completes before emitting, it returns the
// error (or ErrNoValue on a clean completion with nothing emitted).
func FirstValueFrom[T any](o Observable[T]) (T, error) {
	var (
		mu       sync.Mutex
		got      T
		gotOK    bool
		doneCh   = make(chan struct{})
		closeOne sync.Once
		outErr   error
	)
	closeDone := func() { closeOne.Do(func() { close(doneCh) }) }

	sub := o.Subscribe(Observer[T]{
		Next: func(v T) {
			mu.Lock()
			if !gotOK {
				got = v
				gotOK = true
			}
			mu.Unlock()
			closeDone()
		},
		Error: func(err error) {
			mu.Lock()
			outErr = err
			mu.Unlock()
			closeDone()
		},
		Complete: func() {
			closeDone()
		},
	})
	<-doneCh
	sub.Unsubscribe()

	mu.Lock()
	defer mu.Unlock()
	if gotOK {
		return got, nil
	}
	if outErr != nil {
		var zero T
		return zero, outErr
	}
	var zero T
	return zero, ErrNoValue
}
