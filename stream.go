package cablelink

import (
	"context"
	"sync"
)

// Observer receives the events of one Stream subscription. Any field may be
// nil. At most one of Error and Complete is called, and nothing follows it.
//
// Callbacks usually run on the connection's reader goroutine and may call
// Unsubscribe. An event that another goroutine was already delivering when
// Unsubscribe was called may still reach the observer; every later event is
// dropped.
type Observer struct {
	Next     func(*Result)
	Error    func(error)
	Complete func()
}

// Producer starts work for an observer and returns the teardown that stops it.
type Producer func(Observer) (teardown func())

// Stream is a cancellable push sequence of results. Work starts when
// Subscribe is called, once per call.
type Stream struct {
	produce Producer
}

// NewStream wraps produce as a Stream.
func NewStream(produce Producer) *Stream {
	return &Stream{produce: produce}
}

// ErrorStream returns a Stream that fails immediately with err.
func ErrorStream(err error) *Stream {
	return NewStream(func(o Observer) func() {
		o.Error(err)
		return nil
	})
}

// Subscribe starts the stream. The returned Subscription cancels it.
func (s *Stream) Subscribe(o Observer) *Subscription {
	sub := &Subscription{observer: o}
	teardown := s.produce(sub.sink())

	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		if teardown != nil {
			teardown()
		}
		return sub
	}
	sub.teardown = teardown
	sub.mu.Unlock()
	return sub
}

// Collect subscribes and gathers every result until the stream completes or
// fails. When ctx ends first the stream is cancelled and ctx.Err() returned
// with the results seen so far.
func (s *Stream) Collect(ctx context.Context) ([]*Result, error) {
	var (
		mu      sync.Mutex
		results []*Result
	)
	done := make(chan error, 1)

	sub := s.Subscribe(Observer{
		Next: func(r *Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
		Error:    func(err error) { done <- err },
		Complete: func() { done <- nil },
	})

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		sub.Unsubscribe()
		err = ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return results, err
}

// Subscription is the handle to one running stream.
type Subscription struct {
	observer Observer

	mu       sync.Mutex
	closed   bool
	teardown func()
}

// Unsubscribe stops delivery and runs the teardown. Calling it again, or
// after the stream ended, does nothing. It does not wait for an event that is
// being delivered concurrently.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	teardown := s.teardown
	s.teardown = nil
	s.mu.Unlock()

	if teardown != nil {
		teardown()
	}
}

// Closed reports whether the stream ended or was cancelled.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscription) sink() Observer {
	return Observer{
		Next: s.next,
		Error: func(err error) {
			s.terminate(func() {
				if s.observer.Error != nil {
					s.observer.Error(err)
				}
			})
		},
		Complete: func() {
			s.terminate(func() {
				if s.observer.Complete != nil {
					s.observer.Complete()
				}
			})
		},
	}
}

func (s *Subscription) next(r *Result) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.observer.Next == nil {
		return
	}
	s.observer.Next(r)
}

func (s *Subscription) terminate(event func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	teardown := s.teardown
	s.teardown = nil
	s.mu.Unlock()

	event()
	if teardown != nil {
		teardown()
	}
}
