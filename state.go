package cablelink

import (
	"fmt"
	"slices"
	"sync"
)

// ConnectionState is the health of the shared cable connection as seen by the
// rest of the application.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

var stateNames = [...]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateError:        "error",
}

func (s ConnectionState) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("ConnectionState(%d)", s)
}

// StateListener receives every connection state transition.
type StateListener func(ConnectionState)

type listener struct {
	fn      StateListener
	removed bool // guarded by Broadcaster.mu
}

// Broadcaster holds the current ConnectionState and fans every transition out
// to its listeners synchronously, in registration order.
//
// Listeners may call back into the Broadcaster or into anything that announces
// states, such as Reconnect or Close. A transition announced while a broadcast
// is running is queued and delivered once the running broadcast has reached
// every listener, so all listeners observe transitions in one order.
type Broadcaster struct {
	mu        sync.Mutex
	state     ConnectionState
	listeners []*listener
	queue     []func()
	draining  bool
}

// NewBroadcaster returns a Broadcaster in StateDisconnected with no listeners.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{state: StateDisconnected}
}

var defaultBroadcaster = NewBroadcaster()

// DefaultBroadcaster returns the process-wide Broadcaster used by clients that
// were not given one with WithBroadcaster.
func DefaultBroadcaster() *Broadcaster {
	return defaultBroadcaster
}

// SetState overwrites the current state and invokes every listener with it.
// It broadcasts even when the value does not change. Called from a listener,
// it returns before the nested broadcast is delivered.
func (b *Broadcaster) SetState(s ConnectionState) {
	b.post(s)
	b.flush()
}

// post records s and queues its broadcast without delivering it. Callers that
// must order announcements under their own lock post under it and flush after
// releasing it.
func (b *Broadcaster) post(s ConnectionState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = s
	b.queue = append(b.queue, func() { b.broadcast(s) })
}

func (b *Broadcaster) broadcast(s ConnectionState) {
	b.mu.Lock()
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		b.mu.Lock()
		removed := l.removed
		b.mu.Unlock()
		if !removed {
			l.fn(s)
		}
	}
}

// flush delivers queued broadcasts unless another call is already doing so,
// in which case that call delivers them.
func (b *Broadcaster) flush() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	for len(b.queue) > 0 {
		job := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		job()
		b.mu.Lock()
	}
	b.draining = false
	b.mu.Unlock()
}

// State returns the current value.
func (b *Broadcaster) State() ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribe registers fn, calls it once with the current state and returns a
// function that removes it. The returned function is safe to call repeatedly.
// Called while a broadcast is running, registration and the first call
// happen after that broadcast completes.
func (b *Broadcaster) Subscribe(fn StateListener) (unsubscribe func()) {
	l := &listener{fn: fn}

	b.mu.Lock()
	b.queue = append(b.queue, func() {
		b.mu.Lock()
		if l.removed {
			b.mu.Unlock()
			return
		}
		b.listeners = append(b.listeners, l)
		current := b.state
		b.mu.Unlock()
		fn(current)
	})
	b.mu.Unlock()
	b.flush()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(l) })
	}
}

func (b *Broadcaster) remove(l *listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l.removed = true
	if i := slices.Index(b.listeners, l); i >= 0 {
		b.listeners = slices.Delete(b.listeners, i, i+1)
	}
}

// listenerCount is used by tests.
func (b *Broadcaster) listenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
