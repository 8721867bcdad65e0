package cablelink

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

var errSocketClosed = errors.New("fake socket closed")

// fakeEvent is one entry of the fake server's ordered log. Client commands
// are logged when written, server messages when pushed.
type fakeEvent struct {
	Seq        int
	At         time.Time
	Kind       string // dial, welcome, subscribe, message, unsubscribe, confirm, reject, frame, close
	Identifier string
	Data       string
	Socket     int
}

// fakeServer is an in-memory cable server implementing Dialer.
type fakeServer struct {
	mu        sync.Mutex
	events    []fakeEvent
	sockets   []*fakeSocket
	dialErr   error
	dialGate  chan struct{}
	noWelcome bool

	// messageErr fails every message command write after logging it.
	messageErr error

	// onSubscribe replaces the default immediate confirmation.
	onSubscribe func(sock *fakeSocket, identifier string)
	// onMessage receives every message command.
	onMessage func(sock *fakeSocket, identifier string, data string)
}

func newFakeServer() *fakeServer {
	return &fakeServer{}
}

func (s *fakeServer) Dial(ctx context.Context, rawURL string) (Socket, error) {
	s.mu.Lock()
	gate := s.dialGate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	err := s.dialErr
	noWelcome := s.noWelcome
	var sock *fakeSocket
	if err == nil {
		sock = &fakeSocket{
			srv:    s,
			id:     len(s.sockets),
			inbox:  make(chan []byte, 64),
			closed: make(chan struct{}),
		}
		s.sockets = append(s.sockets, sock)
	}
	s.mu.Unlock()

	s.record(fakeEvent{Kind: "dial", Data: rawURL})
	if err != nil {
		return nil, err
	}
	if !noWelcome {
		sock.welcome()
	}
	return sock, nil
}

func (s *fakeServer) record(e fakeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.Seq = len(s.events)
	e.At = time.Now()
	s.events = append(s.events, e)
}

func (s *fakeServer) log() []fakeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]fakeEvent, len(s.events))
	copy(cp, s.events)
	return cp
}

func (s *fakeServer) eventsOf(kind string) []fakeEvent {
	var out []fakeEvent
	for _, e := range s.log() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeServer) count(kind string) int {
	return len(s.eventsOf(kind))
}

func (s *fakeServer) socket(i int) *fakeSocket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.sockets) {
		return nil
	}
	return s.sockets[i]
}

func (s *fakeServer) socketCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}

type fakeSocket struct {
	srv    *fakeServer
	id     int
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

func (f *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case <-f.closed:
		return nil, errSocketClosed
	default:
	}
	select {
	case data := <-f.inbox:
		return data, nil
	case <-f.closed:
		return nil, errSocketClosed
	}
}

func (f *fakeSocket) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return errSocketClosed
	default:
	}

	var cmd cableCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return err
	}
	f.srv.record(fakeEvent{Kind: cmd.Command, Identifier: cmd.Identifier, Data: cmd.Data, Socket: f.id})

	f.srv.mu.Lock()
	onSubscribe := f.srv.onSubscribe
	onMessage := f.srv.onMessage
	messageErr := f.srv.messageErr
	f.srv.mu.Unlock()

	if cmd.Command == commandMessage && messageErr != nil {
		return messageErr
	}

	switch cmd.Command {
	case commandSubscribe:
		if onSubscribe != nil {
			onSubscribe(f, cmd.Identifier)
		} else {
			f.confirm(cmd.Identifier)
		}
	case commandMessage:
		if onMessage != nil {
			onMessage(f, cmd.Identifier, cmd.Data)
		}
	}
	return nil
}

func (f *fakeSocket) Close() error {
	f.once.Do(func() {
		close(f.closed)
		f.srv.record(fakeEvent{Kind: "close", Socket: f.id})
	})
	return nil
}

// kill drops the socket from the server side.
func (f *fakeSocket) kill() {
	f.once.Do(func() {
		close(f.closed)
	})
}

func (f *fakeSocket) push(kind, identifier string, msg cableMessage) {
	data, _ := json.Marshal(msg)
	f.srv.record(fakeEvent{Kind: kind, Identifier: identifier, Data: string(data), Socket: f.id})
	f.inbox <- data
}

func (f *fakeSocket) pushRaw(data string) {
	f.inbox <- []byte(data)
}

func (f *fakeSocket) welcome() {
	f.push("welcome", "", cableMessage{Type: typeWelcome})
}

func (f *fakeSocket) confirm(identifier string) {
	f.push("confirm", identifier, cableMessage{Type: typeConfirm, Identifier: identifier})
}

func (f *fakeSocket) reject(identifier string) {
	f.push("reject", identifier, cableMessage{Type: typeReject, Identifier: identifier})
}

func (f *fakeSocket) frame(identifier, body string) {
	f.push("frame", identifier, cableMessage{Identifier: identifier, Message: json.RawMessage(body)})
}

// recorder collects the events of one stream.
type recorder struct {
	mu        sync.Mutex
	results   []*Result
	errs      []error
	completes int
	order     []string
}

func (r *recorder) observer() Observer {
	return Observer{
		Next: func(res *Result) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.results = append(r.results, res)
			r.order = append(r.order, "next")
		},
		Error: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
			r.order = append(r.order, "error")
		},
		Complete: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completes++
			r.order = append(r.order, "complete")
		},
	}
}

func (r *recorder) snapshot() (results []*Result, errs []error, completes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Result(nil), r.results...), append([]error(nil), r.errs...), r.completes
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recorder) terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)+r.completes > 0
}

// stateLog records broadcast states.
type stateLog struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (l *stateLog) listener(s ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) snapshot() []ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnectionState(nil), l.states...)
}

func (l *stateLog) contains(s ConnectionState) bool {
	for _, got := range l.snapshot() {
		if got == s {
			return true
		}
	}
	return false
}

// faultLog is an ErrorHandler that keeps every fault.
type faultLog struct {
	mu     sync.Mutex
	faults []SDKError
}

func (f *faultLog) handler(e SDKError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, e)
}

func (f *faultLog) kinds() []ErrorKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ErrorKind
	for _, e := range f.faults {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	srv     *fakeServer
	states  *Broadcaster
	faults  *faultLog
	manager *Manager
	link    *cableLink
}

func newHarness(t *testing.T, srv *fakeServer, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		srv:    srv,
		states: NewBroadcaster(),
		faults: &faultLog{},
	}
	base := []Option{
		WithDialer(srv),
		WithBroadcaster(h.states),
		WithErrorHandler(h.faults.handler),
	}
	h.manager = NewManager("ws://cable.test/cable", nil, append(base, opts...)...)
	h.link = &cableLink{manager: h.manager, channel: DefaultChannel}
	t.Cleanup(h.manager.Release)
	return h
}

func (h *harness) run(op Operation) (*Subscription, *recorder) {
	rec := &recorder{}
	return h.link.Execute(op).Subscribe(rec.observer()), rec
}

// executeData decodes the payload of a message command.
func executeData(t *testing.T, data string) executePayload {
	t.Helper()
	var p executePayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("decode payload %q: %v", data, err)
	}
	return p
}

func channelID(t *testing.T, identifier string) channelIdentifier {
	t.Helper()
	var id channelIdentifier
	if err := json.NewDecoder(strings.NewReader(identifier)).Decode(&id); err != nil {
		t.Fatalf("decode identifier %q: %v", identifier, err)
	}
	return id
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func jsonUnmarshalString(s string, v any) error {
	return json.Unmarshal([]byte(s), v)
}
