package emit

import (
	"context"
	"sync"
)

// Subscription is a mode-filtered channel of events, returned by
// Multiplexer.Subscribe. Callers range over C until Close is called or the
// multiplexer itself is closed.
type Subscription struct {
	C      <-chan Event
	c      chan Event
	modes  map[Mode]bool
	closed bool
	mu     sync.Mutex
}

func (s *Subscription) accepts(mode Mode) bool {
	if len(s.modes) == 0 {
		return true
	}
	return s.modes[mode]
}

// Close stops delivery to this subscription and releases its channel.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.c)
}

// Multiplexer implements Emitter by fanning each event out to every
// mode-filtered Subscription registered with it, in addition to forwarding
// to an optional downstream Emitter (typically a LogEmitter/ZapEmitter or
// BufferedEmitter for persistent history). Subscribers that fall behind do
// not block the run: a full subscription channel drops the event rather
// than stalling the scheduler goroutine, matching the teacher's
// Emitter-must-not-block-execution contract.
type Multiplexer struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	next Emitter
}

// NewMultiplexer returns a Multiplexer that also forwards every event to
// downstream (pass nil or NewNullEmitter() for none).
func NewMultiplexer(downstream Emitter) *Multiplexer {
	if downstream == nil {
		downstream = NewNullEmitter()
	}
	return &Multiplexer{subs: make(map[*Subscription]struct{}), next: downstream}
}

// Subscribe registers a new Subscription filtered to modes. An empty modes
// set receives every event, matching Runtime.Stream's "stream_mode" param
// being omitted meaning "all modes".
func (m *Multiplexer) Subscribe(modes ...Mode) *Subscription {
	set := make(map[Mode]bool, len(modes))
	for _, mo := range modes {
		set[mo] = true
	}
	ch := make(chan Event, 64)
	sub := &Subscription{C: ch, c: ch, modes: set}

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()
	return sub
}

// Unsubscribe removes sub from future delivery and closes its channel.
func (m *Multiplexer) Unsubscribe(sub *Subscription) {
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
	sub.Close()
}

// Emit implements Emitter: forwards to downstream, then fans out to every
// subscription whose mode filter accepts event.Mode.
func (m *Multiplexer) Emit(event Event) {
	m.next.Emit(event)
	m.fanOut(event)
}

func (m *Multiplexer) fanOut(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		if !sub.accepts(event.Mode) {
			continue
		}
		select {
		case sub.c <- event:
		default:
			// subscriber too slow, drop rather than block the run
		}
	}
}

// EmitBatch implements Emitter by fanning each event out to subscribers and
// forwarding the whole batch downstream once.
func (m *Multiplexer) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range events {
		m.fanOut(e)
	}
	return m.next.EmitBatch(ctx, events)
}

// Flush implements Emitter by delegating to the downstream emitter.
func (m *Multiplexer) Flush(ctx context.Context) error {
	return m.next.Flush(ctx)
}

// Close unsubscribes and closes every live subscription, for use at run
// shutdown so Stream callers' range loops terminate.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subs {
		sub.Close()
	}
	m.subs = make(map[*Subscription]struct{})
}
