// Package broker is the in-process fan-out from event producers to live
// dashboard connections.
//
// Contract:
//   - Publish never blocks on a subscriber and never fails.
//   - Each subscription has its own bounded FIFO buffer; when it is full the
//     event is dropped for that subscriber only.
//   - After Unsubscribe a subscription yields nothing more, including events
//     that were already buffered.
package broker

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"nybot/internal/events"
	logx "nybot/pkg/logx"
)

const DefaultBuffer = 256

// Broker multiplexes published events to every registered Subscription.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	closed bool

	seq    atomic.Uint64
	buffer int
	log    logx.Logger
}

type Option func(*Broker)

// WithBuffer sets the per-subscription buffer size.
func WithBuffer(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(b *Broker) { b.log = log }
}

func New(opts ...Option) *Broker {
	b := &Broker{subs: map[uint64]*Subscription{}, buffer: DefaultBuffer}
	for _, o := range opts {
		o(b)
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	return b
}

// Subscription is a connection-scoped delivery channel owned by one consumer.
type Subscription struct {
	id   uint64
	ch   chan events.Event
	done chan struct{}
	once sync.Once
}

func (s *Subscription) ID() uint64 { return s.id }

// C yields delivered events in publish order. Consumers must also watch Done.
func (s *Subscription) C() <-chan events.Event { return s.ch }

// Done is closed once the subscription is unregistered.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) closedNow() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Next blocks until an event is delivered, the subscription is unregistered
// or ctx ends. Buffered events are not returned after unregistration.
func (s *Subscription) Next(ctx context.Context) (events.Event, bool) {
	if s.closedNow() {
		return events.Event{}, false
	}
	select {
	case <-ctx.Done():
		return events.Event{}, false
	case <-s.done:
		return events.Event{}, false
	case e := <-s.ch:
		if s.closedNow() {
			return events.Event{}, false
		}
		return e, true
	}
}

// release marks the subscription closed and discards anything still buffered.
func (s *Subscription) release() {
	s.once.Do(func() {
		close(s.done)
		for {
			select {
			case <-s.ch:
			default:
				return
			}
		}
	})
}

// Subscribe registers a new subscription. On a closed broker the returned
// subscription is already done.
func (b *Broker) Subscribe() *Subscription {
	s := &Subscription{
		id:   b.seq.Add(1),
		ch:   make(chan events.Event, b.buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.release()
		return s
	}
	b.subs[s.id] = s
	n := len(b.subs)
	b.mu.Unlock()

	b.log.Debug("subscriber registered", logx.Uint64("sub", s.id), logx.Int("subscribers", n))
	return s
}

// Unsubscribe removes s. Unknown or already removed subscriptions are a no-op.
func (b *Broker) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.subs[s.id]
	delete(b.subs, s.id)
	n := len(b.subs)
	b.mu.Unlock()

	s.release()
	if ok {
		b.log.Debug("subscriber unregistered", logx.Uint64("sub", s.id), logx.Int("subscribers", n))
	}
}

// Len reports the number of registered subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unregisters every subscription. Later Subscribe calls return done
// subscriptions and Publish delivers nothing.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[uint64]*Subscription{}
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.release()
	}
}

// Report summarizes one Publish call.
type Report struct {
	Delivered int
	Dropped   int
}

// Publish delivers e to every subscription registered when the call starts.
func (b *Broker) Publish(e events.Event) Report {
	// Snapshot so Publish doesn't hold the lock while sending.
	b.mu.RLock()
	snap := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		snap = append(snap, s)
	}
	b.mu.RUnlock()
	// Same-call delivery order is registration order.
	slices.SortFunc(snap, func(x, y *Subscription) int { return cmp.Compare(x.id, y.id) })

	var rep Report
	for _, s := range snap {
		out := deliver(s, e)
		if out.Delivered() {
			rep.Delivered++
			continue
		}
		rep.Dropped++
		b.log.Debug("event dropped",
			logx.Uint64("sub", s.id),
			logx.String("type", string(e.Kind())),
			logx.String("reason", string(out.Reason)),
		)
	}
	return rep
}
