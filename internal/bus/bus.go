// Package bus tells every view of the patient registry that it changed.
//
// A signal reaches subscribers two ways. Subscribers of the publishing Bus
// are called directly. Every other context learns about it from the storage
// event raised when Publish advances the marker key, since a session never
// sees events for its own writes. Signals carry no payload: subscribers
// re-read the registry.
package bus

import (
	"sync"
	"time"

	"wecare/internal/kvstore"

	"go.uber.org/zap"
)

type Option func(*Bus)

// WithMarkerKey overrides the storage key advanced on every publish.
func WithMarkerKey(key string) Option {
	return func(b *Bus) { b.markerKey = key }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithNow overrides the marker's time source.
func WithNow(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

type subscription struct {
	id       uint64
	callback func()

	mu     sync.Mutex
	active bool
}

func (s *subscription) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Bus is one context's view of the registry update signal.
type Bus struct {
	session   *kvstore.Session
	markerKey string
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu         sync.Mutex
	subs       []*subscription
	nextID     uint64
	lastMarker int64

	detach    func()
	closeOnce sync.Once
}

func New(session *kvstore.Session, opts ...Option) *Bus {
	b := &Bus{
		session:   session,
		markerKey: kvstore.KeyPatientsMarker,
		logger:    zap.NewNop().Sugar(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.detach = session.OnStorage(func(ev kvstore.StorageEvent) {
		if ev.Key != b.markerKey {
			return
		}
		b.deliver()
	})
	return b
}

// Subscribe registers cb for every registry update signal. The returned
// function removes it; calling it more than once is harmless.
func (b *Bus) Subscribe(cb func()) func() {
	sub := &subscription{callback: cb, active: true}

	b.mu.Lock()
	sub.id = b.nextID
	b.nextID++
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

// Publish signals that the registry was just persisted. Local subscribers are
// called before Publish returns; other contexts are reached through the
// marker write. A failed marker write is logged and does not affect local
// delivery.
func (b *Bus) Publish() {
	b.deliver()

	marker := b.nextMarker()
	if err := b.session.Set(b.markerKey, marker); err != nil {
		b.logger.Warnw("Registry update marker not written, other contexts will not be notified",
			"key", b.markerKey, "error", err)
	}
}

// Close detaches the bus from storage events. Local Publish keeps working.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		if b.detach != nil {
			b.detach()
		}
	})
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// nextMarker returns a value strictly greater than the previous one so every
// publish changes the stored bytes, even within one millisecond.
func (b *Bus) nextMarker() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.now().UnixMilli()
	var stored int64
	if b.session.Get(b.markerKey, &stored) && stored > b.lastMarker {
		b.lastMarker = stored
	}
	if m <= b.lastMarker {
		m = b.lastMarker + 1
	}
	b.lastMarker = m
	return m
}

func (b *Bus) remove(sub *subscription) {
	sub.mu.Lock()
	sub.active = false
	sub.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// deliver calls a snapshot of the subscribers. Callbacks may subscribe,
// unsubscribe or publish; one removed mid-delivery is not called.
func (b *Bus) deliver() {
	b.mu.Lock()
	snapshot := make([]*subscription, len(b.subs))
	copy(snapshot, b.subs)
	b.mu.Unlock()

	for _, sub := range snapshot {
		if !sub.isActive() {
			continue
		}
		b.call(sub)
	}
}

func (b *Bus) call(sub *subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("Registry subscriber panicked", "subscription", sub.id, "panic", r)
		}
	}()
	sub.callback()
}
