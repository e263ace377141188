package kvstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Session is one browsing context. Its storage listeners run sequentially on
// the session's own goroutine, in the order events were queued.
type Session struct {
	id    string
	store *Store

	mu        sync.Mutex
	listeners map[uint64]func(StorageEvent)
	nextID    uint64
	queue     []StorageEvent
	closed    bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, store *Store) *Session {
	s := &Session{
		id:        id,
		store:     store,
		listeners: make(map[uint64]func(StorageEvent)),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Origin() string { return s.store.origin }

// Get decodes the value stored under key into dst. It reports false when the
// key is absent, the value does not decode, or storage cannot be read.
func (s *Session) Get(key string, dst any) bool {
	raw, ok := s.GetRaw(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.store.logger.Warnw("Stored value does not decode", "key", key, "error", err)
		return false
	}
	return true
}

// GetRaw returns the stored JSON for key.
func (s *Session) GetRaw(key string) (json.RawMessage, bool) {
	if s.isClosed() {
		return nil, false
	}
	raw, ok := s.store.load(key)
	if !ok {
		return nil, false
	}
	return json.RawMessage(raw), true
}

// Set stores v as JSON. Failures leave the previous value in place.
func (s *Session) Set(key string, v any) error {
	if s.isClosed() {
		return ErrClosed
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: encode %q: %w", key, err)
	}
	return s.store.write(s.id, key, raw)
}

// SetRaw stores already-encoded JSON.
func (s *Session) SetRaw(key string, raw json.RawMessage) error {
	if s.isClosed() {
		return ErrClosed
	}
	if !json.Valid(raw) {
		return fmt.Errorf("kvstore: value for %q is not valid JSON", key)
	}
	return s.store.write(s.id, key, []byte(raw))
}

// Remove deletes key. Removing a missing key is a no-op.
func (s *Session) Remove(key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	return s.store.write(s.id, key, nil)
}

// Keys lists the origin's keys, sorted. Nil when storage cannot be read.
func (s *Session) Keys() []string {
	if s.isClosed() {
		return nil
	}
	return s.store.keys()
}

// OnStorage registers fn for changes written by other sessions. The returned
// function unregisters it and may be called any number of times.
func (s *Session) OnStorage(fn func(StorageEvent)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Close detaches the session from its store and stops dispatch.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()

		close(s.done)
		s.store.forget(s.id)
	})
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) enqueue(ev StorageEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.drain()
		}
	}
}

func (s *Session) drain() {
	for {
		s.mu.Lock()
		if s.closed || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]

		ids := make([]uint64, 0, len(s.listeners))
		for id := range s.listeners {
			ids = append(ids, id)
		}
		s.mu.Unlock()

		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			s.mu.Lock()
			fn, ok := s.listeners[id]
			s.mu.Unlock()
			if !ok {
				continue
			}
			s.deliver(fn, ev)
		}
	}
}

func (s *Session) deliver(fn func(StorageEvent), ev StorageEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.store.logger.Errorw("Storage listener panicked", "session", s.id, "key", ev.Key, "panic", r)
		}
	}()
	fn(ev)
}
