// Package kvstore is an origin-scoped, best-effort JSON key/value store with
// browsing-context sessions. A write made through one session is announced to
// every other session of the same origin as a StorageEvent, never to the
// writer itself.
package kvstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrQuotaExceeded = errors.New("kvstore: quota exceeded")
	ErrUnavailable   = errors.New("kvstore: storage unavailable")
	ErrClosed        = errors.New("kvstore: session closed")
)

// Backend persists raw values for an origin.
type Backend interface {
	Load(ctx context.Context, origin, key string) ([]byte, bool, error)
	Save(ctx context.Context, origin, key string, value []byte) error
	Delete(ctx context.Context, origin, key string) error
	Keys(ctx context.Context, origin string) ([]string, error)
	// Usage reports the bytes held by an origin, keys included.
	Usage(ctx context.Context, origin string) (int64, error)
}

// Relay is implemented by backends shared between processes. Announce
// broadcasts an event; Subscribe delivers events for origin to fn until the
// returned stop function is called.
type Relay interface {
	Announce(ctx context.Context, ev StorageEvent) error
	Subscribe(ctx context.Context, origin string, fn func(StorageEvent)) (stop func(), err error)
}

// StorageEvent describes a change to one key. NewValue is nil when the key
// was removed.
type StorageEvent struct {
	Origin   string          `json:"origin"`
	Key      string          `json:"key"`
	OldValue json.RawMessage `json:"oldValue,omitempty"`
	NewValue json.RawMessage `json:"newValue,omitempty"`
	Source   string          `json:"source"`
	Instance string          `json:"instance,omitempty"`
}

type Option func(*Store)

// WithQuota bounds the bytes an origin may hold. Zero means unbounded.
func WithQuota(n int64) Option {
	return func(s *Store) { s.quota = n }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeout bounds every backend call.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

type Store struct {
	backend  Backend
	origin   string
	quota    int64
	timeout  time.Duration
	logger   *zap.SugaredLogger
	instance string

	// writeMu serializes read-compare-write so old values and quota
	// accounting stay coherent within this process.
	writeMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	stopRelay func()
}

func New(backend Backend, origin string, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		origin:   origin,
		timeout:  2 * time.Second,
		logger:   zap.NewNop().Sugar(),
		instance: uuid.NewString(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}

	if relay, ok := backend.(Relay); ok {
		ctx, cancel := s.ctx()
		stop, err := relay.Subscribe(ctx, origin, s.receive)
		cancel()
		if err != nil {
			s.logger.Errorw("Storage relay unavailable, cross-process events disabled", "origin", origin, "error", err)
		} else {
			s.stopRelay = stop
		}
	}

	return s
}

func (s *Store) Origin() string { return s.origin }

// Open starts a new browsing context on this origin.
func (s *Store) Open() *Session {
	sess := newSession(uuid.NewString(), s)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sess.Close()
		return sess
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

// Session returns a live session by id.
func (s *Store) Session(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Close stops the relay and closes every session.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	if s.stopRelay != nil {
		s.stopRelay()
	}
	for _, sess := range sessions {
		sess.Close()
	}
}

func (s *Store) forget(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) load(key string) ([]byte, bool) {
	ctx, cancel := s.ctx()
	defer cancel()

	raw, ok, err := s.backend.Load(ctx, s.origin, key)
	if err != nil {
		s.logger.Warnw("Storage read failed", "key", key, "error", err)
		return nil, false
	}
	return raw, ok
}

func (s *Store) keys() []string {
	ctx, cancel := s.ctx()
	defer cancel()

	keys, err := s.backend.Keys(ctx, s.origin)
	if err != nil {
		s.logger.Warnw("Storage key listing failed", "error", err)
		return nil
	}
	sort.Strings(keys)
	return keys
}

// write stores value (nil removes the key) on behalf of source and announces
// the change when the stored bytes actually changed.
func (s *Store) write(source, key string, value []byte) error {
	ctx, cancel := s.ctx()
	defer cancel()

	s.writeMu.Lock()
	old, existed, err := s.backend.Load(ctx, s.origin, key)
	if err != nil {
		s.writeMu.Unlock()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if value == nil {
		if !existed {
			s.writeMu.Unlock()
			return nil
		}
		if err := s.backend.Delete(ctx, s.origin, key); err != nil {
			s.writeMu.Unlock()
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	} else {
		if existed && bytes.Equal(old, value) {
			s.writeMu.Unlock()
			return nil
		}
		if s.quota > 0 {
			used, err := s.backend.Usage(ctx, s.origin)
			if err != nil {
				s.writeMu.Unlock()
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			if existed {
				used -= int64(len(key) + len(old))
			}
			if used+int64(len(key)+len(value)) > s.quota {
				s.writeMu.Unlock()
				return ErrQuotaExceeded
			}
		}
		if err := s.backend.Save(ctx, s.origin, key, value); err != nil {
			s.writeMu.Unlock()
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	s.writeMu.Unlock()

	ev := StorageEvent{
		Origin:   s.origin,
		Key:      key,
		NewValue: value,
		Source:   source,
		Instance: s.instance,
	}
	if existed {
		ev.OldValue = old
	}
	s.dispatch(ev)

	if relay, ok := s.backend.(Relay); ok {
		if err := relay.Announce(ctx, ev); err != nil {
			s.logger.Warnw("Storage event announce failed", "key", key, "error", err)
		}
	}
	return nil
}

// receive handles events relayed from other processes.
func (s *Store) receive(ev StorageEvent) {
	if ev.Instance == s.instance || ev.Origin != s.origin {
		return
	}
	s.dispatch(ev)
}

func (s *Store) dispatch(ev StorageEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, sess := range s.sessions {
		if id == ev.Source {
			continue
		}
		sess.enqueue(ev)
	}
}
