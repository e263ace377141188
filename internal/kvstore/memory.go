package kvstore

import (
	"context"
	"errors"
	"sync"
)

var errMemoryOffline = errors.New("memory backend offline")

// MemoryBackend keeps values in process memory. Several Stores sharing one
// MemoryBackend behave like separate processes sharing storage: it relays
// events between them.
type MemoryBackend struct {
	mu      sync.Mutex
	data    map[string]map[string][]byte
	offline bool

	lmu       sync.Mutex
	listeners map[int]memoryListener
	nextID    int
}

type memoryListener struct {
	origin string
	fn     func(StorageEvent)
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:      make(map[string]map[string][]byte),
		listeners: make(map[int]memoryListener),
	}
}

// SetOffline makes every call fail until reset, emulating disabled storage.
func (m *MemoryBackend) SetOffline(offline bool) {
	m.mu.Lock()
	m.offline = offline
	m.mu.Unlock()
}

func (m *MemoryBackend) Load(_ context.Context, origin, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return nil, false, errMemoryOffline
	}
	v, ok := m.data[origin][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *MemoryBackend) Save(_ context.Context, origin, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return errMemoryOffline
	}
	bucket, ok := m.data[origin]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[origin] = bucket
	}
	bucket[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, origin, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return errMemoryOffline
	}
	delete(m.data[origin], key)
	return nil
}

func (m *MemoryBackend) Keys(_ context.Context, origin string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return nil, errMemoryOffline
	}
	keys := make([]string, 0, len(m.data[origin]))
	for k := range m.data[origin] {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *MemoryBackend) Usage(_ context.Context, origin string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offline {
		return 0, errMemoryOffline
	}
	var n int64
	for k, v := range m.data[origin] {
		n += int64(len(k) + len(v))
	}
	return n, nil
}

func (m *MemoryBackend) Announce(_ context.Context, ev StorageEvent) error {
	m.lmu.Lock()
	var fns []func(StorageEvent)
	for _, l := range m.listeners {
		if l.origin == ev.Origin {
			fns = append(fns, l.fn)
		}
	}
	m.lmu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	return nil
}

func (m *MemoryBackend) Subscribe(_ context.Context, origin string, fn func(StorageEvent)) (func(), error) {
	m.lmu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = memoryListener{origin: origin, fn: fn}
	m.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.lmu.Lock()
			delete(m.listeners, id)
			m.lmu.Unlock()
		})
	}, nil
}
