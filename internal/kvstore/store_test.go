package kvstore

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan StorageEvent) StorageEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for storage event")
		return StorageEvent{}
	}
}

func expectNone(t *testing.T, ch <-chan StorageEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected storage event for key %q", ev.Key)
	case <-time.After(50 * time.Millisecond):
	}
}

func listen(s *Session) (<-chan StorageEvent, func()) {
	ch := make(chan StorageEvent, 16)
	off := s.OnStorage(func(ev StorageEvent) { ch <- ev })
	return ch, off
}

func TestGetMissingKeyIsEmpty(t *testing.T) {
	store := New(NewMemoryBackend(), "test.local")
	defer store.Close()
	s := store.Open()

	var v []string
	if s.Get("nothing", &v) {
		t.Fatal("expected missing key to report false")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	store := New(NewMemoryBackend(), "test.local")
	defer store.Close()
	s := store.Open()

	if err := s.Set("list", []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	var got []string
	if !s.Get("list", &got) {
		t.Fatal("expected value")
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected value %v", got)
	}
}

func TestStorageEventSkipsWriter(t *testing.T) {
	store := New(NewMemoryBackend(), "test.local")
	defer store.Close()
	a, b := store.Open(), store.Open()

	aEvents, _ := listen(a)
	bEvents, _ := listen(b)

	if err := a.Set("k", 1); err != nil {
		t.Fatal(err)
	}

	ev := recv(t, bEvents)
	if ev.Key != "k" || string(ev.NewValue) != "1" || ev.Source != a.ID() {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.OldValue != nil {
		t.Fatalf("expected no old value, got %s", ev.OldValue)
	}
	expectNone(t, aEvents)
}

func TestIdenticalWriteEmitsNothing(t *testing.T) {
	store := New(NewMemoryBackend(), "test.local")
	defer store.Close()
	a, b := store.Open(), store.Open()
	bEvents, _ := listen(b)

	if err := a.Set("k", "same"); err != nil {
		t.Fatal(err)
	}
	recv(t, bEvents)

	if err := a.Set("k", "same"); err != nil {
		t.Fatal(err)
	}
	expectNone(t, bEvents)
}

func TestRemoveEmitsEventOnlyWhenPresent(t *testing.T) {
	store := New(NewMemoryBackend(), "test.local")
	defer store.Close()
	a, b := store.Open(), store.Open()
	bEvents, _ := listen(b)

	if err := a.Remove("ghost"); err != nil {
		t.Fatal(err)
	}
	expectNone(t, bEvents)

	a.Set("k", true)
	recv(t, bEvents)
	if err := a.Remove("k"); err != nil {
		t.Fatal(err)
	}
	ev := recv(t, bEvents)
	if ev.NewValue != nil || string(ev.OldValue) != "true" {
		t.Fatalf("unexpected removal event %+v", ev)
	}
}

func TestQuotaExceededKeepsOldValue(t *testing.T) {
	store := New(NewMemoryBackend(), "test.local", WithQuota(32))
	defer store.Close()
	s := store.Open()

	if err := s.Set("k", "small"); err != nil {
		t.Fatal(err)
	}
	err := s.Set("k", strings.Repeat("x", 64))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	var got string
	if !s.Get("k", &got) || got != "small" {
		t.Fatalf("expected old value to survive, got %q", got)
	}
}

func TestOfflineBackendReadsEmpty(t *testing.T) {
	backend := NewMemoryBackend()
	store := New(backend, "test.local")
	defer store.Close()
	s := store.Open()
	s.Set("k", 1)

	backend.SetOffline(true)
	var v int
	if s.Get("k", &v) {
		t.Fatal("expected offline read to report empty")
	}
	if err := s.Set("k", 2); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if s.Keys() != nil {
		t.Fatal("expected nil keys while offline")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	store := New(NewMemoryBackend(), "test.local")
	defer store.Close()
	a, b := store.Open(), store.Open()
	bEvents, off := listen(b)

	off()
	off()
	a.Set("k", 1)
	expectNone(t, bEvents)
}

func TestListenerPanicDoesNotStopDispatch(t *testing.T) {
	store := New(NewMemoryBackend(), "test.local")
	defer store.Close()
	a, b := store.Open(), store.Open()

	b.OnStorage(func(StorageEvent) { panic("boom") })
	bEvents, _ := listen(b)

	a.Set("k", 1)
	recv(t, bEvents)
	a.Set("k", 2)
	recv(t, bEvents)
}

func TestClosedSessionRejectsWrites(t *testing.T) {
	store := New(NewMemoryBackend(), "test.local")
	defer store.Close()
	s := store.Open()
	s.Close()
	s.Close()

	if err := s.Set("k", 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, ok := store.Session(s.ID()); ok {
		t.Fatal("closed session should be forgotten by the store")
	}
}

func TestRelayAcrossStores(t *testing.T) {
	backend := NewMemoryBackend()
	one := New(backend, "test.local")
	defer one.Close()
	two := New(backend, "test.local")
	defer two.Close()
	other := New(backend, "elsewhere.local")
	defer other.Close()

	writer := one.Open()
	sibling := one.Open()
	remote := two.Open()
	stranger := other.Open()

	siblingEvents, _ := listen(sibling)
	remoteEvents, _ := listen(remote)
	strangerEvents, _ := listen(stranger)
	writerEvents, _ := listen(writer)

	if err := writer.Set("k", "v"); err != nil {
		t.Fatal(err)
	}

	recv(t, siblingEvents)
	ev := recv(t, remoteEvents)
	if ev.Source != writer.ID() {
		t.Fatalf("expected source %s, got %s", writer.ID(), ev.Source)
	}
	expectNone(t, siblingEvents)
	expectNone(t, writerEvents)
	expectNone(t, strangerEvents)
}
