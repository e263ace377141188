package bus

import (
	"sync/atomic"
	"testing"
	"time"

	"wecare/internal/kvstore"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newStore(t *testing.T) (*kvstore.Store, *kvstore.MemoryBackend) {
	backend := kvstore.NewMemoryBackend()
	store := kvstore.New(backend, "test.local")
	t.Cleanup(store.Close)
	return store, backend
}

func TestPublishReachesEachLocalSubscriberOnce(t *testing.T) {
	store, _ := newStore(t)
	b := New(store.Open())
	defer b.Close()

	var one, two atomic.Int32
	b.Subscribe(func() { one.Add(1) })
	b.Subscribe(func() { two.Add(1) })

	b.Publish()

	if one.Load() != 1 || two.Load() != 1 {
		t.Fatalf("expected one call each, got %d and %d", one.Load(), two.Load())
	}

	// Give any stray storage echo a chance to arrive.
	time.Sleep(50 * time.Millisecond)
	if one.Load() != 1 || two.Load() != 1 {
		t.Fatalf("publisher received its own marker write: %d and %d", one.Load(), two.Load())
	}
}

func TestPublishReachesOtherContexts(t *testing.T) {
	store, _ := newStore(t)
	a := New(store.Open())
	defer a.Close()
	b := New(store.Open())
	defer b.Close()

	var gotA, gotB atomic.Int32
	a.Subscribe(func() { gotA.Add(1) })
	b.Subscribe(func() { gotB.Add(1) })

	a.Publish()

	if gotA.Load() != 1 {
		t.Fatalf("publisher's own subscriber not called synchronously: %d", gotA.Load())
	}
	waitFor(t, func() bool { return gotB.Load() == 1 })
}

func TestPublishReachesOtherProcesses(t *testing.T) {
	backend := kvstore.NewMemoryBackend()
	one := kvstore.New(backend, "test.local")
	defer one.Close()
	two := kvstore.New(backend, "test.local")
	defer two.Close()

	a := New(one.Open())
	defer a.Close()
	b := New(two.Open())
	defer b.Close()

	var got atomic.Int32
	b.Subscribe(func() { got.Add(1) })

	a.Publish()
	waitFor(t, func() bool { return got.Load() == 1 })
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	store, _ := newStore(t)
	a := New(store.Open())
	defer a.Close()
	b := New(store.Open())
	defer b.Close()

	var local, remote atomic.Int32
	offLocal := a.Subscribe(func() { local.Add(1) })
	offRemote := b.Subscribe(func() { remote.Add(1) })

	offLocal()
	offLocal()
	offRemote()

	a.Publish()
	time.Sleep(50 * time.Millisecond)

	if local.Load() != 0 || remote.Load() != 0 {
		t.Fatalf("unsubscribed callbacks ran: local=%d remote=%d", local.Load(), remote.Load())
	}
	if a.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", a.Subscribers())
	}
}

func TestUnsubscribeDuringDelivery(t *testing.T) {
	store, _ := newStore(t)
	b := New(store.Open())
	defer b.Close()

	var second atomic.Int32
	var offSecond func()
	b.Subscribe(func() { offSecond() })
	offSecond = b.Subscribe(func() { second.Add(1) })

	var third atomic.Int32
	b.Subscribe(func() { third.Add(1) })

	b.Publish()

	if second.Load() != 0 {
		t.Fatal("subscriber removed mid-delivery was still called")
	}
	if third.Load() != 1 {
		t.Fatalf("co-existing subscriber missed delivery: %d", third.Load())
	}
}

func TestSubscribeDuringDelivery(t *testing.T) {
	store, _ := newStore(t)
	b := New(store.Open())
	defer b.Close()

	var late atomic.Int32
	var added atomic.Bool
	b.Subscribe(func() {
		if added.CompareAndSwap(false, true) {
			b.Subscribe(func() { late.Add(1) })
		}
	})

	b.Publish()
	if late.Load() != 0 {
		t.Fatal("subscriber added mid-delivery should wait for the next signal")
	}
	b.Publish()
	if late.Load() != 1 {
		t.Fatalf("expected late subscriber on next publish, got %d", late.Load())
	}
}

func TestStoreFailureStillNotifiesLocally(t *testing.T) {
	store, backend := newStore(t)
	b := New(store.Open())
	defer b.Close()

	var got atomic.Int32
	b.Subscribe(func() { got.Add(1) })

	backend.SetOffline(true)
	b.Publish()

	if got.Load() != 1 {
		t.Fatalf("expected local delivery despite storage failure, got %d", got.Load())
	}
}

func TestMarkerAdvancesWithinOneMillisecond(t *testing.T) {
	store, _ := newStore(t)
	fixed := time.UnixMilli(1_700_000_000_000)
	a := New(store.Open(), WithNow(func() time.Time { return fixed }))
	defer a.Close()
	b := New(store.Open())
	defer b.Close()

	var got atomic.Int32
	b.Subscribe(func() { got.Add(1) })

	a.Publish()
	a.Publish()
	a.Publish()

	waitFor(t, func() bool { return got.Load() == 3 })

	var marker int64
	reader := store.Open()
	if !reader.Get(kvstore.KeyPatientsMarker, &marker) || marker != fixed.UnixMilli()+2 {
		t.Fatalf("expected marker %d, got %d", fixed.UnixMilli()+2, marker)
	}
}

func TestSubscriberPanicIsContained(t *testing.T) {
	store, _ := newStore(t)
	b := New(store.Open())
	defer b.Close()

	var got atomic.Int32
	b.Subscribe(func() { panic("subscriber exploded") })
	b.Subscribe(func() { got.Add(1) })

	b.Publish()
	if got.Load() != 1 {
		t.Fatalf("expected delivery after panic, got %d", got.Load())
	}
}

func TestOtherKeysAreIgnored(t *testing.T) {
	store, _ := newStore(t)
	b := New(store.Open())
	defer b.Close()

	var got atomic.Int32
	b.Subscribe(func() { got.Add(1) })

	writer := store.Open()
	writer.Set(kvstore.KeyDoctors, []string{"DOC_001"})
	time.Sleep(50 * time.Millisecond)

	if got.Load() != 0 {
		t.Fatalf("unrelated key triggered delivery %d times", got.Load())
	}
}
