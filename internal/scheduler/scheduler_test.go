package scheduler

import (
	"math"
	"sync"
	"testing"
	"time"

	"wecare/internal/models"
	"wecare/internal/scheduler/clock"
)

var epoch = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type firedLog struct {
	mu  sync.Mutex
	ids []string
}

func (l *firedLog) record(r models.Reminder) {
	l.mu.Lock()
	l.ids = append(l.ids, r.ID)
	l.mu.Unlock()
}

func (l *firedLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

func at(c *clock.Fake, d time.Duration) int64 {
	return c.Now().Add(d).UnixMilli()
}

func newFake() (*Scheduler, *clock.Fake) {
	c := clock.NewFake(epoch)
	return New(WithClock(c)), c
}

func TestRearmReplacesPreviousSet(t *testing.T) {
	s, c := newFake()
	var log firedLog

	r1 := []models.Reminder{
		{ID: "a", Time: at(c, time.Minute)},
		{ID: "shared", Time: at(c, 2*time.Minute)},
	}
	r2 := []models.Reminder{
		{ID: "shared", Time: at(c, 2*time.Minute)},
		{ID: "b", Time: at(c, 3*time.Minute)},
	}

	s.Arm("P1", r1, log.record)
	s.Arm("P1", r2, log.record)
	c.Advance(time.Hour)

	got := log.snapshot()
	if len(got) != 2 || got[0] != "shared" || got[1] != "b" {
		t.Fatalf("expected [shared b], got %v", got)
	}
}

func TestCancelAllIsIdempotent(t *testing.T) {
	s, c := newFake()
	var log firedLog

	s.CancelAll("nobody")
	s.CancelAll("nobody")

	s.Arm("P1", []models.Reminder{{ID: "a", Time: at(c, time.Minute)}}, log.record)
	s.Arm("P2", []models.Reminder{{ID: "a", Time: at(c, time.Minute)}}, log.record)
	s.CancelAll("P1")
	s.CancelAll("P1")

	if p := s.Pending("P1"); len(p) != 0 {
		t.Fatalf("expected nothing pending for P1, got %v", p)
	}
	if p := s.Pending("P2"); len(p) != 1 {
		t.Fatalf("P2 should be untouched, got %v", p)
	}

	c.Advance(time.Hour)
	if got := log.snapshot(); len(got) != 1 {
		t.Fatalf("expected only P2's reminder to fire, got %v", got)
	}
}

func TestOverdueFiresAfterYield(t *testing.T) {
	s := New()
	fired := make(chan models.Reminder, 1)
	now := time.Now()

	s.Arm("P1", []models.Reminder{{ID: "late", Time: now.Add(-time.Hour).UnixMilli()}}, func(r models.Reminder) {
		fired <- r
	})

	select {
	case r := <-fired:
		if r.ID != "late" {
			t.Fatalf("unexpected reminder %s", r.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("overdue reminder did not fire promptly")
	}
}

func TestOverdueDoesNotFireInsideArm(t *testing.T) {
	s, c := newFake()
	var log firedLog

	s.Arm("P1", []models.Reminder{{ID: "r1", Time: at(c, -5*time.Second)}}, log.record)
	if got := log.snapshot(); len(got) != 0 {
		t.Fatalf("handler ran synchronously inside Arm: %v", got)
	}
	c.Advance(0)
	if got := log.snapshot(); len(got) != 1 {
		t.Fatalf("expected one fire, got %v", got)
	}
}

func TestOverdueThenDoneSchedulesNothing(t *testing.T) {
	s, c := newFake()
	var log firedLog

	list := []models.Reminder{{ID: "r1", Time: at(c, -5*time.Second), Repeat: models.RepeatNone}}
	s.Arm("P1", list, func(r models.Reminder) {
		log.record(r)
		list[0].Done = true
	})
	c.Advance(0)

	s.Arm("P1", list, log.record)
	c.Advance(time.Hour)

	if got := log.snapshot(); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("expected r1 exactly once, got %v", got)
	}
	if p := s.Pending("P1"); len(p) != 0 {
		t.Fatalf("done reminder was armed: %v", p)
	}
}

func TestCancelledFutureReminderNeverFires(t *testing.T) {
	s, c := newFake()
	var log firedLog

	s.Arm("P1", []models.Reminder{{ID: "r2", Time: at(c, 2000*time.Second)}}, log.record)
	c.Advance(10 * time.Millisecond)
	if got := log.snapshot(); len(got) != 0 {
		t.Fatalf("fired early: %v", got)
	}

	s.CancelAll("P1")
	c.Advance(2001 * time.Second)
	if got := log.snapshot(); len(got) != 0 {
		t.Fatalf("cancelled reminder fired: %v", got)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected underlying timers stopped, %d pending", c.Pending())
	}
}

func TestSkipsDoneAndMalformed(t *testing.T) {
	s, c := newFake()
	var log firedLog

	s.Arm("P1", []models.Reminder{
		{ID: "done", Time: at(c, time.Minute), Done: true},
		{ID: "no-time"},
		{ID: "negative", Time: -10},
		{Time: at(c, time.Minute)},
		{ID: "ok", Time: at(c, time.Minute)},
	}, log.record)

	if p := s.Pending("P1"); len(p) != 1 || p[0] != "ok" {
		t.Fatalf("expected only ok armed, got %v", p)
	}
	c.Advance(time.Hour)
	if got := log.snapshot(); len(got) != 1 || got[0] != "ok" {
		t.Fatalf("expected only ok to fire, got %v", got)
	}
}

func TestDuplicateIDKeepsLastEntry(t *testing.T) {
	s, c := newFake()
	var mu sync.Mutex
	var titles []string

	s.Arm("P1", []models.Reminder{
		{ID: "dup", Title: "first", Time: at(c, time.Minute)},
		{ID: "dup", Title: "second", Time: at(c, 2*time.Minute)},
	}, func(r models.Reminder) {
		mu.Lock()
		titles = append(titles, r.Title)
		mu.Unlock()
	})
	c.Advance(time.Hour)

	if len(titles) != 1 || titles[0] != "second" {
		t.Fatalf("expected only the later entry to fire, got %v", titles)
	}
}

func TestSameTimeRemindersFireIndependently(t *testing.T) {
	s, c := newFake()
	var log firedLog
	when := at(c, time.Minute)

	s.Arm("P1", []models.Reminder{{ID: "x", Time: when}, {ID: "y", Time: when}}, log.record)
	c.Advance(time.Minute)

	if got := log.snapshot(); len(got) != 2 {
		t.Fatalf("expected both to fire, got %v", got)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	s, c := newFake()
	var log firedLog

	s.Arm("P1", []models.Reminder{{ID: "bad", Time: at(c, time.Second)}}, func(models.Reminder) {
		panic("handler exploded")
	})
	s.Arm("P2", []models.Reminder{{ID: "good", Time: at(c, 2*time.Second)}}, log.record)
	c.Advance(time.Minute)

	if got := log.snapshot(); len(got) != 1 || got[0] != "good" {
		t.Fatalf("expected P2 to fire after P1 panicked, got %v", got)
	}
}

func TestHandlerMayRearm(t *testing.T) {
	s, c := newFake()
	var log firedLog

	var onFire func(models.Reminder)
	onFire = func(r models.Reminder) {
		log.record(r)
		if len(log.snapshot()) < 3 {
			r.Time = c.Now().Add(time.Hour).UnixMilli()
			s.Arm("P1", []models.Reminder{r}, onFire)
		}
	}
	s.Arm("P1", []models.Reminder{{ID: "daily", Time: at(c, time.Hour), Repeat: models.RepeatDaily}}, onFire)
	c.Advance(5 * time.Hour)

	if got := log.snapshot(); len(got) != 3 {
		t.Fatalf("expected 3 fires, got %v", got)
	}
}

func TestFarFutureReminderIsArmed(t *testing.T) {
	s, c := newFake()
	var log firedLog

	s.Arm("P1", []models.Reminder{{ID: "later", Time: math.MaxInt64}}, log.record)
	if p := s.Pending("P1"); len(p) != 1 {
		t.Fatalf("expected far-future reminder armed, got %v", p)
	}
	c.Advance(24 * 365 * time.Hour)
	if got := log.snapshot(); len(got) != 0 {
		t.Fatalf("far-future reminder fired: %v", got)
	}
}

func TestNilHandlerArmsNothing(t *testing.T) {
	s, c := newFake()
	s.Arm("P1", []models.Reminder{{ID: "a", Time: at(c, time.Minute)}}, nil)
	if p := s.Pending("P1"); len(p) != 0 {
		t.Fatalf("expected nothing armed, got %v", p)
	}
}

func TestStopCancelsEverySubject(t *testing.T) {
	s, c := newFake()
	var log firedLog
	s.Arm("P1", []models.Reminder{{ID: "a", Time: at(c, time.Minute)}}, log.record)
	s.Arm("P2", []models.Reminder{{ID: "b", Time: at(c, time.Minute)}}, log.record)

	s.Stop()
	c.Advance(time.Hour)
	if got := log.snapshot(); len(got) != 0 {
		t.Fatalf("expected nothing after Stop, got %v", got)
	}
}
