// Package scheduler arms cancellable timers for a subject's reminders and
// invokes a caller-supplied handler when each one comes due.
//
// The scheduler never persists anything and never marks a reminder done;
// both are the caller's job inside the fire handler.
package scheduler

import (
	"sort"
	"sync"

	"wecare/internal/models"
	"wecare/internal/scheduler/clock"

	"go.uber.org/zap"
)

type timerKey struct {
	subject  string
	reminder string
}

type handle struct {
	timer clock.Timer
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scheduler is safe for concurrent use. It never holds its lock while a fire
// handler runs, so handlers may call Arm or CancelAll.
type Scheduler struct {
	clock  clock.Clock
	logger *zap.SugaredLogger

	mu     sync.Mutex
	timers map[timerKey]*handle
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  clock.Real(),
		logger: zap.NewNop().Sugar(),
		timers: make(map[timerKey]*handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Arm replaces every timer held for subjectID with one timer per reminder
// that is not done. Overdue reminders fire after a zero delay rather than
// inside Arm. Entries without an id or with a non-positive time are skipped.
func (s *Scheduler) Arm(subjectID string, reminders []models.Reminder, onFire func(models.Reminder)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(subjectID)
	if onFire == nil {
		return
	}

	now := s.clock.Now()
	armed := 0
	for _, rem := range reminders {
		if rem.Done {
			continue
		}
		if rem.ID == "" || rem.Time <= 0 {
			s.logger.Debugw("Skipping malformed reminder", "subject", subjectID, "id", rem.ID, "time", rem.Time)
			continue
		}

		k := timerKey{subject: subjectID, reminder: rem.ID}
		if prev, ok := s.timers[k]; ok {
			prev.timer.Stop()
			delete(s.timers, k)
			armed--
		}

		delay := rem.At().Sub(now)
		if delay < 0 {
			delay = 0
		}

		h := &handle{}
		s.timers[k] = h
		fired := rem
		h.timer = s.clock.AfterFunc(delay, func() { s.fire(k, h, fired, onFire) })
		armed++
	}

	s.logger.Debugw("Armed reminders", "subject", subjectID, "count", armed)
}

// CancelAll stops every timer for subjectID. No handler for that subject
// starts after CancelAll returns. Calling it with nothing armed is a no-op.
func (s *Scheduler) CancelAll(subjectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(subjectID)
}

// Pending returns the ids of the reminders currently armed for subjectID.
func (s *Scheduler) Pending(subjectID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := []string{}
	for k := range s.timers {
		if k.subject == subjectID {
			ids = append(ids, k.reminder)
		}
	}
	sort.Strings(ids)
	return ids
}

// Stop cancels every timer for every subject.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, h := range s.timers {
		h.timer.Stop()
		delete(s.timers, k)
	}
}

func (s *Scheduler) cancelLocked(subjectID string) {
	for k, h := range s.timers {
		if k.subject != subjectID {
			continue
		}
		h.timer.Stop()
		delete(s.timers, k)
	}
}

func (s *Scheduler) fire(k timerKey, h *handle, rem models.Reminder, onFire func(models.Reminder)) {
	s.mu.Lock()
	// A cancelled or superseded handle may still reach here when its timer
	// was already running as Stop was called.
	if s.timers[k] != h {
		s.mu.Unlock()
		return
	}
	delete(s.timers, k)
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("Reminder handler panicked", "subject", k.subject, "id", k.reminder, "panic", r)
		}
	}()
	onFire(rem)
}
