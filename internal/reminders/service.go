package reminders

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"wecare/internal/kvstore"
	"wecare/internal/models"
	"wecare/internal/notify"
	"wecare/internal/scheduler"
	"wecare/internal/scheduler/clock"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	notifyTimeout = 10 * time.Second
	demoDelay     = 30 * time.Second
)

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service owns the reminder lists of one context and arms them on the
// scheduler. After a reminder fires it notifies the patient, marks one-shot
// reminders done and moves recurring ones to their next occurrence.
type Service struct {
	session   *kvstore.Session
	scheduler *scheduler.Scheduler
	sender    notify.Sender
	clock     clock.Clock
	logger    *zap.SugaredLogger

	// mu serializes list read-modify-write with re-arming.
	mu     sync.Mutex
	synced map[string]bool
}

// NewService builds a Service. The scheduler should share the clock given
// with WithClock.
func NewService(session *kvstore.Session, sched *scheduler.Scheduler, sender notify.Sender, opts ...Option) *Service {
	s := &Service{
		session:   session,
		scheduler: sched,
		sender:    sender,
		clock:     clock.Real(),
		logger:    zap.NewNop().Sugar(),
		synced:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) List(patientID string) []models.Reminder {
	return List(s.session, patientID)
}

// Arm (re)arms every pending reminder of the patient.
func (s *Service) Arm(patientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(patientID)
}

func (s *Service) ArmAll(patientIDs []string) {
	for _, id := range patientIDs {
		s.Arm(id)
	}
}

// Sync arms every listed patient and disarms the patients a previous Sync
// armed that are no longer listed.
func (s *Service) Sync(patientIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]bool, len(patientIDs))
	for _, id := range patientIDs {
		next[id] = true
		s.armLocked(id)
	}
	for id := range s.synced {
		if !next[id] {
			s.scheduler.CancelAll(id)
		}
	}
	s.synced = next
}

func (s *Service) Disarm(patientID string) {
	s.scheduler.CancelAll(patientID)
}

func (s *Service) Pending(patientID string) []string {
	return s.scheduler.Pending(patientID)
}

func (s *Service) Create(patientID string, req models.CreateReminderRequest) (models.Reminder, error) {
	repeat := req.Repeat
	if repeat == "" {
		repeat = models.RepeatNone
	}
	r := models.Reminder{
		ID:     uuid.NewString(),
		Title:  req.Title,
		Time:   req.Time,
		Repeat: repeat,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Add(s.session, patientID, r); err != nil {
		return models.Reminder{}, err
	}
	s.armLocked(patientID)
	return r, nil
}

func (s *Service) Update(patientID, id string, patch models.UpdateReminderRequest) (models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := Update(s.session, patientID, id, patch)
	if err != nil {
		return models.Reminder{}, err
	}
	s.armLocked(patientID)
	return r, nil
}

func (s *Service) Delete(patientID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := Remove(s.session, patientID, id); err != nil {
		return err
	}
	s.armLocked(patientID)
	return nil
}

// SeedDemo adds a one-shot reminder due shortly, for trying out delivery.
func (s *Service) SeedDemo(patientID string) (models.Reminder, error) {
	return s.Create(patientID, models.CreateReminderRequest{
		Title:  "Demo: take meds",
		Time:   s.clock.Now().Add(demoDelay).UnixMilli(),
		Repeat: models.RepeatNone,
	})
}

// Watch re-arms a patient whenever another context rewrites that patient's
// reminder list. The returned function stops watching.
func (s *Service) Watch() func() {
	prefix := Key("")
	return s.session.OnStorage(func(ev kvstore.StorageEvent) {
		if !strings.HasPrefix(ev.Key, prefix) {
			return
		}
		patientID := strings.TrimPrefix(ev.Key, prefix)
		if patientID == "" {
			return
		}
		s.logger.Debugw("Reminder list changed elsewhere, re-arming", "patient", patientID)
		s.Arm(patientID)
	})
}

func (s *Service) armLocked(patientID string) {
	list, skipped := Load(s.session, patientID)
	if len(skipped) > 0 {
		s.logger.Warnw("Ignoring malformed reminders", "patient", patientID, "count", len(skipped))
	}
	s.scheduler.Arm(patientID, list, func(r models.Reminder) {
		s.fire(patientID, r)
	})
}

// fire records the occurrence and re-arms under the lock, then notifies
// without it so a slow push service does not stall other patients.
func (s *Service) fire(patientID string, fired models.Reminder) {
	current, ok := s.complete(patientID, fired)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := s.sender.Notify(ctx, patientID, payloadFor(patientID, current)); err != nil {
		s.logger.Warnw("Reminder notification failed", "patient", patientID, "id", fired.ID, "error", err)
	}
}

// complete advances the fired reminder and saves the list. It reports false
// when the fire is stale.
func (s *Service) complete(patientID string, fired models.Reminder) (models.Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, skipped := Load(s.session, patientID)
	idx := -1
	for i := range list {
		if list[i].ID == fired.ID {
			idx = i
			break
		}
	}
	// Another fire or edit already handled this occurrence.
	if idx < 0 || list[idx].Done || list[idx].Time != fired.Time {
		s.logger.Debugw("Skipping stale reminder fire", "patient", patientID, "id", fired.ID)
		return models.Reminder{}, false
	}

	current := list[idx]
	list[idx] = advance(current, s.clock.Now())
	if err := store(s.session, patientID, list, skipped); err != nil {
		// Not re-armed: an overdue reminder would fire again at once.
		s.logger.Errorw("Failed to record fired reminder", "patient", patientID, "id", fired.ID, "error", err)
		return current, true
	}
	s.logger.Infow("Reminder fired", "patient", patientID, "id", fired.ID,
		"repeat", string(fired.Repeat), "done", list[idx].Done)

	s.armLocked(patientID)
	return current, true
}

// advance marks a one-shot reminder done, or moves a recurring one forward
// by whole periods until it lies after now.
func advance(r models.Reminder, now time.Time) models.Reminder {
	period := r.Repeat.Period()
	if period <= 0 {
		r.Done = true
		return r
	}

	at := r.At()
	if at.After(now) {
		return r
	}
	periods := now.Sub(at)/period + 1
	r.Time = at.Add(periods * period).UnixMilli()
	return r
}

func payloadFor(patientID string, r models.Reminder) notify.Payload {
	title := r.Title
	if title == "" {
		title = "Reminder"
	}
	return notify.Payload{
		Title: title,
		Body:  fmt.Sprintf("Scheduled for %s", r.At().Format("Jan 2, 15:04")),
		Tag:   "wecare-reminder-" + r.ID,
		Data: map[string]interface{}{
			"patient_id":  patientID,
			"reminder_id": r.ID,
		},
	}
}
