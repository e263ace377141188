// Package reminders stores each patient's reminder list and keeps the
// scheduler armed with it.
package reminders

import (
	"encoding/json"
	"errors"
	"fmt"

	"wecare/internal/kvstore"
	"wecare/internal/models"
)

var ErrNotFound = errors.New("reminder not found")

func Key(patientID string) string {
	return kvstore.RemindersKey(patientID)
}

// Load returns the patient's reminders together with the stored entries
// that do not decode as reminders.
func Load(s *kvstore.Session, patientID string) ([]models.Reminder, []json.RawMessage) {
	list, skipped := kvstore.GetList[models.Reminder](s, Key(patientID))
	if list == nil {
		list = []models.Reminder{}
	}
	return list, skipped
}

// List returns the patient's reminders, empty when none are stored or the
// stored value cannot be read. Malformed entries are left out.
func List(s *kvstore.Session, patientID string) []models.Reminder {
	list, _ := Load(s, patientID)
	return list
}

// Save replaces the patient's reminders. Stored entries that do not decode
// are kept after them.
func Save(s *kvstore.Session, patientID string, list []models.Reminder) error {
	_, skipped := Load(s, patientID)
	return store(s, patientID, list, skipped)
}

func store(s *kvstore.Session, patientID string, list []models.Reminder, keep []json.RawMessage) error {
	if list == nil {
		list = []models.Reminder{}
	}
	if err := kvstore.SetList(s, Key(patientID), list, keep); err != nil {
		return fmt.Errorf("save reminders for %s: %w", patientID, err)
	}
	return nil
}

func Add(s *kvstore.Session, patientID string, r models.Reminder) error {
	list, skipped := Load(s, patientID)
	return store(s, patientID, append(list, r), skipped)
}

// Update applies the non-nil fields of patch to reminder id.
func Update(s *kvstore.Session, patientID, id string, patch models.UpdateReminderRequest) (models.Reminder, error) {
	list, skipped := Load(s, patientID)
	for i := range list {
		if list[i].ID != id {
			continue
		}
		applyPatch(&list[i], patch)
		if err := store(s, patientID, list, skipped); err != nil {
			return models.Reminder{}, err
		}
		return list[i], nil
	}
	return models.Reminder{}, ErrNotFound
}

// Remove deletes reminder id, including a malformed entry carrying that id.
func Remove(s *kvstore.Session, patientID, id string) error {
	list, skipped := Load(s, patientID)
	out := make([]models.Reminder, 0, len(list))
	for _, r := range list {
		if r.ID != id {
			out = append(out, r)
		}
	}
	keep := make([]json.RawMessage, 0, len(skipped))
	for _, raw := range skipped {
		if kvstore.EntryID(raw) != id {
			keep = append(keep, raw)
		}
	}
	if len(out) == len(list) && len(keep) == len(skipped) {
		return ErrNotFound
	}
	return store(s, patientID, out, keep)
}

func applyPatch(r *models.Reminder, patch models.UpdateReminderRequest) {
	if patch.Title != nil {
		r.Title = *patch.Title
	}
	if patch.Time != nil {
		r.Time = *patch.Time
	}
	if patch.Repeat != nil {
		r.Repeat = *patch.Repeat
	}
	if patch.Done != nil {
		r.Done = *patch.Done
	}
}
