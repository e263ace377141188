package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Recurrence policies a reminder may carry. The scheduler never interprets
// them; the reminders service decides what happens after a fire.
const (
	RepeatNone   = "none"
	RepeatDaily  = "daily"
	RepeatWeekly = "weekly"
)

// Repeat is a reminder's recurrence policy. Older stored lists use the JSON
// literal false for "no recurrence", so both forms decode.
type Repeat string

func (r *Repeat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")), bytes.Equal(b, []byte("false")):
		*r = RepeatNone
		return nil
	case bytes.Equal(b, []byte("true")):
		*r = RepeatDaily
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("repeat: %w", err)
	}
	if s == "" {
		s = RepeatNone
	}
	*r = Repeat(s)
	return nil
}

// Period returns the interval between occurrences, or zero for a one-shot
// or unknown policy.
func (r Repeat) Period() time.Duration {
	switch r {
	case RepeatDaily:
		return 24 * time.Hour
	case RepeatWeekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

type Reminder struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Time   int64  `json:"time"`
	Repeat Repeat `json:"repeat"`
	Done   bool   `json:"done"`
}

// At returns the reminder's target instant.
func (r Reminder) At() time.Time {
	return time.UnixMilli(r.Time)
}

type Patient struct {
	ID           string `json:"id" yaml:"id" validate:"required"`
	Password     string `json:"password,omitempty" yaml:"password"`
	Name         string `json:"name" yaml:"name" validate:"required"`
	DOB          string `json:"dob,omitempty" yaml:"dob"`
	Gender       string `json:"gender,omitempty" yaml:"gender"`
	Age          string `json:"age,omitempty" yaml:"age"`
	BloodGroup   string `json:"bloodGroup,omitempty" yaml:"blood_group"`
	Phone        string `json:"phone,omitempty" yaml:"phone"`
	Address      string `json:"address,omitempty" yaml:"address" validate:"omitempty,eth_addr"`
	RegisteredAt string `json:"registeredAt,omitempty" yaml:"registered_at"`
}

// Public returns a copy safe to hand to API callers.
func (p Patient) Public() Patient {
	p.Password = ""
	return p
}

type Doctor struct {
	ID       string `json:"id" yaml:"id" validate:"required"`
	Password string `json:"password,omitempty" yaml:"password"`
	Address  string `json:"address,omitempty" yaml:"address" validate:"omitempty,eth_addr"`
}

func (d Doctor) Public() Doctor {
	d.Password = ""
	return d
}

type Admin struct {
	ID       string `json:"id" yaml:"id" validate:"required"`
	Password string `json:"password,omitempty" yaml:"password"`
	Address  string `json:"address,omitempty" yaml:"address"`
}

type PushSubscription struct {
	ID        int    `json:"id"`
	PatientID string `json:"patient_id"`
	Endpoint  string `json:"endpoint"`
	P256dh    string `json:"p256dh"`
	Auth      string `json:"auth"`
}

type CreateReminderRequest struct {
	Title  string `json:"title" validate:"required"`
	Time   int64  `json:"time" validate:"required,gt=0"`
	Repeat Repeat `json:"repeat"`
}

type UpdateReminderRequest struct {
	Title  *string `json:"title,omitempty"`
	Time   *int64  `json:"time,omitempty"`
	Repeat *Repeat `json:"repeat,omitempty"`
	Done   *bool   `json:"done,omitempty"`
}

type VerifyRequest struct {
	Password string `json:"password"`
}

type SessionResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	Origin    string `json:"origin"`
}
