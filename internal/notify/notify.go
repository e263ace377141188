// Package notify delivers fired reminders to a patient's devices.
package notify

import (
	"context"
	"sync"
)

// Payload is the notification shown to the patient.
type Payload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Icon  string                 `json:"icon,omitempty"`
	Badge string                 `json:"badge,omitempty"`
	Tag   string                 `json:"tag,omitempty"`
	Data  map[string]interface{} `json:"data,omitempty"`
}

type Sender interface {
	Notify(ctx context.Context, patientID string, payload Payload) error
}

// Notification is one call captured by a Recorder.
type Notification struct {
	PatientID string
	Payload   Payload
}

// Recorder is a Sender that keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

// Fail makes every later Notify return err after recording the call.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *Recorder) Notify(_ context.Context, patientID string, payload Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Notification{PatientID: patientID, Payload: payload})
	return r.err
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}
