// Package registry keeps the admin, doctor and patient records in the
// origin's key/value store and signals patient changes on the update bus.
//
// Collections are written whole, so concurrent writers resolve as last
// writer wins.
package registry

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"

	"wecare/internal/auth"
	"wecare/internal/bus"
	"wecare/internal/kvstore"
	"wecare/internal/models"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound           = errors.New("registry: record not found")
	ErrAlreadyExists      = errors.New("registry: record already exists")
	ErrInvalidCredentials = errors.New("registry: invalid credentials")
	ErrPasswordRequired   = errors.New("registry: password required")
)

type Option func(*Registry)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithHashCost sets the bcrypt cost used when storing new passwords.
func WithHashCost(cost int) Option {
	return func(r *Registry) { r.cost = cost }
}

type Registry struct {
	session  *kvstore.Session
	bus      *bus.Bus
	validate *validator.Validate
	logger   *zap.SugaredLogger
	cost     int
}

func New(session *kvstore.Session, b *bus.Bus, opts ...Option) *Registry {
	r := &Registry{
		session:  session,
		bus:      b,
		validate: validator.New(),
		logger:   zap.NewNop().Sugar(),
		cost:     bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe registers cb for patient registry changes from any context.
func (r *Registry) Subscribe(cb func()) func() {
	return r.bus.Subscribe(cb)
}

func (r *Registry) Admin() (models.Admin, bool) {
	var admin models.Admin
	if !r.session.Get(kvstore.KeyAdmin, &admin) || admin.ID == "" {
		return models.Admin{}, false
	}
	return admin, true
}

// Doctors returns the stored doctors. Entries that do not decode are left
// out.
func (r *Registry) Doctors() []models.Doctor {
	list, _ := r.doctors()
	return list
}

// Patients returns the stored patients. Entries that do not decode are left
// out.
func (r *Registry) Patients() []models.Patient {
	list, _ := r.patients()
	return list
}

func (r *Registry) doctors() ([]models.Doctor, []json.RawMessage) {
	list, skipped := kvstore.GetList[models.Doctor](r.session, kvstore.KeyDoctors)
	if list == nil {
		list = []models.Doctor{}
	}
	return list, skipped
}

func (r *Registry) patients() ([]models.Patient, []json.RawMessage) {
	list, skipped := kvstore.GetList[models.Patient](r.session, kvstore.KeyPatients)
	if list == nil {
		list = []models.Patient{}
	}
	return list, skipped
}

func (r *Registry) FindDoctor(id string) (models.Doctor, error) {
	for _, d := range r.Doctors() {
		if d.ID == id {
			return d, nil
		}
	}
	return models.Doctor{}, ErrNotFound
}

func (r *Registry) FindPatient(id string) (models.Patient, error) {
	for _, p := range r.Patients() {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Patient{}, ErrNotFound
}

// SavePatientProfile inserts the profile or replaces the one with the same
// id, then publishes. A blank password keeps the stored one; a new patient
// must have one. Stored entries that do not decode are kept.
func (r *Registry) SavePatientProfile(p models.Patient) error {
	if err := r.validate.Struct(p); err != nil {
		return fmt.Errorf("invalid patient: %w", err)
	}

	list, skipped := r.patients()
	idx := -1
	for i := range list {
		if list[i].ID == p.ID {
			idx = i
			break
		}
	}

	if p.Password == "" {
		if idx < 0 {
			return fmt.Errorf("invalid patient %q: %w", p.ID, ErrPasswordRequired)
		}
		p.Password = list[idx].Password
	}
	hashed, err := r.hash(p.Password)
	if err != nil {
		return err
	}
	p.Password = hashed

	if idx >= 0 {
		list[idx] = p
	} else {
		list = append(list, p)
	}

	if err := kvstore.SetList(r.session, kvstore.KeyPatients, list, skipped); err != nil {
		return fmt.Errorf("save patients: %w", err)
	}
	r.bus.Publish()
	return nil
}

// SavePatientsList replaces the whole patient list, then publishes.
func (r *Registry) SavePatientsList(list []models.Patient) error {
	if list == nil {
		list = []models.Patient{}
	}

	existing := make(map[string]string)
	for _, p := range r.Patients() {
		existing[p.ID] = p.Password
	}

	out := make([]models.Patient, 0, len(list))
	for _, p := range list {
		if err := r.validate.Struct(p); err != nil {
			return fmt.Errorf("invalid patient %q: %w", p.ID, err)
		}
		if p.Password == "" {
			p.Password = existing[p.ID]
		}
		hashed, err := r.hash(p.Password)
		if err != nil {
			return err
		}
		p.Password = hashed
		out = append(out, p)
	}

	if err := r.session.Set(kvstore.KeyPatients, out); err != nil {
		return fmt.Errorf("save patients: %w", err)
	}
	r.bus.Publish()
	return nil
}

// SaveDoctors replaces the whole doctor list.
func (r *Registry) SaveDoctors(list []models.Doctor) error {
	return r.saveDoctors(list, nil)
}

func (r *Registry) saveDoctors(list []models.Doctor, keep []json.RawMessage) error {
	if list == nil {
		list = []models.Doctor{}
	}

	existing := make(map[string]string)
	for _, d := range r.Doctors() {
		existing[d.ID] = d.Password
	}

	out := make([]models.Doctor, 0, len(list))
	for _, d := range list {
		if err := r.validate.Struct(d); err != nil {
			return fmt.Errorf("invalid doctor %q: %w", d.ID, err)
		}
		if d.Password == "" {
			d.Password = existing[d.ID]
		}
		hashed, err := r.hash(d.Password)
		if err != nil {
			return err
		}
		d.Password = hashed
		out = append(out, d)
	}

	if err := kvstore.SetList(r.session, kvstore.KeyDoctors, out, keep); err != nil {
		return fmt.Errorf("save doctors: %w", err)
	}
	return nil
}

// RegisterDoctor appends a new doctor. Ids are unique.
func (r *Registry) RegisterDoctor(d models.Doctor) error {
	if d.Password == "" {
		return fmt.Errorf("invalid doctor %q: %w", d.ID, ErrPasswordRequired)
	}
	list, skipped := r.doctors()
	for _, existing := range list {
		if existing.ID == d.ID {
			return ErrAlreadyExists
		}
	}
	return r.saveDoctors(append(list, d), skipped)
}

func (r *Registry) VerifyAdmin(id, password string) (models.Admin, error) {
	admin, ok := r.Admin()
	if !ok || admin.ID != id || !matches(admin.Password, password) {
		return models.Admin{}, ErrInvalidCredentials
	}
	return admin, nil
}

func (r *Registry) VerifyDoctor(id, password string) (models.Doctor, error) {
	d, err := r.FindDoctor(id)
	if err != nil || !matches(d.Password, password) {
		return models.Doctor{}, ErrInvalidCredentials
	}
	return d, nil
}

func (r *Registry) VerifyPatient(id, password string) (models.Patient, error) {
	p, err := r.FindPatient(id)
	if err != nil || !matches(p.Password, password) {
		return models.Patient{}, ErrInvalidCredentials
	}
	return p, nil
}

func (r *Registry) hash(password string) (string, error) {
	if password == "" || auth.IsHashed(password) {
		return password, nil
	}
	hashed, err := auth.HashPasswordCost(password, r.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hashed, nil
}

// matches accepts bcrypt hashes and, for records another context wrote
// straight into storage, plaintext.
func matches(stored, password string) bool {
	if stored == "" || password == "" {
		return false
	}
	if auth.IsHashed(stored) {
		return auth.CheckPassword(stored, password) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}
