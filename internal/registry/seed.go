package registry

import (
	"fmt"
	"os"

	"wecare/internal/kvstore"
	"wecare/internal/models"

	"gopkg.in/yaml.v3"
)

// Seed is the initial set of accounts written into an empty store.
type Seed struct {
	Admin    models.Admin     `yaml:"admin"`
	Doctors  []models.Doctor  `yaml:"doctors"`
	Patients []models.Patient `yaml:"patients"`
}

// DefaultSeed returns the demo accounts, each bound to a local development
// chain address.
func DefaultSeed() Seed {
	return Seed{
		Admin: models.Admin{
			ID:       "wecare.admin.001",
			Password: "Adm!IT@0183151",
			Address:  "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1",
		},
		Doctors: []models.Doctor{
			{ID: "DOC_001", Password: "P@s$d001", Address: "0xFFcf8FDEE72ac11b5c542428B35EEF5769C409f0"},
			{ID: "DOC_002", Password: "P@s$d002", Address: "0xE11BA2b4D45Eaed5996Cd0823791E0C93114882d"},
			{ID: "DOC_003", Password: "P@s$d003", Address: "0xd03ea8624C8C5987235048901fB614fDcA89b117"},
		},
		Patients: []models.Patient{
			{
				ID:       "PAT_001",
				Password: "0x6370fd033278c143179d81c5526140625662b8daa446c22ee2d73db3707e620c",
				Name:     "Patient One",
				Gender:   "Female",
				Age:      "24",
				Phone:    "999999001",
				Address:  "0x22d491Bde2303f2f43325b2108D26f1eAbA1e32b",
			},
			{
				ID:       "PAT_002",
				Password: "0x395df67f0c2d2d9fe1ad08d1bc8b6627011959b79c53d7dd6a3536a33ab8a4fd",
				Name:     "Patient Two",
				Gender:   "Male",
				Age:      "30",
				Phone:    "999999002",
				Address:  "0x95cED938F7991cd0dFcb48F0a06a40FA1aF46EBC",
			},
			{
				ID:       "PAT_003",
				Password: "0xe485d098507f54e7733a205420dfddbe58db035fa577fc294ebd14db90767a52",
				Name:     "Patient Three",
				Gender:   "Other",
				Age:      "28",
				Phone:    "999999003",
				Address:  "0x3E5e9111Ae8eB78Fe1CC3bb8915d5D461F3Ef9A9",
			},
		},
	}
}

// LoadSeed reads a yaml seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return seed, nil
}

// Seed writes each collection that is missing, or every collection when
// force is set. Passwords are hashed before they are stored.
func (r *Registry) Seed(seed Seed, force bool) error {
	if force || !r.present(kvstore.KeyAdmin) {
		admin := seed.Admin
		if err := r.validate.Struct(admin); err != nil {
			return fmt.Errorf("invalid seed admin: %w", err)
		}
		hashed, err := r.hash(admin.Password)
		if err != nil {
			return err
		}
		admin.Password = hashed
		if err := r.session.Set(kvstore.KeyAdmin, admin); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}

	if force || !r.present(kvstore.KeyDoctors) {
		if err := r.SaveDoctors(seed.Doctors); err != nil {
			return fmt.Errorf("seed doctors: %w", err)
		}
	}

	if force || !r.present(kvstore.KeyPatients) {
		if err := r.SavePatientsList(seed.Patients); err != nil {
			return fmt.Errorf("seed patients: %w", err)
		}
	}

	r.logger.Infow("Registry seeded", "force", force,
		"doctors", len(r.Doctors()), "patients", len(r.Patients()))
	return nil
}

func (r *Registry) present(key string) bool {
	_, ok := r.session.GetRaw(key)
	return ok
}
