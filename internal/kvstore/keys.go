package kvstore

// Reserved keys shared by every context of an origin.
const (
	KeyAdmin          = "wecare_local_admin"
	KeyDoctors        = "wecare_local_doctors"
	KeyPatients       = "wecare_local_patients"
	KeyPatientsMarker = KeyPatients + "_last_update"
)

// RemindersKey is the per-patient reminder list.
func RemindersKey(patientID string) string {
	return "wecare_local_reminders_" + patientID
}
