package notify

import (
	"context"
	"database/sql"
	"fmt"

	"wecare/internal/models"
)

// SaveSubscription inserts or refreshes the keys of a patient's endpoint.
func SaveSubscription(ctx context.Context, db *sql.DB, sub models.PushSubscription) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO push_subscriptions (patient_id, endpoint, p256dh, auth)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(patient_id, endpoint) DO UPDATE SET
		p256dh = excluded.p256dh,
		auth = excluded.auth`,
		sub.PatientID, sub.Endpoint, sub.P256dh, sub.Auth,
	)
	if err != nil {
		return fmt.Errorf("save push subscription: %w", err)
	}
	return nil
}

// DeleteSubscription removes one endpoint and reports whether it existed.
func DeleteSubscription(ctx context.Context, db *sql.DB, patientID, endpoint string) (bool, error) {
	result, err := db.ExecContext(ctx,
		"DELETE FROM push_subscriptions WHERE patient_id = ? AND endpoint = ?",
		patientID, endpoint,
	)
	if err != nil {
		return false, fmt.Errorf("delete push subscription: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func ListSubscriptions(ctx context.Context, db *sql.DB, patientID string) ([]models.PushSubscription, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, patient_id, endpoint, p256dh, auth FROM push_subscriptions WHERE patient_id = ? ORDER BY id",
		patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []models.PushSubscription{}
	for rows.Next() {
		var s models.PushSubscription
		if err := rows.Scan(&s.ID, &s.PatientID, &s.Endpoint, &s.P256dh, &s.Auth); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func deleteEndpoint(ctx context.Context, db *sql.DB, endpoint string) error {
	_, err := db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint = ?", endpoint)
	return err
}
