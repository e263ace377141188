package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"
)

var ErrNoSubscriptions = errors.New("no push subscriptions")

type VapidConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

func (c VapidConfig) Configured() bool {
	return c.PublicKey != "" && c.PrivateKey != "" && c.Subject != ""
}

// WebPush sends notifications to every push subscription a patient holds.
type WebPush struct {
	db     *sql.DB
	vapid  VapidConfig
	client webpush.HTTPClient
	logger *zap.SugaredLogger
}

func NewWebPush(db *sql.DB, vapid VapidConfig, logger *zap.SugaredLogger) *WebPush {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WebPush{db: db, vapid: vapid, client: http.DefaultClient, logger: logger}
}

func (w *WebPush) Configured() bool { return w.vapid.Configured() }

func (w *WebPush) PublicKey() string { return w.vapid.PublicKey }

func (w *WebPush) options() *webpush.Options {
	return &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.vapid.Subject,
		VAPIDPublicKey:  w.vapid.PublicKey,
		VAPIDPrivateKey: w.vapid.PrivateKey,
		TTL:             30,
	}
}

// Notify pushes payload to each of the patient's subscriptions. Endpoints
// the push service reports as gone (404, 410) or bound to other keys (403)
// are removed. Without VAPID keys it logs and returns nil.
func (w *WebPush) Notify(ctx context.Context, patientID string, payload Payload) error {
	if !w.Configured() {
		w.logger.Infow("Web push not configured, skipping notification", "patient", patientID, "title", payload.Title)
		return nil
	}

	subs, err := ListSubscriptions(ctx, w.db, patientID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return fmt.Errorf("%w for patient %s", ErrNoSubscriptions, patientID)
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	options := w.options()
	successCount := 0
	failCount := 0

	for _, sub := range subs {
		subscription := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}

		resp, err := webpush.SendNotificationWithContext(ctx, payloadJSON, subscription, options)
		if err != nil {
			w.logger.Warnw("Failed to send push", "patient", patientID, "endpoint", sub.Endpoint, "error", err)
			failCount++
			continue
		}

		status := resp.StatusCode
		if status >= 400 {
			body, _ := io.ReadAll(resp.Body)
			w.logger.Warnw("Push service rejected notification",
				"patient", patientID, "status", status, "body", string(body))
		}
		resp.Body.Close()

		switch {
		case status == http.StatusNotFound || status == http.StatusGone || status == http.StatusForbidden:
			if err := deleteEndpoint(ctx, w.db, sub.Endpoint); err != nil {
				w.logger.Errorw("Failed to remove stale subscription", "endpoint", sub.Endpoint, "error", err)
			} else {
				w.logger.Infow("Removed stale subscription", "endpoint", sub.Endpoint, "status", status)
			}
			failCount++
		case status >= 400:
			failCount++
		default:
			successCount++
		}
	}

	w.logger.Infow("Push notification summary", "patient", patientID,
		"subscriptions", len(subs), "success", successCount, "failed", failCount)

	if successCount == 0 {
		return fmt.Errorf("failed to send any push notifications (attempted %d)", failCount)
	}
	return nil
}
