package store

import (
	"context"
	"fmt"

	"backoffice-service/internal/models"
)

// IsNotificationLogged checks whether an event has already been delivered
func (s *Store) IsNotificationLogged(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM notification_logs WHERE event_id = $1)", eventID)
	return exists, err
}

// LogNotification records a delivery attempt; the first record per event wins.
func (s *Store) LogNotification(ctx context.Context, entry *models.NotificationLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_logs (event_id, event_type, target, status, detail)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING`,
		entry.EventID, entry.EventType, entry.Target, entry.Status, entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to log notification %s: %w", entry.EventID, err)
	}
	return nil
}
