package service

import (
	"context"

	"backoffice-service/internal/models"
)

// EventPublisher publishes domain events after state has been persisted.
// Publishing is best effort: failures are logged by the caller, never returned.
type EventPublisher interface {
	PublishDispatchImported(ctx context.Context, event *models.DispatchImportedEvent) error
	PublishPaymentSucceeded(ctx context.Context, event *models.PaymentSucceededEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}
