package webhook

import (
	"context"

	"github.com/marrygold/usher/pkg/identity"
	"github.com/marrygold/usher/pkg/observability"
)

// Resolver reconciles verified notifications into the identity store.
// Implemented by identity.Store and identity.CachedStore.
type Resolver interface {
	CreateFromNotification(ctx context.Context, n *identity.Notification) (*identity.Identity, error)
	UpdateFromNotification(ctx context.Context, n *identity.Notification) (*identity.Identity, error)
	Delete(ctx context.Context, externalID string) error
}

// Dispatcher routes a verified event to the resolver path matching its type.
// Types it does not recognize are accepted and discarded: the provider adds
// event types over time, and failing them would trigger pointless
// redelivery backoff.
type Dispatcher struct {
	resolver Resolver
	logger   *observability.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(resolver Resolver, logger *observability.Logger) *Dispatcher {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Dispatcher{resolver: resolver, logger: logger}
}

// Dispatch processes a single delivery attempt to completion. Idempotency
// under redelivery lives in the resolver, not here; each attempt runs the
// resolver exactly once.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	switch event.Type {
	case EventUserCreated:
		_, err := d.resolver.CreateFromNotification(ctx, &event.Notification)
		return err
	case EventUserUpdated:
		_, err := d.resolver.UpdateFromNotification(ctx, &event.Notification)
		return err
	case EventUserDeleted:
		return d.resolver.Delete(ctx, event.Notification.ExternalID)
	default:
		d.logger.WithField("type", string(event.Type)).Debug("ignoring unrecognized event type")
		return nil
	}
}
