package ports

import "context"

// EventPublisher fans session lifecycle events out to other backend instances.
// Publishing is best effort; the Store stays authoritative.
type EventPublisher interface {
	// PublishLogout announces that refreshID was invalidated for address
	PublishLogout(ctx context.Context, address string, refreshID string) error
}
