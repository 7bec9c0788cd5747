package ports

import "context"

// Notifier is a fire-and-forget user visible message channel
type Notifier interface {
	Notify(ctx context.Context, message string)
}
