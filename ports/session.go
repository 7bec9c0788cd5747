package ports

import "context"

// SessionStore holds the current session token and knows how to obtain a new one.
//
// Login is asynchronous from the caller's point of view: a successful login is
// observed through Watch, not through its return value.
type SessionStore interface {
	CurrentToken() (string, bool)
	Login(ctx context.Context) error
	// Watch streams every token the store adopts. An empty string means the
	// session was dropped. The channel is closed when ctx is done.
	Watch(ctx context.Context) <-chan string
}
