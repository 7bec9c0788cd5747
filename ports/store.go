package ports

import (
	"context"
	"time"

	"github.com/layer-3/sentry/core"
)

// Store interface for token invalidation
type Store interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
	// ConsumeToken invalidates tokenID and reports whether this call was the
	// one that did it. At most one caller wins per token.
	ConsumeToken(ctx context.Context, tokenID string, expiry time.Duration) (bool, error)
}

// TokenCache keeps the token pair a client obtained for a wallet address
type TokenCache interface {
	Save(ctx context.Context, address string, pair core.TokenPair) error
	Load(ctx context.Context, address string) (core.TokenPair, error)
	Clear(ctx context.Context, address string) error
}
