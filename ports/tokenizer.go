package ports

import (
	"time"

	"github.com/layer-3/sentry/core"
)

// Tokenizer converts between domain objects and tokens
type Tokenizer interface {
	// Challenge token operations
	ChallengeToToken(challenge *core.Challenge) (string, error)
	TokenToChallenge(token string) (*core.Challenge, error)

	// Session tokens operations
	SessionToAccessToken(session *core.Session) (string, error)
	AccessTokenToSession(token string) (*core.Session, error)
	SessionToRefreshToken(session *core.Session) (string, error)
	RefreshTokenToSession(token string) (*core.Session, error)

	// Verification helpers
	VerifySignature(challenge *core.Challenge, signature string, address string) error
}

// TokenDecoder reads claims from a token it cannot verify.
// Clients use it to learn when the session they hold runs out.
type TokenDecoder interface {
	ExpiresAt(token string) (time.Time, error)
}
