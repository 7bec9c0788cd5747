package tokenizer

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/sentry/core"
	"github.com/layer-3/sentry/ports"
)

// Decoder reads claims without verifying the signature.
// Clients hold tokens but never the key that signed them.
type Decoder struct {
	parser *jwt.Parser
}

// NewDecoder creates a new unverified claims decoder
func NewDecoder() *Decoder {
	return &Decoder{parser: jwt.NewParser()}
}

var _ ports.TokenDecoder = (*Decoder)(nil)

// ExpiresAt returns the exp claim of token
func (d *Decoder) ExpiresAt(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := d.parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", core.ErrMalformedToken, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", core.ErrMalformedToken, err)
	}
	if exp == nil {
		return time.Time{}, core.ErrMissingExpiry
	}

	return exp.Time, nil
}

// Challenge extracts the nonce a wallet is asked to sign
func (d *Decoder) Challenge(token string) (*core.Challenge, error) {
	claims := &ChallengeClaims{}
	if _, _, err := d.parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedToken, err)
	}
	if claims.Nonce == "" {
		return nil, core.ErrInvalidChallenge
	}

	challenge := &core.Challenge{
		ID:      claims.ID,
		Address: claims.Subject,
		Nonce:   claims.Nonce,
	}
	if claims.IssuedAt != nil {
		challenge.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		challenge.ExpiresAt = claims.ExpiresAt.Time
	}
	return challenge, nil
}
