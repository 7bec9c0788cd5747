package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/sentry/core"
	"github.com/layer-3/sentry/internal/eth"
	"github.com/layer-3/sentry/ports"
)

const AudienceChallenge = "session:challenge"
const AudienceAccess = "session:access"
const AudienceRefresh = "session:refresh"

// JWTTokenizer implements the Tokenizer interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	domain  eth.EIP712Domain
	now     func() time.Time
}

// Option configures a JWTTokenizer
type Option func(*JWTTokenizer)

// WithTimeFunc overrides the clock used to check exp and iat
func WithTimeFunc(now func() time.Time) Option {
	return func(j *JWTTokenizer) { j.now = now }
}

// NewJWTTokenizer creates a new JWT tokenizer.
// Login signatures are verified against domain.
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, domain eth.EIP712Domain, opts ...Option) ports.Tokenizer {
	j := &JWTTokenizer{signKey: signKey, domain: domain, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// ChallengeToToken converts a Challenge to a JWT token
func (j *JWTTokenizer) ChallengeToToken(challenge *core.Challenge) (string, error) {
	claims := ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   challenge.Address,
			ID:        challenge.ID,
			ExpiresAt: jwt.NewNumericDate(challenge.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(challenge.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceChallenge},
		},
		Nonce: challenge.Nonce,
	}

	return j.sign(claims, "challenge")
}

// TokenToChallenge converts a JWT token to a Challenge
func (j *JWTTokenizer) TokenToChallenge(tokenStr string) (*core.Challenge, error) {
	claims := &ChallengeClaims{}
	if err := j.parse(tokenStr, claims, AudienceChallenge); err != nil {
		return nil, err
	}

	return &core.Challenge{
		ID:        claims.ID,
		Address:   claims.Subject,
		Nonce:     claims.Nonce,
		IssuedAt:  timeOf(claims.IssuedAt),
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SessionToAccessToken converts a Session to an access JWT token
func (j *JWTTokenizer) SessionToAccessToken(session *core.Session) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Address,
			ID:        session.ID,
			ExpiresAt: jwt.NewNumericDate(session.AccessExpiry),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceAccess},
		},
		RefreshID: session.RefreshID,
	}

	return j.sign(claims, "access")
}

// SessionToRefreshToken converts a Session to a refresh JWT token
func (j *JWTTokenizer) SessionToRefreshToken(session *core.Session) (string, error) {
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.Address,
			ID:        session.RefreshID, // RefreshID doubles as the refresh token's jti
			ExpiresAt: jwt.NewNumericDate(session.RefreshExpiry),
			IssuedAt:  jwt.NewNumericDate(session.IssuedAt),
			Audience:  jwt.ClaimStrings{AudienceRefresh},
		},
	}

	return j.sign(claims, "refresh")
}

// AccessTokenToSession parses an access token and returns the associated session
func (j *JWTTokenizer) AccessTokenToSession(tokenStr string) (*core.Session, error) {
	claims := &AccessClaims{}
	if err := j.parse(tokenStr, claims, AudienceAccess); err != nil {
		return nil, err
	}

	return &core.Session{
		ID:           claims.ID,
		Address:      claims.Subject,
		IssuedAt:     timeOf(claims.IssuedAt),
		AccessExpiry: claims.ExpiresAt.Time,
		RefreshID:    claims.RefreshID,
	}, nil
}

// RefreshTokenToSession parses a refresh token and returns the associated session.
// Only the refresh half of the session is populated.
func (j *JWTTokenizer) RefreshTokenToSession(tokenStr string) (*core.Session, error) {
	claims := &RefreshClaims{}
	if err := j.parse(tokenStr, claims, AudienceRefresh); err != nil {
		return nil, err
	}

	return &core.Session{
		Address:       claims.Subject,
		IssuedAt:      timeOf(claims.IssuedAt),
		RefreshExpiry: claims.ExpiresAt.Time,
		RefreshID:     claims.ID,
	}, nil
}

// VerifySignature verifies an EIP-712 signature of the challenge nonce
func (j *JWTTokenizer) VerifySignature(challenge *core.Challenge, signatureStr string, addressStr string) error {
	if !common.IsHexAddress(addressStr) {
		return core.ErrInvalidAddress
	}
	expectedAddr := common.HexToAddress(addressStr)
	if challenge.Address != "" && common.HexToAddress(challenge.Address) != expectedAddr {
		return fmt.Errorf("address mismatch: %w", core.ErrInvalidChallenge)
	}

	decodedSig, err := hexutil.Decode(signatureStr)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}
	if len(decodedSig) != eth.SignatureLength {
		return fmt.Errorf("signature must be 65 bytes: %w", core.ErrInvalidSignature)
	}

	verified, err := eth.VerifySignatureAgainstAddress(j.domain, eth.NonceMessage(challenge.Nonce), decodedSig, expectedAddr)
	if err != nil {
		return fmt.Errorf("EIP-712 signature verification failed: %w", core.ErrInvalidSignature)
	}
	if !verified {
		return core.ErrInvalidSignature
	}

	return nil
}

func (j *JWTTokenizer) sign(claims jwt.Claims, kind string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}

	return signedToken, nil
}

func (j *JWTTokenizer) parse(tokenStr string, claims jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	},
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return core.ErrTokenExpired
		}
		return fmt.Errorf("failed to parse token: %w: %w", core.ErrInvalidToken, err)
	}

	if !token.Valid {
		return core.ErrInvalidToken
	}

	return nil
}

// timeOf tolerates optional claims such as iat
func timeOf(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
