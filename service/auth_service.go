package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/layer-3/sentry/core"
	"github.com/layer-3/sentry/ports"
)

// AuthConfig holds token lifetimes
type AuthConfig struct {
	ChallengeTTL time.Duration
	AccessTTL    time.Duration
	RefreshTTL   time.Duration
}

// DefaultAuthConfig returns the lifetimes used when none are configured
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		ChallengeTTL: 5 * time.Minute,
		AccessTTL:    5 * time.Minute,
		RefreshTTL:   5 * 24 * time.Hour, // 5 days
	}
}

// AuthService handles authentication business logic
type AuthService struct {
	tokenizer ports.Tokenizer
	store     ports.Store
	eventPub  ports.EventPublisher
	logger    watermill.LoggerAdapter
	now       func() time.Time

	challengeTTL time.Duration
	accessTTL    time.Duration
	refreshTTL   time.Duration
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	store ports.Store,
	eventPub ports.EventPublisher,
	cfg AuthConfig,
	logger watermill.LoggerAdapter,
) *AuthService {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &AuthService{
		tokenizer:    tokenizer,
		store:        store,
		eventPub:     eventPub,
		logger:       logger.With(watermill.LogFields{"component": "auth_service"}),
		now:          time.Now,
		challengeTTL: cfg.ChallengeTTL,
		accessTTL:    cfg.AccessTTL,
		refreshTTL:   cfg.RefreshTTL,
	}
}

// AccessTTL is the lifetime of issued access tokens
func (s *AuthService) AccessTTL() time.Duration {
	return s.accessTTL
}

// CreateChallenge generates a new authentication challenge bound to address
func (s *AuthService) CreateChallenge(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", core.ErrInvalidAddress
	}

	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.now()
	challenge := &core.Challenge{
		ID:        uuid.New().String(),
		Address:   common.HexToAddress(address).Hex(),
		Nonce:     hex.EncodeToString(nonceBytes),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.challengeTTL),
	}

	token, err := s.tokenizer.ChallengeToToken(challenge)
	if err != nil {
		return "", fmt.Errorf("failed to create token: %w", err)
	}

	return token, nil
}

// Login authenticates a wallet using its signed challenge.
// Each challenge can be used once.
func (s *AuthService) Login(ctx context.Context, challengeToken, signature, address string) (core.TokenPair, error) {
	challenge, err := s.tokenizer.TokenToChallenge(challengeToken)
	if err != nil {
		if errors.Is(err, core.ErrTokenExpired) {
			return core.TokenPair{}, err
		}
		return core.TokenPair{}, fmt.Errorf("invalid challenge token: %w", err)
	}

	if err := s.tokenizer.VerifySignature(challenge, signature, address); err != nil {
		return core.TokenPair{}, fmt.Errorf("signature verification failed: %w", err)
	}

	ttl := challenge.ExpiresAt.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	consumed, err := s.store.ConsumeToken(ctx, challenge.ID, ttl)
	if err != nil {
		return core.TokenPair{}, fmt.Errorf("failed to consume challenge: %w", err)
	}
	if !consumed {
		return core.TokenPair{}, core.ErrInvalidChallenge
	}

	pair, err := s.issue(common.HexToAddress(address).Hex())
	if err != nil {
		return core.TokenPair{}, err
	}

	s.logger.Info("Wallet logged in", watermill.LogFields{"address": address})
	return pair, nil
}

// Refresh rotates the refresh token and issues new access and refresh tokens
func (s *AuthService) Refresh(ctx context.Context, refreshTokenStr string) (core.TokenPair, error) {
	session, err := s.tokenizer.RefreshTokenToSession(refreshTokenStr)
	if err != nil {
		if errors.Is(err, core.ErrTokenExpired) {
			return core.TokenPair{}, err
		}
		return core.TokenPair{}, fmt.Errorf("invalid refresh token: %w", err)
	}

	if s.now().After(session.RefreshExpiry) {
		return core.TokenPair{}, core.ErrTokenExpired
	}

	// The invalidation record only has to outlive the token itself
	remainingTime := session.RefreshExpiry.Sub(s.now())
	if remainingTime < time.Second {
		remainingTime = time.Second
	}
	consumed, err := s.store.ConsumeToken(ctx, session.RefreshID, remainingTime)
	if err != nil {
		return core.TokenPair{}, fmt.Errorf("failed to invalidate old token: %w", err)
	}
	if !consumed {
		return core.TokenPair{}, core.ErrTokenInvalidated
	}

	return s.issue(session.Address)
}

// Logout invalidates a refresh token, and with it every access token issued alongside
func (s *AuthService) Logout(ctx context.Context, refreshTokenStr string) error {
	session, err := s.tokenizer.RefreshTokenToSession(refreshTokenStr)
	if err != nil {
		if errors.Is(err, core.ErrTokenExpired) {
			return err
		}
		return fmt.Errorf("invalid refresh token: %w", err)
	}

	remainingTime := session.RefreshExpiry.Sub(s.now())
	if remainingTime <= 0 {
		// clocks may disagree slightly; keep the record around anyway
		remainingTime = time.Hour
	}

	if err := s.store.InvalidateToken(ctx, session.RefreshID, remainingTime); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	// The token is already invalidated in the store; the event only informs other instances
	if s.eventPub != nil {
		if err := s.eventPub.PublishLogout(ctx, session.Address, session.RefreshID); err != nil {
			s.logger.Error("Failed to publish logout event", err, watermill.LogFields{"address": session.Address})
		}
	}

	return nil
}

func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.Session, error) {
	session, err := s.tokenizer.AccessTokenToSession(accessToken)
	if err != nil {
		if errors.Is(err, core.ErrTokenExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("invalid access token: %w", err)
	}

	if s.now().After(session.AccessExpiry) {
		return nil, core.ErrTokenExpired
	}

	// Access tokens die with the refresh token they were issued with
	if session.RefreshID != "" {
		invalidated, err := s.store.IsTokenInvalidated(ctx, session.RefreshID)
		if err != nil {
			return nil, fmt.Errorf("failed to check token invalidation: %w", err)
		}

		if invalidated {
			return nil, core.ErrTokenInvalidated
		}
	}

	return session, nil
}

func (s *AuthService) issue(address string) (core.TokenPair, error) {
	now := s.now()
	session := &core.Session{
		ID:            uuid.New().String(),
		Address:       address,
		IssuedAt:      now,
		RefreshExpiry: now.Add(s.refreshTTL),
		AccessExpiry:  now.Add(s.accessTTL),
		RefreshID:     uuid.New().String(),
	}

	accessToken, err := s.tokenizer.SessionToAccessToken(session)
	if err != nil {
		return core.TokenPair{}, fmt.Errorf("failed to create access token: %w", err)
	}

	refreshToken, err := s.tokenizer.SessionToRefreshToken(session)
	if err != nil {
		return core.TokenPair{}, fmt.Errorf("failed to create refresh token: %w", err)
	}

	return core.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    s.accessTTL,
	}, nil
}
