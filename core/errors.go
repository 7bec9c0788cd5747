package core

import "errors"

var (
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidChallenge = errors.New("invalid challenge")
	ErrInvalidAddress   = errors.New("invalid ethereum address")

	// ErrMalformedToken is returned when a token cannot be decoded at all
	ErrMalformedToken = errors.New("malformed token")
	// ErrMissingExpiry is returned when a decoded token carries no exp claim
	ErrMissingExpiry = errors.New("token has no expiry")

	ErrWalletNotConnected = errors.New("wallet is not connected")
	ErrUnexpectedStatus   = errors.New("unexpected response status")
	ErrTokenNotFound      = errors.New("token not found")
)
