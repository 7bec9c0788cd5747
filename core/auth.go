package core

import "time"

// Challenge represents an authentication challenge
type Challenge struct {
	ID        string    // Unique identifier for the challenge
	Address   string    // Ethereum address of the wallet asked to sign
	Nonce     string    // Random nonce to be signed
	IssuedAt  time.Time // When the challenge was created
	ExpiresAt time.Time // When the challenge expires
}

// Session represents an authenticated wallet session
type Session struct {
	ID            string    // Unique session identifier
	Address       string    // Ethereum address of the wallet
	IssuedAt      time.Time // When the session was created
	RefreshExpiry time.Time // When the refresh capability expires
	AccessExpiry  time.Time // When the access capability expires
	RefreshID     string    // Unique identifier for the refresh token
}

// TokenPair is the result of a successful login or refresh
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration // Lifetime of the access token
}
