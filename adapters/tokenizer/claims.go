package tokenizer

import "github.com/golang-jwt/jwt/v5"

// ChallengeClaims carry the login nonce. The jti is the challenge ID that
// AuthService consumes on a successful login.
type ChallengeClaims struct {
	jwt.RegisteredClaims
	Nonce string `json:"nonce"`
}

// AccessClaims tie an access token to the refresh token it was issued with
type AccessClaims struct {
	jwt.RegisteredClaims
	// RefreshID is what ValidateAccessToken looks up in the invalidation
	// store, so logout or rotation of the refresh token kills this token too.
	RefreshID string `json:"rid"`
}

// RefreshClaims use the jti as the refresh ID
type RefreshClaims struct {
	jwt.RegisteredClaims
}
