package authclient

import (
	"time"

	"github.com/layer-3/sentry/core"
)

// Wire types of the auth backend; they mirror transport/http.

type challengeRequest struct {
	Address string `json:"address"`
}

type challengeResponse struct {
	Token string `json:"token"`
}

type loginRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Signature      string `json:"signature"`
	Address        string `json:"address"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (r tokenResponse) pair() core.TokenPair {
	return core.TokenPair{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    time.Duration(r.ExpiresIn) * time.Second,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}
