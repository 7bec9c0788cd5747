// Package config loads both binaries' settings from the environment.
package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/sentry/internal/eth"
	"github.com/layer-3/sentry/service"
)

// Domain is the EIP-712 domain wallets sign login challenges under.
// Server and client must agree on it.
type Domain struct {
	Name              string `env:"BARONG_EIP712_NAME"          envDefault:"Barong"`
	Version           string `env:"BARONG_EIP712_VERSION"       envDefault:"1"`
	ChainID           int64  `env:"BARONG_CHAIN_ID"             envDefault:"1"`
	VerifyingContract string `env:"BARONG_VERIFYING_CONTRACT"   envDefault:"0x0000000000000000000000000000000000000000"`
}

// EIP712 converts the settings into a signing domain
func (d Domain) EIP712() (eth.EIP712Domain, error) {
	if !common.IsHexAddress(d.VerifyingContract) {
		return eth.EIP712Domain{}, fmt.Errorf("invalid verifying contract %q", d.VerifyingContract)
	}
	return eth.EIP712Domain{
		Name:              d.Name,
		Version:           d.Version,
		ChainID:           big.NewInt(d.ChainID),
		VerifyingContract: common.HexToAddress(d.VerifyingContract),
	}, nil
}

// Server configures cmd/barong
type Server struct {
	Addr     string `env:"BARONG_ADDR"        envDefault:":9000"`
	RedisURL string `env:"REDIS_URL"          envDefault:"redis://localhost:6379/0"`
	// SigningKeyPEM is a PEM encoded P-256 private key (SEC 1 or PKCS #8).
	SigningKeyPEM string `env:"BARONG_SIGNING_KEY_PEM"`
	// SigningKey is a hex P-256 scalar, read only when SigningKeyPEM is empty.
	// A fresh key is generated when neither is set.
	SigningKey string `env:"BARONG_SIGNING_KEY"`

	ChallengeTTL time.Duration `env:"BARONG_CHALLENGE_TTL" envDefault:"5m"`
	AccessTTL    time.Duration `env:"BARONG_ACCESS_TTL"    envDefault:"5m"`
	RefreshTTL   time.Duration `env:"BARONG_REFRESH_TTL"   envDefault:"120h"`

	LogDebug bool `env:"BARONG_LOG_DEBUG"`

	Domain Domain
}

// Auth returns the token lifetimes
func (s Server) Auth() service.AuthConfig {
	return service.AuthConfig{
		ChallengeTTL: s.ChallengeTTL,
		AccessTTL:    s.AccessTTL,
		RefreshTTL:   s.RefreshTTL,
	}
}

// Client configures cmd/sentry
type Client struct {
	AuthURL    string `env:"SENTRY_AUTH_URL"    envDefault:"http://localhost:9000"`
	StatusAddr string `env:"SENTRY_STATUS_ADDR" envDefault:":9001"`
	// WalletKey is a hex secp256k1 key; a throwaway wallet is created when empty.
	WalletKey string `env:"SENTRY_WALLET_KEY"`
	// RedisURL enables the persistent token cache and notification stream.
	RedisURL string `env:"REDIS_URL"`

	// ExpiryNotice overrides the monitor's built-in notice when set.
	ExpiryNotice string `env:"SENTRY_EXPIRY_NOTICE"`
	LogDebug     bool   `env:"SENTRY_LOG_DEBUG"`

	Domain Domain
}

// LoadServer loads the backend configuration
func LoadServer() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.ChallengeTTL <= 0 {
		return Server{}, fmt.Errorf("token lifetimes must be positive")
	}
	return cfg, nil
}

// LoadClient loads the client configuration
func LoadClient() (Client, error) {
	var cfg Client
	if err := env.Parse(&cfg); err != nil {
		return Client{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
