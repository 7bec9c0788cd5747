package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/sentry/adapters/events"
	"github.com/layer-3/sentry/adapters/store"
	"github.com/layer-3/sentry/adapters/tokenizer"
	"github.com/layer-3/sentry/config"
	"github.com/layer-3/sentry/service"
	"github.com/layer-3/sentry/transport/http"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := watermill.NewStdLogger(cfg.LogDebug, false)
	if !cfg.LogDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	privateKey, err := signingKey(cfg.SigningKeyPEM, cfg.SigningKey)
	if err != nil {
		log.Fatalf("Failed to load signing key: %v", err)
	}

	domain, err := cfg.Domain.EIP712()
	if err != nil {
		log.Fatalf("Failed to load EIP-712 domain: %v", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to parse Redis URL: %v", err)
	}
	redisClient := redis.NewClient(opts)
	defer redisClient.Close()

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: redisClient,
		},
		logger,
	)
	if err != nil {
		log.Fatalf("Failed to create Redis publisher: %v", err)
	}
	defer publisher.Close()

	authService := service.NewAuthService(
		tokenizer.NewJWTTokenizer(privateKey, domain),
		store.NewRedisStore(redisClient),
		events.NewWatermillPublisher(publisher),
		cfg.Auth(),
		logger,
	)

	router := http.SetupRouter(authService)

	logger.Info("Starting auth backend", watermill.LogFields{"addr": cfg.Addr})
	if err := router.Run(cfg.Addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// signingKey loads the P-256 token signing key, preferring PEM over a raw
// hex scalar. Without either, tokens do not survive a restart.
func signingKey(pemKey, hexKey string) (*ecdsa.PrivateKey, error) {
	if pemKey != "" {
		key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pemKey))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidKey, err)
		}
		if key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("%w: curve %s", errInvalidKey, key.Curve.Params().Name)
		}
		return key, nil
	}

	if hexKey == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	d, ok := new(big.Int).SetString(strings.TrimPrefix(hexKey, "0x"), 16)
	if !ok {
		return nil, errInvalidKey
	}
	curve := elliptic.P256()
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, errInvalidKey
	}

	key := &ecdsa.PrivateKey{D: d}
	key.PublicKey.Curve = curve
	key.PublicKey.X, key.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	return key, nil
}
