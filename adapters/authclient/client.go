package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/layer-3/sentry/adapters/tokenizer"
	"github.com/layer-3/sentry/core"
	"github.com/layer-3/sentry/ports"
)

// Client is a session store backed by the auth backend's HTTP API.
// It logs in by having the wallet sign a server issued challenge.
type Client struct {
	baseURL string
	http    *http.Client
	wallet  ports.SigningWallet
	cache   ports.TokenCache
	decoder *tokenizer.Decoder
	logger  watermill.LoggerAdapter

	mu       sync.Mutex
	pair     core.TokenPair
	address  string
	watchers map[chan string]struct{}
}

var _ ports.SessionStore = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger watermill.LoggerAdapter) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a session store for the backend at baseURL.
// cache may be nil.
func NewClient(baseURL string, wallet ports.SigningWallet, cache ports.TokenCache, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 10 * time.Second},
		wallet:   wallet,
		cache:    cache,
		decoder:  tokenizer.NewDecoder(),
		logger:   watermill.NopLogger{},
		watchers: make(map[chan string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(watermill.LogFields{"component": "auth_client"})
	return c
}

func (c *Client) CurrentToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pair.AccessToken, c.pair.AccessToken != ""
}

// RefreshToken returns the refresh token of the current session
func (c *Client) RefreshToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pair.RefreshToken
}

func (c *Client) Watch(ctx context.Context) <-chan string {
	ch := make(chan string, 1)

	c.mu.Lock()
	c.watchers[ch] = struct{}{}
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		delete(c.watchers, ch)
		close(ch)
		c.mu.Unlock()
	}()

	return ch
}

// Resume adopts a cached session for the connected wallet, if there is one
func (c *Client) Resume(ctx context.Context) (bool, error) {
	if c.cache == nil {
		return false, nil
	}
	addr, ok := c.wallet.Account()
	if !ok {
		return false, core.ErrWalletNotConnected
	}

	pair, err := c.cache.Load(ctx, addr.Hex())
	if err != nil {
		if errors.Is(err, core.ErrTokenNotFound) {
			return false, nil
		}
		return false, err
	}

	exp, err := c.decoder.ExpiresAt(pair.RefreshToken)
	if err != nil || !exp.After(time.Now()) {
		_ = c.cache.Clear(ctx, addr.Hex())
		return false, nil
	}

	c.adopt(ctx, addr.Hex(), pair)
	return true, nil
}

// Login runs challenge, sign and login against the backend
func (c *Client) Login(ctx context.Context) error {
	addr, ok := c.wallet.Account()
	if !ok {
		return core.ErrWalletNotConnected
	}
	address := addr.Hex()

	var challenge challengeResponse
	if err := c.post(ctx, "/auth/challenge", challengeRequest{Address: address}, &challenge); err != nil {
		return fmt.Errorf("failed to request challenge: %w", err)
	}

	decoded, err := c.decoder.Challenge(challenge.Token)
	if err != nil {
		return fmt.Errorf("failed to decode challenge: %w", err)
	}

	signature, err := c.wallet.SignNonce(ctx, decoded.Nonce)
	if err != nil {
		return fmt.Errorf("failed to sign challenge: %w", err)
	}

	var tokens tokenResponse
	err = c.post(ctx, "/auth/login", loginRequest{
		ChallengeToken: challenge.Token,
		Signature:      signature,
		Address:        address,
	}, &tokens)
	if err != nil {
		return fmt.Errorf("failed to login: %w", err)
	}

	c.adopt(ctx, address, tokens.pair())
	c.logger.Info("Logged in", watermill.LogFields{"address": address})
	return nil
}

// Refresh rotates the current refresh token
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	refresh, address := c.pair.RefreshToken, c.address
	c.mu.Unlock()
	if refresh == "" {
		return core.ErrTokenNotFound
	}

	var tokens tokenResponse
	if err := c.post(ctx, "/auth/refresh", refreshRequest{RefreshToken: refresh}, &tokens); err != nil {
		return fmt.Errorf("failed to refresh: %w", err)
	}

	c.adopt(ctx, address, tokens.pair())
	return nil
}

// Logout revokes the current session and drops it locally even if the
// backend cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	refresh, address := c.pair.RefreshToken, c.address
	c.mu.Unlock()
	if refresh == "" {
		return nil
	}

	err := c.post(ctx, "/auth/logout", refreshRequest{RefreshToken: refresh}, nil)

	c.adopt(ctx, address, core.TokenPair{})
	if err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

func (c *Client) adopt(ctx context.Context, address string, pair core.TokenPair) {
	if c.cache != nil && address != "" {
		var err error
		if pair.AccessToken == "" {
			err = c.cache.Clear(ctx, address)
		} else {
			err = c.cache.Save(ctx, address, pair)
		}
		if err != nil {
			c.logger.Error("Failed to update token cache", err, watermill.LogFields{"address": address})
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pair = pair
	c.address = address

	for ch := range c.watchers {
		// Only the latest token matters to a watcher.
		select {
		case <-ch:
		default:
		}
		ch <- pair.AccessToken
	}
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%w: %d %s", core.ErrUnexpectedStatus, resp.StatusCode, apiErr.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
