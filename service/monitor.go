package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/sentry/core"
	"github.com/layer-3/sentry/ports"
)

// DefaultExpiryNotice is sent to the notifier every time the session token changes
const DefaultExpiryNotice = "Login session has expired, please sign up to login again"

// SessionMonitor keeps a wallet session alive.
//
// It logs in when a wallet connects and re-logs in when the current session
// token reaches its exp claim. At most one renewal timer is pending at a time:
// every new token, lost connection, or Close cancels the previous one.
type SessionMonitor struct {
	store    ports.SessionStore
	wallet   ports.Wallet
	notifier ports.Notifier
	decoder  ports.TokenDecoder
	clock    ports.Clock
	logger   watermill.LoggerAdapter
	notice   string

	closed atomic.Bool
	logins sync.WaitGroup

	mu         sync.Mutex
	state      core.MonitorState
	timer      ports.Timer
	generation uint64
	deadline   time.Time
	account    common.Address
	connected  bool
}

// MonitorOption configures a SessionMonitor
type MonitorOption func(*SessionMonitor)

func WithMonitorLogger(logger watermill.LoggerAdapter) MonitorOption {
	return func(m *SessionMonitor) { m.logger = logger }
}

// WithExpiryNotice replaces DefaultExpiryNotice
func WithExpiryNotice(notice string) MonitorOption {
	return func(m *SessionMonitor) { m.notice = notice }
}

// NewSessionMonitor creates an idle monitor. Nothing happens until the
// handlers are called or Run is started.
func NewSessionMonitor(
	store ports.SessionStore,
	wallet ports.Wallet,
	notifier ports.Notifier,
	decoder ports.TokenDecoder,
	clock ports.Clock,
	opts ...MonitorOption,
) *SessionMonitor {
	m := &SessionMonitor{
		store:    store,
		wallet:   wallet,
		notifier: notifier,
		decoder:  decoder,
		clock:    clock,
		logger:   watermill.NopLogger{},
		notice:   DefaultExpiryNotice,
		state:    core.MonitorIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(watermill.LogFields{"component": "session_monitor"})
	return m
}

// Run feeds the current wallet and token facts to the handlers, then every
// change reported by the wallet and the store, until ctx is done.
// The monitor is closed when Run returns.
func (m *SessionMonitor) Run(ctx context.Context) error {
	accounts := m.wallet.Watch(ctx)
	tokens := m.store.Watch(ctx)

	addr, connected := m.wallet.Account()
	m.AccountChanged(ctx, ports.AccountEvent{Address: addr, Connected: connected})

	last, _ := m.store.CurrentToken()
	m.TokenChanged(ctx, last)

	defer func() {
		m.Close()
		m.logins.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-accounts:
			if !ok {
				accounts = nil
				continue
			}
			m.AccountChanged(ctx, ev)

		case token, ok := <-tokens:
			if !ok {
				tokens = nil
				continue
			}
			if token == last {
				continue
			}
			last = token
			m.TokenChanged(ctx, token)
		}
	}
}

// AccountChanged handles a wallet connection fact. A newly connected account
// triggers a login; a lost connection cancels any pending renewal.
func (m *SessionMonitor) AccountChanged(ctx context.Context, ev ports.AccountEvent) {
	if m.closed.Load() {
		return
	}

	m.mu.Lock()
	wasConnected, prev := m.connected, m.account
	m.connected, m.account = ev.Connected, ev.Address

	if !ev.Connected {
		m.cancelLocked()
		m.state = core.MonitorIdle
	}

	login := ev.Connected && (!wasConnected || prev != ev.Address) && !m.closed.Load()
	if login {
		m.logins.Add(1)
	}
	m.mu.Unlock()

	if !login {
		return
	}

	m.logger.Info("Wallet connected, logging in", watermill.LogFields{"address": ev.Address.Hex()})
	go func() {
		defer m.logins.Done()
		m.login(context.WithoutCancel(ctx), "connect")
	}()
}

// TokenChanged handles a new session token, including the first one and the
// empty token. It always emits the expiry notice, then rearms the renewal
// timer for the token's exp if a wallet is connected.
func (m *SessionMonitor) TokenChanged(ctx context.Context, token string) {
	if m.closed.Load() {
		return
	}

	m.notifier.Notify(ctx, m.notice)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelLocked()
	m.state = core.MonitorIdle

	if token == "" || !m.connected {
		m.logger.Debug("Renewal not scheduled", watermill.LogFields{
			"has_token": token != "",
			"connected": m.connected,
		})
		return
	}

	exp, err := m.decoder.ExpiresAt(token)
	if err != nil {
		m.logger.Error("Failed to decode session token, renewal not scheduled", err, nil)
		return
	}

	remaining := exp.Sub(m.clock.Now())
	if remaining < 0 {
		remaining = 0
	}

	m.generation++
	gen := m.generation
	loginCtx := context.WithoutCancel(ctx)
	m.timer = m.clock.AfterFunc(remaining, func() { m.fire(loginCtx, gen) })
	m.deadline = exp
	m.state = core.MonitorScheduled

	m.logger.Debug("Renewal scheduled", watermill.LogFields{
		"expires_at": exp.UTC().Format(time.RFC3339),
		"remaining":  remaining.String(),
	})
}

// Close cancels the pending renewal. Later events are ignored.
func (m *SessionMonitor) Close() {
	m.closed.Store(true)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelLocked()
	m.state = core.MonitorIdle
}

// State returns the current state of the renewal slot
func (m *SessionMonitor) State() core.MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Deadline returns when the pending renewal fires
func (m *SessionMonitor) Deadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != core.MonitorScheduled {
		return time.Time{}, false
	}
	return m.deadline, true
}

func (m *SessionMonitor) fire(ctx context.Context, gen uint64) {
	m.mu.Lock()
	// A timer that lost the race with Stop must not renew a replaced token.
	if m.closed.Load() || gen != m.generation || m.state != core.MonitorScheduled {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.deadline = time.Time{}
	m.state = core.MonitorRenewing
	m.logins.Add(1)
	m.mu.Unlock()

	defer m.logins.Done()
	m.logger.Info("Session token expired, renewing", nil)
	m.login(ctx, "renewal")
}

func (m *SessionMonitor) login(ctx context.Context, reason string) {
	if err := m.store.Login(ctx); err != nil {
		m.logger.Error("Login failed", err, watermill.LogFields{"reason": reason})
	}
}

func (m *SessionMonitor) cancelLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.generation++
	m.deadline = time.Time{}
}
