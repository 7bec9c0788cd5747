package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/sentry/adapters/tokenizer"
	"github.com/layer-3/sentry/core"
	"github.com/layer-3/sentry/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeClock struct {
	mu        sync.Mutex
	now       time.Time
	timers    []*fakeTimer
	scheduled int
	stopped   int
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc never runs f inline; callbacks only run from Advance.
func (c *fakeClock) AfterFunc(d time.Duration, f func()) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.scheduled++
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.clock.stopped++
	return true
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.done && !t.at.After(c.now) {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

type fakeStore struct {
	mu      sync.Mutex
	token   string
	logins  chan struct{}
	watch   chan string
	onLogin func() error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		logins: make(chan struct{}, 1024),
		watch:  make(chan string, 16),
	}
}

func (s *fakeStore) CurrentToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

func (s *fakeStore) Login(ctx context.Context) error {
	s.logins <- struct{}{}
	if s.onLogin != nil {
		return s.onLogin()
	}
	return nil
}

func (s *fakeStore) Watch(ctx context.Context) <-chan string { return s.watch }

func (s *fakeStore) setToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.watch <- token
}

type fakeWallet struct {
	mu        sync.Mutex
	addr      common.Address
	connected bool
	watch     chan ports.AccountEvent
}

func newFakeWallet(connected bool) *fakeWallet {
	return &fakeWallet{
		addr:      common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		connected: connected,
		watch:     make(chan ports.AccountEvent, 16),
	}
}

func (w *fakeWallet) Account() (common.Address, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addr, w.connected
}

func (w *fakeWallet) Watch(ctx context.Context) <-chan ports.AccountEvent { return w.watch }

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

type monitorFixture struct {
	clock    *fakeClock
	store    *fakeStore
	wallet   *fakeWallet
	notifier *recordingNotifier
	monitor  *SessionMonitor
}

func newMonitorFixture(t *testing.T, connected bool) *monitorFixture {
	t.Helper()
	f := &monitorFixture{
		clock:    newFakeClock(),
		store:    newFakeStore(),
		wallet:   newFakeWallet(connected),
		notifier: &recordingNotifier{},
	}
	f.monitor = NewSessionMonitor(f.store, f.wallet, f.notifier, tokenizer.NewDecoder(), f.clock)
	t.Cleanup(f.monitor.Close)
	return f
}

func (f *monitorFixture) connect(t *testing.T) {
	t.Helper()
	f.monitor.AccountChanged(context.Background(), ports.AccountEvent{Address: f.wallet.addr, Connected: true})
	f.expectLogin(t)
}

func (f *monitorFixture) token(t *testing.T, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   f.wallet.addr.Hex(),
		ExpiresAt: jwt.NewNumericDate(f.clock.Now().Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	require.NoError(t, err)
	return token
}

func (f *monitorFixture) expectLogin(t *testing.T) {
	t.Helper()
	select {
	case <-f.store.logins:
	case <-time.After(time.Second):
		t.Fatal("expected login")
	}
}

func (f *monitorFixture) expectNoLogin(t *testing.T) {
	t.Helper()
	select {
	case <-f.store.logins:
		t.Fatal("unexpected login")
	case <-time.After(50 * time.Millisecond):
	}
}

// =============================================================================
// HANDLER TESTS
// =============================================================================

func TestConnectLogsInOnce(t *testing.T) {
	f := newMonitorFixture(t, false)
	ctx := context.Background()

	f.connect(t)

	// same account reported again is not a new connection
	f.monitor.AccountChanged(ctx, ports.AccountEvent{Address: f.wallet.addr, Connected: true})
	f.expectNoLogin(t)
	assert.Equal(t, core.MonitorIdle, f.monitor.State())
}

func TestAccountSwitchLogsIn(t *testing.T) {
	f := newMonitorFixture(t, false)
	f.connect(t)

	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	f.monitor.AccountChanged(context.Background(), ports.AccountEvent{Address: other, Connected: true})
	f.expectLogin(t)
}

func TestReconnectLogsInAgain(t *testing.T) {
	f := newMonitorFixture(t, false)
	ctx := context.Background()
	f.connect(t)

	f.monitor.AccountChanged(ctx, ports.AccountEvent{Connected: false})
	f.expectNoLogin(t)

	f.connect(t)
}

func TestRenewalFiresAtExpiry(t *testing.T) {
	f := newMonitorFixture(t, false)
	f.connect(t)

	f.monitor.TokenChanged(context.Background(), f.token(t, 10*time.Second))
	assert.Equal(t, core.MonitorScheduled, f.monitor.State())
	assert.Equal(t, 1, f.clock.pending())

	deadline, ok := f.monitor.Deadline()
	require.True(t, ok)
	assert.True(t, f.clock.Now().Add(10*time.Second).Equal(deadline))

	f.clock.Advance(9 * time.Second)
	f.expectNoLogin(t)

	f.clock.Advance(time.Second)
	f.expectLogin(t)
	assert.Equal(t, core.MonitorRenewing, f.monitor.State())
	assert.Equal(t, 0, f.clock.pending())

	_, ok = f.monitor.Deadline()
	assert.False(t, ok)
}

func TestReplacedTokenCancelsPreviousTimer(t *testing.T) {
	f := newMonitorFixture(t, false)
	ctx := context.Background()
	f.connect(t)

	f.monitor.TokenChanged(ctx, f.token(t, 10*time.Second))
	f.monitor.TokenChanged(ctx, f.token(t, 20*time.Second))

	assert.Equal(t, 2, f.clock.scheduled)
	assert.Equal(t, 1, f.clock.stopped)
	assert.Equal(t, 1, f.clock.pending())

	f.clock.Advance(10 * time.Second)
	f.expectNoLogin(t)
	assert.Equal(t, core.MonitorScheduled, f.monitor.State())

	f.clock.Advance(10 * time.Second)
	f.expectLogin(t)
	f.expectNoLogin(t)
}

func TestStaleTimerCallbackIsIgnored(t *testing.T) {
	f := newMonitorFixture(t, false)
	ctx := context.Background()
	f.connect(t)

	f.monitor.TokenChanged(ctx, f.token(t, 10*time.Second))
	stale := f.clock.timers[0].f
	f.monitor.TokenChanged(ctx, f.token(t, 20*time.Second))

	// callback already in flight when the timer was replaced
	stale()
	f.expectNoLogin(t)
	assert.Equal(t, core.MonitorScheduled, f.monitor.State())
}

func TestNoTimerWithoutConnection(t *testing.T) {
	f := newMonitorFixture(t, false)

	f.monitor.TokenChanged(context.Background(), f.token(t, 10*time.Second))

	assert.Equal(t, core.MonitorIdle, f.monitor.State())
	assert.Equal(t, 0, f.clock.scheduled)
	f.clock.Advance(time.Minute)
	f.expectNoLogin(t)
}

func TestNoTimerWithoutToken(t *testing.T) {
	f := newMonitorFixture(t, false)
	f.connect(t)

	f.monitor.TokenChanged(context.Background(), "")

	assert.Equal(t, core.MonitorIdle, f.monitor.State())
	assert.Equal(t, 0, f.clock.scheduled)
}

func TestDisconnectCancelsTimer(t *testing.T) {
	f := newMonitorFixture(t, false)
	ctx := context.Background()
	f.connect(t)

	f.monitor.TokenChanged(ctx, f.token(t, 10*time.Second))
	f.monitor.AccountChanged(ctx, ports.AccountEvent{Connected: false})

	assert.Equal(t, core.MonitorIdle, f.monitor.State())
	assert.Equal(t, 0, f.clock.pending())
	f.clock.Advance(time.Minute)
	f.expectNoLogin(t)
}

func TestCloseCancelsPendingRenewal(t *testing.T) {
	f := newMonitorFixture(t, false)
	ctx := context.Background()
	f.connect(t)

	f.monitor.TokenChanged(ctx, f.token(t, 10*time.Second))
	f.monitor.Close()
	f.monitor.Close()

	assert.Equal(t, core.MonitorIdle, f.monitor.State())
	assert.Equal(t, 0, f.clock.pending())
	f.clock.Advance(time.Minute)
	f.expectNoLogin(t)

	notified := f.notifier.count()
	f.monitor.TokenChanged(ctx, f.token(t, 10*time.Second))
	f.monitor.AccountChanged(ctx, ports.AccountEvent{Address: common.HexToAddress("0x01"), Connected: true})
	assert.Equal(t, notified, f.notifier.count())
	assert.Equal(t, 0, f.clock.pending())
	f.expectNoLogin(t)
}

func TestMalformedTokenSkipsScheduling(t *testing.T) {
	f := newMonitorFixture(t, false)
	ctx := context.Background()
	f.connect(t)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("test"))
	require.NoError(t, err)

	for _, token := range []string{"garbage", "a.b.c", noExp} {
		assert.NotPanics(t, func() { f.monitor.TokenChanged(ctx, token) })
		assert.Equal(t, core.MonitorIdle, f.monitor.State())
	}
	assert.Equal(t, 0, f.clock.scheduled)
}

func TestMalformedTokenCancelsPreviousTimer(t *testing.T) {
	f := newMonitorFixture(t, false)
	ctx := context.Background()
	f.connect(t)

	f.monitor.TokenChanged(ctx, f.token(t, 10*time.Second))
	f.monitor.TokenChanged(ctx, "garbage")

	assert.Equal(t, 0, f.clock.pending())
	f.clock.Advance(time.Minute)
	f.expectNoLogin(t)
}

func TestExpiredTokenRenewsImmediately(t *testing.T) {
	f := newMonitorFixture(t, false)
	f.connect(t)

	f.monitor.TokenChanged(context.Background(), f.token(t, -time.Minute))
	require.Equal(t, core.MonitorScheduled, f.monitor.State())

	f.clock.Advance(0)
	f.expectLogin(t)
}

func TestNoticeOnEveryTokenChange(t *testing.T) {
	f := newMonitorFixture(t, false)
	ctx := context.Background()

	// the first change already emits the notice, even with no token
	f.monitor.TokenChanged(ctx, "")
	f.monitor.TokenChanged(ctx, f.token(t, time.Minute))
	f.monitor.TokenChanged(ctx, "garbage")

	assert.Equal(t, []string{DefaultExpiryNotice, DefaultExpiryNotice, DefaultExpiryNotice}, f.notifier.messages)
}

func TestCustomNotice(t *testing.T) {
	n := &recordingNotifier{}
	m := NewSessionMonitor(newFakeStore(), newFakeWallet(false), n, tokenizer.NewDecoder(), newFakeClock(), WithExpiryNotice("bye"))
	m.TokenChanged(context.Background(), "")
	assert.Equal(t, []string{"bye"}, n.messages)
}

func TestLoginFailureKeepsMonitorAlive(t *testing.T) {
	f := newMonitorFixture(t, false)
	f.store.onLogin = func() error { return errors.New("backend down") }
	ctx := context.Background()
	f.connect(t)

	f.monitor.TokenChanged(ctx, f.token(t, time.Second))
	f.clock.Advance(time.Second)
	f.expectLogin(t)
	assert.Equal(t, core.MonitorRenewing, f.monitor.State())

	f.monitor.TokenChanged(ctx, f.token(t, time.Second))
	assert.Equal(t, core.MonitorScheduled, f.monitor.State())
}

func TestAtMostOnePendingTimer(t *testing.T) {
	f := newMonitorFixture(t, false)
	ctx := context.Background()
	f.connect(t)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		switch rng.Intn(5) {
		case 0:
			f.monitor.TokenChanged(ctx, "")
		case 1:
			f.monitor.TokenChanged(ctx, "garbage")
		case 2:
			f.clock.Advance(time.Duration(rng.Intn(5)) * time.Second)
		default:
			f.monitor.TokenChanged(ctx, f.token(t, time.Duration(rng.Intn(10))*time.Second))
		}
		require.LessOrEqual(t, f.clock.pending(), 1, "step %d", i)
	}
	// every timer that fired renewed exactly once; cancelled ones never did
	assert.Equal(t, fired(f.clock), len(f.store.logins))
}

func fired(c *fakeClock) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.done {
			n++
		}
	}
	return n - c.stopped
}

// =============================================================================
// RUN LOOP
// =============================================================================

func TestRunRenewalCycle(t *testing.T) {
	f := newMonitorFixture(t, true)
	f.store.onLogin = func() error {
		f.store.setToken(f.token(t, 5*time.Second))
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.monitor.Run(ctx) }()

	// mounting with a connected wallet logs in
	f.expectLogin(t)
	require.Eventually(t, func() bool {
		return f.monitor.State() == core.MonitorScheduled
	}, time.Second, 5*time.Millisecond)

	f.clock.Advance(5 * time.Second)
	f.expectLogin(t)

	// the renewed token restarts the cycle
	require.Eventually(t, func() bool {
		return f.monitor.State() == core.MonitorScheduled && f.clock.scheduled == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, f.clock.pending())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 0, f.clock.pending())
	assert.Equal(t, core.MonitorIdle, f.monitor.State())
}

func TestRunIgnoresRepeatedToken(t *testing.T) {
	f := newMonitorFixture(t, false)
	token := f.token(t, time.Minute)
	f.store.token = token

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.monitor.Run(ctx) }()

	f.store.watch <- token
	f.wallet.watch <- ports.AccountEvent{Address: f.wallet.addr, Connected: true}
	f.expectLogin(t)

	f.store.watch <- ""
	require.Eventually(t, func() bool { return f.notifier.count() == 2 }, time.Second, 5*time.Millisecond)
}
