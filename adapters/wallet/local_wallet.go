package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/sentry/core"
	"github.com/layer-3/sentry/internal/eth"
	"github.com/layer-3/sentry/ports"
)

// LocalWallet is a wallet backed by an in-process secp256k1 key.
// It starts disconnected.
type LocalWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	domain  eth.EIP712Domain

	mu        sync.Mutex
	connected bool
	watchers  map[chan ports.AccountEvent]struct{}
}

var _ ports.SigningWallet = (*LocalWallet)(nil)

// NewLocalWallet creates a wallet for key that signs under domain
func NewLocalWallet(key *ecdsa.PrivateKey, domain eth.EIP712Domain) *LocalWallet {
	return &LocalWallet{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		domain:   domain,
		watchers: make(map[chan ports.AccountEvent]struct{}),
	}
}

// NewLocalWalletFromHex parses a hex private key. An empty string generates a fresh key.
func NewLocalWalletFromHex(hexKey string, domain eth.EIP712Domain) (*LocalWallet, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)
	if hexKey == "" {
		key, err = crypto.GenerateKey()
	} else {
		key, err = crypto.HexToECDSA(trimHexPrefix(hexKey))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet key: %w", err)
	}
	return NewLocalWallet(key, domain), nil
}

// Address returns the wallet address whether connected or not
func (w *LocalWallet) Address() common.Address {
	return w.address
}

// Connect exposes the account to watchers
func (w *LocalWallet) Connect() {
	w.setConnected(true)
}

// Disconnect hides the account from watchers
func (w *LocalWallet) Disconnect() {
	w.setConnected(false)
}

func (w *LocalWallet) setConnected(connected bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.connected == connected {
		return
	}
	w.connected = connected

	event := ports.AccountEvent{Address: w.address, Connected: connected}
	for ch := range w.watchers {
		// Watchers only need the latest fact; drop a stale pending one.
		select {
		case <-ch:
		default:
		}
		ch <- event
	}
}

func (w *LocalWallet) Account() (common.Address, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.address, w.connected
}

func (w *LocalWallet) Watch(ctx context.Context) <-chan ports.AccountEvent {
	ch := make(chan ports.AccountEvent, 1)

	w.mu.Lock()
	w.watchers[ch] = struct{}{}
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		delete(w.watchers, ch)
		close(ch)
		w.mu.Unlock()
	}()

	return ch
}

func (w *LocalWallet) SignNonce(ctx context.Context, nonce string) (string, error) {
	if _, ok := w.Account(); !ok {
		return "", core.ErrWalletNotConnected
	}
	sig, err := eth.Sign(w.domain, eth.NonceMessage(nonce), w.key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
