package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// AccountEvent is a change of the connected account
type AccountEvent struct {
	Address   common.Address
	Connected bool
}

// Wallet exposes the connected account fact
type Wallet interface {
	Account() (common.Address, bool)
	// Watch streams connection changes until ctx is done.
	Watch(ctx context.Context) <-chan AccountEvent
}

// Signer signs login challenges with the connected account
type Signer interface {
	// SignNonce returns a 0x-prefixed 65 byte EIP-712 signature of nonce.
	SignNonce(ctx context.Context, nonce string) (string, error)
}

// SigningWallet is a wallet that can also sign login challenges
type SigningWallet interface {
	Wallet
	Signer
}
