// Package eth implements the EIP-712 message wallets sign to log in.
package eth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// SignatureLength is the size of an [R || S || V] signature
const SignatureLength = 65

var ErrSignatureLength = errors.New("signature must be 65 bytes")

// EIP712Domain identifies the application a login signature is bound to
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NonceMessage is the primary type a wallet signs during login
type NonceMessage string

var nonceTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Login": {
		{Name: "nonce", Type: "string"},
	},
}

// TypedData builds the EIP-712 payload for msg under domain
func TypedData(domain EIP712Domain, msg NonceMessage) apitypes.TypedData {
	chainID := domain.ChainID
	if chainID == nil {
		chainID = big.NewInt(1)
	}
	return apitypes.TypedData{
		Types:       nonceTypes,
		PrimaryType: "Login",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"nonce": string(msg),
		},
	}
}

// Hash returns the digest a wallet signs for msg
func Hash(domain EIP712Domain, msg NonceMessage) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(TypedData(domain, msg))
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// Sign signs msg with key. V is returned in wallet form (27/28).
func Sign(domain EIP712Domain, msg NonceMessage, key *ecdsa.PrivateKey) ([]byte, error) {
	hash, err := Hash(domain, msg)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverAddress returns the address that produced sig over msg
func RecoverAddress(domain EIP712Domain, msg NonceMessage, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, ErrSignatureLength
	}
	hash, err := Hash(domain, msg)
	if err != nil {
		return common.Address{}, err
	}

	// crypto expects a 0/1 recovery id
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignatureAgainstAddress reports whether sig over msg was produced by expected
func VerifySignatureAgainstAddress(domain EIP712Domain, msg NonceMessage, sig []byte, expected common.Address) (bool, error) {
	addr, err := RecoverAddress(domain, msg, sig)
	if err != nil {
		return false, err
	}
	return addr == expected, nil
}
