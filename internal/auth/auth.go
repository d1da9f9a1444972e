// Package auth implements the signed-message login flow: single-use
// nonces with a short TTL, reconstruction and ed25519 verification of
// the login message, and bearer token minting.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"github.com/goldenflop/goldenflop/internal/chain"
)

// NonceTTL is how long an issued nonce stays redeemable.
const NonceTTL = 5 * time.Minute

// SessionTTL is how long a minted bearer token stays valid.
const SessionTTL = 24 * time.Hour

// ErrNonceInvalid covers unknown, expired, and already-used nonces.
var ErrNonceInvalid = errors.New("nonce invalid or expired")

// ErrBadSignature is returned when the signature does not verify.
var ErrBadSignature = errors.New("signature verification failed")

// LoginMessage reconstructs the exact message the wallet must sign.
func LoginMessage(nonce string) string {
	return fmt.Sprintf("Sign this message to login to Golden Flop. Nonce: %s", nonce)
}

// NonceStore issues and redeems single-use nonces. Redeeming consumes
// the nonce: a second redeem of the same value must fail.
type NonceStore interface {
	Issue(ctx context.Context) (string, error)
	Redeem(ctx context.Context, nonce string) error
}

// NewNonce generates a random nonce value.
func NewNonce() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base58.Encode(raw), nil
}

// NewToken mints an opaque bearer credential.
func NewToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base58.Encode(raw), nil
}

// VerifyLogin checks a base58 signature over the login message for the
// claimed wallet address.
func VerifyLogin(wallet chain.Address, nonce, signature string) error {
	pub, err := wallet.PublicKeyBytes()
	if err != nil {
		return fmt.Errorf("invalid wallet address: %w", err)
	}
	sig, err := base58.Decode(signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	if !ed25519.Verify(pub, []byte(LoginMessage(nonce)), sig) {
		return ErrBadSignature
	}
	return nil
}
