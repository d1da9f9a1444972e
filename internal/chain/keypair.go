// Package chain talks to the settlement chain: ed25519 keypairs with
// base58 addresses, a JSON-RPC client for balances, transaction lookups
// and transfers, and verification of inbound deposits.
package chain

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
)

// Address is a base58-encoded ed25519 public key.
type Address string

// SystemProgram is the address of the native transfer program.
const SystemProgram Address = "11111111111111111111111111111111"

// Keypair signs outbound transfers for a vault.
type Keypair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// GenerateKeypair creates a fresh keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Keypair{pub: pub, priv: priv}, nil
}

// LoadKeypair reads a keypair file in the standard CLI format: a JSON
// array of the 64 secret-key bytes.
func LoadKeypair(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair %s: %w", path, err)
	}
	var bytes []byte
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	return KeypairFromBytes(bytes)
}

// KeypairFromBytes builds a keypair from the 64-byte secret key.
func KeypairFromBytes(secret []byte) (*Keypair, error) {
	if len(secret) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair must be %d bytes, got %d", ed25519.PrivateKeySize, len(secret))
	}
	priv := ed25519.PrivateKey(secret)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("invalid private key")
	}
	return &Keypair{pub: pub, priv: priv}, nil
}

// Address returns the public key as a base58 address.
func (k *Keypair) Address() Address {
	return Address(base58.Encode(k.pub))
}

// Sign signs a message with the secret key.
func (k *Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// PublicKeyBytes decodes an address back to raw public key bytes.
func (a Address) PublicKeyBytes() ([]byte, error) {
	raw, err := base58.Decode(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode address %s: %w", a, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("address %s is %d bytes, want %d", a, len(raw), ed25519.PublicKeySize)
	}
	return raw, nil
}

// Valid reports whether the address decodes to a public key.
func (a Address) Valid() bool {
	_, err := a.PublicKeyBytes()
	return err == nil
}
