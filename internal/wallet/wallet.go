// Package wallet provides the engine's wallet identity: the address,
// public key, contract state-init and signing capability consumed by
// the connect flows. Key material derives deterministically from a
// BIP-39 mnemonic.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cosmos/go-bip39"
	"golang.org/x/crypto/hkdf"
)

// Network chain ids as they appear on the wire.
const (
	NetworkMainnet = "-239"
	NetworkTestnet = "-3"
)

// Provider exposes the wallet identity to the connect flows. The
// engine only reads from it; key custody stays behind this interface.
type Provider interface {
	// Address is the wallet's on-chain address, workchain-prefixed.
	Address() string
	// PublicKeyHex is the hex-encoded ed25519 public key.
	PublicKeyHex() string
	// StateInit is the base64-encoded wallet contract state-init.
	StateInit() string
	// Network is the chain id the wallet operates on.
	Network() string
	// Sign signs a message with the wallet key.
	Sign(message []byte) ([]byte, error)
}

// Identity is the concrete mnemonic-derived wallet identity.
type Identity struct {
	network    string
	signingKey ed25519.PrivateKey
	verifyKey  ed25519.PublicKey
	stateInit  []byte
}

const stateInitVersion = 0x01

// GenerateMnemonic creates a fresh 24-word mnemonic.
func GenerateMnemonic() (string, error) {
	entropy := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, entropy); err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("encode mnemonic: %w", err)
	}
	return mnemonic, nil
}

// FromMnemonic derives the wallet identity from a mnemonic. Derivation
// is deterministic: the same mnemonic always yields the same key and
// address.
func FromMnemonic(mnemonic, network string) (*Identity, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	if network == "" {
		network = NetworkMainnet
	}

	seed := bip39.NewSeed(mnemonic, "")

	h := hkdf.New(sha256.New, seed, []byte("tonbridge-wallet-v1"), []byte("ed25519"))
	keySeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(h, keySeed); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}

	signingKey := ed25519.NewKeyFromSeed(keySeed)
	verifyKey := signingKey.Public().(ed25519.PublicKey)

	stateInit := make([]byte, 0, 2+ed25519.PublicKeySize)
	stateInit = append(stateInit, 0x00, stateInitVersion)
	stateInit = append(stateInit, verifyKey...)

	return &Identity{
		network:    network,
		signingKey: signingKey,
		verifyKey:  verifyKey,
		stateInit:  stateInit,
	}, nil
}

// Address returns the workchain-0 address: the hash of the wallet
// contract's state-init.
func (id *Identity) Address() string {
	hash := sha256.Sum256(id.stateInit)
	return "0:" + hex.EncodeToString(hash[:])
}

// AddressHash returns the raw 32-byte account id part of the address.
func (id *Identity) AddressHash() []byte {
	hash := sha256.Sum256(id.stateInit)
	return hash[:]
}

func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.verifyKey)
}

func (id *Identity) StateInit() string {
	return base64.StdEncoding.EncodeToString(id.stateInit)
}

func (id *Identity) Network() string {
	return id.network
}

func (id *Identity) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(id.signingKey, message), nil
}

// Verify checks a signature against the wallet key.
func (id *Identity) Verify(message, signature []byte) bool {
	return ed25519.Verify(id.verifyKey, message, signature)
}
