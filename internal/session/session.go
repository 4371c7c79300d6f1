// Package session implements the per-connection cryptographic channel
// used between the wallet and a connected application. Payloads are
// sealed with NaCl box (x25519 + XSalsa20-Poly1305); the wire format is
// [nonce (24 bytes)][box ciphertext].
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

const nonceSize = 24

// KeyPair holds the x25519 key material for one connection.
type KeyPair struct {
	PublicKey  [32]byte
	PrivateKey [32]byte
}

// GenerateKeyPair creates a fresh x25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}
	return &KeyPair{PublicKey: *pub, PrivateKey: *priv}, nil
}

// KeyPairFromHex reconstructs a key pair from hex-encoded key bytes,
// as persisted in the connection store.
func KeyPairFromHex(publicHex, privateHex string) (*KeyPair, error) {
	pub, err := hex.DecodeString(publicHex)
	if err != nil || len(pub) != 32 {
		return nil, fmt.Errorf("decode public key: invalid hex or length")
	}
	priv, err := hex.DecodeString(privateHex)
	if err != nil || len(priv) != 32 {
		return nil, fmt.Errorf("decode private key: invalid hex or length")
	}
	kp := &KeyPair{}
	copy(kp.PublicKey[:], pub)
	copy(kp.PrivateKey[:], priv)
	return kp, nil
}

// PublicKeyHex returns the hex encoding of the public key.
func (kp *KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.PublicKey[:])
}

// PrivateKeyHex returns the hex encoding of the private key.
func (kp *KeyPair) PrivateKeyHex() string {
	return hex.EncodeToString(kp.PrivateKey[:])
}

// DecryptionError reports a payload that could not be opened with the
// session keys. Callers treat it as a dropped event, never a crash.
type DecryptionError struct {
	Reason string
}

func (e *DecryptionError) Error() string {
	return "session decrypt: " + e.Reason
}

// Crypto is the encryption channel for one connection. It carries no
// state beyond the key pair; one instance per connection for its
// lifetime.
type Crypto struct {
	keyPair *KeyPair
}

// New creates a channel around an existing key pair.
func New(keyPair *KeyPair) *Crypto {
	return &Crypto{keyPair: keyPair}
}

// Generate creates a channel with a fresh key pair.
func Generate() (*Crypto, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(kp), nil
}

// KeyPair returns the channel's key material.
func (c *Crypto) KeyPair() *KeyPair {
	return c.keyPair
}

// SessionID returns the identifier this channel is addressed by on the
// shared event stream: the hex-encoded public key.
func (c *Crypto) SessionID() string {
	return c.keyPair.PublicKeyHex()
}

// Encrypt seals plaintext for the peer identified by its hex-encoded
// public key. Output is nonce || ciphertext.
func (c *Crypto) Encrypt(plaintext []byte, peerPublicKeyHex string) ([]byte, error) {
	peerKey, err := decodePeerKey(peerPublicKeyHex)
	if err != nil {
		return nil, err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := box.Seal(nonce[:], plaintext, &nonce, peerKey, &c.keyPair.PrivateKey)
	return sealed, nil
}

// Decrypt opens a payload sealed by the peer identified by its
// hex-encoded public key.
func (c *Crypto) Decrypt(ciphertext []byte, peerPublicKeyHex string) ([]byte, error) {
	peerKey, err := decodePeerKey(peerPublicKeyHex)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < nonceSize+box.Overhead {
		return nil, &DecryptionError{Reason: "ciphertext too short"}
	}

	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])

	plaintext, ok := box.Open(nil, ciphertext[nonceSize:], &nonce, peerKey, &c.keyPair.PrivateKey)
	if !ok {
		return nil, &DecryptionError{Reason: "invalid ciphertext or key"}
	}
	return plaintext, nil
}

func decodePeerKey(peerPublicKeyHex string) (*[32]byte, error) {
	raw, err := hex.DecodeString(peerPublicKeyHex)
	if err != nil || len(raw) != 32 {
		return nil, &DecryptionError{Reason: "invalid peer public key"}
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
