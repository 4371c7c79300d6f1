package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
)

const (
	keyringService = "tonbridge"
	keyringUser    = "wallet-mnemonic"

	seedFileVersion = 1

	argon2Time    = 4
	argon2Memory  = 128 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
)

// ErrNoMnemonic reports that no wallet has been initialized yet.
var ErrNoMnemonic = errors.New("no wallet mnemonic stored")

// seedFile is the encrypted on-disk fallback when no OS keychain is
// available.
type seedFile struct {
	Version       uint8  `json:"version"`
	Salt          []byte `json:"salt"`
	Nonce         []byte `json:"nonce"`
	Ciphertext    []byte `json:"ciphertext"`
	Argon2Time    uint32 `json:"argon2_time"`
	Argon2Memory  uint32 `json:"argon2_memory"`
	Argon2Threads uint8  `json:"argon2_threads"`
}

// SaveMnemonic stores the mnemonic in the OS keychain, falling back to
// an encrypted file under dir when the keychain is unavailable. The
// passphrase is only used for the file fallback.
func SaveMnemonic(dir, mnemonic string, passphrase []byte) error {
	if err := keyring.Set(keyringService, keyringUser, mnemonic); err == nil {
		return nil
	}
	if len(passphrase) == 0 {
		return fmt.Errorf("keychain unavailable and no passphrase given")
	}
	return SaveMnemonicFile(filepath.Join(dir, "wallet.enc"), mnemonic, passphrase)
}

// LoadMnemonic reads the mnemonic from the OS keychain or the encrypted
// file fallback. passphrase is consulted only for the file path and may
// be nil when the keychain holds the entry.
func LoadMnemonic(dir string, passphrase []byte) (string, error) {
	if mnemonic, err := keyring.Get(keyringService, keyringUser); err == nil {
		return mnemonic, nil
	}
	path := filepath.Join(dir, "wallet.enc")
	if _, err := os.Stat(path); err != nil {
		return "", ErrNoMnemonic
	}
	return LoadMnemonicFile(path, passphrase)
}

// SaveMnemonicFile writes the mnemonic encrypted with a passphrase:
// argon2id key derivation, AES-256-GCM sealing, explicit parameters in
// the file for forward compatibility.
func SaveMnemonicFile(path, mnemonic string, passphrase []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create wallet directory: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	file := seedFile{
		Version:       seedFileVersion,
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    gcm.Seal(nil, nonce, []byte(mnemonic), nil),
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal wallet file: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write wallet file: %w", err)
	}
	return nil
}

// LoadMnemonicFile decrypts a mnemonic file with a passphrase.
func LoadMnemonicFile(path string, passphrase []byte) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read wallet file: %w", err)
	}

	var file seedFile
	if err := json.Unmarshal(data, &file); err != nil {
		return "", fmt.Errorf("parse wallet file: %w", err)
	}
	if file.Version != seedFileVersion {
		return "", fmt.Errorf("unsupported wallet file version: %d", file.Version)
	}

	key := argon2.IDKey(passphrase, file.Salt, file.Argon2Time, file.Argon2Memory, file.Argon2Threads, argon2KeyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, file.Nonce, file.Ciphertext, nil)
	if err != nil {
		return "", errors.New("invalid passphrase or corrupted wallet file")
	}
	return string(plaintext), nil
}
