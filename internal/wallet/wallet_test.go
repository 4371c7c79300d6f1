package wallet

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"path/filepath"
	"strings"
	"testing"
)

const testMnemonic = "legal winner thank year wave sausage worth useful legal winner thank year wave sausage worth useful legal winner thank year wave sausage worth title"

func TestFromMnemonicDeterministic(t *testing.T) {
	a, err := FromMnemonic(testMnemonic, NetworkMainnet)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}
	b, err := FromMnemonic(testMnemonic, NetworkMainnet)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}

	if a.Address() != b.Address() {
		t.Errorf("addresses differ: %s vs %s", a.Address(), b.Address())
	}
	if a.PublicKeyHex() != b.PublicKeyHex() {
		t.Error("public keys differ for same mnemonic")
	}
	if !strings.HasPrefix(a.Address(), "0:") {
		t.Errorf("address = %q, want workchain 0 prefix", a.Address())
	}
}

func TestFromMnemonicRejectsInvalid(t *testing.T) {
	if _, err := FromMnemonic("not a valid mnemonic", NetworkMainnet); err == nil {
		t.Fatal("expected error for invalid mnemonic")
	}
}

func TestAddressMatchesStateInit(t *testing.T) {
	id, err := FromMnemonic(testMnemonic, NetworkTestnet)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}

	stateInit, err := base64.StdEncoding.DecodeString(id.StateInit())
	if err != nil {
		t.Fatalf("decode state init: %v", err)
	}
	hash := sha256.Sum256(stateInit)
	want := "0:" + hex.EncodeToString(hash[:])
	if id.Address() != want {
		t.Errorf("Address = %q, want %q (hash of state init)", id.Address(), want)
	}
	if id.Network() != NetworkTestnet {
		t.Errorf("Network = %q, want %q", id.Network(), NetworkTestnet)
	}
}

func TestSignVerify(t *testing.T) {
	id, err := FromMnemonic(testMnemonic, NetworkMainnet)
	if err != nil {
		t.Fatalf("FromMnemonic: %v", err)
	}

	message := []byte("ton-proof-item-v2/example")
	sig, err := id.Sign(message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !id.Verify(message, sig) {
		t.Error("signature does not verify")
	}
	if id.Verify([]byte("other message"), sig) {
		t.Error("signature verifies wrong message")
	}
}

func TestGenerateMnemonic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic: %v", err)
	}
	if words := len(strings.Fields(mnemonic)); words != 24 {
		t.Errorf("mnemonic has %d words, want 24", words)
	}
	if _, err := FromMnemonic(mnemonic, NetworkMainnet); err != nil {
		t.Errorf("generated mnemonic not usable: %v", err)
	}
}

func TestMnemonicFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.enc")
	passphrase := []byte("correct horse battery staple")

	if err := SaveMnemonicFile(path, testMnemonic, passphrase); err != nil {
		t.Fatalf("SaveMnemonicFile: %v", err)
	}

	got, err := LoadMnemonicFile(path, passphrase)
	if err != nil {
		t.Fatalf("LoadMnemonicFile: %v", err)
	}
	if got != testMnemonic {
		t.Errorf("loaded mnemonic mismatch")
	}

	if _, err := LoadMnemonicFile(path, []byte("wrong")); err == nil {
		t.Error("expected error with wrong passphrase")
	}
}
