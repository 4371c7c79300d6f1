package bridge

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"tonbridge.dev/go/tonbridge/internal/tonconnect"
	"tonbridge.dev/go/tonbridge/internal/wallet"
)

func TestBuildConnectEventItems(t *testing.T) {
	id, err := wallet.FromMnemonic(testMnemonic, wallet.NetworkMainnet)
	if err != nil {
		t.Fatalf("wallet identity: %v", err)
	}
	device := tonconnect.DeviceInfo{Platform: "linux", AppName: "tonbridge"}

	t.Run("address only", func(t *testing.T) {
		event, err := buildConnectEvent(id, []tonconnect.ConnectItem{{Name: tonconnect.ItemTonAddr}}, "dapp.example", device)
		if err != nil {
			t.Fatalf("buildConnectEvent: %v", err)
		}
		if len(event.Payload.Items) != 1 {
			t.Fatalf("items = %d, want 1", len(event.Payload.Items))
		}
		if event.ID == "" {
			t.Error("event has no id")
		}
	})

	t.Run("with proof", func(t *testing.T) {
		items := []tonconnect.ConnectItem{
			{Name: tonconnect.ItemTonAddr},
			{Name: tonconnect.ItemTonProof, Payload: "challenge-123"},
		}
		event, err := buildConnectEvent(id, items, "dapp.example", device)
		if err != nil {
			t.Fatalf("buildConnectEvent: %v", err)
		}
		if len(event.Payload.Items) != 2 {
			t.Fatalf("items = %d, want 2", len(event.Payload.Items))
		}

		var proofItem tonconnect.TonProofItem
		if err := json.Unmarshal(event.Payload.Items[1], &proofItem); err != nil {
			t.Fatalf("decode proof item: %v", err)
		}
		if proofItem.Proof.Domain.Value != "dapp.example" || proofItem.Proof.Domain.LengthBytes != len("dapp.example") {
			t.Errorf("proof domain = %+v", proofItem.Proof.Domain)
		}
		if proofItem.Proof.Payload != "challenge-123" {
			t.Errorf("proof payload = %q", proofItem.Proof.Payload)
		}
	})
}

// TestTonProofSignature reconstructs the canonical message and checks
// the signature against the wallet key, the way a verifying app would.
func TestTonProofSignature(t *testing.T) {
	id, err := wallet.FromMnemonic(testMnemonic, wallet.NetworkMainnet)
	if err != nil {
		t.Fatalf("wallet identity: %v", err)
	}

	now := time.Unix(1755000000, 0).UTC()
	domain := "dapp.example"
	proof, err := buildTonProof(id, domain, "challenge", now)
	if err != nil {
		t.Fatalf("buildTonProof: %v", err)
	}
	if proof.Timestamp != now.Unix() {
		t.Errorf("timestamp = %d, want %d", proof.Timestamp, now.Unix())
	}

	workchain, addrHash, err := splitAddress(id.Address())
	if err != nil {
		t.Fatalf("splitAddress: %v", err)
	}

	msg := []byte("ton-proof-item-v2/")
	wc := make([]byte, 4)
	binary.BigEndian.PutUint32(wc, uint32(workchain))
	msg = append(msg, wc...)
	msg = append(msg, addrHash...)
	domainLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(domainLen, uint32(len(domain)))
	msg = append(msg, domainLen...)
	msg = append(msg, []byte(domain)...)
	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, uint64(proof.Timestamp))
	msg = append(msg, ts...)
	msg = append(msg, []byte("challenge")...)

	inner := sha256.Sum256(msg)
	outer := append([]byte{0xff, 0xff}, []byte("ton-connect")...)
	outer = append(outer, inner[:]...)
	digest := sha256.Sum256(outer)

	signature, err := base64.StdEncoding.DecodeString(proof.Signature)
	if err != nil {
		t.Fatalf("signature not base64: %v", err)
	}
	if !id.Verify(digest[:], signature) {
		t.Error("proof signature does not verify")
	}
}

func TestSplitAddress(t *testing.T) {
	if _, _, err := splitAddress("nocolon"); err == nil {
		t.Error("expected error for address without workchain")
	}
	if _, _, err := splitAddress("0:zzzz"); err == nil {
		t.Error("expected error for non-hex account id")
	}
}
