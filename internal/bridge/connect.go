package bridge

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tonbridge.dev/go/tonbridge/internal/tonconnect"
	"tonbridge.dev/go/tonbridge/internal/wallet"
)

// buildConnectEvent assembles the wallet's successful handshake reply:
// always a ton_addr item, plus a ton_proof item when the request asks
// for one. appDomain is the requesting app's host, covered by the
// proof signature.
func buildConnectEvent(w wallet.Provider, items []tonconnect.ConnectItem, appDomain string, device tonconnect.DeviceInfo) (*tonconnect.ConnectEvent, error) {
	addrItem := tonconnect.TonAddrItem{
		Name:            tonconnect.ItemTonAddr,
		Address:         w.Address(),
		Network:         w.Network(),
		PublicKey:       w.PublicKeyHex(),
		WalletStateInit: w.StateInit(),
	}
	rawAddr, err := json.Marshal(addrItem)
	if err != nil {
		return nil, fmt.Errorf("encode address item: %w", err)
	}

	payload := tonconnect.ConnectEventPayload{
		Items:  []json.RawMessage{rawAddr},
		Device: device,
	}

	for _, item := range items {
		if item.Name != tonconnect.ItemTonProof {
			continue
		}
		proof, err := buildTonProof(w, appDomain, item.Payload, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("build proof item: %w", err)
		}
		rawProof, err := json.Marshal(tonconnect.TonProofItem{Name: tonconnect.ItemTonProof, Proof: *proof})
		if err != nil {
			return nil, fmt.Errorf("encode proof item: %w", err)
		}
		payload.Items = append(payload.Items, rawProof)
	}

	return &tonconnect.ConnectEvent{
		Event:   "connect",
		ID:      uuid.NewString(),
		Payload: payload,
	}, nil
}

// buildTonProof signs the canonical domain-ownership message binding
// the wallet address to the app's domain and the app-chosen payload:
//
//	sign(sha256(0xffff || "ton-connect" ||
//	     sha256("ton-proof-item-v2/" || workchain || addr_hash ||
//	            domain_len || domain || timestamp || payload)))
func buildTonProof(w wallet.Provider, appDomain, payload string, now time.Time) (*tonconnect.TonProof, error) {
	workchain, addrHash, err := splitAddress(w.Address())
	if err != nil {
		return nil, err
	}

	timestamp := now.Unix()

	msg := make([]byte, 0, 128)
	msg = append(msg, []byte("ton-proof-item-v2/")...)

	wc := make([]byte, 4)
	binary.BigEndian.PutUint32(wc, uint32(workchain))
	msg = append(msg, wc...)
	msg = append(msg, addrHash...)

	domainLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(domainLen, uint32(len(appDomain)))
	msg = append(msg, domainLen...)
	msg = append(msg, []byte(appDomain)...)

	ts := make([]byte, 8)
	binary.LittleEndian.PutUint64(ts, uint64(timestamp))
	msg = append(msg, ts...)
	msg = append(msg, []byte(payload)...)

	inner := sha256.Sum256(msg)

	outer := make([]byte, 0, 2+11+sha256.Size)
	outer = append(outer, 0xff, 0xff)
	outer = append(outer, []byte("ton-connect")...)
	outer = append(outer, inner[:]...)
	digest := sha256.Sum256(outer)

	signature, err := w.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign proof: %w", err)
	}

	return &tonconnect.TonProof{
		Timestamp: timestamp,
		Domain: tonconnect.TonProofDomain{
			LengthBytes: len(appDomain),
			Value:       appDomain,
		},
		Payload:   payload,
		Signature: base64.StdEncoding.EncodeToString(signature),
	}, nil
}

// splitAddress parses "<workchain>:<hex hash>" into its parts.
func splitAddress(address string) (int32, []byte, error) {
	parts := strings.SplitN(address, ":", 2)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("malformed wallet address %q", address)
	}
	workchain, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("malformed workchain in %q", address)
	}
	hash, err := hex.DecodeString(parts[1])
	if err != nil || len(hash) != 32 {
		return 0, nil, fmt.Errorf("malformed account id in %q", address)
	}
	return int32(workchain), hash, nil
}
