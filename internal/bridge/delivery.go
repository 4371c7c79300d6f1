// Package bridge contains the protocol engine: the inbound request
// router, the response delivery transport and the orchestrator that
// wires sessions, connections, manifests and the event stream together.
package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tonbridge.dev/go/tonbridge/internal/session"
)

// PendingResponse addresses one reply: the peer it goes to, the session
// channel that seals it, and the request id it answers (empty for
// wallet-initiated events such as connect and disconnect).
type PendingResponse struct {
	PeerID    string
	RequestID string
	Crypto    *session.Crypto
}

// Delivery sends an encrypted payload to a peer through the bridge
// relay. Implementations do not retry; callers log and move on.
type Delivery interface {
	Deliver(ctx context.Context, payload []byte, to PendingResponse) error
}

// HTTPDelivery posts sealed payloads to the relay's message endpoint.
type HTTPDelivery struct {
	bridgeURL string
	ttl       time.Duration
	client    *http.Client
}

// NewHTTPDelivery creates a delivery transport against a bridge base
// URL. ttl bounds how long the relay holds an undelivered message.
func NewHTTPDelivery(bridgeURL string, ttl time.Duration, client *http.Client) *HTTPDelivery {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &HTTPDelivery{
		bridgeURL: strings.TrimSuffix(bridgeURL, "/"),
		ttl:       ttl,
		client:    client,
	}
}

// Deliver seals payload for the peer and posts it. The relay addresses
// the message by the sender's session id and the recipient's peer id.
func (d *HTTPDelivery) Deliver(ctx context.Context, payload []byte, to PendingResponse) error {
	sealed, err := to.Crypto.Encrypt(payload, to.PeerID)
	if err != nil {
		return fmt.Errorf("seal response: %w", err)
	}

	endpoint := fmt.Sprintf("%s/message?client_id=%s&to=%s&ttl=%d",
		d.bridgeURL,
		url.QueryEscape(to.Crypto.SessionID()),
		url.QueryEscape(to.PeerID),
		int(d.ttl.Seconds()),
	)

	body := base64.StdEncoding.EncodeToString(sealed)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deliver message: status %d", resp.StatusCode)
	}
	return nil
}
