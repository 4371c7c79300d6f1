package store

import (
	"fmt"
	"sync"
	"time"
)

// PendingRequest is a durably persisted, not-yet-answered request from
// a connected app. At most one entry exists per peer at any time.
type PendingRequest struct {
	FromPeerID string    `json:"from_peer_id"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Params     []string  `json:"params"`
	ReceivedAt time.Time `json:"received_at"`
}

const pendingKey = "pending_requests"

// ErrPeerPending reports an attempt to persist a second request for a
// peer that already has one outstanding.
var ErrPeerPending = fmt.Errorf("request already pending for peer")

// Pending is the persisted pending-request list.
type Pending struct {
	mu sync.Mutex
	kv KV
}

// NewPending creates a pending-request list over the given store.
func NewPending(kv KV) *Pending {
	return &Pending{kv: kv}
}

func (p *Pending) load() ([]PendingRequest, error) {
	var requests []PendingRequest
	if _, err := GetJSON(p.kv, pendingKey, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// List returns all pending requests.
func (p *Pending) List() ([]PendingRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

// ByPeer returns the pending request for a peer, or nil.
func (p *Pending) ByPeer(peerID string) (*PendingRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	requests, err := p.load()
	if err != nil {
		return nil, err
	}
	for _, req := range requests {
		if req.FromPeerID == peerID {
			found := req
			return &found, nil
		}
	}
	return nil, nil
}

// Add persists a request. Returns ErrPeerPending if the peer already
// has an outstanding entry; the existing entry is never overwritten.
func (p *Pending) Add(req PendingRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	requests, err := p.load()
	if err != nil {
		return err
	}
	for _, existing := range requests {
		if existing.FromPeerID == req.FromPeerID {
			return ErrPeerPending
		}
	}
	requests = append(requests, req)
	return SetJSON(p.kv, pendingKey, requests)
}

// ClearPeer removes the pending request for a peer, if any.
func (p *Pending) ClearPeer(peerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	requests, err := p.load()
	if err != nil {
		return err
	}
	kept := requests[:0]
	for _, req := range requests {
		if req.FromPeerID != peerID {
			kept = append(kept, req)
		}
	}
	return SetJSON(p.kv, pendingKey, kept)
}
