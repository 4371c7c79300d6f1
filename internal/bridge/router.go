package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tonbridge.dev/go/tonbridge/internal/session"
	"tonbridge.dev/go/tonbridge/internal/store"
	"tonbridge.dev/go/tonbridge/internal/stream"
	"tonbridge.dev/go/tonbridge/internal/tonconnect"
)

// Peer-facing error messages. Peers branch on codes; the duplicate and
// pending messages are additionally distinct so a peer can tell "try
// later" from "malformed".
const (
	msgAlreadyOpened  = "User has already opened the previous request"
	msgAlreadyPending = "Request already pending"
	msgTimedOut       = "Transaction request timed out"
	msgBadRequest     = "Bad request"
	msgUnknownApp     = "Unknown app"
	msgNotSupported   = "Method not supported"
)

// RouterOptions tunes the router. Zero values select defaults.
type RouterOptions struct {
	// PerPeerRate bounds inbound envelopes per peer before decryption.
	PerPeerRate  rate.Limit
	PerPeerBurst int

	// Now is the clock used for expiry checks, injectable in tests.
	Now func() time.Time
}

// Router turns opaque inbound envelopes into exactly one dispatched,
// de-duplicated request each, or a well-formed rejection to the peer.
// Undecryptable or unattributable envelopes are dropped without a
// response.
type Router struct {
	conns    *store.Connections
	pending  *store.Pending
	cursor   *store.Cursor
	delivery Delivery
	now      func() time.Time

	perPeerRate  rate.Limit
	perPeerBurst int

	mu       sync.Mutex
	active   map[string]*tonconnect.AppRequest
	limiters map[string]*rate.Limiter

	handlers map[tonconnect.Method]methodHandler
}

// routed is the state a method handler operates on: the validated
// request plus everything needed to answer it.
type routed struct {
	peerID  string
	app     *store.App
	request *tonconnect.AppRequest
	crypto  *session.Crypto
}

// methodHandler processes one routed request under the router lock and
// returns the immediate response, or nil when the request stays open
// awaiting an out-of-band completion. clearActive reports whether the
// in-memory entry is consumed.
type methodHandler func(r *Router, rt *routed) (resp *tonconnect.Response, clearActive bool)

// NewRouter wires the router against its stores and delivery transport.
func NewRouter(conns *store.Connections, pending *store.Pending, cursor *store.Cursor, delivery Delivery, opts RouterOptions) *Router {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PerPeerRate == 0 {
		opts.PerPeerRate = rate.Every(100 * time.Millisecond)
	}
	if opts.PerPeerBurst == 0 {
		opts.PerPeerBurst = 20
	}

	r := &Router{
		conns:        conns,
		pending:      pending,
		cursor:       cursor,
		delivery:     delivery,
		now:          opts.Now,
		perPeerRate:  opts.PerPeerRate,
		perPeerBurst: opts.PerPeerBurst,
		active:       make(map[string]*tonconnect.AppRequest),
		limiters:     make(map[string]*rate.Limiter),
	}
	r.handlers = map[tonconnect.Method]methodHandler{
		tonconnect.MethodSendTransaction: (*Router).handleSendTransaction,
	}
	return r
}

// HandleEnvelope routes one inbound envelope. It never returns an
// error: every failure is either a dropped envelope or a protocol-level
// error response to the peer.
func (r *Router) HandleEnvelope(ctx context.Context, env stream.Envelope) {
	if env.LastEventID != "" {
		if err := r.cursor.Set(env.LastEventID); err != nil {
			slog.Warn("persist event cursor failed", "error", err)
		}
	}

	app, conn, err := r.conns.FindByClientSessionID(env.From)
	if err != nil {
		slog.Warn("connection lookup failed", "error", err)
		return
	}
	if conn == nil {
		// Peer unknown or already disconnected. Not worth surfacing.
		slog.Debug("drop envelope from unknown peer", "peer", short(env.From))
		return
	}

	if !r.allowPeer(env.From) {
		slog.Warn("drop rate-limited envelope", "peer", short(env.From))
		return
	}

	keyPair, err := session.KeyPairFromHex(conn.SessionPublicKey, conn.SessionPrivateKey)
	if err != nil {
		slog.Warn("drop envelope: bad stored key material", "peer", short(env.From), "error", err)
		return
	}
	crypto := session.New(keyPair)

	ciphertext, err := base64.StdEncoding.DecodeString(env.Message)
	if err != nil {
		slog.Debug("drop envelope: message not base64", "peer", short(env.From))
		return
	}

	plaintext, err := crypto.Decrypt(ciphertext, env.From)
	if err != nil {
		// One malformed event must not break the shared stream, and
		// without a successful decrypt the peer cannot be answered.
		slog.Debug("drop undecryptable envelope", "peer", short(env.From), "error", err)
		return
	}

	var request tonconnect.AppRequest
	if err := json.Unmarshal(plaintext, &request); err != nil {
		slog.Debug("drop envelope: request not json", "peer", short(env.From), "error", err)
		return
	}

	resp, pr := r.route(env.From, app, &request, crypto)
	if resp != nil {
		r.respond(ctx, pr, resp)
	}
}

// route runs the de-duplication gate and method dispatch under the
// router lock, returning the immediate response if one is due.
func (r *Router) route(peerID string, app *store.App, request *tonconnect.AppRequest, crypto *session.Crypto) (*tonconnect.Response, PendingResponse) {
	pr := PendingResponse{PeerID: peerID, RequestID: request.ID, Crypto: crypto}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, inFlight := r.active[peerID]; inFlight {
		// Never overwrite the in-flight entry.
		return tonconnect.ErrorResponse(request.ID, tonconnect.CodeUserRejects, msgAlreadyOpened), pr
	}
	r.active[peerID] = request

	if app == nil {
		delete(r.active, peerID)
		return tonconnect.ErrorResponse(request.ID, tonconnect.CodeUnknownApp, msgUnknownApp), pr
	}

	handler, ok := r.handlers[request.Method]
	if !ok {
		delete(r.active, peerID)
		return tonconnect.ErrorResponse(request.ID, tonconnect.CodeMethodNotSupported, msgNotSupported), pr
	}

	resp, clearActive := handler(r, &routed{peerID: peerID, app: app, request: request, crypto: crypto})
	if clearActive {
		delete(r.active, peerID)
	}
	return resp, pr
}

// handleSendTransaction validates shape and expiry, then persists the
// request as pending. The in-memory entry stays set until the response
// callback fires. Runs under the router lock.
func (r *Router) handleSendTransaction(rt *routed) (*tonconnect.Response, bool) {
	if len(rt.request.Params) == 0 {
		return tonconnect.ErrorResponse(rt.request.ID, tonconnect.CodeBadRequest, msgBadRequest), true
	}

	params, err := tonconnect.ParseSendTransactionParams(rt.request.Params[0])
	if err != nil {
		slog.Debug("reject malformed transaction request", "peer", short(rt.peerID), "error", err)
		return tonconnect.ErrorResponse(rt.request.ID, tonconnect.CodeBadRequest, msgBadRequest), true
	}

	if params.ValidUntil < r.now().Unix() {
		return tonconnect.ErrorResponse(rt.request.ID, tonconnect.CodeBadRequest, msgTimedOut), true
	}

	// Durable twin of the in-memory gate: survives a process restart
	// that loses the active set.
	err = r.pending.Add(store.PendingRequest{
		FromPeerID: rt.peerID,
		RequestID:  rt.request.ID,
		Method:     string(rt.request.Method),
		Params:     rt.request.Params,
		ReceivedAt: r.now().UTC(),
	})
	if err == store.ErrPeerPending {
		return tonconnect.ErrorResponse(rt.request.ID, tonconnect.CodeUserRejects, msgAlreadyPending), true
	}
	if err != nil {
		slog.Warn("persist pending request failed", "peer", short(rt.peerID), "error", err)
		return tonconnect.ErrorResponse(rt.request.ID, tonconnect.CodeUnknownError, "Internal error"), true
	}

	slog.Info("transaction request pending",
		"peer", short(rt.peerID),
		"app", rt.app.OriginKey,
		"request_id", rt.request.ID,
		"messages", len(params.Messages))
	return nil, false
}

// CompleteRequest is the response callback: it clears the in-memory
// entry and the persisted pending entry for the peer, then delivers the
// response. Used when the out-of-band decision (approve/reject) for a
// pending request arrives.
func (r *Router) CompleteRequest(ctx context.Context, peerID string, resp *tonconnect.Response) error {
	r.mu.Lock()
	delete(r.active, peerID)
	r.mu.Unlock()

	if err := r.pending.ClearPeer(peerID); err != nil {
		slog.Warn("clear pending request failed", "peer", short(peerID), "error", err)
	}

	_, conn, err := r.conns.FindByClientSessionID(peerID)
	if err != nil {
		return err
	}
	if conn == nil {
		// Peer disconnected before the decision fired; nothing to
		// deliver to.
		return nil
	}

	keyPair, err := session.KeyPairFromHex(conn.SessionPublicKey, conn.SessionPrivateKey)
	if err != nil {
		return err
	}

	pr := PendingResponse{PeerID: peerID, RequestID: resp.ID, Crypto: session.New(keyPair)}
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return r.delivery.Deliver(ctx, payload, pr)
}

// ActiveRequest returns the in-flight request for a peer, or nil.
func (r *Router) ActiveRequest(peerID string) *tonconnect.AppRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[peerID]
}

// ClearPeer flushes the in-memory entry and rate limiter state for a
// peer, as part of a disconnect.
func (r *Router) ClearPeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, peerID)
	delete(r.limiters, peerID)
}

// allowPeer throttles a peer that already passed the connection lookup.
// Limiter entries therefore exist only for known peers, so the map is
// bounded by the connection count; ClearPeer evicts on disconnect.
func (r *Router) allowPeer(peerID string) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[peerID]
	if !ok {
		limiter = rate.NewLimiter(r.perPeerRate, r.perPeerBurst)
		r.limiters[peerID] = limiter
	}
	r.mu.Unlock()
	return limiter.Allow()
}

// respond delivers a protocol-level response. Delivery failures are
// logged, never retried and never propagated.
func (r *Router) respond(ctx context.Context, pr PendingResponse, resp *tonconnect.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("encode response failed", "peer", short(pr.PeerID), "error", err)
		return
	}
	if err := r.delivery.Deliver(ctx, payload, pr); err != nil {
		slog.Warn("deliver response failed", "peer", short(pr.PeerID), "error", err)
	}
}

// short truncates a session id for log lines.
func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
