package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"tonbridge.dev/go/tonbridge/internal/session"
	"tonbridge.dev/go/tonbridge/internal/store"
	"tonbridge.dev/go/tonbridge/internal/stream"
	"tonbridge.dev/go/tonbridge/internal/tonconnect"
)

// fakeDelivery records payloads before they would be sealed and posted.
type fakeDelivery struct {
	mu        sync.Mutex
	delivered []delivered
}

type delivered struct {
	peerID  string
	payload []byte
}

func (d *fakeDelivery) Deliver(_ context.Context, payload []byte, to PendingResponse) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, delivered{peerID: to.PeerID, payload: payload})
	return nil
}

func (d *fakeDelivery) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func (d *fakeDelivery) last(t *testing.T) *tonconnect.Response {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.delivered) == 0 {
		t.Fatal("no response delivered")
	}
	var resp tonconnect.Response
	if err := json.Unmarshal(d.delivered[len(d.delivered)-1].payload, &resp); err != nil {
		t.Fatalf("decode delivered response: %v", err)
	}
	return &resp
}

// peer is a simulated connected app with its own session keys.
type peer struct {
	crypto       *session.Crypto
	walletCrypto *session.Crypto
}

func (p *peer) id() string {
	return p.crypto.SessionID()
}

func (p *peer) envelope(t *testing.T, request tonconnect.AppRequest) stream.Envelope {
	t.Helper()
	plaintext, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	ciphertext, err := p.crypto.Encrypt(plaintext, p.walletCrypto.SessionID())
	if err != nil {
		t.Fatalf("encrypt request: %v", err)
	}
	return stream.Envelope{
		From:    p.id(),
		Message: base64.StdEncoding.EncodeToString(ciphertext),
	}
}

type routerFixture struct {
	conns    *store.Connections
	pending  *store.Pending
	cursor   *store.Cursor
	delivery *fakeDelivery
	router   *Router
}

func newRouterFixture(t *testing.T, opts RouterOptions) *routerFixture {
	t.Helper()
	kv := store.NewMemory()
	f := &routerFixture{
		conns:    store.NewConnections(kv),
		pending:  store.NewPending(kv),
		cursor:   store.NewCursor(kv),
		delivery: &fakeDelivery{},
	}
	f.router = NewRouter(f.conns, f.pending, f.cursor, f.delivery, opts)
	return f
}

// connectPeer registers an app with one remote connection and returns
// the peer side of it.
func (f *routerFixture) connectPeer(t *testing.T, origin string) *peer {
	t.Helper()
	walletCrypto, err := session.Generate()
	if err != nil {
		t.Fatalf("generate wallet session: %v", err)
	}
	appCrypto, err := session.Generate()
	if err != nil {
		t.Fatalf("generate app session: %v", err)
	}

	app := store.App{
		OriginKey:   store.OriginKey(origin),
		Name:        "Example Dapp",
		InstalledAt: time.Now().UTC(),
	}
	conn := store.Connection{
		Type:              store.ConnectionRemote,
		SessionPublicKey:  walletCrypto.KeyPair().PublicKeyHex(),
		SessionPrivateKey: walletCrypto.KeyPair().PrivateKeyHex(),
		ClientSessionID:   appCrypto.SessionID(),
	}
	if err := f.conns.SaveConnection(app, conn); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}
	return &peer{crypto: appCrypto, walletCrypto: walletCrypto}
}

func txRequest(id string, validUntil int64) tonconnect.AppRequest {
	params := fmt.Sprintf(`{"valid_until":%d,"messages":[{"address":"0:abc","amount":"1000000000"}]}`, validUntil)
	return tonconnect.AppRequest{
		ID:     id,
		Method: tonconnect.MethodSendTransaction,
		Params: []string{params},
	}
}

func TestFirstValidRequestAcceptedAndPersisted(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	p := f.connectPeer(t, "https://dapp.example")
	ctx := context.Background()

	f.router.HandleEnvelope(ctx, p.envelope(t, txRequest("1", time.Now().Add(time.Minute).Unix())))

	pending, err := f.pending.List()
	if err != nil {
		t.Fatalf("pending.List: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1", len(pending))
	}
	if pending[0].FromPeerID != p.id() || pending[0].RequestID != "1" {
		t.Errorf("pending entry = %+v", pending[0])
	}

	if active := f.router.ActiveRequest(p.id()); active == nil || active.ID != "1" {
		t.Errorf("active entry = %+v, want request 1", active)
	}
	if f.delivery.count() != 0 {
		t.Errorf("unexpected response delivered: %d", f.delivery.count())
	}
}

func TestSecondRequestRejectedWhileFirstInFlight(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	p := f.connectPeer(t, "https://dapp.example")
	ctx := context.Background()
	validUntil := time.Now().Add(time.Minute).Unix()

	f.router.HandleEnvelope(ctx, p.envelope(t, txRequest("1", validUntil)))
	f.router.HandleEnvelope(ctx, p.envelope(t, txRequest("2", validUntil)))

	resp := f.delivery.last(t)
	if resp.Error == nil {
		t.Fatalf("expected error response, got %+v", resp)
	}
	if resp.Error.Code != tonconnect.CodeUserRejects {
		t.Errorf("error code = %d, want %d", resp.Error.Code, tonconnect.CodeUserRejects)
	}
	if resp.Error.Message != "User has already opened the previous request" {
		t.Errorf("error message = %q", resp.Error.Message)
	}
	if resp.ID != "2" {
		t.Errorf("response id = %q, want the rejected request's id", resp.ID)
	}

	// The in-flight entry and persisted entry are not overwritten.
	if active := f.router.ActiveRequest(p.id()); active == nil || active.ID != "1" {
		t.Errorf("active entry = %+v, want request 1", active)
	}
	pending, _ := f.pending.List()
	if len(pending) != 1 || pending[0].RequestID != "1" {
		t.Errorf("pending = %+v, want single entry for request 1", pending)
	}
}

func TestExpiredRequestRejected(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	p := f.connectPeer(t, "https://dapp.example")

	f.router.HandleEnvelope(context.Background(), p.envelope(t, txRequest("1", time.Now().Add(-time.Minute).Unix())))

	resp := f.delivery.last(t)
	if resp.Error == nil || resp.Error.Message != "Transaction request timed out" {
		t.Fatalf("expected timed out error, got %+v", resp)
	}
	if resp.ID != "1" {
		t.Errorf("response id = %q, want 1", resp.ID)
	}
	if f.router.ActiveRequest(p.id()) != nil {
		t.Error("active entry not cleared after expiry rejection")
	}
	pending, _ := f.pending.List()
	if len(pending) != 0 {
		t.Errorf("expired request persisted: %+v", pending)
	}
}

func TestZeroValidUntilTreatedAsExpired(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	p := f.connectPeer(t, "https://dapp.example")

	// An absent valid_until decodes as zero; zero lies in the past.
	f.router.HandleEnvelope(context.Background(), p.envelope(t, txRequest("1", 0)))

	resp := f.delivery.last(t)
	if resp.Error == nil || resp.Error.Message != "Transaction request timed out" {
		t.Fatalf("expected timed out error, got %+v", resp)
	}
	if resp.Error.Code != tonconnect.CodeBadRequest {
		t.Errorf("error code = %d, want %d", resp.Error.Code, tonconnect.CodeBadRequest)
	}
	pending, _ := f.pending.List()
	if len(pending) != 0 {
		t.Errorf("expired request persisted: %+v", pending)
	}
}

func TestMalformedShapeRejected(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	p := f.connectPeer(t, "https://dapp.example")
	ctx := context.Background()

	cases := []tonconnect.AppRequest{
		{ID: "1", Method: tonconnect.MethodSendTransaction, Params: nil},
		{ID: "2", Method: tonconnect.MethodSendTransaction, Params: []string{"not json"}},
		{ID: "3", Method: tonconnect.MethodSendTransaction, Params: []string{`{"valid_until":9999999999,"messages":[]}`}},
	}
	for _, req := range cases {
		f.router.HandleEnvelope(ctx, p.envelope(t, req))
		resp := f.delivery.last(t)
		if resp.Error == nil || resp.Error.Code != tonconnect.CodeBadRequest {
			t.Errorf("request %s: got %+v, want bad request", req.ID, resp)
		}
		if resp.ID != req.ID {
			t.Errorf("request %s: response id = %q", req.ID, resp.ID)
		}
		if f.router.ActiveRequest(p.id()) != nil {
			t.Errorf("request %s: active entry not cleared", req.ID)
		}
	}
}

func TestUnknownMethodRejected(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	p := f.connectPeer(t, "https://dapp.example")

	req := tonconnect.AppRequest{ID: "9", Method: tonconnect.MethodSignData, Params: []string{"{}"}}
	f.router.HandleEnvelope(context.Background(), p.envelope(t, req))

	resp := f.delivery.last(t)
	if resp.Error == nil || resp.Error.Code != tonconnect.CodeMethodNotSupported {
		t.Fatalf("expected method not supported, got %+v", resp)
	}
	if f.router.ActiveRequest(p.id()) != nil {
		t.Error("active entry not cleared")
	}
}

func TestUnknownPeerDroppedSilently(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})

	stranger, _ := session.Generate()
	wallet, _ := session.Generate()
	p := &peer{crypto: stranger, walletCrypto: wallet}

	f.router.HandleEnvelope(context.Background(), p.envelope(t, txRequest("1", time.Now().Add(time.Minute).Unix())))

	if f.delivery.count() != 0 {
		t.Errorf("response sent to unknown peer: %d", f.delivery.count())
	}
	pending, _ := f.pending.List()
	if len(pending) != 0 {
		t.Errorf("state mutated by unknown peer: %+v", pending)
	}
}

func TestTamperedCiphertextDropped(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	p := f.connectPeer(t, "https://dapp.example")

	env := p.envelope(t, txRequest("1", time.Now().Add(time.Minute).Unix()))
	raw, _ := base64.StdEncoding.DecodeString(env.Message)
	raw[len(raw)-1] ^= 0xff
	env.Message = base64.StdEncoding.EncodeToString(raw)

	f.router.HandleEnvelope(context.Background(), env)

	if f.delivery.count() != 0 {
		t.Errorf("response sent for undecryptable envelope")
	}
	pending, _ := f.pending.List()
	if len(pending) != 0 || f.router.ActiveRequest(p.id()) != nil {
		t.Error("state mutated by undecryptable envelope")
	}
}

func TestDurablePendingCheckSurvivesRestart(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	p := f.connectPeer(t, "https://dapp.example")

	// An entry persisted by a previous process; the in-memory active
	// set is empty, as after a restart.
	if err := f.pending.Add(store.PendingRequest{FromPeerID: p.id(), RequestID: "old"}); err != nil {
		t.Fatalf("seed pending: %v", err)
	}

	f.router.HandleEnvelope(context.Background(), p.envelope(t, txRequest("new", time.Now().Add(time.Minute).Unix())))

	resp := f.delivery.last(t)
	if resp.Error == nil || resp.Error.Message != "Request already pending" {
		t.Fatalf("expected already pending error, got %+v", resp)
	}
	if f.router.ActiveRequest(p.id()) != nil {
		t.Error("in-memory entry left set after durable rejection")
	}
	pending, _ := f.pending.List()
	if len(pending) != 1 || pending[0].RequestID != "old" {
		t.Errorf("durable entry overwritten: %+v", pending)
	}
}

func TestCompleteRequestClearsAndDelivers(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	p := f.connectPeer(t, "https://dapp.example")
	ctx := context.Background()
	validUntil := time.Now().Add(time.Minute).Unix()

	f.router.HandleEnvelope(ctx, p.envelope(t, txRequest("1", validUntil)))

	resp := tonconnect.SuccessResponse("1", "te6ccsignedboc")
	if err := f.router.CompleteRequest(ctx, p.id(), resp); err != nil {
		t.Fatalf("CompleteRequest: %v", err)
	}

	got := f.delivery.last(t)
	if got.Result != "te6ccsignedboc" || got.ID != "1" {
		t.Errorf("delivered response = %+v", got)
	}
	if f.router.ActiveRequest(p.id()) != nil {
		t.Error("active entry survives completion")
	}
	pending, _ := f.pending.List()
	if len(pending) != 0 {
		t.Errorf("pending entry survives completion: %+v", pending)
	}

	// The peer may now submit again.
	f.router.HandleEnvelope(ctx, p.envelope(t, txRequest("2", validUntil)))
	if active := f.router.ActiveRequest(p.id()); active == nil || active.ID != "2" {
		t.Errorf("follow-up request not accepted: %+v", active)
	}
}

func TestEnvelopeCursorPersisted(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	p := f.connectPeer(t, "https://dapp.example")

	env := p.envelope(t, txRequest("1", time.Now().Add(time.Minute).Unix()))
	env.LastEventID = "55021"
	f.router.HandleEnvelope(context.Background(), env)

	got, ok, err := f.cursor.Get()
	if err != nil || !ok || got != "55021" {
		t.Errorf("cursor = %q ok %v err %v, want 55021", got, ok, err)
	}
}

func TestPerPeerRateLimit(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{PerPeerRate: rate.Every(time.Hour), PerPeerBurst: 1})
	p := f.connectPeer(t, "https://dapp.example")
	ctx := context.Background()
	validUntil := time.Now().Add(time.Minute).Unix()

	f.router.HandleEnvelope(ctx, p.envelope(t, txRequest("1", validUntil)))
	// Over the limit: dropped before decryption, no error response.
	f.router.HandleEnvelope(ctx, p.envelope(t, txRequest("2", validUntil)))

	if f.delivery.count() != 0 {
		t.Errorf("rate-limited envelope produced a response")
	}
	if active := f.router.ActiveRequest(p.id()); active == nil || active.ID != "1" {
		t.Errorf("active entry = %+v, want request 1", active)
	}
}

func TestLimiterStateOnlyForKnownPeers(t *testing.T) {
	f := newRouterFixture(t, RouterOptions{})
	ctx := context.Background()

	// A flood of envelopes with distinct claimed senders must not grow
	// the limiter map: unattributable traffic is dropped before the
	// rate-limit gate.
	for i := 0; i < 5000; i++ {
		f.router.HandleEnvelope(ctx, stream.Envelope{
			From:    fmt.Sprintf("%064x", i),
			Message: "aGVsbG8=",
		})
	}

	f.router.mu.Lock()
	unknown := len(f.router.limiters)
	f.router.mu.Unlock()
	if unknown != 0 {
		t.Fatalf("limiter entries for unknown peers = %d, want 0", unknown)
	}

	// A known peer gets exactly one entry, evicted on disconnect.
	p := f.connectPeer(t, "https://dapp.example")
	f.router.HandleEnvelope(ctx, p.envelope(t, txRequest("1", time.Now().Add(time.Minute).Unix())))

	f.router.mu.Lock()
	known := len(f.router.limiters)
	f.router.mu.Unlock()
	if known != 1 {
		t.Fatalf("limiter entries = %d, want 1", known)
	}

	f.router.ClearPeer(p.id())
	f.router.mu.Lock()
	cleared := len(f.router.limiters)
	f.router.mu.Unlock()
	if cleared != 0 {
		t.Errorf("limiter entries after disconnect = %d, want 0", cleared)
	}
}
