package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"tonbridge.dev/go/tonbridge/internal/manifest"
	"tonbridge.dev/go/tonbridge/internal/session"
	"tonbridge.dev/go/tonbridge/internal/store"
	"tonbridge.dev/go/tonbridge/internal/stream"
	"tonbridge.dev/go/tonbridge/internal/tonconnect"
	"tonbridge.dev/go/tonbridge/internal/wallet"
)

// Pairing is a parsed and trust-resolved connect deep link, ready to be
// accepted or discarded.
type Pairing struct {
	Version         int
	ClientSessionID string
	Request         *tonconnect.ConnectRequest
	Manifest        *manifest.Manifest
	AppOriginKey    string
}

// Product is the application-facing bridge engine: it owns the event
// stream, the router and the connection lifecycle.
type Product struct {
	conns     *store.Connections
	pending   *store.Pending
	manifests *manifest.Resolver
	stream    *stream.Client
	router    *Router
	delivery  Delivery
	wallet    wallet.Provider
	device    tonconnect.DeviceInfo
}

// NewProduct wires the engine from its parts.
func NewProduct(
	conns *store.Connections,
	pending *store.Pending,
	manifests *manifest.Resolver,
	streamClient *stream.Client,
	router *Router,
	delivery Delivery,
	walletProvider wallet.Provider,
	device tonconnect.DeviceInfo,
) *Product {
	return &Product{
		conns:     conns,
		pending:   pending,
		manifests: manifests,
		stream:    streamClient,
		router:    router,
		delivery:  delivery,
		wallet:    walletProvider,
		device:    device,
	}
}

// Router exposes the engine's request router.
func (p *Product) Router() *Router {
	return p.router
}

// Stream exposes the engine's event stream client.
func (p *Product) Stream() *stream.Client {
	return p.stream
}

// Wallet exposes the engine's wallet identity.
func (p *Product) Wallet() wallet.Provider {
	return p.wallet
}

// Open subscribes the shared event stream to the given connections
// (remote ones; others are filtered by the stream client).
func (p *Product) Open(ctx context.Context, connections []store.Connection) error {
	return p.stream.Open(ctx, connections)
}

// RestartSync recomputes the full connection set across all installed
// apps and reopens the stream. Called after any connection mutation and
// on foreground transitions.
func (p *Product) RestartSync(ctx context.Context) error {
	connections, err := p.conns.AllConnections()
	if err != nil {
		return fmt.Errorf("load connections: %w", err)
	}
	return p.stream.Open(ctx, connections)
}

// Close tears down the event stream.
func (p *Product) Close() {
	p.stream.Close()
}

// HandleConnectDeeplink parses a pairing deep link and resolves the
// app's manifest. This path is driven by untrusted external input (a
// scanned QR code or universal link): any failure is logged and yields
// nil rather than an error.
func (p *Product) HandleConnectDeeplink(ctx context.Context, raw string) *Pairing {
	link, err := tonconnect.ParsePairingLink(raw)
	if err != nil {
		slog.Warn("discard pairing link", "error", err)
		return nil
	}

	m := p.manifests.Resolve(ctx, link.Request.ManifestURL)
	if m == nil {
		slog.Warn("discard pairing link: manifest unresolvable", "manifest_url", link.Request.ManifestURL)
		return nil
	}

	originKey := store.OriginKey(m.URL)
	return &Pairing{
		Version:         link.Version,
		ClientSessionID: link.ClientSessionID,
		Request:         link.Request,
		Manifest:        m,
		AppOriginKey:    originKey,
	}
}

// CompletePairing accepts a pairing: it mints a fresh session, persists
// the connection under the app, delivers the connect event to the peer
// and rebuilds the stream subscription to include the new session.
func (p *Product) CompletePairing(ctx context.Context, pairing *Pairing) error {
	crypto, err := session.Generate()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	event, err := buildConnectEvent(p.wallet, pairing.Request.Items, appDomain(pairing.Manifest.URL), p.device)
	if err != nil {
		return fmt.Errorf("build connect event: %w", err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode connect event: %w", err)
	}

	app := store.App{
		OriginKey:   pairing.AppOriginKey,
		Name:        pairing.Manifest.Name,
		IconURL:     pairing.Manifest.IconURL,
		InstalledAt: time.Now().UTC(),
	}
	conn := store.Connection{
		Type:              store.ConnectionRemote,
		SessionPublicKey:  crypto.KeyPair().PublicKeyHex(),
		SessionPrivateKey: crypto.KeyPair().PrivateKeyHex(),
		ClientSessionID:   pairing.ClientSessionID,
	}
	if err := p.conns.SaveConnection(app, conn); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}

	to := PendingResponse{PeerID: pairing.ClientSessionID, Crypto: crypto}
	if err := p.delivery.Deliver(ctx, payload, to); err != nil {
		return fmt.Errorf("deliver connect event: %w", err)
	}

	slog.Info("app connected", "app", pairing.AppOriginKey, "peer", short(pairing.ClientSessionID))
	return p.RestartSync(ctx)
}

// SaveInjectedConnection registers an in-page app connection, enabling
// later auto-connect.
func (p *Product) SaveInjectedConnection(ctx context.Context, app store.App) error {
	conn := store.Connection{Type: store.ConnectionInjected}
	if err := p.conns.SaveConnection(app, conn); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	return p.RestartSync(ctx)
}

// AutoConnect silently reconnects an in-page app: no user interaction,
// no manifest fetch. It fails with an unknown-app connect error when
// the app is not registered, has no connections, or has auto-connect
// disabled.
func (p *Product) AutoConnect(appOrigin string) (*tonconnect.ConnectEvent, error) {
	originKey := store.OriginKey(appOrigin)

	app, err := p.conns.App(originKey)
	if err != nil {
		return nil, fmt.Errorf("load app: %w", err)
	}
	if app == nil {
		return nil, &tonconnect.ConnectEventError{Code: tonconnect.CodeUnknownApp, Message: "app is not connected"}
	}

	connections, err := p.conns.ListConnections(originKey)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	if len(connections) == 0 {
		return nil, &tonconnect.ConnectEventError{Code: tonconnect.CodeUnknownApp, Message: "app has no connections"}
	}
	if app.AutoConnectDisabled {
		return nil, &tonconnect.ConnectEventError{Code: tonconnect.CodeUnknownApp, Message: "auto-connect is disabled"}
	}

	// Auto-connect never carries a proof: it must complete without
	// user interaction.
	event, err := buildConnectEvent(p.wallet, nil, appDomain(appOrigin), p.device)
	if err != nil {
		return nil, fmt.Errorf("build connect event: %w", err)
	}
	return event, nil
}

// Disconnect tears an app down: notifies every remote peer, flushes
// their in-flight and pending requests, removes the app and rebuilds
// the stream subscription. Disconnecting an unknown app is a no-op, so
// the operation is idempotent.
func (p *Product) Disconnect(ctx context.Context, appOrigin string) error {
	originKey := store.OriginKey(appOrigin)

	app, err := p.conns.App(originKey)
	if err != nil {
		return fmt.Errorf("load app: %w", err)
	}
	if app == nil {
		return nil
	}

	connections, err := p.conns.ListConnections(originKey)
	if err != nil {
		return fmt.Errorf("load connections: %w", err)
	}

	for _, conn := range connections {
		if conn.Type != store.ConnectionRemote {
			continue
		}

		event := tonconnect.NewDisconnectEvent(conn.ClientSessionID)
		payload, err := json.Marshal(event)
		if err != nil {
			slog.Warn("encode disconnect event failed", "error", err)
			continue
		}

		keyPair, err := session.KeyPairFromHex(conn.SessionPublicKey, conn.SessionPrivateKey)
		if err != nil {
			slog.Warn("skip disconnect notify: bad stored key material", "peer", short(conn.ClientSessionID))
		} else {
			to := PendingResponse{PeerID: conn.ClientSessionID, Crypto: session.New(keyPair)}
			if err := p.delivery.Deliver(ctx, payload, to); err != nil {
				slog.Warn("deliver disconnect event failed", "peer", short(conn.ClientSessionID), "error", err)
			}
		}

		p.router.ClearPeer(conn.ClientSessionID)
		if err := p.pending.ClearPeer(conn.ClientSessionID); err != nil {
			slog.Warn("clear pending request failed", "peer", short(conn.ClientSessionID), "error", err)
		}
	}

	if err := p.conns.RemoveApp(originKey); err != nil {
		return fmt.Errorf("remove app: %w", err)
	}

	slog.Info("app disconnected", "app", originKey)
	return p.RestartSync(ctx)
}

// HandleForeground is the platform foreground hook: it rebuilds the
// stream subscription and invalidates the manifest cache.
func (p *Product) HandleForeground(ctx context.Context) error {
	p.manifests.InvalidateAll()
	return p.RestartSync(ctx)
}

// appDomain extracts the host a proof signature covers.
func appDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}
