package cli

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"tonbridge.dev/go/tonbridge/internal/bridge"
	"tonbridge.dev/go/tonbridge/internal/config"
	"tonbridge.dev/go/tonbridge/internal/manifest"
	"tonbridge.dev/go/tonbridge/internal/prompt"
	"tonbridge.dev/go/tonbridge/internal/store"
	"tonbridge.dev/go/tonbridge/internal/stream"
	"tonbridge.dev/go/tonbridge/internal/tonconnect"
	"tonbridge.dev/go/tonbridge/internal/wallet"
)

// engine bundles the wired bridge components a command needs, plus the
// handles required to shut them down.
type engine struct {
	cfg     *config.Config
	paths   *config.Paths
	kv      store.KV
	conns   *store.Connections
	pending *store.Pending
	cursor  *store.Cursor
	router  *bridge.Router
	product *bridge.Product
}

// openEngine loads config, opens the state store and wires the bridge
// engine. When withWallet is true the wallet identity is unlocked too;
// commands that only touch stored state pass false.
func openEngine(withWallet bool) (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	setupLogging(cfg)

	paths, err := config.GetPaths()
	if err != nil {
		return nil, fmt.Errorf("get paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	kv, err := store.OpenSQLite(paths.ResolveStorePath(cfg))
	if err != nil {
		return nil, err
	}

	var provider wallet.Provider
	if withWallet {
		provider, err = unlockWallet(cfg, paths)
		if err != nil {
			kv.Close()
			return nil, err
		}
	}

	conns := store.NewConnections(kv)
	pending := store.NewPending(kv)
	cursor := store.NewCursor(kv)
	manifests := manifest.NewResolver(kv, nil)

	ttl := time.Duration(cfg.Bridge.MessageTTLSeconds) * time.Second
	delivery := bridge.NewHTTPDelivery(cfg.Bridge.URL, ttl, nil)
	router := bridge.NewRouter(conns, pending, cursor, delivery, bridge.RouterOptions{})

	streamClient := stream.NewClient(cfg.Bridge.URL, cursor, func(env stream.Envelope) {
		router.HandleEnvelope(context.Background(), env)
	}, nil)

	device := tonconnect.DeviceInfo{
		Platform:           runtime.GOOS,
		AppName:            "tonbridge",
		AppVersion:         version,
		MaxProtocolVersion: tonconnect.ProtocolVersion,
		Features:           []string{"SendTransaction"},
	}

	product := bridge.NewProduct(conns, pending, manifests, streamClient, router, delivery, provider, device)

	return &engine{
		cfg:     cfg,
		paths:   paths,
		kv:      kv,
		conns:   conns,
		pending: pending,
		cursor:  cursor,
		router:  router,
		product: product,
	}, nil
}

func (e *engine) Close() {
	e.product.Close()
	e.kv.Close()
}

// unlockWallet loads the wallet identity, prompting for the file
// passphrase only when the OS keychain does not hold the mnemonic.
func unlockWallet(cfg *config.Config, paths *config.Paths) (*wallet.Identity, error) {
	mnemonic, err := wallet.LoadMnemonic(paths.ConfigDir, nil)
	if err != nil {
		if errors.Is(err, wallet.ErrNoMnemonic) {
			return nil, fmt.Errorf("no wallet found. Run 'tonbridge init' first")
		}

		passphrase, perr := prompt.ReadPassword("Wallet passphrase: ")
		if perr != nil {
			return nil, fmt.Errorf("read passphrase: %w", perr)
		}
		mnemonic, err = wallet.LoadMnemonic(paths.ConfigDir, passphrase)
		if err != nil {
			return nil, fmt.Errorf("unlock wallet: %w", err)
		}
	}

	return wallet.FromMnemonic(mnemonic, cfg.Wallet.Network)
}
