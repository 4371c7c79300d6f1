// Package manifest resolves and caches application trust manifests:
// the name/icon/legal descriptor a third-party app publishes at a
// well-known URL.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tonbridge.dev/go/tonbridge/internal/store"
)

// Manifest is an app's trust descriptor. Treated as immutable once
// fetched; entries have no expiry and are refetched only on cache miss.
type Manifest struct {
	URL              string `json:"url"`
	Name             string `json:"name"`
	IconURL          string `json:"iconUrl"`
	TermsOfUseURL    string `json:"termsOfUseUrl,omitempty"`
	PrivacyPolicyURL string `json:"privacyPolicyUrl,omitempty"`
}

const cacheKey = "manifests"
const maxManifestSize = 1 << 20

type cacheEntry struct {
	SourceURL string   `json:"source_url"`
	Manifest  Manifest `json:"manifest"`
}

// Resolver fetches manifests and persists them per app origin key.
type Resolver struct {
	mu     sync.Mutex
	kv     store.KV
	client *http.Client
}

// NewResolver creates a resolver over the given store. A nil client
// gets a default with a request timeout.
func NewResolver(kv store.KV, client *http.Client) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Resolver{kv: kv, client: client}
}

// Resolve returns the manifest for the app publishing at rawURL. A
// cached entry for the URL's origin key is returned without network
// access; otherwise the manifest is fetched, persisted and returned.
// Fetch failures are logged and yield nil: trust is unverifiable, and
// the caller decides whether the flow may proceed.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) *Manifest {
	originKey := store.OriginKey(rawURL)

	r.mu.Lock()
	entries, err := r.loadCache()
	if err == nil {
		if entry, ok := entries[originKey]; ok {
			r.mu.Unlock()
			manifest := entry.Manifest
			return &manifest
		}
	}
	r.mu.Unlock()

	manifest, err := r.fetch(ctx, rawURL)
	if err != nil {
		slog.Warn("manifest fetch failed", "url", rawURL, "error", err)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err = r.loadCache()
	if err != nil {
		entries = make(map[string]cacheEntry)
	}
	entries[originKey] = cacheEntry{SourceURL: rawURL, Manifest: *manifest}
	if err := store.SetJSON(r.kv, cacheKey, entries); err != nil {
		slog.Warn("manifest cache write failed", "origin", originKey, "error", err)
	}

	return manifest
}

// Cached returns the persisted manifest for an origin key without any
// network access, or nil.
func (r *Resolver) Cached(originKey string) *Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.loadCache()
	if err != nil {
		return nil
	}
	entry, ok := entries[originKey]
	if !ok {
		return nil
	}
	manifest := entry.Manifest
	return &manifest
}

// Invalidate drops the cached manifest for one origin key. The next
// Resolve for that origin refetches.
func (r *Resolver) Invalidate(originKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.loadCache()
	if err != nil {
		return
	}
	if _, ok := entries[originKey]; !ok {
		return
	}
	delete(entries, originKey)
	if err := store.SetJSON(r.kv, cacheKey, entries); err != nil {
		slog.Warn("manifest cache write failed", "origin", originKey, "error", err)
	}
}

// InvalidateAll drops the whole cache, typically on a foreground
// transition.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.kv.Delete(cacheKey); err != nil {
		slog.Warn("manifest cache clear failed", "error", err)
	}
}

func (r *Resolver) loadCache() (map[string]cacheEntry, error) {
	entries := make(map[string]cacheEntry)
	if _, err := store.GetJSON(r.kv, cacheKey, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Resolver) fetch(ctx context.Context, rawURL string) (*Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if manifest.Name == "" {
		return nil, fmt.Errorf("manifest has no name")
	}
	if manifest.URL == "" {
		manifest.URL = rawURL
	}
	return &manifest, nil
}
