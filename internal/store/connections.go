package store

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ConnectionType distinguishes server-relayed connections from
// injected (in-page) ones.
type ConnectionType string

const (
	ConnectionRemote   ConnectionType = "remote"
	ConnectionInjected ConnectionType = "injected"
)

// Connection is one live link between the wallet and an app. A remote
// connection carries the peer's session id; an injected connection has
// none. Key material is persisted hex-encoded.
type Connection struct {
	Type              ConnectionType `json:"type"`
	SessionPublicKey  string         `json:"session_public_key"`
	SessionPrivateKey string         `json:"session_private_key"`
	ClientSessionID   string         `json:"client_session_id,omitempty"`
	AppOrigin         string         `json:"app_origin"`
}

// App is an installed application the wallet has connected to, keyed by
// its normalized origin.
type App struct {
	OriginKey           string    `json:"origin_key"`
	Name                string    `json:"name"`
	IconURL             string    `json:"icon_url"`
	InstalledAt         time.Time `json:"installed_at"`
	AutoConnectDisabled bool      `json:"auto_connect_disabled"`
}

type appRecord struct {
	App         App          `json:"app"`
	Connections []Connection `json:"connections"`
}

const appsKey = "apps"

// OriginKey normalizes a URL to its origin with any trailing slash
// stripped. Path and query never contribute: two URLs differing only
// by path identify the same app.
func OriginKey(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.TrimSpace(rawURL), "/")
	}
	origin := u.Scheme + "://" + u.Host
	return strings.TrimSuffix(origin, "/")
}

// Connections is the durable registry of installed apps and their
// connections. Read-modify-write sequences are serialized internally;
// concurrent writers see last-write-wins at the document level.
type Connections struct {
	mu sync.Mutex
	kv KV
}

// NewConnections creates a registry over the given store.
func NewConnections(kv KV) *Connections {
	return &Connections{kv: kv}
}

func (c *Connections) load() (map[string]appRecord, error) {
	records := make(map[string]appRecord)
	if _, err := GetJSON(c.kv, appsKey, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Connections) save(records map[string]appRecord) error {
	return SetJSON(c.kv, appsKey, records)
}

// Apps returns every installed app.
func (c *Connections) Apps() ([]App, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load()
	if err != nil {
		return nil, err
	}
	apps := make([]App, 0, len(records))
	for _, rec := range records {
		apps = append(apps, rec.App)
	}
	return apps, nil
}

// App returns the installed app for an origin key, or nil.
func (c *Connections) App(originKey string) (*App, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load()
	if err != nil {
		return nil, err
	}
	rec, ok := records[originKey]
	if !ok {
		return nil, nil
	}
	app := rec.App
	return &app, nil
}

// ListConnections returns all persisted connections for an app, remote
// and injected together. Unknown origin keys yield an empty list.
func (c *Connections) ListConnections(originKey string) ([]Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load()
	if err != nil {
		return nil, err
	}
	rec, ok := records[originKey]
	if !ok {
		return nil, nil
	}
	return append([]Connection(nil), rec.Connections...), nil
}

// AllConnections returns every connection across all installed apps.
func (c *Connections) AllConnections() ([]Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load()
	if err != nil {
		return nil, err
	}
	var conns []Connection
	for _, rec := range records {
		conns = append(conns, rec.Connections...)
	}
	return conns, nil
}

// SaveConnection upserts the app's metadata (name, icon, install date,
// auto-connect flag) and appends the connection to its list. A new app
// entry is created on first connect; on reconnect the metadata is
// refreshed in place.
func (c *Connections) SaveConnection(app App, conn Connection) error {
	if app.OriginKey == "" {
		return fmt.Errorf("save connection: app has no origin key")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load()
	if err != nil {
		return err
	}

	rec, ok := records[app.OriginKey]
	if !ok {
		rec = appRecord{App: app}
	} else {
		rec.App.Name = app.Name
		rec.App.IconURL = app.IconURL
		rec.App.InstalledAt = app.InstalledAt
		rec.App.AutoConnectDisabled = app.AutoConnectDisabled
	}
	conn.AppOrigin = app.OriginKey
	rec.Connections = append(rec.Connections, conn)
	records[app.OriginKey] = rec

	return c.save(records)
}

// RemoveApp deletes an app and all of its connections. Removing an
// unknown app is a no-op. Disconnect notifications to remote peers are
// the caller's responsibility, before removal.
func (c *Connections) RemoveApp(originKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load()
	if err != nil {
		return err
	}
	if _, ok := records[originKey]; !ok {
		return nil
	}
	delete(records, originKey)
	return c.save(records)
}

// SetAutoConnectDisabled flips the auto-connect flag for an app.
func (c *Connections) SetAutoConnectDisabled(originKey string, disabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load()
	if err != nil {
		return err
	}
	rec, ok := records[originKey]
	if !ok {
		return fmt.Errorf("set auto-connect: unknown app %s", originKey)
	}
	rec.App.AutoConnectDisabled = disabled
	records[originKey] = rec
	return c.save(records)
}

// FindByClientSessionID scans all apps' connection lists for the remote
// connection addressed by the given peer session id. Returns nil, nil
// when no connection matches.
func (c *Connections) FindByClientSessionID(clientSessionID string) (*App, *Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	for _, rec := range records {
		for _, conn := range rec.Connections {
			if conn.Type == ConnectionRemote && conn.ClientSessionID == clientSessionID {
				app := rec.App
				found := conn
				return &app, &found, nil
			}
		}
	}
	return nil, nil, nil
}
