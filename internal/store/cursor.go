package store

const lastEventIDKey = "last_event_id"

// Cursor persists the most recent event stream position so a restarted
// subscription resumes without replay. Last write wins; ordering beyond
// what the transport provides is not enforced.
type Cursor struct {
	kv KV
}

// NewCursor creates a cursor over the given store.
func NewCursor(kv KV) *Cursor {
	return &Cursor{kv: kv}
}

// Get returns the stored cursor, ok=false when none has been recorded.
func (c *Cursor) Get() (string, bool, error) {
	return c.kv.Get(lastEventIDKey)
}

// Set records the cursor.
func (c *Cursor) Set(eventID string) error {
	return c.kv.Set(lastEventIDKey, eventID)
}
