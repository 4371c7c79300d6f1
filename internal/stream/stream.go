// Package stream maintains the single long-lived server-sent-event
// subscription multiplexing every active remote session. One stream
// exists at a time; reopening always tears down the previous one first.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"tonbridge.dev/go/tonbridge/internal/store"
)

// State of the subscription.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Envelope is one raw inbound bridge event: an opaque ciphertext from a
// peer, plus the delivery cursor when the relay attaches one.
type Envelope struct {
	From        string `json:"from"`
	Message     string `json:"message"`
	LastEventID string `json:"lastEventId,omitempty"`

	// EventID is the SSE id line of the frame that carried this
	// envelope, empty when the relay sent none.
	EventID string `json:"-"`
}

// Handler receives each decoded envelope. It runs on the stream's read
// goroutine and must not block indefinitely.
type Handler func(Envelope)

// Client is the shared event stream subscription.
type Client struct {
	bridgeURL string
	cursor    *store.Cursor
	handler   Handler
	httpc     *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
	state  atomic.Int32
}

// NewClient creates a stream client against a bridge base URL. A nil
// http client gets a default without a global timeout; the stream stays
// open indefinitely.
func NewClient(bridgeURL string, cursor *store.Cursor, handler Handler, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{}
	}
	return &Client{
		bridgeURL: strings.TrimSuffix(bridgeURL, "/"),
		cursor:    cursor,
		handler:   handler,
		httpc:     httpc,
	}
}

// State returns the current subscription state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// Open subscribes to the union of all remote connections' session ids.
// Any prior stream is closed first; two concurrent subscriptions never
// exist. With no remote connections the client stays closed (idle). The
// persisted cursor, when present, is passed as the resume position.
func (c *Client) Open(ctx context.Context, connections []store.Connection) error {
	c.Close()

	var sessionIDs []string
	for _, conn := range connections {
		if conn.Type == store.ConnectionRemote {
			sessionIDs = append(sessionIDs, conn.SessionPublicKey)
		}
	}
	if len(sessionIDs) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Store(int32(StateOpening))

	endpoint := c.bridgeURL + "/events?client_id=" + url.QueryEscape(strings.Join(sessionIDs, ","))
	if lastEventID, ok, err := c.cursor.Get(); err == nil && ok && lastEventID != "" {
		endpoint += "&last_event_id=" + url.QueryEscape(lastEventID)
	}

	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		c.state.Store(int32(StateClosed))
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpc.Do(req)
	if err != nil {
		cancel()
		c.state.Store(int32(StateClosed))
		return fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		c.state.Store(int32(StateClosed))
		return fmt.Errorf("open stream: status %d", resp.StatusCode)
	}

	c.cancel = cancel
	c.gen++
	c.state.Store(int32(StateOpen))
	slog.Debug("event stream open", "sessions", len(sessionIDs))

	go c.readLoop(resp, c.gen)
	return nil
}

// Close tears down the subscription. Safe to call when already closed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state.Store(int32(StateClosed))
}

// readLoop consumes SSE frames until the body ends or the stream is
// cancelled. Transport errors are logged and the stream is left closed;
// recovery is driven by the caller's lifecycle (a later Open), never by
// an internal retry timer. gen ties the loop to the Open call that
// spawned it: a loop outliving its stream must not mark a newer one
// closed.
func (c *Client) readLoop(resp *http.Response, gen uint64) {
	defer resp.Body.Close()
	defer func() {
		c.mu.Lock()
		if c.gen == gen {
			c.state.Store(int32(StateClosed))
		}
		c.mu.Unlock()
	}()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var eventID string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if data.Len() > 0 {
				c.dispatch(eventID, data.String())
			}
			eventID = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// Comment/keepalive frame.
		case strings.HasPrefix(line, "id:"):
			eventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, "event:"):
			// The bridge only emits message events; heartbeats arrive
			// as comments. Nothing to branch on.
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("event stream read error", "error", err)
	}
}

func (c *Client) dispatch(eventID, data string) {
	if data == "heartbeat" {
		return
	}

	if eventID != "" {
		if err := c.cursor.Set(eventID); err != nil {
			slog.Warn("persist stream cursor failed", "error", err)
		}
	}

	var env Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		slog.Warn("drop malformed stream event", "error", err)
		return
	}
	env.EventID = eventID

	if c.handler != nil {
		c.handler(env)
	}
}
