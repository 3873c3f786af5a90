package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chat-sync/internal/models"
)

// ConnState is the push channel connection state.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

// String implements fmt.Stringer for logs.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by Emit while the channel is down.
var ErrNotConnected = errors.New("channel not connected")

// Channel is the abstract bidirectional event channel the reconciler
// subscribes to. It may connect, disconnect and reconnect at arbitrary times;
// missed events are never replayed, consumers must resync on reconnect.
type Channel interface {
	Run(ctx context.Context)
	Events() <-chan models.Envelope
	States() <-chan ConnState
	Emit(event string, payload any) error
}

// WSChannel implements Channel over a websocket connection.
type WSChannel struct {
	endpoint string
	token    TokenFunc
	dialer   *websocket.Dialer
	retry    time.Duration

	events chan models.Envelope
	states chan ConnState

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSChannel builds a channel for the ws endpoint, e.g. "ws://host/ws".
func NewWSChannel(endpoint string, token TokenFunc) *WSChannel {
	return &WSChannel{
		endpoint: endpoint,
		token:    token,
		dialer:   websocket.DefaultDialer,
		retry:    2 * time.Second,
		events:   make(chan models.Envelope, 64),
		states:   make(chan ConnState, 8),
	}
}

// Events delivers decoded server events.
func (c *WSChannel) Events() <-chan models.Envelope { return c.events }

// States delivers connection state transitions.
func (c *WSChannel) States() <-chan ConnState { return c.states }

// Run dials and reads until ctx is cancelled, reconnecting after drops.
func (c *WSChannel) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.states <- StateConnecting

		conn, _, err := c.dialer.DialContext(ctx, c.dialURL(), nil)
		if err != nil {
			log.Printf("channel dial failed: %v", err)
			c.states <- StateDisconnected
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retry):
			}
			continue
		}

		c.setConn(conn)
		c.states <- StateConnected
		c.readLoop(ctx, conn)
		c.setConn(nil)
		c.states <- StateDisconnected
	}
}

func (c *WSChannel) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var envelope models.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("channel read error: %v", err)
			}
			return
		}
		select {
		case c.events <- envelope:
		case <-ctx.Done():
			return
		}
	}
}

// Emit sends an event to the server.
func (c *WSChannel) Emit(event string, payload any) error {
	envelope, err := models.NewEnvelope(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(envelope)
}

func (c *WSChannel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *WSChannel) dialURL() string {
	token := c.token()
	if token == "" {
		return c.endpoint
	}
	return c.endpoint + "?token=" + url.QueryEscape(token)
}

// decode unmarshals an event payload, tolerating malformed data: a payload
// that cannot be interpreted is reported as an error and skipped, it must not
// break the dispatch loop.
func decode[T any](data json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
