package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

// Session is the side of a connection the event handlers talk to.
type Session interface {
	// Emit sends an event to this connection only.
	Emit(event string, data any) error
	// Join subscribes the connection to a conversation's events.
	Join(conversationID string)
}

// ErrClientGone is returned when emitting to a closed or saturated client.
var ErrClientGone = errors.New("bridge: client is not accepting frames")

// Client is one websocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The chat widget is embedded on other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Emit implements Session.
func (c *Client) Emit(event string, data any) error {
	frame, err := Encode(event, data)
	if err != nil {
		return err
	}
	if !c.enqueue(frame) {
		return ErrClientGone
	}
	return nil
}

// Join implements Session.
func (c *Client) Join(conversationID string) {
	c.hub.join(c, conversationID)
}

func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn().Msg("client send buffer full, dropping frame")
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump decodes frames and hands them to handle until the connection
// fails.
func (c *Client) readPump(ctx context.Context, handle func(context.Context, Session, Envelope)) {
	defer func() {
		c.hub.remove(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket closed")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logger.Debug().Err(err).Msg("malformed frame")
			continue
		}
		handle(ctx, c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve upgrades the request and runs the connection until it closes.
// Frames are handled in order on the connection's read goroutine.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, handle func(context.Context, Session, Envelope)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: h.logger.With().Str("remote", r.RemoteAddr).Logger(),
	}
	h.add(c)

	go c.writePump()
	// Request timeouts from middleware must not end the connection.
	c.readPump(context.WithoutCancel(r.Context()), handle)
}
