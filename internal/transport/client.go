package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"connection_coordinator/internal/domain"
	apperrors "connection_coordinator/pkg/errors"
	"connection_coordinator/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client wraps one websocket connection. All writes go through the buffered
// send channel and a single write pump; reads are gated by a per-connection
// token bucket before the shared limiter ever sees them.
type Client struct {
	sessionID  string
	remoteAddr string
	conn       *websocket.Conn
	send       chan []byte
	limiter    *rate.Limiter
	log        logger.Logger

	mu     sync.Mutex
	closed bool
}

func NewClient(sessionID, remoteAddr string, conn *websocket.Conn, messagesPerSecond float64, burst int, log logger.Logger) *Client {
	var limiter *rate.Limiter
	if messagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(messagesPerSecond), burst)
	}

	client := &Client{
		sessionID:  sessionID,
		remoteAddr: remoteAddr,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		limiter:    limiter,
		log:        log,
	}

	go client.writePump()

	return client
}

func (c *Client) SessionID() string {
	return c.sessionID
}

func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Allow reports whether the connection is inside its inbound message budget.
func (c *Client) Allow() bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow()
}

// Send queues an event for delivery. A slow consumer whose buffer is full
// loses the event rather than blocking the caller.
func (c *Client) Send(name string, data domain.Payload) error {
	payload, err := json.Marshal(domain.Event{Name: name, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode event %q: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection %s is closed", c.sessionID)
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("Dropping event for slow consumer", "session_id", c.sessionID, "event", name)
		return fmt.Errorf("send buffer full for %s", c.sessionID)
	}
}

// ReadEvent blocks on the connection and decodes the next inbound event.
// A frame that arrives but fails to decode is reported as ErrMalformedEvent
// so callers can tell a bad frame from a dead connection.
func (c *Client) ReadEvent() (*domain.Event, error) {
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	event := &domain.Event{}
	if err := json.Unmarshal(raw, event); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
	}
	if event.Data == nil {
		event.Data = domain.Payload{}
	}

	return event, nil
}

func (c *Client) ConfigureRead() {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("Write failed", "error", err, "session_id", c.sessionID)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
