package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cory-johannsen/arena/internal/protocol"
)

// Conn wraps a websocket connection with the message framing the game speaks:
// JSON envelopes in both directions, server pings keeping the peer honest.
type Conn struct {
	sock *websocket.Conn

	writeMu      sync.Mutex
	writeTimeout time.Duration
	pongWait     time.Duration
	maxBytes     int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewConn wraps an upgraded websocket connection.
//
// Precondition: sock must be a freshly upgraded, open connection.
func NewConn(sock *websocket.Conn, writeTimeout, pongWait time.Duration, maxBytes int64) *Conn {
	return &Conn{
		sock:         sock,
		writeTimeout: writeTimeout,
		pongWait:     pongWait,
		maxBytes:     maxBytes,
		done:         make(chan struct{}),
	}
}

// Send writes one outbound envelope as a JSON text frame. Safe for concurrent
// use; frames are serialized under the write lock.
//
// Postcondition: The envelope is written, or an error from the socket returned.
func (c *Conn) Send(msg protocol.Outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.sock.WriteJSON(msg)
}

// Close sends a close frame best-effort and closes the socket. Safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		if c.writeTimeout > 0 {
			_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		_ = c.sock.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.sock.Close()
	})
	return err
}

// RemoteAddr returns the remote network address of the peer.
func (c *Conn) RemoteAddr() string {
	return c.sock.RemoteAddr().String()
}

// readLoop decodes inbound frames into out until the socket dies, then closes
// out. Frames that are not valid envelopes are skipped; the read deadline is
// refreshed by pongs so an unresponsive peer times out after pongWait.
//
// Precondition: Must be called exactly once; out must not be closed by anyone else.
// Postcondition: out is closed.
func (c *Conn) readLoop(out chan<- protocol.Inbound) {
	defer close(out)

	c.sock.SetReadLimit(c.maxBytes)
	_ = c.sock.SetReadDeadline(time.Now().Add(c.pongWait))
	c.sock.SetPongHandler(func(string) error {
		return c.sock.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, data, err := c.sock.ReadMessage()
		if err != nil {
			return
		}
		_ = c.sock.SetReadDeadline(time.Now().Add(c.pongWait))

		var msg protocol.Inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			continue
		}
		out <- msg
	}
}

// pingLoop sends periodic pings so the peer's pong resets our read deadline.
// Exits when the connection is closed.
func (c *Conn) pingLoop() {
	interval := c.pongWait * 9 / 10
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			deadline := time.Now().Add(c.writeTimeout)
			err := c.sock.WriteControl(websocket.PingMessage, nil, deadline)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
