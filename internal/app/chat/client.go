/*
Package chat contains the core logic for presence tracking and direct-message relay.

This file defines the Client struct, representing an active WebSocket connection.
It manages the connection's read/write loops (ReadPump and WritePump), heartbeats,
and handoff of parsed frames to the Hub.
*/
package chat

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"instantly/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client. The
	// largest legal inbound frame is a 500-character message body plus envelope.
	maxMessageSize = 4096

	// sendChannelBuffer sizes the per-connection outbound queue.
	sendChannelBuffer = 256
)

// Client represents one transport-level session. It is associated with at most
// one logical user at a time; the binding lives in the registry, not here.
type Client struct {
	// hub is the event loop this connection reports to.
	hub *Hub

	// id is the server-generated connection handle.
	id string

	// conn is the underlying WebSocket connection object.
	conn *websocket.Conn

	// send is a buffered channel used to queue frames waiting to be written.
	send chan []byte

	// sendClosed guards against double-closing send; touched only by the Hub loop.
	sendClosed bool

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewClient constructs a Client for a freshly upgraded connection.
func NewClient(hub *Hub, wsConn *websocket.Conn, connID string) *Client {
	clientLogger := logx.Logger().With().
		Str("conn_id", connID).
		Logger()

	return &Client{
		hub:    hub,
		id:     connID,
		conn:   wsConn,
		send:   make(chan []byte, sendChannelBuffer),
		logger: clientLogger,
	}
}

// ID returns the server-generated connection handle.
func (c *Client) ID() string {
	return c.id
}

// ReadPump reads frames from the WebSocket connection until it closes.
// It handles heartbeats (Pong), envelope parsing, and performs cleanup on exit.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			break
		}

		var envelope Envelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			c.logger.Warn().Err(err).Msg("Client sent invalid JSON frame")
			continue
		}

		c.hub.Dispatch(c, envelope)
	}
}

// cleanupOnDisconnect hands the closed connection back to the Hub and closes
// the transport.
func (c *Client) cleanupOnDisconnect() {
	c.hub.Unregister(c)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// WritePump writes queued frames to the WebSocket connection and keeps the
// heartbeat alive. It exits when the send channel is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeQueuedFrame(frame, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeQueuedFrame writes one frame pulled from the send channel.
// Returns true if the WritePump loop should continue.
func (c *Client) writeQueuedFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Error().Err(err).Msg("Error writing frame")
		return false
	}

	return true
}

// writePing sends a periodic WebSocket Ping to maintain the heartbeat.
// Returns false if the WritePump loop should terminate.
func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// enqueue queues a frame for delivery. A full buffer drops the frame: delivery
// is fire-and-forget and one slow connection must not stall the relay.
// Called only from the Hub loop, which also owns closeSend.
func (c *Client) enqueue(frame []byte) {
	if c.sendClosed {
		return
	}

	select {
	case c.send <- frame:
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping frame")
	}
}

// closeSend closes the outbound queue, letting WritePump finish. Called only
// from the Hub loop.
func (c *Client) closeSend() {
	if c.sendClosed {
		return
	}

	c.sendClosed = true
	close(c.send)
}
