/*
Package chat contains the core logic for presence tracking and direct-message relay.

This file defines the Hub, the single event loop through which every protocol
event flows. Registration, identification, relay, and disconnect handling all
run on one goroutine, so each inbound event is atomic with respect to all
others and the registry is never observed mid-mutation. A single event channel
also preserves per-connection ordering: a connection's frames are handled after
its registration and before its disconnect.
*/
package chat

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"instantly/internal/pkg/ident"
	"instantly/internal/pkg/logx"
	"instantly/internal/pkg/randx"
)

// eventChannelBuffer sizes the hub event queue.
const eventChannelBuffer = 1024

type eventKind int

const (
	evRegister eventKind = iota
	evUnregister
	evFrame
)

// hubEvent is one unit of work for the Hub loop: a connection arriving, a
// connection leaving, or a parsed client frame.
type hubEvent struct {
	kind     eventKind
	client   *Client
	envelope Envelope
}

// Hub owns the registry and every live connection, and runs the event loop
// that drives identification, presence broadcasting, and message relay.
type Hub struct {
	// registry holds logical users and connection bindings.
	registry *Registry

	// clients maps connection ID to the live connection, for fan-out.
	// Touched only by the Run loop.
	clients map[string]*Client

	// events carries registrations, disconnects, and client frames in the
	// order each connection produced them.
	events chan hubEvent

	// stopChan signals the Run loop to terminate.
	stopChan chan struct{}

	// done is closed once the Run loop has fully drained.
	done chan struct{}

	// now returns the current time; replaceable in tests.
	now func() time.Time

	// structured logger with hub context.
	logger zerolog.Logger
}

// NewHub constructs a Hub with an empty registry. Call Run in its own
// goroutine before registering any clients.
func NewHub() *Hub {
	return &Hub{
		registry: NewRegistry(),
		clients:  make(map[string]*Client),
		events:   make(chan hubEvent, eventChannelBuffer),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
		logger:   logx.Logger().With().Str("component", "hub").Logger(),
	}
}

// Registry exposes the hub's registry for read-side consumers (handlers, tests).
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Register queues a new connection for the event loop. The connection stays
// unidentified until its first identify frame.
func (h *Hub) Register(c *Client) {
	select {
	case h.events <- hubEvent{kind: evRegister, client: c}:
	case <-h.stopChan:
	}
}

// Unregister queues a connection for cleanup after its transport closed.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.events <- hubEvent{kind: evUnregister, client: c}:
	case <-h.stopChan:
	}
}

// Dispatch queues a parsed client frame for the event loop. Frames arriving
// faster than the loop can drain are dropped; the protocol is best-effort.
func (h *Hub) Dispatch(c *Client, envelope Envelope) {
	select {
	case h.events <- hubEvent{kind: evFrame, client: c, envelope: envelope}:
	default:
		h.logger.Warn().
			Str("conn_id", c.id).
			Str("event_type", string(envelope.Type)).
			Msg("Event queue full, dropping frame")
	}
}

// Run executes the hub event loop until Shutdown is called. Every event runs
// to completion before the next one is accepted.
func (h *Hub) Run() {
	defer close(h.done)

	h.logger.Info().Msg("Hub event loop started")

	for {
		select {
		case ev := <-h.events:
			switch ev.kind {
			case evRegister:
				h.handleRegister(ev.client)
			case evUnregister:
				h.handleDisconnect(ev.client)
			case evFrame:
				h.handleFrame(ev.client, ev.envelope)
			}

		case <-h.stopChan:
			h.logger.Info().Msg("Hub stop requested, closing connections")
			for _, c := range h.clients {
				c.closeSend()
			}
			h.clients = make(map[string]*Client)
			return
		}
	}
}

// Shutdown stops the event loop and waits for it to drain.
func (h *Hub) Shutdown() {
	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}
	<-h.done

	h.logger.Info().Msg("Hub shutdown complete")
}

func (h *Hub) handleRegister(c *Client) {
	h.clients[c.id] = c

	h.logger.Info().
		Str("conn_id", c.id).
		Int("total_conns", len(h.clients)).
		Msg("Connection registered")
}

// handleFrame routes one parsed client frame to its handler.
func (h *Hub) handleFrame(c *Client, envelope Envelope) {
	switch envelope.Type {
	case TypeIdentify:
		h.handleIdentify(c, envelope.Payload)

	case TypeSetName:
		h.handleSetName(c, envelope.Payload)

	case TypeMessage:
		h.handleMessage(c, envelope.Payload)

	case TypeTyping:
		h.handleTyping(c, envelope.Payload)

	default:
		c.logger.Warn().Str("event_type", string(envelope.Type)).Msg("Client sent unsupported event type")
	}
}

// handleIdentify binds the connection to a logical user and publishes the
// resulting identity and presence.
func (h *Hub) handleIdentify(c *Client, payload []byte) {
	var req IdentifyPayload
	if err := unmarshalPayload(payload, &req); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid identify payload")
		return
	}

	userID := h.registry.Identify(c.id, req.UserID, req.Name)

	c.logger.Info().
		Str("user_id", userID).
		Msg("Connection identified")

	h.sendTo(c, TypeSelf, SelfPayload{
		UserID: userID,
		Name:   h.registry.Name(userID),
	})

	h.publishPresence()
}

// handleSetName renames the connection's current user. Unidentified
// connections are ignored.
func (h *Hub) handleSetName(c *Client, payload []byte) {
	var req SetNamePayload
	if err := unmarshalPayload(payload, &req); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid set_name payload")
		return
	}

	userID, ok := h.registry.Resolve(c.id)
	if !ok {
		return
	}

	name := h.registry.Rename(userID, req.Name)

	h.sendTo(c, TypeSelf, SelfPayload{
		UserID: userID,
		Name:   name,
	})

	h.publishPresence()
}

// handleMessage validates and relays a direct message. Every validation
// failure is a silent drop; the protocol has no error channel for unicast.
func (h *Hub) handleMessage(c *Client, payload []byte) {
	var req SendMessagePayload
	if err := unmarshalPayload(payload, &req); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid message payload")
		return
	}

	fromUserID, ok := h.registry.Resolve(c.id)
	if !ok {
		return
	}

	toUserID := ident.UserID(req.ToUserID, "")
	if toUserID == "" || !h.registry.Exists(toUserID) {
		return
	}

	text := ident.Text(req.Text, ident.MaxTextLength)
	if strings.TrimSpace(text) == "" {
		return
	}

	h.registry.Touch(fromUserID)

	now := h.now().UnixMilli()
	fromName := h.registry.Name(fromUserID)

	msg := MessagePayload{
		ID:         randx.MessageID(),
		FromUserID: fromUserID,
		FromName:   fromName,
		ToUserID:   toUserID,
		Text:       text,
		CreatedAt:  now,
	}

	// Sender's own connections receive the message too, so multiple devices
	// of the sender stay in sync.
	h.sendToUser(fromUserID, TypeMessage, msg)

	if toUserID != fromUserID {
		h.sendToUser(toUserID, TypeMessage, msg)

		// A landed message supersedes any in-flight draft from this sender.
		h.sendToUser(toUserID, TypeTyping, TypingPayload{
			FromUserID: fromUserID,
			FromName:   fromName,
			Draft:      "",
			UpdatedAt:  now,
		})
	}
}

// handleTyping relays a live keystroke preview to the recipient's connections.
// Self-typing is rejected; an empty draft is delivered as the stop signal.
func (h *Hub) handleTyping(c *Client, payload []byte) {
	var req SendTypingPayload
	if err := unmarshalPayload(payload, &req); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid typing payload")
		return
	}

	fromUserID, ok := h.registry.Resolve(c.id)
	if !ok {
		return
	}

	toUserID := ident.UserID(req.ToUserID, "")
	if toUserID == "" || !h.registry.Exists(toUserID) || toUserID == fromUserID {
		return
	}

	h.sendToUser(toUserID, TypeTyping, TypingPayload{
		FromUserID: fromUserID,
		FromName:   h.registry.Name(fromUserID),
		Draft:      ident.Text(req.Draft, ident.MaxTextLength),
		UpdatedAt:  h.now().UnixMilli(),
	})
}

// handleDisconnect cleans up a closed connection: detach it from its user,
// clear any lingering typing indicator if that user just went offline, and
// republish presence.
func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}

	delete(h.clients, c.id)
	c.closeSend()

	userID, ok := h.registry.Detach(c.id)
	if !ok {
		// The connection never identified; nobody saw it.
		c.logger.Info().Msg("Unidentified connection closed")
		return
	}

	c.logger.Info().
		Str("user_id", userID).
		Int("total_conns", len(h.clients)).
		Msg("Connection closed")

	if !h.registry.Online(userID) {
		// The user vanished mid-keystroke as far as peers know; clear any
		// typing indicator they may still be rendering.
		h.broadcastAll(TypeTyping, TypingPayload{
			FromUserID: userID,
			FromName:   h.registry.Name(userID),
			Draft:      "",
			UpdatedAt:  h.now().UnixMilli(),
		})
	}

	h.publishPresence()
}

// publishPresence broadcasts the full snapshot to every connection. No
// diffing: correctness over efficiency at this scale.
func (h *Hub) publishPresence() {
	h.broadcastAll(TypePresence, PresencePayload{Users: h.registry.Snapshot()})
}

// sendTo delivers one event to a single connection.
func (h *Hub) sendTo(c *Client, eventType EventType, payload any) {
	data, err := marshalEvent(eventType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Error marshaling event")
		return
	}

	c.enqueue(data)
}

// sendToUser delivers one event to every active connection of userID. The
// frame is marshaled once, so all deliveries are byte-identical. A slow
// connection drops its copy without affecting the others.
func (h *Hub) sendToUser(userID string, eventType EventType, payload any) {
	data, err := marshalEvent(eventType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Error marshaling event")
		return
	}

	for _, connID := range h.registry.Connections(userID) {
		if c, ok := h.clients[connID]; ok {
			c.enqueue(data)
		}
	}
}

// broadcastAll delivers one event to every live connection, identified or not.
func (h *Hub) broadcastAll(eventType EventType, payload any) {
	data, err := marshalEvent(eventType, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("Error marshaling event")
		return
	}

	for _, c := range h.clients {
		c.enqueue(data)
	}
}
