package chat

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHub builds a hub with a deterministic clock. Handlers are invoked
// directly from the test goroutine, mirroring the serialized execution the
// Run loop provides in production.
func newTestHub() *Hub {
	h := NewHub()

	fixed := time.UnixMilli(1_700_000_000_000)
	h.now = func() time.Time { return fixed }

	current := fixed
	h.registry.now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	return h
}

// connect registers a connection without a real transport; delivered frames
// accumulate in the client's send queue.
func connect(h *Hub, connID string) *Client {
	c := NewClient(h, nil, connID)
	h.handleRegister(c)
	return c
}

func mustPayload(t *testing.T, payload any) []byte {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return data
}

func identify(t *testing.T, h *Hub, c *Client, userID, name string) {
	t.Helper()
	h.handleIdentify(c, mustPayload(t, IdentifyPayload{UserID: userID, Name: name}))
}

// drain empties the client's send queue and returns the decoded envelopes.
func drain(t *testing.T, c *Client) []Envelope {
	t.Helper()

	var out []Envelope
	for {
		select {
		case frame := <-c.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func ofType(envs []Envelope, eventType EventType) []Envelope {
	var out []Envelope
	for _, env := range envs {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func decodePayload[T any](t *testing.T, env Envelope) T {
	t.Helper()

	var payload T
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	return payload
}

func TestIdentifySendsSelfAndPresence(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")

	identify(t, h, c1, "Alice", "Alice")

	envs := drain(t, c1)

	selves := ofType(envs, TypeSelf)
	require.Len(t, selves, 1)
	self := decodePayload[SelfPayload](t, selves[0])
	assert.Equal(t, "alice", self.UserID, "canonical ID may differ from the requested one")
	assert.Equal(t, "Alice", self.Name)

	presences := ofType(envs, TypePresence)
	require.Len(t, presences, 1)
	presence := decodePayload[PresencePayload](t, presences[0])
	require.Len(t, presence.Users, 1)
	assert.Equal(t, "alice", presence.Users[0].UserID)
	assert.True(t, presence.Users[0].Online)
}

func TestIdentifyBroadcastsPresenceToEveryone(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")

	identify(t, h, c1, "u1", "One")
	drain(t, c1)
	drain(t, c2)

	identify(t, h, c2, "u2", "Two")

	for _, c := range []*Client{c1, c2} {
		presences := ofType(drain(t, c), TypePresence)
		require.Len(t, presences, 1, "conn %s", c.id)
		presence := decodePayload[PresencePayload](t, presences[0])
		assert.Len(t, presence.Users, 2)
	}
}

func TestMessageToUnknownUserIsDropped(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	identify(t, h, c1, "u1", "One")
	drain(t, c1)

	h.handleMessage(c1, mustPayload(t, SendMessagePayload{ToUserID: "ghost", Text: "hi"}))

	assert.Empty(t, drain(t, c1), "no delivery to anyone")
	assert.False(t, h.registry.Exists("ghost"), "registry unchanged")
}

func TestWhitespaceOnlyMessageIsDropped(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	identify(t, h, c1, "u1", "One")
	identify(t, h, c2, "u2", "Two")
	drain(t, c1)
	drain(t, c2)

	h.handleMessage(c1, mustPayload(t, SendMessagePayload{ToUserID: "u2", Text: "  "}))

	assert.Empty(t, drain(t, c1))
	assert.Empty(t, drain(t, c2))
}

func TestMessageFromUnidentifiedConnectionIsDropped(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	identify(t, h, c2, "u2", "Two")
	drain(t, c1)
	drain(t, c2)

	h.handleMessage(c1, mustPayload(t, SendMessagePayload{ToUserID: "u2", Text: "hi"}))

	assert.Empty(t, drain(t, c2))
}

func TestMessageFanOutToSenderAndRecipientDevices(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	c3 := connect(h, "c3")
	c4 := connect(h, "c4")

	identify(t, h, c1, "u1", "One")
	identify(t, h, c2, "u1", "One")
	identify(t, h, c3, "u2", "Two")
	identify(t, h, c4, "u2", "Two")
	for _, c := range []*Client{c1, c2, c3, c4} {
		drain(t, c)
	}

	h.handleMessage(c1, mustPayload(t, SendMessagePayload{ToUserID: "u2", Text: "hi"}))

	var ids []string
	for _, c := range []*Client{c1, c2, c3, c4} {
		envs := drain(t, c)

		messages := ofType(envs, TypeMessage)
		require.Len(t, messages, 1, "conn %s receives exactly one message", c.id)

		msg := decodePayload[MessagePayload](t, messages[0])
		assert.Equal(t, "u1", msg.FromUserID)
		assert.Equal(t, "One", msg.FromName)
		assert.Equal(t, "u2", msg.ToUserID)
		assert.Equal(t, "hi", msg.Text)
		assert.NotEmpty(t, msg.ID)
		ids = append(ids, msg.ID)

		typings := ofType(envs, TypeTyping)
		if c == c3 || c == c4 {
			require.Len(t, typings, 1, "recipient conn %s gets a typing-stop", c.id)
			stop := decodePayload[TypingPayload](t, typings[0])
			assert.Equal(t, "u1", stop.FromUserID)
			assert.Empty(t, stop.Draft)
		} else {
			assert.Empty(t, typings, "sender conn %s gets no typing-stop", c.id)
		}
	}

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id, "all deliveries carry the same message ID")
	}
}

func TestSelfMessageDeliveredOnceWithoutTypingStop(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	identify(t, h, c1, "u1", "One")
	identify(t, h, c2, "u1", "One")
	drain(t, c1)
	drain(t, c2)

	h.handleMessage(c1, mustPayload(t, SendMessagePayload{ToUserID: "u1", Text: "note to self"}))

	for _, c := range []*Client{c1, c2} {
		envs := drain(t, c)
		assert.Len(t, ofType(envs, TypeMessage), 1, "conn %s", c.id)
		assert.Empty(t, ofType(envs, TypeTyping), "no typing-stop on self-message")
	}
}

func TestMessageTextIsTruncated(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	identify(t, h, c1, "u1", "One")
	identify(t, h, c2, "u2", "Two")
	drain(t, c1)
	drain(t, c2)

	h.handleMessage(c1, mustPayload(t, SendMessagePayload{ToUserID: "u2", Text: strings.Repeat("x", 600)}))

	messages := ofType(drain(t, c2), TypeMessage)
	require.Len(t, messages, 1)
	msg := decodePayload[MessagePayload](t, messages[0])
	assert.Len(t, msg.Text, 500)
}

func TestTypingDeliveredToRecipientOnly(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	c3 := connect(h, "c3")
	identify(t, h, c1, "u1", "One")
	identify(t, h, c2, "u2", "Two")
	identify(t, h, c3, "u3", "Three")
	for _, c := range []*Client{c1, c2, c3} {
		drain(t, c)
	}

	h.handleTyping(c1, mustPayload(t, SendTypingPayload{ToUserID: "u2", Draft: "hel"}))

	typings := ofType(drain(t, c2), TypeTyping)
	require.Len(t, typings, 1)
	preview := decodePayload[TypingPayload](t, typings[0])
	assert.Equal(t, "u1", preview.FromUserID)
	assert.Equal(t, "One", preview.FromName)
	assert.Equal(t, "hel", preview.Draft)

	assert.Empty(t, drain(t, c1), "typing is never echoed to the sender")
	assert.Empty(t, drain(t, c3), "typing is not broadcast to bystanders")
}

func TestEmptyDraftIsDeliveredAsStopSignal(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	identify(t, h, c1, "u1", "One")
	identify(t, h, c2, "u2", "Two")
	drain(t, c1)
	drain(t, c2)

	h.handleTyping(c1, mustPayload(t, SendTypingPayload{ToUserID: "u2", Draft: ""}))

	typings := ofType(drain(t, c2), TypeTyping)
	require.Len(t, typings, 1)
	assert.Empty(t, decodePayload[TypingPayload](t, typings[0]).Draft)
}

func TestSelfTypingIsRejected(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	identify(t, h, c1, "u1", "One")
	drain(t, c1)

	h.handleTyping(c1, mustPayload(t, SendTypingPayload{ToUserID: "u1", Draft: "draft"}))

	assert.Empty(t, drain(t, c1))
}

func TestDisconnectKeepsUserOnlineWhileDevicesRemain(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	c3 := connect(h, "c3")
	identify(t, h, c1, "u1", "One")
	identify(t, h, c2, "u1", "One")
	identify(t, h, c3, "u2", "Two")
	for _, c := range []*Client{c1, c2, c3} {
		drain(t, c)
	}

	h.handleDisconnect(c1)

	envs := drain(t, c3)
	assert.Empty(t, ofType(envs, TypeTyping), "no typing-stop while the user still has a connection")

	presences := ofType(envs, TypePresence)
	require.Len(t, presences, 1)
	for _, entry := range decodePayload[PresencePayload](t, presences[0]).Users {
		if entry.UserID == "u1" {
			assert.True(t, entry.Online)
		}
	}

	h.handleDisconnect(c2)

	envs = drain(t, c3)
	typings := ofType(envs, TypeTyping)
	require.Len(t, typings, 1, "exactly one typing-stop when the last connection goes")
	stop := decodePayload[TypingPayload](t, typings[0])
	assert.Equal(t, "u1", stop.FromUserID)
	assert.Empty(t, stop.Draft)

	presences = ofType(envs, TypePresence)
	require.Len(t, presences, 1)
	for _, entry := range decodePayload[PresencePayload](t, presences[0]).Users {
		if entry.UserID == "u1" {
			assert.False(t, entry.Online)
		}
	}
}

func TestDisconnectOfUnidentifiedConnectionIsSilent(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	identify(t, h, c2, "u2", "Two")
	drain(t, c1)
	drain(t, c2)

	h.handleDisconnect(c1)

	assert.Empty(t, drain(t, c2), "no presence or typing broadcast for a connection nobody saw")
}

func TestDisconnectIsIdempotent(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	identify(t, h, c1, "u1", "One")
	identify(t, h, c2, "u2", "Two")
	drain(t, c1)
	drain(t, c2)

	h.handleDisconnect(c1)
	drain(t, c2)
	h.handleDisconnect(c1)

	assert.Empty(t, drain(t, c2), "second disconnect of the same connection does nothing")
}

func TestReidentifySwitchesUser(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	identify(t, h, c1, "u1", "One")
	identify(t, h, c2, "u2", "Two")
	drain(t, c1)
	drain(t, c2)

	identify(t, h, c1, "u3", "Three")

	selves := ofType(drain(t, c1), TypeSelf)
	require.Len(t, selves, 1)
	assert.Equal(t, "u3", decodePayload[SelfPayload](t, selves[0]).UserID)

	presences := ofType(drain(t, c2), TypePresence)
	require.Len(t, presences, 1)
	byID := map[string]bool{}
	for _, entry := range decodePayload[PresencePayload](t, presences[0]).Users {
		byID[entry.UserID] = entry.Online
	}
	assert.False(t, byID["u1"], "abandoned identity goes offline")
	assert.True(t, byID["u3"])
}

func TestSetNameRenamesAndRepublishes(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	c2 := connect(h, "c2")
	identify(t, h, c1, "u1", "One")
	identify(t, h, c2, "u2", "Two")
	drain(t, c1)
	drain(t, c2)

	h.handleSetName(c1, mustPayload(t, SetNamePayload{Name: "  Renamed  "}))

	selves := ofType(drain(t, c1), TypeSelf)
	require.Len(t, selves, 1)
	assert.Equal(t, "Renamed", decodePayload[SelfPayload](t, selves[0]).Name)

	presences := ofType(drain(t, c2), TypePresence)
	require.Len(t, presences, 1)
}

func TestSetNameFromUnidentifiedConnectionIsIgnored(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	drain(t, c1)

	h.handleSetName(c1, mustPayload(t, SetNamePayload{Name: "Nobody"}))

	assert.Empty(t, drain(t, c1))
}

func TestUnsupportedEventTypeIsIgnored(t *testing.T) {
	h := newTestHub()
	c1 := connect(h, "c1")
	drain(t, c1)

	h.handleFrame(c1, Envelope{Type: EventType("dance"), Payload: []byte(`{}`)})

	assert.Empty(t, drain(t, c1))
}

func TestRunLoopProcessesEventsInOrder(t *testing.T) {
	h := newTestHub()
	go h.Run()
	defer h.Shutdown()

	c1 := NewClient(h, nil, "c1")
	h.Register(c1)
	h.Dispatch(c1, Envelope{Type: TypeIdentify, Payload: mustPayload(t, IdentifyPayload{UserID: "u1", Name: "One"})})

	require.Eventually(t, func() bool {
		return h.registry.Exists("u1")
	}, time.Second, 5*time.Millisecond)

	var envs []Envelope
	require.Eventually(t, func() bool {
		envs = append(envs, drain(t, c1)...)
		return len(ofType(envs, TypeSelf)) == 1 && len(ofType(envs, TypePresence)) == 1
	}, time.Second, 5*time.Millisecond)
}
