/*
Package user contains core data structures related to user identity and presence.

It defines the LogicalUser record tracked by the chat registry and the
PresenceEntry shape broadcast to clients in presence snapshots.
*/
package user

import "time"

// LogicalUser represents a stable identity that may have zero or more
// simultaneous connections (tabs, devices). A record is created on first
// identify and lives for the rest of the process; it is never deleted.
type LogicalUser struct {

	// UserID is the canonical, normalized identifier for the user.
	UserID string

	// Name is the current display name shown to peers.
	Name string

	// Connections is the set of connection IDs currently bound to this user.
	// The set is owned exclusively by the registry.
	Connections map[string]struct{}

	// LastActivity is stamped on identify, rename, message send, and
	// connection loss. It never decreases.
	LastActivity time.Time
}

// Online reports whether the user has at least one active connection.
// Online status is always derived from the connection set, never stored.
func (u *LogicalUser) Online() bool {
	return len(u.Connections) > 0
}

// PresenceEntry is one row of the presence snapshot sent to clients.
// LastSeen is expressed in Unix milliseconds on the wire.
type PresenceEntry struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen"`
}
