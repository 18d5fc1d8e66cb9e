/*
Package chat contains the core logic for presence tracking and direct-message relay.

This file defines the Registry, which owns the two tables backing the whole
system: logical users keyed by canonical ID, and the binding from transient
connection handles to the user that currently owns them.
*/
package chat

import (
	"sort"
	"strings"
	"sync"
	"time"

	"instantly/internal/app/user"
	"instantly/internal/pkg/ident"
)

// Registry tracks every logical user ever identified in this process and the
// current connection-to-user bindings. Users are created on first identify and
// never deleted; a user with an empty connection set is merely offline.
//
// The Hub serializes all mutations through its event loop; the mutex guards
// read access from other goroutines (HTTP handlers, tests).
type Registry struct {
	// mu protects users, order, and bindings.
	mu sync.RWMutex

	// users maps canonical user ID to its record.
	users map[string]*user.LogicalUser

	// order records user IDs in insertion order, used as the stable
	// tie-breaker of presence snapshots.
	order []string

	// bindings maps a connection handle to the user ID it is bound to.
	bindings map[string]string

	// now returns the current time; replaceable in tests.
	now func() time.Time
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		users:    make(map[string]*user.LogicalUser),
		bindings: make(map[string]string),
		now:      time.Now,
	}
}

// Identify binds connID to the requested user, creating the user record if it
// does not exist yet. If the connection was previously bound to a different
// user, it is detached from that user first. The requested ID and name are
// normalized; an unusable ID falls back to a value derived from the connection
// handle, so Identify always succeeds and returns the canonical user ID.
func (reg *Registry) Identify(connID string, requestedID string, requestedName string) string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	now := reg.now()

	if previousID, ok := reg.bindings[connID]; ok {
		if previous, exists := reg.users[previousID]; exists {
			delete(previous.Connections, connID)
			previous.LastActivity = now
		}
		delete(reg.bindings, connID)
	}

	fallback := ident.UserID(connID, "guest")
	userID := ident.UserID(requestedID, fallback)

	record, exists := reg.users[userID]
	if !exists {
		record = &user.LogicalUser{
			UserID:      userID,
			Name:        ident.Name(requestedName),
			Connections: make(map[string]struct{}),
		}
		reg.users[userID] = record
		reg.order = append(reg.order, userID)
	} else if strings.TrimSpace(requestedName) != "" {
		// An empty requested name keeps whatever the user is already called.
		record.Name = ident.Name(requestedName)
	}

	record.Connections[connID] = struct{}{}
	record.LastActivity = now
	reg.bindings[connID] = userID

	return userID
}

// Rename normalizes and stores a new display name for userID and stamps its
// activity. Unknown users are a silent no-op; the current (or empty) name is
// returned either way.
func (reg *Registry) Rename(userID string, rawName string) string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	record, ok := reg.users[userID]
	if !ok {
		return ""
	}

	record.Name = ident.Name(rawName)
	record.LastActivity = reg.now()

	return record.Name
}

// Detach removes connID from whatever user owns it and stamps that user's
// activity. It returns the owning user ID so the caller can decide whether a
// presence or typing-stop broadcast is needed; ok is false if the connection
// was never identified.
func (reg *Registry) Detach(connID string) (string, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	userID, ok := reg.bindings[connID]
	if !ok {
		return "", false
	}

	delete(reg.bindings, connID)

	if record, exists := reg.users[userID]; exists {
		delete(record.Connections, connID)
		record.LastActivity = reg.now()
	}

	return userID, true
}

// Resolve returns the user ID currently bound to connID, if any.
func (reg *Registry) Resolve(connID string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	userID, ok := reg.bindings[connID]
	return userID, ok
}

// Exists reports whether userID is known to the registry.
func (reg *Registry) Exists(userID string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	_, ok := reg.users[userID]
	return ok
}

// Name returns the current display name of userID, or the empty string if the
// user is unknown.
func (reg *Registry) Name(userID string) string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	record, ok := reg.users[userID]
	if !ok {
		return ""
	}

	return record.Name
}

// Online reports whether userID has at least one active connection.
func (reg *Registry) Online(userID string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	record, ok := reg.users[userID]
	return ok && record.Online()
}

// Connections returns a copy of the connection handles currently bound to
// userID. The registry retains exclusive ownership of the underlying set.
func (reg *Registry) Connections(userID string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	record, ok := reg.users[userID]
	if !ok {
		return nil
	}

	conns := make([]string, 0, len(record.Connections))
	for connID := range record.Connections {
		conns = append(conns, connID)
	}

	return conns
}

// Touch stamps userID's activity with the current time. Unknown users are a
// silent no-op.
func (reg *Registry) Touch(userID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if record, ok := reg.users[userID]; ok {
		record.LastActivity = reg.now()
	}
}

// Snapshot returns the presence list of every known user, ordered online-first
// and then by descending last activity; insertion order breaks remaining ties.
// This ordering is a client contract: peers render the list as-is.
func (reg *Registry) Snapshot() []user.PresenceEntry {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	entries := make([]user.PresenceEntry, 0, len(reg.order))
	for _, userID := range reg.order {
		record := reg.users[userID]
		entries = append(entries, user.PresenceEntry{
			UserID:   record.UserID,
			Name:     record.Name,
			Online:   record.Online(),
			LastSeen: record.LastActivity.UnixMilli(),
		})
	}

	// Stable sort so registry insertion order breaks remaining ties.
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Online != entries[j].Online {
			return entries[i].Online
		}
		return entries[i].LastSeen > entries[j].LastSeen
	})

	return entries
}
