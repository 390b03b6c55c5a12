// Package registry tracks which live connections play which kiosk role.
package registry

import (
	"sync"

	"github.com/tsarna/doodlehub/pkg/doodlehub/protocol"
	"go.uber.org/zap"
)

// Conn is the registry's view of a client connection.
type Conn interface {
	// ID returns a stable, unique identifier for the connection.
	ID() string
	// Send queues an encoded frame for delivery. It must not block.
	Send(data []byte) error
	// IsOpen reports whether the underlying transport is still open.
	IsOpen() bool
}

// Registry holds one set of connections per role. A connection is in at
// most one set at a time. It is safe for concurrent use.
type Registry struct {
	logger *zap.Logger

	mu    sync.RWMutex
	roles map[protocol.Role]map[string]Conn
	index map[string]protocol.Role
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}

	roles := make(map[protocol.Role]map[string]Conn, len(protocol.Roles))
	for _, role := range protocol.Roles {
		roles[role] = make(map[string]Conn)
	}

	return &Registry{
		logger: logger,
		roles:  roles,
		index:  make(map[string]protocol.Role),
	}
}

// Register adds conn under role. A connection already registered under a
// different role is moved. The previous role, if any, is returned.
func (r *Registry) Register(conn Conn, role protocol.Role) (protocol.Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.roles[role]
	if !ok {
		members = make(map[string]Conn)
		r.roles[role] = members
	}

	previous, had := r.index[conn.ID()]
	if had && previous != role {
		delete(r.roles[previous], conn.ID())
		r.logger.Info("Connection changed role",
			zap.String("conn_id", conn.ID()),
			zap.String("from", string(previous)),
			zap.String("to", string(role)),
		)
	}

	members[conn.ID()] = conn
	r.index[conn.ID()] = role

	r.logger.Debug("Connection registered",
		zap.String("conn_id", conn.ID()),
		zap.String("role", string(role)),
		zap.Int("members", len(members)),
	)

	return previous, had
}

// Unregister removes conn from whichever set holds it. It is safe to call
// more than once and reports whether anything was removed.
func (r *Registry) Unregister(conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	role, ok := r.index[conn.ID()]
	if !ok {
		return false
	}

	delete(r.roles[role], conn.ID())
	delete(r.index, conn.ID())

	r.logger.Debug("Connection unregistered",
		zap.String("conn_id", conn.ID()),
		zap.String("role", string(role)),
		zap.Int("members", len(r.roles[role])),
	)

	return true
}

// RoleOf returns the role conn is registered under.
func (r *Registry) RoleOf(conn Conn) (protocol.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.index[conn.ID()]
	return role, ok
}

// Members returns a snapshot of the connections registered under role.
func (r *Registry) Members(role protocol.Role) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.roles[role]
	out := make([]Conn, 0, len(members))
	for _, conn := range members {
		out = append(out, conn)
	}
	return out
}

// Broadcast delivers data to every open member of role and returns how many
// sends succeeded. Closed members are skipped but left registered; their own
// close handling removes them.
func (r *Registry) Broadcast(role protocol.Role, data []byte) int {
	delivered := 0

	for _, conn := range r.Members(role) {
		if !conn.IsOpen() {
			continue
		}

		if err := conn.Send(data); err != nil {
			r.logger.Warn("Failed to deliver broadcast",
				zap.String("conn_id", conn.ID()),
				zap.String("role", string(role)),
				zap.Error(err),
			)
			continue
		}

		delivered++
	}

	return delivered
}

// Count returns the number of connections registered under role.
func (r *Registry) Count(role protocol.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.roles[role])
}

// Stats is a point-in-time summary of the registry.
type Stats struct {
	Tablets     int `json:"tablets"`
	Desktops    int `json:"desktops"`
	Connections int `json:"connections"`
}

// Stats returns the current role counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		Tablets:     len(r.roles[protocol.RoleTablet]),
		Desktops:    len(r.roles[protocol.RoleDesktop]),
		Connections: len(r.index),
	}
}
