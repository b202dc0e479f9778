// Package player provides the per-connection player wrapper and its
// lifecycle state machine.
package player

import (
	"sync"

	"github.com/cory-johannsen/arena/internal/protocol"
)

// Conn is the duplex channel a Player exclusively owns. Implementations are
// expected to tolerate Send after the peer has gone away; liveness is only
// ever decided by the transport close event.
type Conn interface {
	Send(msg protocol.Outbound) error
	Close() error
}

// Status is the small player state reported to peers.
type Status int

// Player statuses.
const (
	StatusIdle Status = iota
	StatusSearching
	StatusInGame
)

// String returns the wire representation of a status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSearching:
		return "searching"
	case StatusInGame:
		return "in-game"
	}
	return "unknown"
}

// State is the connection lifecycle state.
type State int

// Lifecycle states. A player starts Connecting, becomes Active once an
// identity is bound, moves to Stale when its connection drops while
// authenticated, and ends Terminated when its identity is released.
const (
	StateConnecting State = iota
	StateActive
	StateStale
	StateTerminated
)

// String returns a readable state name for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateStale:
		return "stale"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Player wraps one live duplex connection plus the ephemeral and persistent
// identity bound to it. All methods are safe for concurrent use.
type Player struct {
	mu     sync.Mutex
	id     uint64
	ref    string
	name   string
	status Status
	state  State
	conn   Conn
}

// New creates a Player in the Connecting state owning conn.
//
// Precondition: id must be non-zero and unique among live players; conn must be non-nil.
func New(id uint64, conn Conn) *Player {
	return &Player{
		id:     id,
		status: StatusIdle,
		state:  StateConnecting,
		conn:   conn,
	}
}

// ID returns the ephemeral id, or zero once invalidated.
func (p *Player) ID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Ref returns the persistent identity key, or empty before authentication.
func (p *Player) Ref() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ref
}

// Name returns the display name bound at authentication.
func (p *Player) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Status returns the current peer-visible status.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SetStatus records a new peer-visible status.
func (p *Player) SetStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

// State returns the lifecycle state.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Authenticated reports whether a persistent identity is bound.
func (p *Player) Authenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ref != ""
}

// Authenticate binds the persistent identity and display name, promoting the
// player to Active.
//
// Precondition: ref must be non-empty.
func (p *Player) Authenticate(name, ref string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
	p.ref = ref
	p.state = StateActive
}

// Send delivers a typed message best-effort. A closed or broken channel is
// swallowed here; the transport close event is the source of truth for
// liveness.
func (p *Player) Send(typ string, data any, terminal bool) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Send(protocol.Outbound{Type: typ, Data: data, Terminal: terminal})
}

// SwitchConn swaps the player's channel to conn and re-enters the Active
// state. Used when a stale identity is revived under a new socket; the old
// channel is discarded, not closed.
//
// Precondition: conn must be non-nil.
func (p *Player) SwitchConn(conn Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
	p.state = StateActive
}

// TakeConn removes and returns the player's channel, leaving the player
// without one. Used to hand a donor's socket to the respawn survivor.
func (p *Player) TakeConn() Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn := p.conn
	p.conn = nil
	return conn
}

// ReassignID gives the player a new ephemeral id (the reviving connection's
// id, on respawn).
func (p *Player) ReassignID(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id = id
}

// MarkStale records the loss of the player's connection while authenticated.
// The dropped channel is discarded.
func (p *Player) MarkStale() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = nil
	p.state = StateStale
}

// Release invalidates the player entirely: the channel is dropped, the
// ephemeral id zeroed and the identity unbound. Used for logout teardown,
// for cannibalized respawn donors, and for reclaimed stale entries.
func (p *Player) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = nil
	p.id = 0
	p.ref = ""
	p.state = StateTerminated
}
