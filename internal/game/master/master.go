// Package master provides the session orchestrator: the sole owner of the
// active player set, the stale player registry and the game room set, and
// the dispatcher for every inbound client message.
package master

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/broadcast"
	"github.com/cory-johannsen/arena/internal/game/lobby"
	"github.com/cory-johannsen/arena/internal/game/player"
	"github.com/cory-johannsen/arena/internal/identity"
	"github.com/cory-johannsen/arena/internal/protocol"
)

type staleEntry struct {
	player *player.Player
	since  time.Time
}

// Master owns all cross-cutting session state. The three registries (active
// set, stale map, room set) are guarded by one mutex as a unit; handlers for
// a single connection run serially on that connection's dispatch loop, so no
// two messages from the same connection interleave.
type Master struct {
	cfg    config.SessionConfig
	store  identity.Store
	router *broadcast.Router
	lobby  *lobby.Lobby
	logger *zap.Logger

	mu     sync.Mutex
	nextID uint64
	active map[uint64]*player.Player
	stale  map[string]*staleEntry
	rooms  map[string]*lobby.Room

	quit     chan struct{}
	stopOnce sync.Once
}

// New creates a Master with its own broadcast router and matchmaking lobby.
//
// Precondition: store and logger must be non-nil; cfg values must be validated.
func New(cfg config.SessionConfig, lobbyCfg config.LobbyConfig, store identity.Store, logger *zap.Logger) *Master {
	m := &Master{
		cfg:    cfg,
		store:  store,
		logger: logger,
		active: make(map[uint64]*player.Player),
		stale:  make(map[string]*staleEntry),
		rooms:  make(map[string]*lobby.Room),
		quit:   make(chan struct{}),
	}
	m.router = broadcast.NewRouter(logger)
	m.lobby = lobby.New(lobbyCfg, m, logger)
	return m
}

// Attach registers a new connection: a Player is created around conn, added
// to the active set and broadcast registry, and a dispatch loop is started
// that consumes inbound until the channel closes (transport disconnect).
//
// Precondition: conn must be non-nil; inbound must be closed exactly once by
// the transport when the connection dies.
// Postcondition: Returns the Player initially bound to the connection.
func (m *Master) Attach(conn player.Conn, inbound <-chan protocol.Inbound) *player.Player {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	p := player.New(id, conn)
	m.active[id] = p
	m.mu.Unlock()

	m.router.Register(p)
	m.logger.Info("connection attached", zap.Uint64("player_id", id))

	go m.dispatchLoop(p, inbound)
	return p
}

// dispatchLoop handles one connection's messages serially. The player bound
// to the connection may change mid-loop: a respawning login hands the socket
// to the revived stale player.
func (m *Master) dispatchLoop(p *player.Player, inbound <-chan protocol.Inbound) {
	for msg := range inbound {
		p = m.dispatch(context.Background(), p, msg)
	}
	m.handleDisconnect(p)
}

// dispatch routes one inbound message by type. Returns the player now bound
// to the connection.
func (m *Master) dispatch(ctx context.Context, p *player.Player, msg protocol.Inbound) *player.Player {
	if p.State() == player.StateTerminated {
		return p
	}

	start := time.Now()
	defer func() {
		m.logger.Debug("message dispatched",
			zap.String("type", msg.Type),
			zap.Uint64("player_id", p.ID()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}()

	switch msg.Type {
	case protocol.TypeLogin:
		return m.handleLogin(ctx, p, msg.Data)
	case protocol.TypeRegister:
		m.handleRegister(ctx, p, msg.Data)
	case protocol.TypeLogout:
		m.handleLogout(ctx, p)
	case protocol.TypeSearch:
		m.handleSearch(p, msg.Data)
	case protocol.TypeCancelSearch:
		m.handleCancelSearch(p)
	default:
		p.Send(protocol.TypeError,
			protocol.Notice{Message: fmt.Sprintf("unrecognized message type %q", msg.Type)}, true)
	}
	return p
}

// handleDisconnect processes a transport close. Idempotent: a player already
// torn down (logout, cannibalized donor) or already stale is left alone.
// Authenticated players move to the stale registry for possible respawn;
// unauthenticated ones are discarded.
func (m *Master) handleDisconnect(p *player.Player) {
	m.lobby.RemoveFinder(p)

	m.mu.Lock()
	state := p.State()
	if state == player.StateTerminated || state == player.StateStale {
		m.mu.Unlock()
		return
	}
	id := p.ID()
	delete(m.active, id)
	ref := p.Ref()
	if ref != "" {
		p.MarkStale()
		m.stale[ref] = &staleEntry{player: p, since: time.Now()}
	} else {
		p.Release()
	}
	m.mu.Unlock()

	m.router.Unregister(p)
	if ref != "" {
		m.logger.Info("player disconnected, held for respawn",
			zap.Uint64("player_id", id),
			zap.String("name", p.Name()),
		)
	} else {
		m.logger.Info("connection discarded", zap.Uint64("player_id", id))
	}
}

// tryRespawn atomically migrates a stale identity onto the new connection.
// Under the registry lock the stale entry is removed, the survivor takes the
// new socket and the new ephemeral id, and the donor player is invalidated.
// Exactly one concurrent claimant for a key can win; the rest observe no
// stale entry and fall through to fresh authentication.
//
// Postcondition: Returns (survivor, true) when a respawn occurred, else (nil, false).
func (m *Master) tryRespawn(newP *player.Player, key string) (*player.Player, bool) {
	m.mu.Lock()
	entry, ok := m.stale[key]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	delete(m.stale, key)

	survivor := entry.player
	newID := newP.ID()
	conn := newP.TakeConn()
	delete(m.active, newID)
	newP.Release()

	survivor.SwitchConn(conn)
	survivor.ReassignID(newID)
	m.active[newID] = survivor
	m.mu.Unlock()

	m.router.Unregister(newP)
	m.router.Register(survivor)

	m.logger.Info("stale identity respawned",
		zap.Uint64("player_id", newID),
		zap.String("name", survivor.Name()),
		zap.Duration("stale_for", time.Since(entry.since)),
	)
	return survivor, true
}

// teardown destroys a player with no future respawn: finder entry, registry
// membership and broadcast registration are removed and the connection closed.
func (m *Master) teardown(p *player.Player) {
	m.lobby.RemoveFinder(p)

	m.mu.Lock()
	if id := p.ID(); id != 0 {
		delete(m.active, id)
	}
	if ref := p.Ref(); ref != "" {
		delete(m.stale, ref)
	}
	m.mu.Unlock()

	m.router.Unregister(p)
	conn := p.TakeConn()
	p.Release()
	if conn != nil {
		_ = conn.Close()
	}
}

// evictActiveRef tears down any other active player already holding key, so
// an identity is never bound to two live connections at once.
func (m *Master) evictActiveRef(key string, except *player.Player) {
	m.mu.Lock()
	var victim *player.Player
	for _, cand := range m.active {
		if cand != except && cand.Ref() == key {
			victim = cand
			break
		}
	}
	m.mu.Unlock()

	if victim == nil {
		return
	}
	victim.Send(protocol.TypeWarning,
		protocol.Notice{Message: "logged in from another connection"}, true)
	m.teardown(victim)
	m.logger.Info("duplicate login evicted prior connection", zap.String("key", key))
}

// setStatus records a player's new status and informs everyone else.
func (m *Master) setStatus(p *player.Player, s player.Status) {
	p.SetStatus(s)
	m.router.Broadcast(protocol.TypeStatus, protocol.StatusNotice{
		PlayerID: p.ID(),
		Name:     p.Name(),
		Status:   s.String(),
	}, broadcast.Exclude(p))
}

// handleSearch forwards a matchmaking request to the lobby.
func (m *Master) handleSearch(p *player.Player, raw []byte) {
	if !p.Authenticated() {
		p.Send(protocol.TypeError, protocol.Notice{Message: "log in before matchmaking"}, true)
		return
	}
	var req protocol.SearchRequest
	if err := unmarshalPayload(raw, &req); err != nil {
		p.Send(protocol.TypeError, protocol.Notice{Message: "malformed search payload"}, true)
		return
	}
	m.search(p, req)
}

func (m *Master) search(p *player.Player, req protocol.SearchRequest) {
	if !m.lobby.AddFinder(p, req.GameID, req.PartySize) {
		p.Send(protocol.TypeSearchCancelled,
			protocol.Notice{Message: "matchmaking request rejected"}, true)
		return
	}
	p.Send(protocol.TypeSearchAccepted, req, false)
	if p.Status() == player.StatusIdle {
		m.setStatus(p, player.StatusSearching)
	}
}

// handleCancelSearch acknowledges cancellation and removes any finder entry.
func (m *Master) handleCancelSearch(p *player.Player) {
	removed := m.lobby.RemoveFinder(p)
	p.Send(protocol.TypeSearchCancelled,
		protocol.Notice{Message: "matchmaking cancelled"}, false)
	if removed && p.Status() == player.StatusSearching {
		m.setStatus(p, player.StatusIdle)
	}
}

// StartGame implements lobby.GameStarter: the released group becomes a
// tracked room, its members are told about each other and marked in-game.
func (m *Master) StartGame(room *lobby.Room) {
	m.mu.Lock()
	m.rooms[room.ID] = room
	m.mu.Unlock()

	names := make([]string, len(room.Players))
	for i, member := range room.Players {
		names[i] = member.Name()
	}
	payload := protocol.MatchFound{RoomID: room.ID, GameID: room.GameID, Players: names}
	for _, member := range room.Players {
		member.Send(protocol.TypeMatchFound, payload, false)
		m.setStatus(member, player.StatusInGame)
	}

	m.logger.Info("game room created",
		zap.String("room_id", room.ID),
		zap.String("game_id", room.GameID),
		zap.Int("players", len(room.Players)),
	)
}

// EndGame removes a finished room and returns its surviving members to idle.
// Called by the game-logic collaborator when a room's rules decide it is over.
func (m *Master) EndGame(roomID string) {
	m.mu.Lock()
	room, ok := m.rooms[roomID]
	if ok {
		delete(m.rooms, roomID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	for _, member := range room.Players {
		if member.State() == player.StateActive {
			m.setStatus(member, player.StatusIdle)
		}
	}
	m.logger.Info("game room closed", zap.String("room_id", roomID))
}

// Start runs the stale-registry janitor until Stop is called. Stale entries
// older than the configured TTL are reclaimed: their session marker is
// invalidated and the held player destroyed.
func (m *Master) Start() error {
	ticker := time.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.quit:
			return nil
		case <-ticker.C:
			m.reclaimStale(time.Now())
		}
	}
}

// Stop halts the janitor. Safe to call more than once.
func (m *Master) Stop() {
	m.stopOnce.Do(func() { close(m.quit) })
}

func (m *Master) reclaimStale(now time.Time) {
	type victim struct {
		ref    string
		player *player.Player
	}

	m.mu.Lock()
	var victims []victim
	for ref, entry := range m.stale {
		if now.Sub(entry.since) >= m.cfg.StaleTTL {
			delete(m.stale, ref)
			victims = append(victims, victim{ref: ref, player: entry.player})
		}
	}
	m.mu.Unlock()

	for _, v := range victims {
		if err := m.store.Update(context.Background(), v.ref, func(a *identity.Account) {
			a.Session = identity.InvalidSession
		}); err != nil {
			m.logger.Warn("invalidating reclaimed session",
				zap.String("key", v.ref),
				zap.Error(err),
			)
		}
		name := v.player.Name()
		v.player.Release()
		m.logger.Info("stale identity reclaimed",
			zap.String("name", name),
			zap.Duration("ttl", m.cfg.StaleTTL),
		)
	}
}

// ActiveCount returns the number of players with a live connection.
func (m *Master) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// StaleCount returns the number of identities held for respawn.
func (m *Master) StaleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stale)
}

// RoomCount returns the number of live game rooms.
func (m *Master) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}
