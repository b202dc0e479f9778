// Package broadcast provides best-effort fan-out of typed messages to the
// set of currently-registered players.
package broadcast

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/game/player"
)

// Filter decides whether a player is skipped during a broadcast.
type Filter func(*player.Player) bool

// Exclude returns a filter that skips exactly the given player. Used for
// "inform everyone else" notifications.
func Exclude(p *player.Player) Filter {
	return func(candidate *player.Player) bool {
		return candidate == p
	}
}

// Router fans messages out to registered players. Registration tracks the
// active player set; delivery is fire-and-forget.
type Router struct {
	mu      sync.RWMutex
	players map[*player.Player]struct{}
	logger  *zap.Logger
}

// NewRouter creates an empty Router.
//
// Precondition: logger must be non-nil.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		players: make(map[*player.Player]struct{}),
		logger:  logger,
	}
}

// Register adds a player to the broadcast set. Registering twice is a no-op.
func (r *Router) Register(p *player.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[p] = struct{}{}
}

// Unregister removes a player from the broadcast set, no-op if absent.
func (r *Router) Unregister(p *player.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, p)
}

// Count returns the number of registered players.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// Broadcast sends {typ, data} to every registered player not skipped by
// exclude. A nil exclude sends to everyone. A failing send to one player
// never aborts delivery to the rest.
func (r *Router) Broadcast(typ string, data any, exclude Filter) {
	r.mu.RLock()
	targets := make([]*player.Player, 0, len(r.players))
	for p := range r.players {
		if exclude != nil && exclude(p) {
			continue
		}
		targets = append(targets, p)
	}
	r.mu.RUnlock()

	for _, p := range targets {
		p.Send(typ, data, false)
	}

	r.logger.Debug("broadcast dispatched",
		zap.String("type", typ),
		zap.Int("recipients", len(targets)),
	)
}
