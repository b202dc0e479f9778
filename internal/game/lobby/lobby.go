// Package lobby provides the matchmaking finder queues: players wait in
// per-(game, party-size) buckets until enough of them are queued to release
// a game room group.
package lobby

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/game/player"
)

// Room is a released matchmaking group, opaque to the lobby beyond identity
// and membership.
type Room struct {
	ID      string
	GameID  string
	Players []*player.Player
}

// GameStarter receives released groups. Implemented by the game-creation
// collaborator (the orchestrator in this process).
type GameStarter interface {
	StartGame(room *Room)
}

type bucketKey struct {
	gameID    string
	partySize int
}

// Lobby holds the finder queues. All methods are safe for concurrent use;
// the starter is invoked outside the lobby lock.
type Lobby struct {
	cfg     config.LobbyConfig
	starter GameStarter
	logger  *zap.Logger

	mu      sync.Mutex
	buckets map[bucketKey][]*player.Player
	queued  map[*player.Player]bucketKey
}

// New creates an empty Lobby.
//
// Precondition: starter and logger must be non-nil.
func New(cfg config.LobbyConfig, starter GameStarter, logger *zap.Logger) *Lobby {
	return &Lobby{
		cfg:     cfg,
		starter: starter,
		logger:  logger,
		buckets: make(map[bucketKey][]*player.Player),
		queued:  make(map[*player.Player]bucketKey),
	}
}

// AddFinder enqueues p into the (gameID, partySize) bucket. The enqueue is
// rejected when the request is malformed, the player is mid-game, or the
// player is already queued anywhere. When the bucket reaches partySize the
// earliest-queued partySize players are released as one Room; matchmaking is
// FIFO within a bucket.
//
// Postcondition: Returns whether the enqueue succeeded.
func (l *Lobby) AddFinder(p *player.Player, gameID string, partySize int) bool {
	if gameID == "" || partySize < 2 || partySize > l.cfg.MaxPartySize {
		return false
	}
	if p.Status() == player.StatusInGame {
		return false
	}

	key := bucketKey{gameID: gameID, partySize: partySize}

	l.mu.Lock()
	if _, dup := l.queued[p]; dup {
		l.mu.Unlock()
		return false
	}

	l.buckets[key] = append(l.buckets[key], p)
	l.queued[p] = key

	var room *Room
	if len(l.buckets[key]) >= partySize {
		group := l.buckets[key][:partySize]
		rest := l.buckets[key][partySize:]
		if len(rest) == 0 {
			delete(l.buckets, key)
		} else {
			l.buckets[key] = rest
		}
		for _, member := range group {
			delete(l.queued, member)
		}
		room = &Room{
			ID:      uuid.NewString(),
			GameID:  gameID,
			Players: append([]*player.Player(nil), group...),
		}
	}
	l.mu.Unlock()

	if room != nil {
		l.logger.Info("matchmaking group released",
			zap.String("room_id", room.ID),
			zap.String("game_id", gameID),
			zap.Int("party_size", partySize),
		)
		l.starter.StartGame(room)
	}
	return true
}

// RemoveFinder removes p from whichever bucket holds it.
//
// Postcondition: Returns whether an entry was removed; safe to call for a
// player that was never queued or was already matched.
func (l *Lobby) RemoveFinder(p *player.Player) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key, ok := l.queued[p]
	if !ok {
		return false
	}
	delete(l.queued, p)

	bucket := l.buckets[key]
	for i, queued := range bucket {
		if queued == p {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(l.buckets, key)
	} else {
		l.buckets[key] = bucket
	}
	return true
}

// Queued reports whether p currently has a finder entry.
func (l *Lobby) Queued(p *player.Player) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.queued[p]
	return ok
}

// Waiting returns how many players are queued in the given bucket.
func (l *Lobby) Waiting(gameID string, partySize int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets[bucketKey{gameID: gameID, partySize: partySize}])
}
