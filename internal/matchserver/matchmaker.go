package matchserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blukai/duelparty/internal/protocol"
	"github.com/google/uuid"
	"github.com/phuslu/log"
)

var (
	errMatchNotJoinable = errors.New("match is not accepting players")
)

// Config carries every tunable down from the binary; nothing in here is
// read from ambient global state. The zero value gets sensible defaults.
type Config struct {
	// QueueTTL evicts queue entries that have not polled their status for
	// this long; the status poll doubles as the heartbeat.
	QueueTTL time.Duration
	// LobbyPollInterval paces the lobby_waiting reminder while a match
	// waits for its second player.
	LobbyPollInterval time.Duration
	// RelayIdleSleep is how long a relay loop sleeps on a tick that moved
	// no messages, instead of busy-spinning.
	RelayIdleSleep time.Duration
	// MinResendInterval suppresses re-sends of identical consecutive state
	// messages; once it elapses the message flows again as a heartbeat.
	MinResendInterval time.Duration
	// CleanupInterval paces the background cleanup sweep; cleanup also
	// runs opportunistically on every queue join.
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueTTL == 0 {
		c.QueueTTL = 5 * time.Second
	}
	if c.LobbyPollInterval == 0 {
		c.LobbyPollInterval = time.Second
	}
	if c.RelayIdleSleep == 0 {
		c.RelayIdleSleep = time.Millisecond
	}
	if c.MinResendInterval == 0 {
		c.MinResendInterval = 500 * time.Millisecond
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = time.Second
	}
	return c
}

// Matchmaker owns the queue set and the match table. Every HTTP and WS
// handler touches it concurrently, so all mutations go through mu; that is
// what upholds "exactly 2 players per match, exactly 1 match per player"
// under concurrent joins.
type Matchmaker struct {
	cfg    Config
	logger *log.Logger

	// matchCtx parents every relay loop; Close cancels it
	matchCtx context.Context
	cancel   context.CancelFunc

	mu          sync.Mutex
	queue       map[uuid.UUID]time.Time // player id -> last heartbeat
	matches     map[uuid.UUID]*Match
	playerMatch map[uuid.UUID]uuid.UUID
}

func NewMatchmaker(cfg Config, logger *log.Logger) *Matchmaker {
	matchCtx, cancel := context.WithCancel(context.Background())
	return &Matchmaker{
		cfg:         cfg.withDefaults(),
		logger:      loggerOrDiscard(logger),
		matchCtx:    matchCtx,
		cancel:      cancel,
		queue:       make(map[uuid.UUID]time.Time),
		matches:     make(map[uuid.UUID]*Match),
		playerMatch: make(map[uuid.UUID]uuid.UUID),
	}
}

// Run ticks the cleanup sweep until ctx is done, then tears everything
// down.
func (mm *Matchmaker) Run(ctx context.Context) error {
	ticker := time.NewTicker(mm.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return mm.Close()
		case <-ticker.C:
			mm.Cleanup()
		}
	}
}

// Close terminates every live match and stops their relay loops.
func (mm *Matchmaker) Close() error {
	mm.cancel()

	mm.mu.Lock()
	matches := make([]*Match, 0, len(mm.matches))
	for _, match := range mm.matches {
		matches = append(matches, match)
	}
	mm.mu.Unlock()

	for _, match := range matches {
		match.Terminate()
	}
	return nil
}

// AddPlayer enqueues and immediately attempts a pairing. Joining while
// already in a match is refused to keep the player-to-match mapping
// single-valued; joining while already queued just refreshes the entry.
func (mm *Matchmaker) AddPlayer(playerID uuid.UUID) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	mm.cleanupLocked()

	if _, matched := mm.playerMatch[playerID]; matched {
		mm.logger.Warn().Str("player", playerID.String()).
			Msg("queue join refused, player already in a match")
		return
	}

	mm.queue[playerID] = time.Now()
	mm.logger.Info().Str("player", playerID.String()).
		Msgf("new player in queue, currently %d in queue", len(mm.queue))

	mm.tryMatchLocked()
}

// RemovePlayer dequeues, or terminates the player's match when already
// paired. Idempotent: removing an unknown player is a no-op.
func (mm *Matchmaker) RemovePlayer(playerID uuid.UUID) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if _, queued := mm.queue[playerID]; queued {
		delete(mm.queue, playerID)
		mm.logger.Info().Str("player", playerID.String()).Msg("player left queue")
		return
	}

	matchID, matched := mm.playerMatch[playerID]
	if !matched {
		return
	}
	delete(mm.playerMatch, playerID)
	match := mm.matches[matchID]
	if match != nil {
		// the remaining player's mapping is released by the cleanup
		// sweep once the match is ready to die
		match.Terminate()
	}
}

// Status reports where a player stands. Calling it for a queued player
// refreshes that player's liveness timestamp; status polling doubles as
// the heartbeat mechanism.
func (mm *Matchmaker) Status(playerID uuid.UUID) (protocol.QueueStatus, uuid.UUID) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if _, queued := mm.queue[playerID]; queued {
		mm.queue[playerID] = time.Now()
		return protocol.QueueStatusInQueue, uuid.Nil
	}

	matchID, matched := mm.playerMatch[playerID]
	if !matched {
		return protocol.QueueStatusUnknown, uuid.Nil
	}
	match := mm.matches[matchID]
	if match == nil || match.State().terminal() {
		// stale mapping; there is no resumption of a dead match, the
		// player re-queues as a brand-new entry
		delete(mm.playerMatch, playerID)
		return protocol.QueueStatusUnknown, uuid.Nil
	}
	if match.State() == StateInProgress {
		return protocol.QueueStatusInGame, matchID
	}
	return protocol.QueueStatusMatched, matchID
}

// Match looks up a live match for the WS handler.
func (mm *Matchmaker) Match(matchID uuid.UUID) (*Match, bool) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	match, ok := mm.matches[matchID]
	return match, ok
}

// Cleanup evicts queue entries whose heartbeat exceeded the TTL and drops
// terminal matches from the table, releasing their player mappings.
func (mm *Matchmaker) Cleanup() {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.cleanupLocked()
}

func (mm *Matchmaker) cleanupLocked() {
	now := time.Now()
	for playerID, lastSeen := range mm.queue {
		if now.Sub(lastSeen) > mm.cfg.QueueTTL {
			delete(mm.queue, playerID)
			mm.logger.Debug().Str("player", playerID.String()).
				Msg("evicted queue entry, heartbeat expired")
		}
	}

	for matchID, match := range mm.matches {
		if !match.ReadyToDie() {
			continue
		}
		delete(mm.matches, matchID)
		for playerID, mapped := range mm.playerMatch {
			if mapped == matchID {
				delete(mm.playerMatch, playerID)
			}
		}
		mm.logger.Debug().Str("match", matchID.String()).
			Msg("removed dead match from table")
	}
}

// tryMatchLocked pairs any two queued players. No skill ordering, the
// queue is a set and pairing takes whichever two entries come up first.
func (mm *Matchmaker) tryMatchLocked() {
	for len(mm.queue) >= 2 {
		paired := make([]uuid.UUID, 0, 2)
		for playerID := range mm.queue {
			paired = append(paired, playerID)
			if len(paired) == 2 {
				break
			}
		}

		match := newMatch(uuid.New(), mm.cfg, mm.logger)
		mm.matches[match.ID] = match
		for _, playerID := range paired {
			delete(mm.queue, playerID)
			mm.playerMatch[playerID] = match.ID
		}
		go match.Run(mm.matchCtx)

		mm.logger.Info().Str("match", match.ID.String()).
			Msgf("new match created, currently %d in queue", len(mm.queue))
	}
}
