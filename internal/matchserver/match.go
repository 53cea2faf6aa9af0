package matchserver

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/blukai/duelparty/internal/protocol"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
)

type MatchState int

const (
	StateWaitingForPlayers MatchState = iota
	StateInProgress
	StateFinished
	StateTerminated
)

func (s MatchState) String() string {
	switch s {
	case StateWaitingForPlayers:
		return "waiting_for_players"
	case StateInProgress:
		return "in_progress"
	case StateFinished:
		return "finished"
	case StateTerminated:
		return "terminated"
	default:
		return "invalid"
	}
}

func (s MatchState) terminal() bool {
	return s == StateFinished || s == StateTerminated
}

// Match owns exactly two player sessions and runs the relay loop between
// them: flush each side's merged inbound, forward it to the opposite side,
// watch declared health for the win condition and both sockets for the
// forfeit path.
type Match struct {
	ID uuid.UUID

	cfg    Config
	logger *log.Logger

	mu    sync.Mutex
	slots [2]*Player
	state MatchState
}

func newMatch(id uuid.UUID, cfg Config, logger *log.Logger) *Match {
	return &Match{
		ID:     id,
		cfg:    cfg,
		logger: logger,
		state:  StateWaitingForPlayers,
	}
}

func (m *Match) State() MatchState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReadyToDie reports whether the matchmaker's cleanup sweep may drop this
// match from the table. Terminal states force-close both sockets, so
// terminal implies no live connections.
func (m *Match) ReadyToDie() bool {
	return m.State().terminal()
}

// AddPlayer seats a connecting socket into a free slot and tells it which
// side it plays. The second join completes the pairing; the relay loop
// picks that up and starts the game.
func (m *Match) AddPlayer(id uuid.UUID, name string, c conn) (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateWaitingForPlayers {
		return nil, errMatchNotJoinable
	}

	player := newPlayer(id, name, c, m.cfg.MinResendInterval, m.logger)
	switch {
	case m.slots[0] == nil:
		m.slots[0] = player
		_ = player.SendStatus(protocol.GameStatus{Message: protocol.StatusPlayer1})
		m.logger.Debug().Str("match", m.ID.String()).Msg("player 1 joined")
	case m.slots[1] == nil:
		m.slots[1] = player
		_ = player.SendStatus(protocol.GameStatus{Message: protocol.StatusPlayer2})
		m.logger.Debug().Str("match", m.ID.String()).Msg("player 2 joined")
	default:
		_ = player.close()
		return nil, errMatchNotJoinable
	}
	return player, nil
}

func (m *Match) players() (*Player, *Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[0], m.slots[1]
}

// Run drives the match to a terminal state: wait for the lobby to fill,
// announce the pairing, then relay until someone wins, forfeits or the
// match is terminated. ctx cancellation terminates the match.
func (m *Match) Run(ctx context.Context) {
	if !m.waitForLobby(ctx) {
		return
	}

	p1, p2 := m.players()
	_ = p1.SendStatus(protocol.GameStatus{Message: protocol.StatusPlayerName, Detail: p2.Name})
	_ = p2.SendStatus(protocol.GameStatus{Message: protocol.StatusPlayerName, Detail: p1.Name})
	m.broadcast(protocol.GameStatus{Message: protocol.StatusLobbyStarting})

	m.setState(StateWaitingForPlayers, StateInProgress)
	m.logger.Info().Str("match", m.ID.String()).Msg("all players joined, starting game")

	for m.State() == StateInProgress {
		select {
		case <-ctx.Done():
			m.Terminate()
			return
		default:
		}

		if !p1.Connected() {
			m.logger.Info().Str("match", m.ID.String()).
				Msg("player 1 disconnected, player 2 wins by forfeit")
			m.finish(p2, p1)
			return
		}
		if !p2.Connected() {
			m.logger.Info().Str("match", m.ID.String()).
				Msg("player 2 disconnected, player 1 wins by forfeit")
			m.finish(p1, p2)
			return
		}

		relayed := 0
		if m.relay(p1, p2) {
			relayed++
		}
		if m.relay(p2, p1) {
			relayed++
		}
		if relayed == 0 {
			time.Sleep(m.cfg.RelayIdleSleep)
		}
	}
}

// waitForLobby blocks until both slots are filled, periodically reminding
// the side that is already here. Returns false when the match died while
// waiting.
func (m *Match) waitForLobby(ctx context.Context) bool {
	ticker := time.NewTicker(m.cfg.LobbyPollInterval)
	defer ticker.Stop()

	for {
		if m.State().terminal() {
			return false
		}
		p1, p2 := m.players()
		if p1 != nil && p2 != nil {
			return true
		}

		m.safeBroadcast(protocol.GameStatus{Message: protocol.StatusLobbyWaiting})

		select {
		case <-ctx.Done():
			m.Terminate()
			return false
		case <-ticker.C:
		}
	}
}

// relay flushes from's merged inbound and forwards it to to. Reports
// whether anything was relayed. Send failures and zero-crossing health
// both end the match in here.
func (m *Match) relay(from, to *Player) bool {
	info := from.Flush()
	if info == nil {
		return false
	}

	if err := to.SendInfo(info); err != nil {
		// transport error == that peer disconnected
		m.logger.Info().Str("match", m.ID.String()).
			Msgf("relay to %s failed, treating as forfeit: %v", to.ID, err)
		m.finish(from, to)
		return true
	}

	// the sender declares its own health; zero or below means it lost.
	// a DealDamage report with the opponent's health depleted wins the
	// match for the sender.
	if info.Health <= 0 {
		m.finish(to, from)
		return true
	}
	if info.EnemyHealth <= 0 && slices.Contains(info.Actions, protocol.ActionDealDamage) {
		m.finish(from, to)
		return true
	}
	return true
}

// finish declares the outcome: winner gets victory, loser gets defeat, both
// sockets close. Safe to call from either relay direction; only the first
// caller wins the state transition.
func (m *Match) finish(winner, loser *Player) {
	if !m.setState(StateInProgress, StateFinished) {
		return
	}
	_ = winner.SendStatus(protocol.GameStatus{Message: protocol.StatusVictory})
	_ = loser.SendStatus(protocol.GameStatus{Message: protocol.StatusDefeat})
	_ = winner.close()
	_ = loser.close()
	m.logger.Info().Str("match", m.ID.String()).
		Str("winner", winner.ID.String()).
		Msg("game finished")
}

// Terminate is the administrative close: both outcomes are void, both
// sockets are force-closed. No-op on an already terminal match.
func (m *Match) Terminate() {
	m.mu.Lock()
	if m.state.terminal() {
		m.mu.Unlock()
		return
	}
	m.state = StateTerminated
	players := m.slots
	m.mu.Unlock()

	var errs error
	for _, p := range players {
		if p == nil {
			continue
		}
		if err := p.SendStatus(protocol.GameStatus{Message: protocol.StatusTerminated}); err != nil {
			errs = multierror.Append(errs, err)
		}
		if err := p.close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		m.logger.Debug().Str("match", m.ID.String()).
			Msgf("terminate teardown: %v", errs)
	}
	m.logger.Info().Str("match", m.ID.String()).Msg("match terminated")
}

func (m *Match) setState(from, to MatchState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return false
	}
	m.state = to
	return true
}

// broadcast requires both players present.
func (m *Match) broadcast(status protocol.GameStatus) {
	p1, p2 := m.players()
	if p1 == nil || p2 == nil {
		m.logger.Error().Str("match", m.ID.String()).
			Msg("attempted broadcast but not all clients present")
		return
	}
	var errs error
	if err := p1.SendStatus(status); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := p2.SendStatus(status); err != nil {
		errs = multierror.Append(errs, err)
	}
	if errs != nil {
		m.logger.Debug().Str("match", m.ID.String()).
			Msgf("broadcast: %v", errs)
	}
}

// safeBroadcast sends to whoever is present.
func (m *Match) safeBroadcast(status protocol.GameStatus) {
	p1, p2 := m.players()
	if p1 != nil {
		_ = p1.SendStatus(status)
	}
	if p2 != nil {
		_ = p2.SendStatus(status)
	}
}
