package matchserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/blukai/duelparty/internal/protocol"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

func testConfig() Config {
	return Config{
		QueueTTL:          50 * time.Millisecond,
		LobbyPollInterval: 5 * time.Millisecond,
		RelayIdleSleep:    time.Millisecond,
		MinResendInterval: 10 * time.Millisecond,
		CleanupInterval:   5 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func startMatch(t *testing.T) (*Match, *fakeConn, *fakeConn) {
	t.Helper()
	is := is.New(t)

	match := newMatch(uuid.New(), testConfig(), loggerOrDiscard(nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go match.Run(ctx)

	c1, c2 := newFakeConn(), newFakeConn()
	_, err := match.AddPlayer(uuid.New(), "alice", c1)
	is.NoErr(err)
	_, err = match.AddPlayer(uuid.New(), "bob", c2)
	is.NoErr(err)

	waitFor(t, func() bool { return match.State() == StateInProgress })
	return match, c1, c2
}

func TestMatchLobbyHandshake(t *testing.T) {
	is := is.New(t)

	_, c1, c2 := startMatch(t)

	waitFor(t, func() bool {
		return c1.sawStatus(protocol.StatusLobbyStarting) && c2.sawStatus(protocol.StatusLobbyStarting)
	})
	is.True(c1.sawStatus(protocol.StatusPlayer1))
	is.True(c2.sawStatus(protocol.StatusPlayer2))

	// each side learns the opponent's display name
	nameDetail := func(c *fakeConn) string {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, frame := range c.writes {
			status := protocol.GameStatus{}
			if err := json.Unmarshal(frame.data, &status); err == nil && status.Message == protocol.StatusPlayerName {
				return status.Detail
			}
		}
		return ""
	}
	is.Equal(nameDetail(c1), "bob")
	is.Equal(nameDetail(c2), "alice")
}

func TestMatchRelayAndWin(t *testing.T) {
	is := is.New(t)

	match, c1, c2 := startMatch(t)

	sent := protocol.PlayerInfo{
		Health:        10,
		EnemyHealth:   10,
		Actions:       []protocol.PlayerAction{protocol.ActionAttack1},
		ActionOffsets: []float32{1.0},
	}
	c1.push(sent)

	waitFor(t, func() bool { return len(c2.infos()) > 0 })
	is.Equal(c2.infos()[0], sent)

	// depleting own health loses the match
	c1.push(protocol.PlayerInfo{Health: 0, EnemyHealth: 10})

	waitFor(t, func() bool { return match.State() == StateFinished })
	waitFor(t, func() bool { return c2.sawStatus(protocol.StatusVictory) })
	waitFor(t, func() bool { return c1.sawStatus(protocol.StatusDefeat) })
}

func TestMatchDealDamageWin(t *testing.T) {
	match, c1, c2 := startMatch(t)

	// sender reports the killing blow on its opponent
	c1.push(protocol.PlayerInfo{
		Health:        10,
		EnemyHealth:   0,
		Actions:       []protocol.PlayerAction{protocol.ActionDealDamage},
		ActionOffsets: []float32{3.0},
	})

	waitFor(t, func() bool { return match.State() == StateFinished })
	waitFor(t, func() bool { return c1.sawStatus(protocol.StatusVictory) })
	waitFor(t, func() bool { return c2.sawStatus(protocol.StatusDefeat) })
}

func TestMatchForfeitOnDisconnect(t *testing.T) {
	match, c1, c2 := startMatch(t)

	// p1's socket dies mid-game; p2 must get a definitive outcome, not a
	// hang
	_ = c1.Close()

	waitFor(t, func() bool { return match.State() == StateFinished })
	waitFor(t, func() bool { return c2.sawStatus(protocol.StatusVictory) })
}

func TestMatchTerminate(t *testing.T) {
	is := is.New(t)

	match := newMatch(uuid.New(), testConfig(), loggerOrDiscard(nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go match.Run(ctx)

	c1 := newFakeConn()
	_, err := match.AddPlayer(uuid.New(), "alice", c1)
	is.NoErr(err)

	match.Terminate()
	is.Equal(match.State(), StateTerminated)
	is.True(match.ReadyToDie())
	is.True(c1.sawStatus(protocol.StatusTerminated))

	// terminal matches accept no more players
	_, err = match.AddPlayer(uuid.New(), "bob", newFakeConn())
	is.True(err != nil)
}

func TestMatchRejectsThirdPlayer(t *testing.T) {
	is := is.New(t)

	match, _, _ := startMatch(t)
	_, err := match.AddPlayer(uuid.New(), "carol", newFakeConn())
	is.True(err != nil)
}

func TestMatchMalformedInboundIsDropped(t *testing.T) {
	is := is.New(t)

	match, c1, c2 := startMatch(t)

	// garbage frame: silently discarded, connection survives
	c1.inbound <- fakeFrame{messageType: 2, data: []byte{0xde, 0xad, 0xbe, 0xef}}
	c1.push(protocol.PlayerInfo{Health: 9, EnemyHealth: 10})

	waitFor(t, func() bool { return len(c2.infos()) > 0 })
	is.Equal(c2.infos()[0].Health, int32(9))
	is.Equal(match.State(), StateInProgress)
}
