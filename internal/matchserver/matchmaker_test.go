package matchserver

import (
	"sync"
	"testing"
	"time"

	"github.com/blukai/duelparty/internal/protocol"
	"github.com/google/uuid"
	"github.com/matryer/is"
)

func newTestMatchmaker(t *testing.T, cfg Config) *Matchmaker {
	t.Helper()
	mm := NewMatchmaker(cfg, nil)
	t.Cleanup(func() { _ = mm.Close() })
	return mm
}

func TestMatchmakerPairsTwoPlayers(t *testing.T) {
	is := is.New(t)

	mm := newTestMatchmaker(t, testConfig())

	p1, p2 := uuid.New(), uuid.New()

	mm.AddPlayer(p1)
	status, _ := mm.Status(p1)
	is.Equal(status, protocol.QueueStatusInQueue)

	mm.AddPlayer(p2)

	status1, matchID1 := mm.Status(p1)
	status2, matchID2 := mm.Status(p2)
	is.Equal(status1, protocol.QueueStatusMatched)
	is.Equal(status2, protocol.QueueStatusMatched)
	is.Equal(matchID1, matchID2)
	is.True(matchID1 != uuid.Nil)

	match, ok := mm.Match(matchID1)
	is.True(ok)
	is.True(match != nil)
}

func TestMatchmakerPairingInvariant(t *testing.T) {
	is := is.New(t)

	mm := newTestMatchmaker(t, testConfig())

	// hammer the queue concurrently; afterwards every player must be in
	// exactly one match and no match may hold more than two players
	const players = 20
	ids := make([]uuid.UUID, players)
	for i := range ids {
		ids[i] = uuid.New()
	}

	wg := sync.WaitGroup{}
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			mm.AddPlayer(id)
		}(id)
	}
	wg.Wait()

	perMatch := map[uuid.UUID]int{}
	for _, id := range ids {
		status, matchID := mm.Status(id)
		is.Equal(status, protocol.QueueStatusMatched)
		perMatch[matchID]++
	}
	is.Equal(len(perMatch), players/2)
	for _, n := range perMatch {
		is.Equal(n, 2)
	}
}

func TestMatchmakerRemoveQueuedPlayer(t *testing.T) {
	is := is.New(t)

	mm := newTestMatchmaker(t, testConfig())

	playerID := uuid.New()
	mm.AddPlayer(playerID)
	mm.RemovePlayer(playerID)

	status, _ := mm.Status(playerID)
	is.Equal(status, protocol.QueueStatusUnknown)

	// removing again is a no-op
	mm.RemovePlayer(playerID)
}

func TestMatchmakerRemoveMatchedPlayerTerminatesMatch(t *testing.T) {
	is := is.New(t)

	mm := newTestMatchmaker(t, testConfig())

	p1, p2 := uuid.New(), uuid.New()
	mm.AddPlayer(p1)
	mm.AddPlayer(p2)

	_, matchID := mm.Status(p1)
	match, ok := mm.Match(matchID)
	is.True(ok)

	mm.RemovePlayer(p1)
	is.Equal(match.State(), StateTerminated)

	// the dead match releases the other player's mapping
	status, _ := mm.Status(p2)
	is.Equal(status, protocol.QueueStatusUnknown)

	// cleanup drops the match from the table
	mm.Cleanup()
	_, ok = mm.Match(matchID)
	is.True(!ok)
}

func TestMatchmakerTTLEviction(t *testing.T) {
	is := is.New(t)

	mm := newTestMatchmaker(t, Config{QueueTTL: 50 * time.Millisecond})

	stale := uuid.New()
	mm.AddPlayer(stale)

	time.Sleep(80 * time.Millisecond)
	mm.Cleanup()

	status, _ := mm.Status(stale)
	is.Equal(status, protocol.QueueStatusUnknown)
}

func TestMatchmakerHeartbeatKeepsEntryAlive(t *testing.T) {
	is := is.New(t)

	mm := newTestMatchmaker(t, Config{QueueTTL: 60 * time.Millisecond})

	playerID := uuid.New()
	mm.AddPlayer(playerID)

	// polling just before expiry refreshes the heartbeat
	time.Sleep(40 * time.Millisecond)
	status, _ := mm.Status(playerID)
	is.Equal(status, protocol.QueueStatusInQueue)

	time.Sleep(40 * time.Millisecond)
	mm.Cleanup()
	status, _ = mm.Status(playerID)
	is.Equal(status, protocol.QueueStatusInQueue)
}

func TestMatchmakerEvictedPlayerRejoinsFresh(t *testing.T) {
	is := is.New(t)

	mm := newTestMatchmaker(t, Config{QueueTTL: 30 * time.Millisecond})

	playerID := uuid.New()
	mm.AddPlayer(playerID)
	time.Sleep(50 * time.Millisecond)
	mm.Cleanup()

	status, _ := mm.Status(playerID)
	is.Equal(status, protocol.QueueStatusUnknown)

	// reconnect is a brand-new entry, no resumption of the stale one
	mm.AddPlayer(playerID)
	status, _ = mm.Status(playerID)
	is.Equal(status, protocol.QueueStatusInQueue)
}
