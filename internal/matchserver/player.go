package matchserver

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blukai/duelparty/internal/debug"
	"github.com/blukai/duelparty/internal/protocol"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phuslu/log"
)

// conn is the slice of *websocket.Conn a session needs. Tests substitute
// in-memory fakes.
type conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	Close() error
}

var _ conn = (*websocket.Conn)(nil)

// Player wraps one authenticated match participant: the socket, the inbound
// merge buffer the relay loop flushes, and outbound dedup state. A Player is
// owned by exactly one Match for its whole lifetime.
type Player struct {
	ID   uuid.UUID
	Name string

	conn   conn
	logger *log.Logger

	inbound protocol.Pending

	// writeMu serializes writes; the relay loop and an administrative
	// terminate may send concurrently.
	writeMu   sync.Mutex
	minResend time.Duration
	lastSum   uint64
	lastSent  time.Time

	gone atomic.Bool
}

func newPlayer(id uuid.UUID, name string, c conn, minResend time.Duration, logger *log.Logger) *Player {
	p := &Player{
		ID:        id,
		Name:      name,
		conn:      c,
		logger:    logger,
		minResend: minResend,
	}
	go p.readLoop()
	return p
}

// Connected reports whether the socket is still live. The relay loop polls
// this to detect the forfeit path.
func (p *Player) Connected() bool {
	return !p.gone.Load()
}

// Flush hands the merged inbound message to the relay loop, nil if nothing
// arrived since the last flush.
func (p *Player) Flush() *protocol.PlayerInfo {
	return p.inbound.Flush()
}

func (p *Player) readLoop() {
	p.conn.SetReadLimit(protocol.InfoMaxSize)
	for {
		messageType, payload, err := p.conn.ReadMessage()
		if err != nil {
			p.gone.Store(true)
			return
		}
		if messageType != websocket.BinaryMessage {
			// clients have no text channel towards the server
			p.logger.Debug().
				Str("player", p.ID.String()).
				Msgf("ignoring non-binary frame (type %d)", messageType)
			continue
		}

		info := protocol.PlayerInfo{}
		if err := info.UnmarshalBinary(payload); err != nil {
			// indistinguishable from a transient glitch at this layer;
			// drop it and keep the connection
			p.logger.Warn().
				Str("player", p.ID.String()).
				Msgf("dropping inbound message: %v", err)
			continue
		}
		p.inbound.Push(info)
	}
}

// SendInfo relays a state message to this player. Identical consecutive
// messages are suppressed until the heartbeat interval elapses; messages
// carrying actions always go out. A write error marks the player gone and
// is reported so the caller can take the forfeit path.
func (p *Player) SendInfo(info *protocol.PlayerInfo) error {
	data, err := info.MarshalBinary()
	debug.Assert(err == nil)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	sum := xxhash.Sum64(data)
	if sum == p.lastSum && !info.HasActions() && time.Since(p.lastSent) < p.minResend {
		return nil
	}

	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		p.gone.Store(true)
		return err
	}
	p.lastSum = sum
	p.lastSent = time.Now()
	return nil
}

// SendStatus sends a control message (text frame).
func (p *Player) SendStatus(status protocol.GameStatus) error {
	data, err := json.Marshal(status)
	debug.Assert(err == nil)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		p.gone.Store(true)
		return err
	}
	return nil
}

func (p *Player) close() error {
	p.gone.Store(true)
	return p.conn.Close()
}
