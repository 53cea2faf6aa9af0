package matchserver

import (
	"encoding/json"
	"net"
	"sync"

	"github.com/blukai/duelparty/internal/protocol"
	"github.com/gorilla/websocket"
)

// fakeConn stands in for a websocket connection: frames pushed into
// inbound come out of ReadMessage, writes are recorded for inspection.
type fakeConn struct {
	inbound chan fakeFrame

	mu     sync.Mutex
	writes []fakeFrame

	closed    chan struct{}
	closeOnce sync.Once
}

type fakeFrame struct {
	messageType int
	data        []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan fakeFrame, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-c.inbound:
		return frame.messageType, frame.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, fakeFrame{messageType, append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) SetReadLimit(limit int64) {}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// push feeds an encoded PlayerInfo to the read side.
func (c *fakeConn) push(info protocol.PlayerInfo) {
	data, err := info.MarshalBinary()
	if err != nil {
		panic(err)
	}
	c.inbound <- fakeFrame{websocket.BinaryMessage, data}
}

// statuses decodes every recorded text frame.
func (c *fakeConn) statuses() []protocol.StatusMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.StatusMessage
	for _, frame := range c.writes {
		if frame.messageType != websocket.TextMessage {
			continue
		}
		status := protocol.GameStatus{}
		if err := json.Unmarshal(frame.data, &status); err != nil {
			continue
		}
		out = append(out, status.Message)
	}
	return out
}

// infos decodes every recorded binary frame.
func (c *fakeConn) infos() []protocol.PlayerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.PlayerInfo
	for _, frame := range c.writes {
		if frame.messageType != websocket.BinaryMessage {
			continue
		}
		info := protocol.PlayerInfo{}
		if err := info.UnmarshalBinary(frame.data); err != nil {
			continue
		}
		out = append(out, info)
	}
	return out
}

func (c *fakeConn) sawStatus(want protocol.StatusMessage) bool {
	for _, got := range c.statuses() {
		if got == want {
			return true
		}
	}
	return false
}
