package gameclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/blukai/duelparty/internal/debug"
	"github.com/blukai/duelparty/internal/protocol"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phuslu/log"
)

// Client talks to the match server: the queue over HTTP/JSON, the match
// itself over a WebSocket. Decoded state messages and control messages
// come out of the Info and Status channels; the renderer and the
// reconciliation engine consume those, never raw bytes.
type Client struct {
	serverAddr string
	playerID   uuid.UUID
	playerName string

	httpClient *http.Client
	logger     *log.Logger

	// minResend caps how long an unchanged state message is suppressed
	// before it flows again as a heartbeat
	minResend time.Duration

	wsMu     sync.Mutex
	ws       *websocket.Conn
	lastSum  uint64
	lastSent time.Time

	infoCh   chan protocol.PlayerInfo
	statusCh chan protocol.GameStatus
}

func NewClient(serverAddr string, playerID uuid.UUID, playerName string, logger *log.Logger) *Client {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		tmp.Writer = &log.IOWriter{Writer: io.Discard}
		logger = &tmp
	}

	return &Client{
		serverAddr: serverAddr,
		playerID:   playerID,
		playerName: playerName,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
		minResend:  500 * time.Millisecond,
		infoCh:     make(chan protocol.PlayerInfo, 64),
		statusCh:   make(chan protocol.GameStatus, 64),
	}
}

// Info streams the opponent's decoded state messages.
func (c *Client) Info() <-chan protocol.PlayerInfo {
	return c.infoCh
}

// Status streams the server's control messages.
func (c *Client) Status() <-chan protocol.GameStatus {
	return c.statusCh
}

// JoinQueue enters the matchmaking queue.
func (c *Client) JoinQueue(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"player_id": c.playerID.String()})
	debug.Assert(err == nil)

	url := fmt.Sprintf("http://%s/queue", c.serverAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not join queue: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("could not join queue (status %d)", resp.StatusCode)
	}
	return nil
}

// LeaveQueue drops out of the queue (or terminates the player's match when
// already paired). Idempotent on the server side.
func (c *Client) LeaveQueue(ctx context.Context) error {
	url := fmt.Sprintf("http://%s/queue/%s", c.serverAddr, c.playerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("could not build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not leave queue: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("could not leave queue (status %d)", resp.StatusCode)
	}
	return nil
}

// QueueStatus polls the player's standing; on the server this doubles as
// the liveness heartbeat, so poll it on a cadence well under the TTL.
func (c *Client) QueueStatus(ctx context.Context) (protocol.QueueStatus, uuid.UUID, error) {
	url := fmt.Sprintf("http://%s/queue/%s", c.serverAddr, c.playerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return protocol.QueueStatusUnknown, uuid.Nil, fmt.Errorf("could not build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return protocol.QueueStatusUnknown, uuid.Nil, fmt.Errorf("could not poll queue: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return protocol.QueueStatusUnknown, uuid.Nil, fmt.Errorf("could not poll queue (status %d)", resp.StatusCode)
	}

	var payload struct {
		Status  protocol.QueueStatus `json:"status"`
		MatchID string               `json:"match_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return protocol.QueueStatusUnknown, uuid.Nil, fmt.Errorf("could not decode status: %w", err)
	}

	matchID := uuid.Nil
	if payload.MatchID != "" {
		if matchID, err = uuid.Parse(payload.MatchID); err != nil {
			return protocol.QueueStatusUnknown, uuid.Nil, fmt.Errorf("server sent invalid match id: %w", err)
		}
	}
	return payload.Status, matchID, nil
}

// WaitForMatch polls the queue until a match is assigned.
func (c *Client) WaitForMatch(ctx context.Context, pollInterval time.Duration) (uuid.UUID, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status, matchID, err := c.QueueStatus(ctx)
		if err != nil {
			return uuid.Nil, err
		}
		switch status {
		case protocol.QueueStatusMatched, protocol.QueueStatusInGame:
			return matchID, nil
		case protocol.QueueStatusInQueue:
			// keep polling; the poll is also our heartbeat
		default:
			return uuid.Nil, fmt.Errorf("no longer queued (status %q)", status)
		}

		select {
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Connect opens the match socket and starts the receive pump. The pump
// runs until the socket closes or ctx is done.
func (c *Client) Connect(ctx context.Context, matchID uuid.UUID) error {
	url := fmt.Sprintf("ws://%s/match/%s/%s/%s", c.serverAddr, matchID, c.playerID, c.playerName)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("could not dial match socket: %w", err)
	}

	c.wsMu.Lock()
	c.ws = ws
	c.wsMu.Unlock()

	go c.runRecv(ctx, ws)
	return nil
}

func (c *Client) runRecv(ctx context.Context, ws *websocket.Conn) {
	defer close(c.infoCh)
	defer close(c.statusCh)

	ws.SetReadLimit(protocol.InfoMaxSize)
	for {
		messageType, payload, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Debug().Msgf("match connection closed: %v", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			info := protocol.PlayerInfo{}
			if err := info.UnmarshalBinary(payload); err != nil {
				c.logger.Warn().Msgf("dropping inbound message: %v", err)
				continue
			}
			select {
			case c.infoCh <- info:
			default:
				// consumer stalled; realtime state is only worth its
				// recency, drop the update
				c.logger.Warn().Msg("info channel full, dropping update")
			}
		case websocket.TextMessage:
			status := protocol.GameStatus{}
			if err := json.Unmarshal(payload, &status); err != nil {
				c.logger.Warn().Msgf("dropping control message: %v", err)
				continue
			}
			select {
			case c.statusCh <- status:
			default:
				c.logger.Warn().Msg("status channel full, dropping message")
			}
		}
	}
}

// SendState transmits the local player's state. Messages identical to the
// previous send are suppressed until the heartbeat interval elapses;
// messages carrying actions are never suppressed.
func (c *Client) SendState(info *protocol.PlayerInfo) error {
	data, err := info.MarshalBinary()
	debug.Assert(err == nil)

	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return fmt.Errorf("match socket is not connected")
	}

	sum := xxhash.Sum64(data)
	if sum == c.lastSum && !info.HasActions() && time.Since(c.lastSent) < c.minResend {
		return nil
	}

	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("could not send state: %w", err)
	}
	c.lastSum = sum
	c.lastSent = time.Now()
	return nil
}

// Close tears down the match socket, if any.
func (c *Client) Close() error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return nil
	}
	err := c.ws.Close()
	c.ws = nil
	return err
}
