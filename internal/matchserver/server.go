package matchserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/blukai/duelparty/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/phuslu/log"
)

// Server exposes the matchmaking queue over HTTP/JSON and the match
// sessions over WebSocket.
type Server struct {
	listener net.Listener
	mm       *Matchmaker
	logger   *log.Logger
	upgrader websocket.Upgrader
	handler  http.Handler
}

func NewServer(address string, cfg Config, logger *log.Logger) (*Server, error) {
	logger = loggerOrDiscard(logger)

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("could not listen: %w", err)
	}

	s := &Server{
		listener: listener,
		mm:       NewMatchmaker(cfg, logger),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// game clients are not browsers
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /queue", s.handleQueueJoin)
	mux.HandleFunc("DELETE /queue/{player_id}", s.handleQueueLeave)
	mux.HandleFunc("GET /queue/{player_id}", s.handleQueueStatus)
	mux.HandleFunc("GET /match/{match_id}/{player_id}/{player_name}", s.handleMatchSocket)
	s.handler = mux

	return s, nil
}

// Addr can be useful to retrieve the server's address when it was
// constructed with ":0".
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run serves until ctx is done, then shuts down the listener and tears
// down the matchmaker (terminating every live match).
func (s *Server) Run(ctx context.Context) error {
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.mm.Run(ctx)
	}()

	httpServer := &http.Server{Handler: s.handler}
	wg.Add(1)
	var serveErr error
	go func() {
		defer wg.Done()
		if err := httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			serveErr = err
		}
	}()

	<-ctx.Done()
	_ = httpServer.Shutdown(context.Background())
	wg.Wait()
	return serveErr
}

func (s *Server) handleQueueJoin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PlayerID string `json:"player_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	playerID, err := uuid.Parse(body.PlayerID)
	if err != nil {
		httpError(w, http.StatusBadRequest,
			fmt.Sprintf("provided player id was invalid (gave: %s, wants: valid uuid)", body.PlayerID))
		return
	}

	s.mm.AddPlayer(playerID)
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleQueueLeave(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuid.Parse(r.PathValue("player_id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "provided player id was invalid")
		return
	}

	s.mm.RemovePlayer(playerID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	playerID, err := uuid.Parse(r.PathValue("player_id"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "provided player id was invalid")
		return
	}

	status, matchID := s.mm.Status(playerID)
	response := struct {
		Status  protocol.QueueStatus `json:"status"`
		MatchID string               `json:"match_id,omitempty"`
	}{Status: status}
	if status == protocol.QueueStatusMatched || status == protocol.QueueStatusInGame {
		response.MatchID = matchID.String()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleMatchSocket(w http.ResponseWriter, r *http.Request) {
	matchID, matchIDErr := uuid.Parse(r.PathValue("match_id"))
	playerID, playerIDErr := uuid.Parse(r.PathValue("player_id"))
	playerName := r.PathValue("player_name")

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Msgf("ws upgrade failed: %v", err)
		return
	}

	// validation failures close the fresh socket right away; the client
	// never gets a game channel out of a bad identity
	if matchIDErr != nil || playerIDErr != nil {
		s.logger.Info().Msgf("client connected with invalid ids (match: %q, player: %q)",
			r.PathValue("match_id"), r.PathValue("player_id"))
		_ = ws.Close()
		return
	}
	match, ok := s.mm.Match(matchID)
	if !ok {
		s.logger.Info().Str("match", matchID.String()).
			Msg("client connected with unknown match id")
		_ = ws.Close()
		return
	}

	if _, err := match.AddPlayer(playerID, playerName, ws); err != nil {
		s.logger.Info().Str("match", matchID.String()).
			Msgf("rejected join: %v", err)
		_ = ws.Close()
		return
	}
	s.logger.Info().Str("match", matchID.String()).
		Str("player", playerID.String()).
		Msg("new client connected")
}

func httpError(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

// loggerOrDiscard returns a silenced default logger for nil (which might be
// true in tests).
func loggerOrDiscard(logger *log.Logger) *log.Logger {
	if logger != nil {
		return logger
	}
	tmp := log.DefaultLogger
	tmp.Writer = &log.IOWriter{Writer: io.Discard}
	return &tmp
}
