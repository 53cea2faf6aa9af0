package protocol

// Control messages travel as JSON text frames next to the binary state
// channel. The game only ever reacts to Message; Detail carries the
// opponent's display name for StatusPlayerName.

type StatusMessage string

const (
	StatusPlayer1       StatusMessage = "player1"
	StatusPlayer2       StatusMessage = "player2"
	StatusVictory       StatusMessage = "victory"
	StatusDefeat        StatusMessage = "defeat"
	StatusPlayerName    StatusMessage = "player_name"
	StatusLobbyWaiting  StatusMessage = "lobby_waiting"
	StatusTerminated    StatusMessage = "terminated"
	StatusLobbyStarting StatusMessage = "lobby_starting"
)

type GameStatus struct {
	Message StatusMessage `json:"message"`
	Detail  string        `json:"detail"`
}

// QueueStatus is what GET /queue/{player_id} reports.
type QueueStatus string

const (
	QueueStatusInQueue QueueStatus = "in_queue"
	QueueStatusMatched QueueStatus = "matched"
	QueueStatusInGame  QueueStatus = "in_game"
	QueueStatusUnknown QueueStatus = "unknown"
)
