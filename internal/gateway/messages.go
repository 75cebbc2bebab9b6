package gateway

import "github.com/rocketscienceinc/tictactoe-live/internal/entity"

const (
	ActionStart = "start"
	ActionJoin  = "join"
	ActionMove  = "move"
	ActionReset = "reset"

	ActionUpdate = "update"
)

// Request - an inbound client action.
type Request struct {
	Action   string `json:"action"`
	PlayerID string `json:"playerId"`
	MatchID  string `json:"matchId,omitempty"`
	Position *int   `json:"position,omitempty"`
	Mark     string `json:"mark,omitempty"`
}

// Update - the state push sent after every successful action. PlayerID is always
// the recipient's own identity, never the opponent's.
type Update struct {
	Action                  string    `json:"action"`
	MatchID                 string    `json:"matchId"`
	Role                    string    `json:"role"`
	PlayerID                string    `json:"playerId"`
	ParticipantXEndpointRef string    `json:"participantXEndpointRef"`
	ParticipantOEndpointRef string    `json:"participantOEndpointRef"`
	Board                   [9]string `json:"board"`
	Turn                    string    `json:"turn"`
	Winner                  string    `json:"winner"`
	ScoreX                  int       `json:"scoreX"`
	ScoreO                  int       `json:"scoreO"`
}

// ErrorReply - the single-field answer to a rejected action.
type ErrorReply struct {
	Error string `json:"error"`
}

func newUpdate(match *entity.Match, role string, recipient *entity.Participant) Update {
	update := Update{
		Action:   ActionUpdate,
		MatchID:  match.ID,
		Role:     role,
		PlayerID: recipient.PlayerID,
		Board:    match.Board,
		Turn:     match.Turn,
		Winner:   match.Winner,
		ScoreX:   match.ScoreX,
		ScoreO:   match.ScoreO,
	}

	if match.ParticipantX != nil {
		update.ParticipantXEndpointRef = match.ParticipantX.EndpointID
	}

	if match.ParticipantO != nil {
		update.ParticipantOEndpointRef = match.ParticipantO.EndpointID
	}

	return update
}
