package entity

import (
	"fmt"

	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
)

const (
	MarkX = "X"
	MarkO = "O"

	// Draw is the winner value of a full board without a line.
	Draw = "draw"

	EmptyCell = ""
)

const (
	StateAwaiting   = "awaiting"
	StateInProgress = "in_progress"
	StateFinished   = "finished"
)

const boardSize = 9

// WinCombos are checked in order: rows, columns, diagonals.
var WinCombos = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// Match - the authoritative record of one game between two participants.
// Version is bumped by the store on every successful persist.
type Match struct {
	ID           string       `json:"id"`
	Board        [9]string    `json:"board"`
	ParticipantX *Participant `json:"participant_x"`
	ParticipantO *Participant `json:"participant_o,omitempty"`
	Turn         string       `json:"turn"`
	Winner       string       `json:"winner"`
	ScoreX       int          `json:"score_x"`
	ScoreO       int          `json:"score_o"`
	Version      int64        `json:"version"`
}

// NewMatch - creates a match with creator bound as X.
func NewMatch(id string, creator Participant) *Match {
	return &Match{
		ID:           id,
		Board:        [9]string{EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell},
		ParticipantX: &creator,
		Turn:         MarkX,
	}
}

// Join - binds joiner as participant O.
func (that *Match) Join(joiner Participant) error {
	if that.ParticipantO != nil {
		return apperror.ErrAlreadyFull
	}

	if that.ParticipantX != nil && that.ParticipantX.PlayerID == joiner.PlayerID {
		return apperror.ErrDuplicateParticipant
	}

	that.ParticipantO = &joiner

	return nil
}

// ApplyMove - validates and applies a move. On error the match is left untouched.
func (that *Match) ApplyMove(playerID, mark string, position int) error {
	if that.Winner != "" {
		return apperror.ErrMatchFinished
	}

	if position < 0 || position >= boardSize {
		return fmt.Errorf("%w: %d is out of range", apperror.ErrInvalidPosition, position)
	}

	if that.Board[position] != EmptyCell {
		return fmt.Errorf("%w: %d is occupied", apperror.ErrInvalidPosition, position)
	}

	if mark != that.Turn {
		return apperror.ErrNotYourTurn
	}

	if owner := that.participantFor(mark); owner == nil || owner.PlayerID != playerID {
		return apperror.ErrNotYourTurn
	}

	that.Board[position] = mark
	that.Turn = Opponent(mark)

	switch that.Winner = that.DetermineWinner(); that.Winner {
	case MarkX:
		that.ScoreX++
	case MarkO:
		that.ScoreO++
	}

	return nil
}

// Reset - starts a new round. Scores and participants are kept.
func (that *Match) Reset() {
	that.Board = [9]string{}
	that.Turn = MarkX
	that.Winner = ""
}

// DetermineWinner - returns the winning mark, Draw, or "" while the game goes on.
func (that *Match) DetermineWinner() string {
	for _, combo := range WinCombos {
		a, b, c := that.Board[combo[0]], that.Board[combo[1]], that.Board[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return a
		}
	}

	for _, cell := range that.Board {
		if cell == EmptyCell {
			return ""
		}
	}

	return Draw
}

// State - reports awaiting, in progress or finished.
func (that *Match) State() string {
	switch {
	case that.Winner != "":
		return StateFinished
	case that.ParticipantO == nil:
		return StateAwaiting
	default:
		return StateInProgress
	}
}

// RoleOf - returns the mark bound to playerID, or "" for strangers.
func (that *Match) RoleOf(playerID string) string {
	switch {
	case that.ParticipantX != nil && that.ParticipantX.PlayerID == playerID:
		return MarkX
	case that.ParticipantO != nil && that.ParticipantO.PlayerID == playerID:
		return MarkO
	default:
		return ""
	}
}

// Rebind - moves a bound player to a new endpoint. It reports whether anything changed.
func (that *Match) Rebind(participant Participant) bool {
	slot := that.participantFor(that.RoleOf(participant.PlayerID))
	if slot == nil || slot.EndpointID == participant.EndpointID || participant.EndpointID == "" {
		return false
	}

	slot.EndpointID = participant.EndpointID

	return true
}

// Clone - returns a deep copy.
func (that *Match) Clone() *Match {
	clone := *that

	if that.ParticipantX != nil {
		x := *that.ParticipantX
		clone.ParticipantX = &x
	}

	if that.ParticipantO != nil {
		o := *that.ParticipantO
		clone.ParticipantO = &o
	}

	return &clone
}

func (that *Match) participantFor(mark string) *Participant {
	switch mark {
	case MarkX:
		return that.ParticipantX
	case MarkO:
		return that.ParticipantO
	default:
		return nil
	}
}

// Opponent - returns the other mark.
func Opponent(mark string) string {
	if mark == MarkX {
		return MarkO
	}
	return MarkX
}
