package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
)

// Handlers - the REST endpoints.
type Handlers interface {
	PingHandler(w http.ResponseWriter, _ *http.Request)

	GetMatch(w http.ResponseWriter, r *http.Request)
}

type matchReader interface {
	GetMatch(ctx context.Context, matchID string) (*entity.Match, error)
}

type handlers struct {
	logger  *slog.Logger
	matches matchReader
}

// NewHandlers - creates the REST handlers over the match reader.
func NewHandlers(logger *slog.Logger, matches matchReader) Handlers {
	return &handlers{
		logger:  logger.With("component", "rest"),
		matches: matches,
	}
}

// MatchResponse - the read-only snapshot of a match. Player identities authorize moves
// and are never part of it.
type MatchResponse struct {
	MatchID      string    `json:"matchId"`
	State        string    `json:"state"`
	Board        [9]string `json:"board"`
	Turn         string    `json:"turn"`
	Winner       string    `json:"winner"`
	ScoreX       int       `json:"scoreX"`
	ScoreO       int       `json:"scoreO"`
	Participants int       `json:"participants"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// PingHandler - answers pong for health checks.
func (that *handlers) PingHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

// GetMatch - serves the snapshot of the match named by the path.
func (that *handlers) GetMatch(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "GetMatch")

	matchID := r.PathValue("id")

	match, err := that.matches.GetMatch(r.Context(), matchID)
	if errors.Is(err, apperror.ErrMatchNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: apperror.ErrMatchNotFound.Error()})
		return
	}

	if err != nil {
		log.Error("failed to get match", "matchID", matchID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})

		return
	}

	writeJSON(w, http.StatusOK, newMatchResponse(match))
}

func newMatchResponse(match *entity.Match) MatchResponse {
	resp := MatchResponse{
		MatchID: match.ID,
		State:   match.State(),
		Board:   match.Board,
		Turn:    match.Turn,
		Winner:  match.Winner,
		ScoreX:  match.ScoreX,
		ScoreO:  match.ScoreO,
	}

	if match.ParticipantX != nil {
		resp.Participants++
	}

	if match.ParticipantO != nil {
		resp.Participants++
	}

	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}
