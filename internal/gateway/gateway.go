package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
)

const internalErrorMessage = "internal error"

type matchUseCase interface {
	StartMatch(ctx context.Context, creator entity.Participant) (*entity.Match, error)
	JoinMatch(ctx context.Context, matchID string, joiner entity.Participant) (*entity.Match, error)
	MakeMove(ctx context.Context, matchID string, mover entity.Participant, mark string, position int) (*entity.Match, error)
	ResetMatch(ctx context.Context, matchID string, requester entity.Participant) (*entity.Match, error)
}

type connectionRepo interface {
	Save(ctx context.Context, conn *entity.Connection) error
	Delete(ctx context.Context, endpointID string) error
}

// Sender - delivers a payload to one endpoint. A gone endpoint is reported
// as apperror.ErrTransportUnavailable.
type Sender interface {
	Send(ctx context.Context, endpointID string, payload []byte) error
}

// Options - bounds how long the gateway works on one action and one delivery.
type Options struct {
	// ActionTimeout bounds one inbound action including its deliveries.
	ActionTimeout time.Duration
	SendTimeout   time.Duration
}

// Gateway - turns inbound actions into match operations and pushes the result
// to both participants.
type Gateway struct {
	logger      *slog.Logger
	matches     matchUseCase
	connections connectionRepo
	sender      Sender
	opts        Options

	handlers map[string]func(ctx context.Context, endpointID string, req *Request) error
}

// New - creates a gateway answering through sender.
func New(logger *slog.Logger, matches matchUseCase, connections connectionRepo, sender Sender, opts Options) *Gateway {
	gateway := &Gateway{
		logger:      logger.With("component", "gateway"),
		matches:     matches,
		connections: connections,
		sender:      sender,
		opts:        opts,

		handlers: make(map[string]func(context.Context, string, *Request) error),
	}

	gateway.handlers[ActionStart] = gateway.handleStart
	gateway.handlers[ActionJoin] = gateway.handleJoin
	gateway.handlers[ActionMove] = gateway.handleMove
	gateway.handlers[ActionReset] = gateway.handleReset

	return gateway
}

// Connect - registers a freshly opened endpoint.
func (that *Gateway) Connect(ctx context.Context, endpointID string) error {
	conn := &entity.Connection{
		EndpointID:  endpointID,
		ConnectedAt: time.Now().UTC(),
	}

	if err := that.connections.Save(ctx, conn); err != nil {
		return fmt.Errorf("failed to register connection: %w", err)
	}

	that.logger.Debug("endpoint connected", "endpointID", endpointID)

	return nil
}

// Disconnect - drops the record of a closed endpoint.
func (that *Gateway) Disconnect(ctx context.Context, endpointID string) error {
	if err := that.connections.Delete(ctx, endpointID); err != nil {
		return fmt.Errorf("failed to deregister connection: %w", err)
	}

	that.logger.Debug("endpoint disconnected", "endpointID", endpointID)

	return nil
}

// HandleMessage - processes one raw inbound message from endpointID. Rejected
// actions are answered with an error reply and return nil; the returned
// error reports only that endpointID itself could not be reached.
func (that *Gateway) HandleMessage(ctx context.Context, endpointID string, raw []byte) error {
	log := that.logger.With("method", "HandleMessage", "endpointID", endpointID)

	if that.opts.ActionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, that.opts.ActionTimeout)
		defer cancel()
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Info("malformed message", "error", err)
		return that.replyError(ctx, endpointID, apperror.ErrUnsupportedAction)
	}

	handler, ok := that.handlers[req.Action]
	if !ok || req.PlayerID == "" {
		log.Info("unsupported action", "action", req.Action)
		return that.replyError(ctx, endpointID, apperror.ErrUnsupportedAction)
	}

	return handler(ctx, endpointID, &req)
}

func (that *Gateway) handleStart(ctx context.Context, endpointID string, req *Request) error {
	match, err := that.matches.StartMatch(ctx, entity.Participant{EndpointID: endpointID, PlayerID: req.PlayerID})
	if err != nil {
		return that.replyError(ctx, endpointID, err)
	}

	that.logger.Info("match started", "matchID", match.ID, "playerID", req.PlayerID)

	if err = that.send(ctx, endpointID, newUpdate(match, entity.MarkX, match.ParticipantX)); err != nil {
		return fmt.Errorf("failed to deliver to initiator: %w", err)
	}

	return nil
}

func (that *Gateway) handleJoin(ctx context.Context, endpointID string, req *Request) error {
	if req.MatchID == "" {
		return that.replyError(ctx, endpointID, apperror.ErrUnsupportedAction)
	}

	match, err := that.matches.JoinMatch(ctx, req.MatchID, entity.Participant{EndpointID: endpointID, PlayerID: req.PlayerID})
	if err != nil {
		return that.replyError(ctx, endpointID, err)
	}

	that.logger.Info("match joined", "matchID", match.ID, "playerID", req.PlayerID)

	return that.notify(ctx, endpointID, match, func(mark string) string { return mark })
}

func (that *Gateway) handleMove(ctx context.Context, endpointID string, req *Request) error {
	if req.MatchID == "" || req.Position == nil || req.Mark == "" {
		return that.replyError(ctx, endpointID, apperror.ErrUnsupportedAction)
	}

	match, err := that.matches.MakeMove(ctx, req.MatchID, entity.Participant{EndpointID: endpointID, PlayerID: req.PlayerID}, req.Mark, *req.Position)
	if err != nil {
		return that.replyError(ctx, endpointID, err)
	}

	if match.Winner != "" {
		that.logger.Info("match finished", "matchID", match.ID, "winner", match.Winner)
	}

	return that.notify(ctx, endpointID, match, turnOwner(match))
}

func (that *Gateway) handleReset(ctx context.Context, endpointID string, req *Request) error {
	if req.MatchID == "" {
		return that.replyError(ctx, endpointID, apperror.ErrUnsupportedAction)
	}

	match, err := that.matches.ResetMatch(ctx, req.MatchID, entity.Participant{EndpointID: endpointID, PlayerID: req.PlayerID})
	if err != nil {
		return that.replyError(ctx, endpointID, err)
	}

	return that.notify(ctx, endpointID, match, turnOwner(match))
}

// turnOwner labels both copies with whose turn it is now, which clients use to show "your turn".
func turnOwner(match *entity.Match) func(string) string {
	return func(string) string { return match.Turn }
}

// notify pushes the match to every bound participant. Delivery is best effort
// per endpoint; only a failure towards initiator is returned.
func (that *Gateway) notify(ctx context.Context, initiator string, match *entity.Match, role func(mark string) string) error {
	log := that.logger.With("method", "notify", "matchID", match.ID)

	var initiatorErr error

	slots := []struct {
		mark        string
		participant *entity.Participant
	}{
		{entity.MarkX, match.ParticipantX},
		{entity.MarkO, match.ParticipantO},
	}

	for _, slot := range slots {
		mark, participant := slot.mark, slot.participant
		if participant == nil || participant.EndpointID == "" {
			continue
		}

		err := that.send(ctx, participant.EndpointID, newUpdate(match, role(mark), participant))
		if err == nil {
			continue
		}

		if participant.EndpointID == initiator {
			initiatorErr = fmt.Errorf("failed to deliver to initiator: %w", err)
			continue
		}

		log.Warn("failed to deliver update", "endpointID", participant.EndpointID, "error", err)
	}

	return initiatorErr
}

func (that *Gateway) replyError(ctx context.Context, endpointID string, cause error) error {
	log := that.logger.With("method", "replyError", "endpointID", endpointID)

	message := errorMessage(cause)
	switch {
	case message == internalErrorMessage:
		log.Error("action failed", "error", cause)
	case errors.Is(cause, apperror.ErrStoreConflict):
		log.Warn("action rejected", "error", cause)
	default:
		log.Info("action rejected", "error", cause)
	}

	if err := that.send(ctx, endpointID, ErrorReply{Error: message}); err != nil {
		return fmt.Errorf("failed to deliver error reply: %w", err)
	}

	return nil
}

func (that *Gateway) send(ctx context.Context, endpointID string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if that.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, that.opts.SendTimeout)
		defer cancel()
	}

	if err = that.sender.Send(ctx, endpointID, payload); err != nil {
		return fmt.Errorf("failed to send to %s: %w", endpointID, err)
	}

	return nil
}

var userErrors = []error{
	apperror.ErrMatchNotFound,
	apperror.ErrAlreadyFull,
	apperror.ErrDuplicateParticipant,
	apperror.ErrMatchFinished,
	apperror.ErrInvalidPosition,
	apperror.ErrNotYourTurn,
	apperror.ErrUnsupportedAction,
	apperror.ErrStoreConflict,
}

// errorMessage names the failure kind without leaking wrapped internals.
func errorMessage(err error) string {
	for _, known := range userErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}

	return internalErrorMessage
}
