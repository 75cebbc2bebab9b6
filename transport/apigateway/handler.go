package apigateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/gateway"
)

const (
	RouteConnect    = "$connect"
	RouteDisconnect = "$disconnect"
	RouteDefault    = "$default"
)

// MessageHandler - what the route handler forwards events to.
type MessageHandler interface {
	Connect(ctx context.Context, endpointID string) error
	Disconnect(ctx context.Context, endpointID string) error
	HandleMessage(ctx context.Context, endpointID string, raw []byte) error
}

// GatewayFactory - builds the message handler that answers through sender.
type GatewayFactory func(sender gateway.Sender) MessageHandler

// ClientFactory - builds a management API client for a callback URL.
type ClientFactory func(callbackURL string) PostClient

// Handler - serves API Gateway WebSocket route events.
type Handler struct {
	logger      *slog.Logger
	callbackURL string
	newClient   ClientFactory
	newGateway  GatewayFactory
}

// NewHandler - creates the route handler. An empty callbackURL is derived from each event's domain and stage.
func NewHandler(logger *slog.Logger, callbackURL string, newClient ClientFactory, newGateway GatewayFactory) *Handler {
	return &Handler{
		logger:      logger.With("component", "apigateway"),
		callbackURL: callbackURL,
		newClient:   newClient,
		newGateway:  newGateway,
	}
}

type responseBody struct {
	Message string `json:"message"`
}

// Handle - routes one API Gateway WebSocket event.
func (that *Handler) Handle(ctx context.Context, event events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	requestContext := event.RequestContext
	endpointID := requestContext.ConnectionID

	log := that.logger.With("method", "Handle", "routeKey", requestContext.RouteKey, "endpointID", endpointID)

	callbackURL := that.callbackURL
	if callbackURL == "" {
		callbackURL = fmt.Sprintf("https://%s/%s", requestContext.DomainName, requestContext.Stage)
	}

	handler := that.newGateway(NewSender(that.newClient(callbackURL)))

	switch requestContext.RouteKey {
	case RouteConnect:
		if err := handler.Connect(ctx, endpointID); err != nil {
			log.Error("failed to connect", "error", err)
			return respond(http.StatusInternalServerError, "connection failed"), nil
		}

		return respond(http.StatusOK, "connected"), nil

	case RouteDisconnect:
		if err := handler.Disconnect(ctx, endpointID); err != nil {
			log.Error("failed to disconnect", "error", err)
			return respond(http.StatusInternalServerError, "disconnection failed"), nil
		}

		return respond(http.StatusOK, "disconnected"), nil

	case RouteDefault:
		err := handler.HandleMessage(ctx, endpointID, []byte(event.Body))
		if errors.Is(err, apperror.ErrTransportUnavailable) {
			log.Info("caller went away before the reply", "error", err)
			return respond(http.StatusGone, "endpoint is unavailable"), nil
		}

		if err != nil {
			log.Error("failed to handle message", "error", err)
			return respond(http.StatusInternalServerError, "internal error"), nil
		}

		return respond(http.StatusOK, "ok"), nil
	}

	log.Warn("unsupported route")

	return respond(http.StatusBadRequest, apperror.ErrUnsupportedAction.Error()), nil
}

func respond(status int, message string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(responseBody{Message: message})

	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Body:       string(body),
	}
}
