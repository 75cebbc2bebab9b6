package apigateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
)

// PostClient - the part of the management API the sender needs.
type PostClient interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput,
		optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// Sender - pushes payloads to API Gateway WebSocket connections.
type Sender struct {
	client PostClient
}

// NewSender - creates a sender over client.
func NewSender(client PostClient) *Sender {
	return &Sender{
		client: client,
	}
}

// NewClient - creates a management API client for a deployed stage, e.g. https://{api-id}.execute-api.{region}.amazonaws.com/{stage}.
func NewClient(cfg aws.Config, callbackURL string) *apigatewaymanagementapi.Client {
	return apigatewaymanagementapi.NewFromConfig(cfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(callbackURL)
	})
}

// Send - posts payload to the connection endpointID.
func (that *Sender) Send(ctx context.Context, endpointID string, payload []byte) error {
	_, err := that.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(endpointID),
		Data:         payload,
	})

	var gone *types.GoneException
	if errors.As(err, &gone) {
		return fmt.Errorf("%w: %s", apperror.ErrTransportUnavailable, endpointID)
	}

	if err != nil {
		return fmt.Errorf("failed to post to connection: %w", err)
	}

	return nil
}
