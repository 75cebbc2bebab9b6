package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	app "github.com/rocketscienceinc/tictactoe-live/internal"
	"github.com/rocketscienceinc/tictactoe-live/internal/config"
	"github.com/rocketscienceinc/tictactoe-live/internal/gateway"
	"github.com/rocketscienceinc/tictactoe-live/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-live/transport/apigateway"
)

// main - is the entry point of the API Gateway WebSocket function. Configuration comes from the environment only.
func main() {
	ctx := context.Background()

	conf := config.MustLoadEnv()
	logger := config.NewLogger(os.Stdout, conf.LogLevel)

	repos, err := app.OpenRepositories(ctx, logger, conf)
	if err != nil {
		panic(fmt.Errorf("failed to open storage: %w", err))
	}

	awsConfig, err := storage.LoadAWSConfig(ctx, conf.Dynamo.Region, conf.Dynamo.AccessKeyID, conf.Dynamo.SecretAccessKey)
	if err != nil {
		panic(err)
	}

	matchUseCase := app.NewMatchUseCase(logger, conf, repos)
	opts := app.GatewayOptions(conf)

	handler := apigateway.NewHandler(logger, conf.Gateway.CallbackURL,
		func(callbackURL string) apigateway.PostClient {
			return apigateway.NewClient(awsConfig, callbackURL)
		},
		func(sender gateway.Sender) apigateway.MessageHandler {
			return gateway.New(logger, matchUseCase, repos.Connections, sender, opts)
		},
	)

	lambda.Start(handler.Handle)
}
