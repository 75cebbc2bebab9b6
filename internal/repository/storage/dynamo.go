package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DynamoOptions - how to reach DynamoDB.
type DynamoOptions struct {
	Region string
	// Endpoint overrides the service URL, e.g. for DynamoDB Local.
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// DynamoStorage - the DynamoDB client.
type DynamoStorage struct {
	Connection *dynamodb.Client
}

// NewDynamoStorage - creates a DynamoDB client.
func NewDynamoStorage(ctx context.Context, opts DynamoOptions) (*DynamoStorage, error) {
	cfg, err := LoadAWSConfig(ctx, opts.Region, opts.AccessKeyID, opts.SecretAccessKey)
	if err != nil {
		return nil, err
	}

	conn := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	return &DynamoStorage{Connection: conn}, nil
}

// LoadAWSConfig - loads the default AWS chain, using static credentials when a key pair is given.
func LoadAWSConfig(ctx context.Context, region, accessKeyID, secretAccessKey string) (aws.Config, error) {
	loaders := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if accessKeyID != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return cfg, nil
}
