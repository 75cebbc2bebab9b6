package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// EnsureTables - creates the match and connection tables when missing.
// Production tables are provisioned outside the application; this serves DynamoDB Local.
func EnsureTables(ctx context.Context, client *dynamodb.Client, matchTable, connectionTable string) error {
	if err := ensureTable(ctx, client, matchTable, matchKeyAttr); err != nil {
		return err
	}

	return ensureTable(ctx, client, connectionTable, connectionKeyAttr)
}

func ensureTable(ctx context.Context, client *dynamodb.Client, table, key string) error {
	_, err := client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(key), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(key), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})

	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}

	return nil
}
