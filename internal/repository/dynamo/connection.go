package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/rocketscienceinc/tictactoe-live/internal/repository"
)

const (
	connectionKeyAttr = "connectionId"
	// expiresAtAttr is the table's TTL attribute, epoch seconds.
	expiresAtAttr = "expiresAt"
)

type connectionRecord struct {
	ConnectionID string    `dynamodbav:"connectionId"`
	ConnectedAt  time.Time `dynamodbav:"connectedAt"`
	ExpiresAt    int64     `dynamodbav:"expiresAt"`
}

type dbConnection struct {
	client *dynamodb.Client
	table  string
	ttl    time.Duration
	now    func() time.Time
}

// NewConnectionRepository - creates the DynamoDB connection store; ttl feeds the table's TTL attribute.
func NewConnectionRepository(client *dynamodb.Client, table string, ttl time.Duration) repository.ConnectionRepository {
	return &dbConnection{
		client: client,
		table:  table,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (that *dbConnection) Save(ctx context.Context, conn *entity.Connection) error {
	expiresAt := that.expiresAt()

	conn.ExpiresAt = time.Time{}
	if expiresAt != 0 {
		conn.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}

	item, err := attributevalue.MarshalMap(connectionRecord{
		ConnectionID: conn.EndpointID,
		ConnectedAt:  conn.ConnectedAt,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal connection: %w", err)
	}

	_, err = that.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(that.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put connection: %w", err)
	}

	return nil
}

// Touch - pushes the expiry attribute forward.
func (that *dbConnection) Touch(ctx context.Context, endpointID string) error {
	_, err := that.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(that.table),
		Key:                       that.key(endpointID),
		UpdateExpression:          aws.String("SET #exp = :exp"),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  map[string]string{"#exp": expiresAtAttr, "#id": connectionKeyAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":exp": &types.AttributeValueMemberN{Value: strconv.FormatInt(that.expiresAt(), 10)}},
	})

	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return repository.ErrConnectionNotFound
	}

	if err != nil {
		return fmt.Errorf("failed to touch connection: %w", err)
	}

	return nil
}

func (that *dbConnection) GetByID(ctx context.Context, endpointID string) (*entity.Connection, error) {
	out, err := that.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(that.table),
		Key:       that.key(endpointID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get connection by id: %w", err)
	}

	if len(out.Item) == 0 {
		return nil, repository.ErrConnectionNotFound
	}

	var record connectionRecord
	if err = attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal connection: %w", err)
	}

	// expired items linger until the TTL sweeper removes them
	if record.ExpiresAt != 0 && record.ExpiresAt < that.now().Unix() {
		return nil, repository.ErrConnectionNotFound
	}

	conn := &entity.Connection{EndpointID: record.ConnectionID, ConnectedAt: record.ConnectedAt}
	if record.ExpiresAt != 0 {
		conn.ExpiresAt = time.Unix(record.ExpiresAt, 0).UTC()
	}

	return conn, nil
}

// Delete - removes a record. A missing record is not an error.
func (that *dbConnection) Delete(ctx context.Context, endpointID string) error {
	_, err := that.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(that.table),
		Key:       that.key(endpointID),
	})
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}

	return nil
}

func (that *dbConnection) key(endpointID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{connectionKeyAttr: &types.AttributeValueMemberS{Value: endpointID}}
}

func (that *dbConnection) expiresAt() int64 {
	if that.ttl == 0 {
		return 0
	}

	return that.now().Add(that.ttl).Unix()
}
