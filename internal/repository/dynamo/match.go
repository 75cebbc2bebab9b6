package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/rocketscienceinc/tictactoe-live/internal/repository"
)

const matchKeyAttr = "matchId"

type participantRecord struct {
	EndpointID string `dynamodbav:"endpointId"`
	PlayerID   string `dynamodbav:"playerId"`
}

type matchRecord struct {
	MatchID      string             `dynamodbav:"matchId"`
	Board        []string           `dynamodbav:"board"`
	ParticipantX *participantRecord `dynamodbav:"participantX"`
	ParticipantO *participantRecord `dynamodbav:"participantO,omitempty"`
	Turn         string             `dynamodbav:"turn"`
	Winner       string             `dynamodbav:"winner"`
	ScoreX       int                `dynamodbav:"scoreX"`
	ScoreO       int                `dynamodbav:"scoreO"`
	Version      int64              `dynamodbav:"version"`
}

type dbMatch struct {
	client *dynamodb.Client
	table  string
}

// NewMatchRepository - creates the DynamoDB match store over table.
func NewMatchRepository(client *dynamodb.Client, table string) repository.MatchRepository {
	return &dbMatch{
		client: client,
		table:  table,
	}
}

// Create - puts a new match, conditional on the id being free.
func (that *dbMatch) Create(ctx context.Context, match *entity.Match) error {
	item, err := attributevalue.MarshalMap(toMatchRecord(match))
	if err != nil {
		return fmt.Errorf("could not marshal match: %w", err)
	}

	_, err = that.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(that.table),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": matchKeyAttr},
	})

	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return fmt.Errorf("%w: match id %s already taken", apperror.ErrStoreConflict, match.ID)
	}

	if err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}

	return nil
}

// GetByID - reads a match with a consistent read.
func (that *dbMatch) GetByID(ctx context.Context, id string) (*entity.Match, error) {
	out, err := that.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(that.table),
		Key:            map[string]types.AttributeValue{matchKeyAttr: &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get match by id: %w", err)
	}

	if len(out.Item) == 0 {
		return nil, apperror.ErrMatchNotFound
	}

	var record matchRecord
	if err = attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}

	return record.toEntity(), nil
}

// Update - puts match conditional on the stored version, then bumps it.
func (that *dbMatch) Update(ctx context.Context, match *entity.Match) error {
	next := match.Clone()
	next.Version++

	item, err := attributevalue.MarshalMap(toMatchRecord(next))
	if err != nil {
		return fmt.Errorf("could not marshal match: %w", err)
	}

	_, err = that.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                           aws.String(that.table),
		Item:                                item,
		ConditionExpression:                 aws.String("#v = :expected"),
		ExpressionAttributeNames:            map[string]string{"#v": "version"},
		ExpressionAttributeValues:           map[string]types.AttributeValue{":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(match.Version, 10)}},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})

	var conditionFailed *types.ConditionalCheckFailedException
	if errors.As(err, &conditionFailed) {
		return that.conflictOrMissing(ctx, match.ID, conditionFailed)
	}

	if err != nil {
		return fmt.Errorf("failed to update match: %w", err)
	}

	match.Version = next.Version

	return nil
}

// conflictOrMissing tells a stale version apart from a missing item.
// Old items are only attached to the exception by stores honoring ReturnValuesOnConditionCheckFailure.
func (that *dbMatch) conflictOrMissing(ctx context.Context, id string, conditionFailed *types.ConditionalCheckFailedException) error {
	if len(conditionFailed.Item) == 0 {
		if _, err := that.GetByID(ctx, id); errors.Is(err, apperror.ErrMatchNotFound) {
			return apperror.ErrMatchNotFound
		}
	}

	return fmt.Errorf("%w: match %s was changed", apperror.ErrStoreConflict, id)
}

func toMatchRecord(match *entity.Match) matchRecord {
	record := matchRecord{
		MatchID: match.ID,
		Board:   match.Board[:],
		Turn:    match.Turn,
		Winner:  match.Winner,
		ScoreX:  match.ScoreX,
		ScoreO:  match.ScoreO,
		Version: match.Version,
	}

	if match.ParticipantX != nil {
		record.ParticipantX = &participantRecord{EndpointID: match.ParticipantX.EndpointID, PlayerID: match.ParticipantX.PlayerID}
	}

	if match.ParticipantO != nil {
		record.ParticipantO = &participantRecord{EndpointID: match.ParticipantO.EndpointID, PlayerID: match.ParticipantO.PlayerID}
	}

	return record
}

func (that matchRecord) toEntity() *entity.Match {
	match := &entity.Match{
		ID:      that.MatchID,
		Turn:    that.Turn,
		Winner:  that.Winner,
		ScoreX:  that.ScoreX,
		ScoreO:  that.ScoreO,
		Version: that.Version,
	}

	copy(match.Board[:], that.Board)

	if that.ParticipantX != nil {
		match.ParticipantX = &entity.Participant{EndpointID: that.ParticipantX.EndpointID, PlayerID: that.ParticipantX.PlayerID}
	}

	if that.ParticipantO != nil {
		match.ParticipantO = &entity.Participant{EndpointID: that.ParticipantO.EndpointID, PlayerID: that.ParticipantO.PlayerID}
	}

	return match
}
