package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBAPI defines the DynamoDB operations required by the state store.
type DynamoDBAPI interface {
	GetItem(
		ctx context.Context,
		params *dynamodb.GetItemInput,
		optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)

	PutItem(
		ctx context.Context,
		params *dynamodb.PutItemInput,
		optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore persists alert state in a DynamoDB table, one item per
// (account, function, metric) key. Writes are conditional on the version
// read, so concurrent invocations cannot lose updates.
type DynamoStore struct {
	client DynamoDBAPI
	table  string
}

// NewDynamoStore creates a DynamoStore backed by the given table.
func NewDynamoStore(client DynamoDBAPI, table string) *DynamoStore {
	return &DynamoStore{
		client: client,
		table:  table,
	}
}

type stateItem struct {
	PK         string    `dynamodbav:"pk"`
	Severity   string    `dynamodbav:"severity"`
	NotifiedAt time.Time `dynamodbav:"notifiedAt,unixtime"`
	Version    int64     `dynamodbav:"version"`
}

// Get reads the state entry for key. The second return value is false when
// no entry exists.
func (s *DynamoStore) Get(ctx context.Context, key string) (State, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"pk": &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return State{}, false, fmt.Errorf("cannot get alert state item: %w", err)
	}

	if len(out.Item) == 0 {
		return State{}, false, nil
	}

	var item stateItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return State{}, false, fmt.Errorf("cannot unmarshal alert state item: %w", err)
	}

	return State{
		Severity:   Severity(item.Severity),
		NotifiedAt: item.NotifiedAt,
		Version:    item.Version,
	}, true, nil
}

// Put writes the state entry for key, conditional on the stored version
// matching expectedVersion (or no entry existing when expectedVersion is
// zero). Returns ErrConditionFailed on a lost update.
func (s *DynamoStore) Put(ctx context.Context, key string, state State, expectedVersion int64) error {
	item, err := attributevalue.MarshalMap(stateItem{
		PK:         key,
		Severity:   string(state.Severity),
		NotifiedAt: state.NotifiedAt,
		Version:    state.Version,
	})
	if err != nil {
		return fmt.Errorf("cannot marshal alert state item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk) OR version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrConditionFailed
		}
		return fmt.Errorf("cannot put alert state item: %w", err)
	}

	return nil
}
