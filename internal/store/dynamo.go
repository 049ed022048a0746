package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Dynamo is a DynamoDB-backed Store.
//
// Keys are hierarchical paths like "rooms/<room>/offer". The first two path
// segments become the partition key and the remainder the sort key, so every
// record of one room lands in one partition and prefix listing maps onto a
// single Query with begins_with. DynamoDB's per-item atomicity satisfies the
// Store contract; nothing spans items.
type Dynamo struct {
	client *dynamodb.Client
	table  string
}

type dynamoItem struct {
	PK    string `dynamodbav:"pk"`
	SK    string `dynamodbav:"sk"`
	Value []byte `dynamodbav:"value"`
}

// NewDynamo builds a Dynamo store from the ambient AWS configuration
// (environment, shared config files, instance role).
func NewDynamo(ctx context.Context, table string) (*Dynamo, error) {
	if table == "" {
		return nil, errors.New("dynamo store: table name is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("dynamo store: load aws config: %w", err)
	}
	return &Dynamo{client: dynamodb.NewFromConfig(cfg), table: table}, nil
}

// NewDynamoWithClient is the injection point for tests and custom endpoints.
func NewDynamoWithClient(client *dynamodb.Client, table string) *Dynamo {
	return &Dynamo{client: client, table: table}
}

// splitKey maps a flat key onto (pk, sk). The key must have at least three
// segments; the Store contract's prefix-listing callers always operate below
// a room, so two-segment prefixes split into (pk, "").
func splitKey(key string) (string, string, error) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("dynamo store: key %q has no partition segments", key)
	}
	if len(parts) == 2 {
		return parts[0] + "/" + parts[1], "", nil
	}
	return parts[0] + "/" + parts[1], parts[2], nil
}

func (s *Dynamo) Get(ctx context.Context, key string) ([]byte, error) {
	pk, sk, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk},
			"sk": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo store: get %q: %w", key, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("dynamo store: unmarshal %q: %w", key, err)
	}
	return item.Value, nil
}

func (s *Dynamo) Set(ctx context.Context, key string, value []byte) error {
	pk, sk, err := splitKey(key)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(dynamoItem{PK: pk, SK: sk, Value: value})
	if err != nil {
		return fmt.Errorf("dynamo store: marshal %q: %w", key, err)
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("dynamo store: put %q: %w", key, err)
	}
	return nil
}

func (s *Dynamo) Delete(ctx context.Context, key string) error {
	pk, sk, err := splitKey(key)
	if err != nil {
		return err
	}
	// DeleteItem succeeds whether or not the item exists, which matches the
	// Store contract's idempotent delete.
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: pk},
			"sk": &types.AttributeValueMemberS{Value: sk},
		},
	}); err != nil {
		return fmt.Errorf("dynamo store: delete %q: %w", key, err)
	}
	return nil
}

func (s *Dynamo) List(ctx context.Context, prefix string) ([]Entry, error) {
	pk, skPrefix, err := splitKey(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return nil, err
	}

	keyCond := "pk = :pk"
	exprValues := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: pk},
	}
	if skPrefix != "" {
		keyCond = "pk = :pk AND begins_with(sk, :sk)"
		exprValues[":sk"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	var entries []Entry
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    aws.String(keyCond),
			ExpressionAttributeValues: exprValues,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamo store: list %q: %w", prefix, err)
		}
		for _, raw := range out.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("dynamo store: unmarshal list item: %w", err)
			}
			key := item.PK
			if item.SK != "" {
				key = item.PK + "/" + item.SK
			}
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			entries = append(entries, Entry{Key: key, Value: item.Value})
		}
		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	// Query returns items ordered by sort key within the partition, which is
	// the List contract's key order.
	return entries, nil
}
