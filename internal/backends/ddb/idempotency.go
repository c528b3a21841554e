package ddb

import (
	"context"
	"gatekeep/internal/types"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// IdempotencyStore implements ports.IdempotencyStore with one item per reference.
type IdempotencyStore struct {
	table string
	cli   *dynamodb.Client
}

type idempotencyItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	types.IdempotencyRecord
	ExpiresAt int64 `dynamodbav:"ttl"`
}

func NewIdempotencyStore(table string, cli *dynamodb.Client) *IdempotencyStore {
	createTableIfNotExists(cli, table)
	return &IdempotencyStore{table: table, cli: cli}
}

func (s *IdempotencyStore) Get(ctx context.Context, reference string) (*types.IdempotencyRecord, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		ConsistentRead: awsBool(true),
		Key: map[string]ddbTypes.AttributeValue{
			"PK": &ddbTypes.AttributeValueMemberS{Value: pkIdem(reference)},
			"SK": &ddbTypes.AttributeValueMemberS{Value: skResult()},
		},
	})
	if err != nil {
		return nil, types.Err(types.ErrStoreAccess, err, "get idempotency record %s", reference)
	}
	if out.Item == nil {
		return nil, nil
	}
	var it idempotencyItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, types.Err(types.ErrStoreAccess, err, "decode idempotency record %s", reference)
	}
	// Expired but not reaped yet.
	if it.ExpiresAt <= time.Now().Unix() {
		return nil, nil
	}
	return &it.IdempotencyRecord, nil
}

// PutIfAbsent writes rec unless an unexpired record exists for the same reference.
func (s *IdempotencyStore) PutIfAbsent(ctx context.Context, rec types.IdempotencyRecord, ttl time.Duration) (bool, error) {
	now := time.Now()
	av, err := attributevalue.MarshalMap(idempotencyItem{
		PK:                pkIdem(rec.Reference),
		SK:                skResult(),
		IdempotencyRecord: rec,
		ExpiresAt:         now.Add(ttl).Unix(),
	})
	if err != nil {
		return false, err
	}
	_, err = s.cli.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.table,
		Item:                av,
		ConditionExpression: awsString("attribute_not_exists(PK) OR #ttl <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": ttlAttribute,
		},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":now": &ddbTypes.AttributeValueMemberN{Value: itoa(now.Unix())},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, types.Err(types.ErrStoreAccess, err, "put idempotency record %s", rec.Reference)
	}
	return true, nil
}
