package ddb

import (
	"context"
	"gatekeep/internal/types"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// LockStore implements ports.LockStore with one item per lock key. An item whose
// expires_at_ms is in the past is treated as free even before DynamoDB reaps it.
type LockStore struct {
	table string
	cli   *dynamodb.Client
}

type leaseItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	Token       string `dynamodbav:"token"`
	ExpiresAtMs int64  `dynamodbav:"expires_at_ms"`
	TTL         int64  `dynamodbav:"ttl"`
}

func NewLockStore(table string, cli *dynamodb.Client) *LockStore {
	createTableIfNotExists(cli, table)
	return &LockStore{table: table, cli: cli}
}

func (s *LockStore) itemKey(key string) map[string]ddbTypes.AttributeValue {
	return map[string]ddbTypes.AttributeValue{
		"PK": &ddbTypes.AttributeValueMemberS{Value: pkLock(key)},
		"SK": &ddbTypes.AttributeValueMemberS{Value: skLease()},
	}
}

// SetIfAbsent writes the lease unless an unexpired one exists.
func (s *LockStore) SetIfAbsent(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	now := time.Now()
	expires := now.Add(ttl)
	av, err := attributevalue.MarshalMap(leaseItem{
		PK:          pkLock(key),
		SK:          skLease(),
		Token:       token,
		ExpiresAtMs: expires.UnixMilli(),
		TTL:         expires.Unix() + 1,
	})
	if err != nil {
		return false, err
	}
	_, err = s.cli.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.table,
		Item:                av,
		ConditionExpression: awsString("attribute_not_exists(PK) OR #exp < :now"),
		ExpressionAttributeNames: map[string]string{
			"#exp": "expires_at_ms",
		},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":now": &ddbTypes.AttributeValueMemberN{Value: itoa(now.UnixMilli())},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, types.Err(types.ErrStoreAccess, err, "acquire %s", key)
	}
	return true, nil
}

func (s *LockStore) Delete(ctx context.Context, key string) error {
	_, err := s.cli.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &s.table,
		Key:       s.itemKey(key),
	})
	if err != nil {
		return types.Err(types.ErrStoreAccess, err, "release %s", key)
	}
	return nil
}

func (s *LockStore) DeleteIfHolder(ctx context.Context, key, token string) (bool, error) {
	_, err := s.cli.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           &s.table,
		Key:                 s.itemKey(key),
		ConditionExpression: awsString("#tok = :tok"),
		ExpressionAttributeNames: map[string]string{
			"#tok": "token",
		},
		ExpressionAttributeValues: map[string]ddbTypes.AttributeValue{
			":tok": &ddbTypes.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, types.Err(types.ErrStoreAccess, err, "release %s", key)
	}
	return true, nil
}

func (s *LockStore) Holder(ctx context.Context, key string) (string, error) {
	out, err := s.cli.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		ConsistentRead: awsBool(true),
		Key:            s.itemKey(key),
	})
	if err != nil {
		return "", types.Err(types.ErrStoreAccess, err, "holder %s", key)
	}
	if out.Item == nil {
		return "", nil
	}
	var it leaseItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return "", err
	}
	if it.ExpiresAtMs <= time.Now().UnixMilli() {
		return "", nil
	}
	return it.Token, nil
}
