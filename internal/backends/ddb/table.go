package ddb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbTypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
)

// Single table layout: PK is "<kind>#<id>", SK names the item within the partition and
// "ttl" holds the epoch second after which DynamoDB may reap the item.
const (
	SLock   = "LOCK"
	SIdem   = "IDEM"
	SLease  = "LEASE"
	SResult = "RESULT"

	ttlAttribute = "ttl"
)

func pkLock(key string) string { return fmt.Sprintf("%s#%s", SLock, key) }
func pkIdem(ref string) string { return fmt.Sprintf("%s#%s", SIdem, ref) }
func skLease() string          { return SLease }
func skResult() string         { return SResult }

func createTableIfNotExists(client *dynamodb.Client, table string) {
	_, err := client.CreateTable(context.Background(), &dynamodb.CreateTableInput{
		TableName: &table,
		AttributeDefinitions: []ddbTypes.AttributeDefinition{
			{AttributeName: awsString("PK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
			{AttributeName: awsString("SK"), AttributeType: ddbTypes.ScalarAttributeTypeS},
		},
		KeySchema: []ddbTypes.KeySchemaElement{
			{AttributeName: awsString("PK"), KeyType: ddbTypes.KeyTypeHash},
			{AttributeName: awsString("SK"), KeyType: ddbTypes.KeyTypeRange},
		},
		BillingMode: ddbTypes.BillingModePayPerRequest,
	})
	var re *ddbTypes.ResourceInUseException
	if err != nil && !errors.As(err, &re) {
		log.Fatalf("Failed to create table %s: %v", table, err)
	}
	if err == nil {
		enableTTL(client, table)
	}
}

// enableTTL lets DynamoDB reap expired items. Expiry is also checked on every read, so
// a failure here only costs storage.
func enableTTL(client *dynamodb.Client, table string) {
	_, err := client.UpdateTimeToLive(context.Background(), &dynamodb.UpdateTimeToLiveInput{
		TableName: &table,
		TimeToLiveSpecification: &ddbTypes.TimeToLiveSpecification{
			AttributeName: awsString(ttlAttribute),
			Enabled:       awsBool(true),
		},
	})
	if err != nil {
		log.WithError(err).WithField("table", table).Warn("failed to enable ttl")
	}
}

func itoa(i int64) string                { return strconv.FormatInt(i, 10) }
func awsString(s string) *string         { return &s }
func awsBool(b bool) *bool               { return &b }
func errorAs(err error, target any) bool { return errors.As(err, target) }

func isConditionFailed(err error) bool {
	var cc *ddbTypes.ConditionalCheckFailedException
	return errorAs(err, &cc)
}
