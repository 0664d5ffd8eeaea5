package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/contentsquare/hitcounter/config"
)

// counterID is the partition key of the single counter item.
const counterID = 1

// DynamoDBAPI is the part of *dynamodb.Client the store relies on.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type statsRecord struct {
	ID    int   `dynamodbav:"id"`
	Total int64 `dynamodbav:"total"`
}

type dynamoStore struct {
	db    DynamoDBAPI
	table string
}

// NewDynamoDB builds a client from the default AWS config chain.
// SDK retries are disabled so a throttled or timed out UpdateItem
// is never replayed.
func NewDynamoDB(ctx context.Context, cfg config.DynamoDB) (Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if len(cfg.Region) > 0 {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if len(cfg.Endpoint) > 0 {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDynamoDBWithClient(client, cfg.Table), nil
}

// NewDynamoDBWithClient keeps the counter in table through db.
func NewDynamoDBWithClient(db DynamoDBAPI, table string) Store {
	return &dynamoStore{db: db, table: table}
}

func (d *dynamoStore) Name() string { return "dynamodb" }

func (d *dynamoStore) key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberN{Value: fmt.Sprint(counterID)},
	}
}

func (d *dynamoStore) EnsureInitialized(ctx context.Context) error {
	item, err := attributevalue.MarshalMap(statsRecord{ID: counterID})
	if err != nil {
		return fmt.Errorf("BUG: cannot marshal counter record: %w", err)
	}
	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("id"))).
		Build()
	if err != nil {
		return fmt.Errorf("BUG: cannot build init condition: %w", err)
	}

	_, err = d.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(d.table),
		Item:                      item,
		ConditionExpression:       cond.Condition(),
		ExpressionAttributeNames:  cond.Names(),
		ExpressionAttributeValues: cond.Values(),
	})
	if isConditionFailed(err) {
		// someone else created it first
		return nil
	}
	if err != nil {
		return unavailable(d.Name(), "init", err)
	}
	return nil
}

func (d *dynamoStore) Read(ctx context.Context) (int64, error) {
	out, err := d.db.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, unavailable(d.Name(), "read", err)
	}
	if out.Item == nil {
		return 0, nil
	}
	var r statsRecord
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return 0, unavailable(d.Name(), "read", err)
	}
	return r.Total, nil
}

func (d *dynamoStore) Increment(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(d.Name(), "increment", err)
	}
	upd, err := expression.NewBuilder().
		WithUpdate(expression.Add(expression.Name("total"), expression.Value(1))).
		Build()
	if err != nil {
		return 0, fmt.Errorf("BUG: cannot build increment expression: %w", err)
	}

	out, err := d.db.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       d.key(),
		UpdateExpression:          upd.Update(),
		ExpressionAttributeNames:  upd.Names(),
		ExpressionAttributeValues: upd.Values(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, unavailable(d.Name(), "increment", err)
	}
	var r statsRecord
	if err := attributevalue.UnmarshalMap(out.Attributes, &r); err != nil {
		return 0, unavailable(d.Name(), "increment", err)
	}
	return r.Total, nil
}

func (d *dynamoStore) Ping(ctx context.Context) error {
	_, err := d.db.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.table),
	})
	if err != nil {
		return unavailable(d.Name(), "ping", err)
	}
	return nil
}

func (d *dynamoStore) Close() error { return nil }

func isConditionFailed(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode() == "ConditionalCheckFailedException"
	}
	return false
}
