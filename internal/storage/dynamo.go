package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

const (
	dynamoBackend = "dynamodb"

	// documentsCollection holds named documents alongside regular collections.
	documentsCollection = "_documents"

	// maxTransactItems is the DynamoDB limit per TransactWriteItems call.
	maxTransactItems = 100
)

// DynamoDBAPI is the subset of the DynamoDB client the store needs.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error)
	PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error)
	Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error)
}

// dynamoItem is the shape persisted in the table. The partition key is
// collection and the sort key is key.
type dynamoItem struct {
	Collection string    `dynamodbav:"collection"`
	Key        string    `dynamodbav:"key"`
	Body       string    `dynamodbav:"body"`
	UpdatedAt  time.Time `dynamodbav:"updated_at"`
}

// DynamoStore implements Port on a single DynamoDB table.
type DynamoStore struct {
	client    DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore returns a store bound to tableName.
func NewDynamoStore(client DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *DynamoStore) Backend() string { return dynamoBackend }

func (s *DynamoStore) Close() error { return nil }

// LoadDocument implements Port.
func (s *DynamoStore) LoadDocument(ctx context.Context, name string, dst any) (bool, error) {
	item, found, err := s.get(ctx, documentsCollection, name)
	if err != nil {
		return false, wrapErr(dynamoBackend, "load", name, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal([]byte(item.Body), dst); err != nil {
		return false, wrapErr(dynamoBackend, "load", name, fmt.Errorf("corrupt document: %w", err))
	}
	return true, nil
}

// SaveDocument implements Port.
func (s *DynamoStore) SaveDocument(ctx context.Context, name string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return wrapErr(dynamoBackend, "save", name, err)
	}
	return wrapErr(dynamoBackend, "save", name, s.put(ctx, documentsCollection, name, raw))
}

// Find implements Port.
func (s *DynamoStore) Find(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, wrapErr(dynamoBackend, "find", collection, err)
	}
	records, err := s.query(ctx, collection, filter)
	if err != nil {
		return nil, wrapErr(dynamoBackend, "find", collection, err)
	}
	return records, nil
}

// InsertMany implements Port. Records are written in transactions of up to
// 100 items; a later record with the same key wins.
func (s *DynamoStore) InsertMany(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	order := make([]string, 0, len(records))
	latest := make(map[string]Body, len(records))
	for _, rec := range records {
		if rec.Key == "" {
			return wrapErr(dynamoBackend, "insert", collection, ErrEmptyKey)
		}
		if _, seen := latest[rec.Key]; !seen {
			order = append(order, rec.Key)
		}
		latest[rec.Key] = rec.Body
	}

	items := make([]types.TransactWriteItem, 0, len(order))
	for _, key := range order {
		body := latest[key]
		if body == nil {
			body = Body{}
		}
		raw, err := json.Marshal(body)
		if err != nil {
			return wrapErr(dynamoBackend, "insert", collection, err)
		}
		av, err := s.marshalItem(collection, key, raw)
		if err != nil {
			return wrapErr(dynamoBackend, "insert", collection, err)
		}
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{TableName: &s.tableName, Item: av},
		})
	}
	return wrapErr(dynamoBackend, "insert", collection, s.transact(ctx, items))
}

// DeleteMany implements Port.
func (s *DynamoStore) DeleteMany(ctx context.Context, collection string, filter Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, wrapErr(dynamoBackend, "delete", collection, err)
	}
	matched, err := s.query(ctx, collection, filter)
	if err != nil {
		return 0, wrapErr(dynamoBackend, "delete", collection, err)
	}
	if len(matched) == 0 {
		return 0, nil
	}

	items := make([]types.TransactWriteItem, 0, len(matched))
	for _, rec := range matched {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{TableName: &s.tableName, Key: itemKey(collection, rec.Key)},
		})
	}
	if err := s.transact(ctx, items); err != nil {
		return 0, wrapErr(dynamoBackend, "delete", collection, err)
	}
	return len(matched), nil
}

// Upsert implements Port.
func (s *DynamoStore) Upsert(ctx context.Context, collection, key string, body Body) error {
	if key == "" {
		return wrapErr(dynamoBackend, "upsert", collection, ErrEmptyKey)
	}
	if body == nil {
		body = Body{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return wrapErr(dynamoBackend, "upsert", collection, err)
	}
	return wrapErr(dynamoBackend, "upsert", collection, s.put(ctx, collection, key, raw))
}

func (s *DynamoStore) get(ctx context.Context, collection, key string) (dynamoItem, bool, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            itemKey(collection, key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return dynamoItem{}, false, describeAPIError(fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return dynamoItem{}, false, nil
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return dynamoItem{}, false, fmt.Errorf("unmarshal item: %w", err)
	}
	return item, true, nil
}

func (s *DynamoStore) put(ctx context.Context, collection, key string, raw []byte) error {
	av, err := s.marshalItem(collection, key, raw)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{TableName: &s.tableName, Item: av}); err != nil {
		return describeAPIError(fmt.Errorf("put item: %w", err))
	}
	return nil
}

func (s *DynamoStore) query(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	records := make([]Record, 0)
	var startKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:                &s.tableName,
			KeyConditionExpression:   awsString("#c = :c"),
			ExpressionAttributeNames: map[string]string{"#c": "collection"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":c": &types.AttributeValueMemberS{Value: collection},
			},
			ConsistentRead:    awsBool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, describeAPIError(fmt.Errorf("query: %w", err))
		}
		for _, av := range out.Items {
			var item dynamoItem
			if err := attributevalue.UnmarshalMap(av, &item); err != nil {
				return nil, fmt.Errorf("unmarshal item: %w", err)
			}
			body, err := decodeBody([]byte(item.Body))
			if err != nil {
				return nil, fmt.Errorf("record %q: %w", item.Key, err)
			}
			if filter.Match(body) {
				records = append(records, Record{Key: item.Key, Body: body})
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func (s *DynamoStore) transact(ctx context.Context, items []types.TransactWriteItem) error {
	for start := 0; start < len(items); start += maxTransactItems {
		end := min(start+maxTransactItems, len(items))
		_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
			TransactItems: items[start:end],
		})
		if err != nil {
			var tce *types.TransactionCanceledException
			if errors.As(err, &tce) {
				return fmt.Errorf("transaction canceled: %w", err)
			}
			return describeAPIError(fmt.Errorf("transact write: %w", err))
		}
	}
	return nil
}

func (s *DynamoStore) marshalItem(collection, key string, raw []byte) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(dynamoItem{
		Collection: collection,
		Key:        key,
		Body:       string(raw),
		UpdatedAt:  s.nowFunc().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return av, nil
}

func itemKey(collection, key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"collection": &types.AttributeValueMemberS{Value: collection},
		"key":        &types.AttributeValueMemberS{Value: key},
	}
}

// describeAPIError prefixes service errors with their DynamoDB error code.
func describeAPIError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)
	}
	return err
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }

var _ Port = (*DynamoStore)(nil)
