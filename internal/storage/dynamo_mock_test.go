package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamoDB is an in-memory stand-in for the subset of DynamoDB the store
// uses. Query pages hold at most pageSize items.
type mockDynamoDB struct {
	mu       sync.Mutex
	tables   map[string]map[string]map[string]types.AttributeValue
	pageSize int
	failWith error
	queries  int
}

func newMockDynamoDB() *mockDynamoDB {
	return &mockDynamoDB{
		tables:   make(map[string]map[string]map[string]types.AttributeValue),
		pageSize: 2,
	}
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (m *mockDynamoDB) partition(collection string) map[string]map[string]types.AttributeValue {
	p, ok := m.tables[collection]
	if !ok {
		p = make(map[string]map[string]types.AttributeValue)
		m.tables[collection] = p
	}
	return p
}

func (m *mockDynamoDB) GetItem(_ context.Context, in *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	item := m.partition(stringAttr(in.Key, "collection"))[stringAttr(in.Key, "key")]
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamoDB) PutItem(_ context.Context, in *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.partition(stringAttr(in.Item, "collection"))[stringAttr(in.Item, "key")] = in.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamoDB) Query(_ context.Context, in *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.queries++

	collection := stringAttr(in.ExpressionAttributeValues, ":c")
	p := m.partition(collection)
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	after := ""
	if in.ExclusiveStartKey != nil {
		after = stringAttr(in.ExclusiveStartKey, "key")
	}

	out := &dyn.QueryOutput{}
	for _, k := range keys {
		if after != "" && k <= after {
			continue
		}
		if len(out.Items) == m.pageSize {
			last := out.Items[len(out.Items)-1]
			out.LastEvaluatedKey = map[string]types.AttributeValue{
				"collection": last["collection"],
				"key":        last["key"],
			}
			break
		}
		out.Items = append(out.Items, p[k])
	}
	return out, nil
}

func (m *mockDynamoDB) TransactWriteItems(_ context.Context, in *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	if len(in.TransactItems) > maxTransactItems {
		return nil, errors.New("ValidationException: too many items")
	}
	for _, item := range in.TransactItems {
		switch {
		case item.Put != nil:
			m.partition(stringAttr(item.Put.Item, "collection"))[stringAttr(item.Put.Item, "key")] = item.Put.Item
		case item.Delete != nil:
			delete(m.partition(stringAttr(item.Delete.Key, "collection")), stringAttr(item.Delete.Key, "key"))
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

var _ DynamoDBAPI = (*mockDynamoDB)(nil)
