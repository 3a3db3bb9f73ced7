package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	ddb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/sethvargo/go-retry"
)

// Attribute names shared by the entity and tree tables.
const (
	AttrWorkspace    = "workspaceId"
	AttrEntity       = "entityId"
	AttrAlternateKey = "ak"
	AttrTree         = "tree"
	AttrPath         = "path"
)

const (
	// MaxBatchWriteItems is the DynamoDB BatchWriteItem cardinality limit.
	MaxBatchWriteItems = 25

	// MaxTransactItems is the DynamoDB TransactWriteItems cardinality limit.
	MaxTransactItems = 100
)

// Item is an attribute map in application form; the Store marshals it to and
// from DynamoDB attribute values at the wire boundary.
type Item map[string]any

// GetString returns the named attribute as a string, or "" if absent or of
// another type.
func (i Item) GetString(name string) string {
	s, _ := i[name].(string)
	return s
}

// GetInt64 returns the named attribute as an int64. Numbers unmarshalled from
// DynamoDB arrive as float64.
func (i Item) GetInt64(name string) int64 {
	switch v := i[name].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

// Filter is a declarative equality predicate applied to non-key attributes
// during a query.
type Filter struct {
	Attr string
	Eq   any
}

// Store wraps a DynamoDB client with the arbor table layout.
type Store struct {
	client DynamoClient
	config Config
	logger *slog.Logger
}

// New creates a Store. A nil logger falls back to slog.Default().
func New(client DynamoClient, config Config, logger *slog.Logger) *Store {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client: client,
		config: config,
		logger: logger,
	}
}

// Config returns the resolved table and index configuration.
func (s *Store) Config() Config {
	return s.config
}

// Get retrieves a single item by its full key, returning ErrNotFound when the
// item does not exist.
func (s *Store) Get(ctx context.Context, table string, key Item) (Item, error) {
	keyAttr, err := attributevalue.MarshalMap(map[string]any(key))
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	result, err := s.client.GetItem(ctx, &ddb.GetItemInput{
		TableName: aws.String(table),
		Key:       keyAttr,
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	return unmarshalItem(result.Item)
}

// Put writes an item, optionally gated by a condition. A rejected condition
// surfaces as ErrConditionFailed.
func (s *Store) Put(ctx context.Context, table string, item Item, cond *Condition) error {
	raw, err := attributevalue.MarshalMap(map[string]any(item))
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	input := &ddb.PutItemInput{
		TableName: aws.String(table),
		Item:      raw,
	}
	if cond != nil {
		expr, names, values, err := cond.render()
		if err != nil {
			return err
		}
		input.ConditionExpression = aws.String(expr)
		input.ExpressionAttributeNames = names
		if len(values) > 0 {
			input.ExpressionAttributeValues = values
		}
	}

	_, err = s.client.PutItem(ctx, input)
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return ErrConditionFailed
	}
	return err
}

// Delete removes an item by key. Deleting an absent item is a no-op.
func (s *Store) Delete(ctx context.Context, table string, key Item) error {
	keyAttr, err := attributevalue.MarshalMap(map[string]any(key))
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	_, err = s.client.DeleteItem(ctx, &ddb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       keyAttr,
	})
	return err
}

// QueryInput defines parameters for querying a table or index.
type QueryInput struct {
	// Table is the table to query.
	Table string

	// Index is the optional GSI to query.
	Index string

	// Partition and PartitionValue form the partition key equality condition.
	Partition      string
	PartitionValue any

	// SortAttr with SortBeginsWith or SortEq adds a sort key condition.
	// SortBeginsWith takes precedence when both are set.
	SortAttr       string
	SortBeginsWith string
	SortEq         any

	// Filters are equality predicates on non-key attributes.
	Filters []Filter

	// Limit caps the page size (0 = store default).
	Limit int32

	// StartKey is the opaque continuation key from a previous page.
	StartKey Item
}

// QueryOutput is one page of query results.
type QueryOutput struct {
	Items []Item

	// LastKey is the continuation key, nil when the result set is exhausted.
	LastKey Item
}

// Query returns a single page of results.
func (s *Store) Query(ctx context.Context, in QueryInput) (QueryOutput, error) {
	input, err := buildQuery(in)
	if err != nil {
		return QueryOutput{}, err
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return QueryOutput{}, err
	}

	result := QueryOutput{Items: make([]Item, 0, len(out.Items))}
	for _, raw := range out.Items {
		item, err := unmarshalItem(raw)
		if err != nil {
			return QueryOutput{}, err
		}
		result.Items = append(result.Items, item)
	}
	if out.LastEvaluatedKey != nil {
		lk, err := unmarshalItem(out.LastEvaluatedKey)
		if err != nil {
			return QueryOutput{}, err
		}
		result.LastKey = lk
	}
	return result, nil
}

// QueryAll follows continuation keys until the result set is exhausted.
func (s *Store) QueryAll(ctx context.Context, in QueryInput) ([]Item, error) {
	var items []Item
	for {
		page, err := s.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if page.LastKey == nil {
			return items, nil
		}
		in.StartKey = page.LastKey
	}
}

// GetByAlternateKey looks up entities by the alternate-key GSI, scoped to one
// workspace.
func (s *Store) GetByAlternateKey(ctx context.Context, workspaceID, alternateKey string) ([]Item, error) {
	return s.QueryAll(ctx, QueryInput{
		Table:          s.config.Table,
		Index:          s.config.AlternateKeyIndex,
		Partition:      AttrAlternateKey,
		PartitionValue: alternateKey,
		Filters:        []Filter{{Attr: AttrWorkspace, Eq: workspaceID}},
	})
}

func buildQuery(in QueryInput) (*ddb.QueryInput, error) {
	keyCond := expression.Key(in.Partition).Equal(expression.Value(in.PartitionValue))
	if in.SortAttr != "" {
		switch {
		case in.SortBeginsWith != "":
			keyCond = keyCond.And(expression.Key(in.SortAttr).BeginsWith(in.SortBeginsWith))
		case in.SortEq != nil:
			keyCond = keyCond.And(expression.Key(in.SortAttr).Equal(expression.Value(in.SortEq)))
		}
	}

	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if len(in.Filters) > 0 {
		filter := expression.Name(in.Filters[0].Attr).Equal(expression.Value(in.Filters[0].Eq))
		for _, f := range in.Filters[1:] {
			filter = filter.And(expression.Name(f.Attr).Equal(expression.Value(f.Eq)))
		}
		builder = builder.WithFilter(filter)
	}

	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build query expression: %w", err)
	}

	input := &ddb.QueryInput{
		TableName:                 aws.String(in.Table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if in.Index != "" {
		input.IndexName = aws.String(in.Index)
	}
	if in.Limit > 0 {
		input.Limit = aws.Int32(in.Limit)
	}
	if in.StartKey != nil {
		sk, err := attributevalue.MarshalMap(map[string]any(in.StartKey))
		if err != nil {
			return nil, fmt.Errorf("marshal start key: %w", err)
		}
		input.ExclusiveStartKey = sk
	}
	return input, nil
}

// WriteRequest is one element of a batch write: either a Put or a Delete.
type WriteRequest struct {
	Table string

	// Put is the full item to write. Mutually exclusive with Delete.
	Put Item

	// Delete is the key of the item to remove.
	Delete Item
}

// BatchWrite executes the requests in chunks of MaxBatchWriteItems. There is
// no atomicity across items; unprocessed items are resubmitted with
// exponential backoff. Every put and delete is idempotent, so a retried or
// re-invoked batch converges to the same end state.
func (s *Store) BatchWrite(ctx context.Context, writes []WriteRequest) error {
	for start := 0; start < len(writes); start += MaxBatchWriteItems {
		end := start + MaxBatchWriteItems
		if end > len(writes) {
			end = len(writes)
		}
		if err := s.batchWriteChunk(ctx, writes[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) batchWriteChunk(ctx context.Context, writes []WriteRequest) error {
	pending := make(map[string][]types.WriteRequest)
	for _, w := range writes {
		req, err := marshalWriteRequest(w)
		if err != nil {
			return err
		}
		pending[w.Table] = append(pending[w.Table], req)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := s.client.BatchWriteItem(ctx, &ddb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return err
		}
		if len(out.UnprocessedItems) > 0 {
			pending = out.UnprocessedItems
			s.logger.Warn("resubmitting unprocessed batch items",
				"count", countWriteRequests(pending),
			)
			return retry.RetryableError(fmt.Errorf("arbor: %d unprocessed batch items", countWriteRequests(pending)))
		}
		return nil
	})
}

func marshalWriteRequest(w WriteRequest) (types.WriteRequest, error) {
	switch {
	case w.Put != nil:
		raw, err := attributevalue.MarshalMap(map[string]any(w.Put))
		if err != nil {
			return types.WriteRequest{}, fmt.Errorf("marshal batch put: %w", err)
		}
		return types.WriteRequest{PutRequest: &types.PutRequest{Item: raw}}, nil
	case w.Delete != nil:
		raw, err := attributevalue.MarshalMap(map[string]any(w.Delete))
		if err != nil {
			return types.WriteRequest{}, fmt.Errorf("marshal batch delete: %w", err)
		}
		return types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: raw}}, nil
	}
	return types.WriteRequest{}, errors.New("arbor: empty write request")
}

func countWriteRequests(m map[string][]types.WriteRequest) int {
	n := 0
	for _, reqs := range m {
		n += len(reqs)
	}
	return n
}

// TransactItem is one element of a transactional write: either a Put
// (optionally conditional) or a Delete.
type TransactItem struct {
	Table string

	Put          Item
	PutCondition *Condition

	Delete Item
}

// TransactWrite executes all items atomically: either every write is applied
// or none is. A cancellation surfaces as *TransactionCanceledError with the
// index of the item whose condition failed.
func (s *Store) TransactWrite(ctx context.Context, items []TransactItem) error {
	if len(items) > MaxTransactItems {
		return fmt.Errorf("arbor: transaction of %d items exceeds limit %d", len(items), MaxTransactItems)
	}

	writeItems := make([]types.TransactWriteItem, 0, len(items))
	for _, item := range items {
		w, err := marshalTransactItem(item)
		if err != nil {
			return err
		}
		writeItems = append(writeItems, w)
	}

	_, err := s.client.TransactWriteItems(ctx, &ddb.TransactWriteItemsInput{
		TransactItems: writeItems,
	})
	return mapTransactionError(err)
}

func marshalTransactItem(item TransactItem) (types.TransactWriteItem, error) {
	switch {
	case item.Put != nil:
		raw, err := attributevalue.MarshalMap(map[string]any(item.Put))
		if err != nil {
			return types.TransactWriteItem{}, fmt.Errorf("marshal transact put: %w", err)
		}
		put := &types.Put{
			TableName: aws.String(item.Table),
			Item:      raw,
		}
		if item.PutCondition != nil {
			expr, names, values, err := item.PutCondition.render()
			if err != nil {
				return types.TransactWriteItem{}, err
			}
			put.ConditionExpression = aws.String(expr)
			put.ExpressionAttributeNames = names
			if len(values) > 0 {
				put.ExpressionAttributeValues = values
			}
		}
		return types.TransactWriteItem{Put: put}, nil
	case item.Delete != nil:
		raw, err := attributevalue.MarshalMap(map[string]any(item.Delete))
		if err != nil {
			return types.TransactWriteItem{}, fmt.Errorf("marshal transact delete: %w", err)
		}
		return types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(item.Table),
				Key:       raw,
			},
		}, nil
	}
	return types.TransactWriteItem{}, errors.New("arbor: empty transact item")
}

func mapTransactionError(err error) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		canceled := &TransactionCanceledError{FailedIndex: -1}
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code != "None" {
				canceled.Reasons = append(canceled.Reasons, *reason.Code)
				if canceled.FailedIndex == -1 && *reason.Code == "ConditionalCheckFailed" {
					canceled.FailedIndex = i
				}
			}
		}
		return canceled
	}

	return err
}

func unmarshalItem(raw map[string]types.AttributeValue) (Item, error) {
	var item map[string]any
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return Item(item), nil
}
