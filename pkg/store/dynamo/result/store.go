package result

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/de-tools/cloud-sentry/pkg/models/store"
	resultstore "github.com/de-tools/cloud-sentry/pkg/store/result"
)

// API is the slice of the DynamoDB client the store uses.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type resultStore struct {
	client API
	table  string
}

// NewStore returns a result.Store over a DynamoDB table with partition key
// `pk` (account id) and sort key `sk` (composite key from pkg/store/result).
func NewStore(client API, table string) (resultstore.Store, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamodb client is nil")
	}
	if table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	return &resultStore{client: client, table: table}, nil
}

type row struct {
	PK               string `dynamodbav:"pk"`
	SK               string `dynamodbav:"sk"`
	RunID            string `dynamodbav:"run_id,omitempty"`
	Payload          string `dynamodbav:"payload,omitempty"`
	ResourcesScanned int    `dynamodbav:"resources_scanned"`
	Score            int    `dynamodbav:"score"`
	Partial          bool   `dynamodbav:"partial"`
	Reconstructed    bool   `dynamodbav:"reconstructed"`
	ScannedAt        int64  `dynamodbav:"scanned_at"`
}

func (s *resultStore) put(ctx context.Context, r row, condition *string, values map[string]types.AttributeValue) error {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ConditionExpression:       condition,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			// Condition losses are expected: a stale current-side write or
			// a rewrite of an existing history record. Both are no-ops.
			return nil
		}
		return fmt.Errorf("put record %s: %w", r.SK, err)
	}
	return nil
}

func (s *resultStore) PutCurrent(ctx context.Context, rec store.CurrentRecord) error {
	key, err := resultstore.CurrentKey(rec.CheckID, rec.Scope)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	return s.put(ctx, row{
		PK:               rec.AccountID,
		SK:               key,
		RunID:            rec.RunID,
		Payload:          string(payload),
		ResourcesScanned: rec.ResourcesScanned,
		ScannedAt:        rec.ScannedAt.Unix(),
	},
		aws.String("attribute_not_exists(sk) OR scanned_at <= :ts"),
		map[string]types.AttributeValue{
			":ts": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", rec.ScannedAt.Unix())},
		})
}

func (s *resultStore) RepairCurrent(ctx context.Context, rec store.CurrentRecord) error {
	key, err := resultstore.CurrentKey(rec.CheckID, rec.Scope)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	return s.put(ctx, row{
		PK:               rec.AccountID,
		SK:               key,
		RunID:            rec.RunID,
		Payload:          string(payload),
		ResourcesScanned: rec.ResourcesScanned,
		ScannedAt:        rec.ScannedAt.Unix(),
	}, nil, nil)
}

func (s *resultStore) PutItems(ctx context.Context, items []store.ItemRecord) error {
	for _, item := range items {
		key, err := resultstore.ItemKey(item.CheckID, item.Scope, item.ResourceID)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(item.Finding)
		if err != nil {
			return fmt.Errorf("marshal item finding: %w", err)
		}
		err = s.put(ctx, row{
			PK:               item.AccountID,
			SK:               key,
			RunID:            item.RunID,
			Payload:          string(payload),
			ResourcesScanned: 1,
			ScannedAt:        item.ScannedAt.Unix(),
		}, nil, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *resultStore) DeleteItems(ctx context.Context, accountID, checkID, scope string) error {
	prefix, err := resultstore.ItemPrefix(checkID, scope)
	if err != nil {
		return err
	}

	rows, err := s.queryPrefix(ctx, accountID, prefix, 0)
	if err != nil {
		return err
	}
	for _, r := range rows {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key: map[string]types.AttributeValue{
				"pk": &types.AttributeValueMemberS{Value: accountID},
				"sk": &types.AttributeValueMemberS{Value: r.SK},
			},
		})
		if err != nil {
			return fmt.Errorf("delete item record %s: %w", r.SK, err)
		}
	}
	return nil
}

func (s *resultStore) PutHistory(ctx context.Context, rec store.HistoryRecord) error {
	key, err := resultstore.HistoryKey(rec.CheckID, rec.Scope, rec.ScannedAt, rec.RunID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rec.Findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}

	// History is append-only.
	return s.put(ctx, row{
		PK:               rec.AccountID,
		SK:               key,
		RunID:            rec.RunID,
		Payload:          string(payload),
		ResourcesScanned: rec.ResourcesScanned,
		Score:            rec.Score,
		Partial:          rec.Partial,
		Reconstructed:    rec.Reconstructed,
		ScannedAt:        rec.ScannedAt.Unix(),
	}, aws.String("attribute_not_exists(sk)"), nil)
}

func (s *resultStore) GetCurrent(ctx context.Context, accountID, checkID, scope string) (*store.CurrentRecord, error) {
	key, err := resultstore.CurrentKey(checkID, scope)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: accountID},
			"sk": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get current record: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, resultstore.ErrNotFound
	}

	var r row
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	findings, err := unmarshalFindings(r.Payload)
	if err != nil {
		return nil, err
	}
	return &store.CurrentRecord{
		AccountID:        accountID,
		CheckID:          checkID,
		Scope:            scope,
		RunID:            r.RunID,
		Findings:         findings,
		ResourcesScanned: r.ResourcesScanned,
		ScannedAt:        time.Unix(r.ScannedAt, 0).UTC(),
	}, nil
}

func (s *resultStore) ListItems(ctx context.Context, accountID, checkID, scope string) ([]store.ItemRecord, error) {
	prefix, err := resultstore.ItemPrefix(checkID, scope)
	if err != nil {
		return nil, err
	}

	rows, err := s.queryPrefix(ctx, accountID, prefix, 0)
	if err != nil {
		return nil, err
	}

	items := make([]store.ItemRecord, 0, len(rows))
	for _, r := range rows {
		key, err := resultstore.ParseKey(r.SK)
		if err != nil {
			return nil, err
		}
		var finding store.Finding
		if err := json.Unmarshal([]byte(r.Payload), &finding); err != nil {
			return nil, fmt.Errorf("unmarshal item finding: %w", err)
		}
		items = append(items, store.ItemRecord{
			AccountID:  accountID,
			CheckID:    key.CheckID,
			Scope:      key.Scope,
			ResourceID: key.ResourceID,
			RunID:      r.RunID,
			Finding:    finding,
			ScannedAt:  time.Unix(r.ScannedAt, 0).UTC(),
		})
	}
	return items, nil
}

func (s *resultStore) QueryHistory(ctx context.Context, accountID, checkID, scope string, limit int) ([]store.HistoryRecord, error) {
	prefix, err := resultstore.HistoryPrefix(checkID, scope)
	if err != nil {
		return nil, err
	}

	rows, err := s.queryPrefix(ctx, accountID, prefix, limit)
	if err != nil {
		return nil, err
	}

	records := make([]store.HistoryRecord, 0, len(rows))
	for _, r := range rows {
		key, err := resultstore.ParseKey(r.SK)
		if err != nil {
			return nil, err
		}
		findings, err := unmarshalFindings(r.Payload)
		if err != nil {
			return nil, err
		}
		records = append(records, store.HistoryRecord{
			AccountID:        accountID,
			CheckID:          key.CheckID,
			Scope:            key.Scope,
			RunID:            r.RunID,
			Findings:         findings,
			ResourcesScanned: r.ResourcesScanned,
			Score:            r.Score,
			ScannedAt:        time.Unix(r.ScannedAt, 0).UTC(),
			Partial:          r.Partial,
			Reconstructed:    r.Reconstructed,
		})
	}
	return records, nil
}

func (s *resultStore) FindHistory(ctx context.Context, accountID, checkID, scope, runID string) (*store.HistoryRecord, error) {
	records, err := s.QueryHistory(ctx, accountID, checkID, scope, 0)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].RunID == runID {
			return &records[i], nil
		}
	}
	return nil, resultstore.ErrNotFound
}

// queryPrefix runs an ascending sort-key range scan; with the inverted
// timestamp encoding that order is newest-first for history records.
func (s *resultStore) queryPrefix(ctx context.Context, accountID, prefix string, limit int) ([]row, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pk = :pk AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: accountID},
			":prefix": &types.AttributeValueMemberS{Value: prefix},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	rows := make([]row, 0)
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query records: %w", err)
		}
		for _, item := range out.Items {
			var r row
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				return nil, fmt.Errorf("unmarshal record: %w", err)
			}
			rows = append(rows, r)
		}
		if out.LastEvaluatedKey == nil || (limit > 0 && len(rows) >= limit) {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func unmarshalFindings(payload string) ([]store.Finding, error) {
	findings := make([]store.Finding, 0)
	if payload != "" {
		if err := json.Unmarshal([]byte(payload), &findings); err != nil {
			return nil, fmt.Errorf("unmarshal findings: %w", err)
		}
	}
	return findings, nil
}
