package result

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/de-tools/cloud-sentry/pkg/models/store"
	resultstore "github.com/de-tools/cloud-sentry/pkg/store/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDynamo keeps items per partition in sort-key order and honors the two
// condition expressions the store issues.
type fakeDynamo struct {
	partitions map[string]map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{partitions: map[string]map[string]map[string]types.AttributeValue{}}
}

func attrS(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func attrN(item map[string]types.AttributeValue, name string) int64 {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

func (f *fakeDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	pk := attrS(params.Item, "pk")
	sk := attrS(params.Item, "sk")

	part := f.partitions[pk]
	if part == nil {
		part = map[string]map[string]types.AttributeValue{}
		f.partitions[pk] = part
	}

	if params.ConditionExpression != nil {
		existing, exists := part[sk]
		switch cond := *params.ConditionExpression; cond {
		case "attribute_not_exists(sk)":
			if exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "attribute_not_exists(sk) OR scanned_at <= :ts":
			if exists {
				ts := attrN(map[string]types.AttributeValue{":ts": params.ExpressionAttributeValues[":ts"]}, ":ts")
				if attrN(existing, "scanned_at") > ts {
					return nil, &types.ConditionalCheckFailedException{}
				}
			}
		default:
			panic("unexpected condition: " + cond)
		}
	}

	part[sk] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	pk := attrS(params.Key, "pk")
	sk := attrS(params.Key, "sk")
	item := f.partitions[pk][sk]
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	pk := attrS(params.Key, "pk")
	sk := attrS(params.Key, "sk")
	delete(f.partitions[pk], sk)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	pk := attrS(map[string]types.AttributeValue{"pk": params.ExpressionAttributeValues[":pk"]}, "pk")
	prefix := attrS(map[string]types.AttributeValue{"p": params.ExpressionAttributeValues[":prefix"]}, "p")

	keys := make([]string, 0)
	for sk := range f.partitions[pk] {
		if strings.HasPrefix(sk, prefix) {
			keys = append(keys, sk)
		}
	}
	sort.Strings(keys)

	out := &dynamodb.QueryOutput{}
	for _, sk := range keys {
		out.Items = append(out.Items, f.partitions[pk][sk])
		if params.Limit != nil && len(out.Items) >= int(*params.Limit) {
			break
		}
	}
	return out, nil
}

func setupStore(t *testing.T) (resultstore.Store, *fakeDynamo) {
	fake := newFakeDynamo()
	s, err := NewStore(fake, "inspection-results")
	require.NoError(t, err)
	return s, fake
}

func TestNewStore_Validation(t *testing.T) {
	_, err := NewStore(nil, "table")
	assert.Error(t, err)

	_, err = NewStore(newFakeDynamo(), "")
	assert.Error(t, err)
}

func TestDynamoStore_CurrentRoundTrip(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	rec := store.CurrentRecord{
		AccountID: "a1",
		CheckID:   "public-access",
		Scope:     "a1",
		RunID:     "r1",
		Findings: []store.Finding{{
			ResourceID:     "bucket-1",
			ResourceType:   "s3",
			Issue:          "bucket policy allows public read",
			Recommendation: "enable the account-level public access block",
			Severity:       2,
		}},
		ResourcesScanned: 4,
		ScannedAt:        time.Unix(1000, 0).UTC(),
	}
	require.NoError(t, s.PutCurrent(ctx, rec))

	got, err := s.GetCurrent(ctx, "a1", "public-access", "a1")
	require.NoError(t, err)
	assert.Equal(t, rec, *got)

	_, err = s.GetCurrent(ctx, "a1", "open-ports", "a1")
	assert.ErrorIs(t, err, resultstore.ErrNotFound)
}

func TestDynamoStore_StaleCurrentWriteIsDropped(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutCurrent(ctx, store.CurrentRecord{
		AccountID: "a1", CheckID: "public-access", Scope: "a1",
		RunID: "r2", ScannedAt: time.Unix(2000, 0).UTC(),
	}))
	require.NoError(t, s.PutCurrent(ctx, store.CurrentRecord{
		AccountID: "a1", CheckID: "public-access", Scope: "a1",
		RunID: "r1", ScannedAt: time.Unix(1000, 0).UTC(),
	}))

	got, err := s.GetCurrent(ctx, "a1", "public-access", "a1")
	require.NoError(t, err)
	assert.Equal(t, "r2", got.RunID)

	require.NoError(t, s.RepairCurrent(ctx, store.CurrentRecord{
		AccountID: "a1", CheckID: "public-access", Scope: "a1",
		RunID: "r1", ScannedAt: time.Unix(1000, 0).UTC(),
	}))
	got, err = s.GetCurrent(ctx, "a1", "public-access", "a1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RunID)
}

func TestDynamoStore_HistoryScanAndImmutability(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	r1 := store.HistoryRecord{
		AccountID: "a1", CheckID: "public-access", Scope: "a1", RunID: "r1",
		Findings: []store.Finding{{ResourceID: "bucket-1", Issue: "public"}},
		Score:    80, ScannedAt: time.Unix(1000, 0).UTC(),
	}
	require.NoError(t, s.PutHistory(ctx, r1))
	require.NoError(t, s.PutHistory(ctx, store.HistoryRecord{
		AccountID: "a1", CheckID: "public-access", Scope: "a1", RunID: "r2",
		Findings: []store.Finding{}, Score: 100, ScannedAt: time.Unix(2000, 0).UTC(),
	}))

	records, err := s.QueryHistory(ctx, "a1", "public-access", "a1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r2", records[0].RunID)
	assert.Equal(t, "r1", records[1].RunID)

	// Re-appending r1 with different content is a silent no-op.
	mutated := r1
	mutated.Score = 0
	require.NoError(t, s.PutHistory(ctx, mutated))

	got, err := s.FindHistory(ctx, "a1", "public-access", "a1", "r1")
	require.NoError(t, err)
	assert.Equal(t, 80, got.Score)
}

func TestDynamoStore_ItemsScanExcludesCheckLevelRecord(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	at := time.Unix(1000, 0).UTC()

	require.NoError(t, s.PutCurrent(ctx, store.CurrentRecord{
		AccountID: "a1", CheckID: "public-access", Scope: "a1", RunID: "r1", ScannedAt: at,
	}))
	require.NoError(t, s.PutItems(ctx, []store.ItemRecord{
		{
			AccountID: "a1", CheckID: "public-access", Scope: "a1",
			ResourceID: "bucket-1", RunID: "r1",
			Finding:   store.Finding{ResourceID: "bucket-1", Issue: "public"},
			ScannedAt: at,
		},
	}))

	items, err := s.ListItems(ctx, "a1", "public-access", "a1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bucket-1", items[0].ResourceID)
	assert.Equal(t, "r1", items[0].RunID)
}
