package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// AppendEntry stores one history entry.
func (s *Store) AppendEntry(ctx context.Context, entry types.ChangeHistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item: map[string]ddbtypes.AttributeValue{
			"PK":      &ddbtypes.AttributeValueMemberS{Value: pkHistory},
			"SK":      &ddbtypes.AttributeValueMemberS{Value: entrySK()},
			"cycleId": &ddbtypes.AttributeValueMemberS{Value: entry.CycleID},
			"type":    &ddbtypes.AttributeValueMemberS{Value: string(entry.Type)},
			"data":    &ddbtypes.AttributeValueMemberS{Value: string(data)},
		},
	})
	if err != nil {
		return fmt.Errorf("appending entry: %w", err)
	}
	return nil
}

// ListEntries returns all entries in append order.
func (s *Store) ListEntries(ctx context.Context) ([]types.ChangeHistoryEntry, error) {
	items, err := s.queryAll(ctx, pkHistory, prefixEntry)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	entries := make([]types.ChangeHistoryEntry, 0, len(items))
	for _, item := range items {
		data, err := attributeStr(item, "data")
		if err != nil {
			return nil, fmt.Errorf("%w: history item: %v", provider.ErrCorrupt, err)
		}
		var e types.ChangeHistoryEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("%w: history data: %v", provider.ErrCorrupt, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ClearEntries deletes every history item.
func (s *Store) ClearEntries(ctx context.Context) (int, error) {
	items, err := s.queryAll(ctx, pkHistory, prefixEntry)
	if err != nil {
		return 0, fmt.Errorf("querying history: %w", err)
	}
	for i, item := range items {
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: &s.tableName,
			Key: map[string]ddbtypes.AttributeValue{
				"PK": item["PK"],
				"SK": item["SK"],
			},
		})
		if err != nil {
			return i, fmt.Errorf("deleting history item: %w", err)
		}
	}
	return len(items), nil
}
