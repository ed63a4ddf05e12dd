package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// LoadPatterns returns every stored pattern ordered by id.
func (s *Store) LoadPatterns(ctx context.Context) ([]types.LearningPattern, error) {
	items, err := s.queryAll(ctx, pkLearning, prefixPattern)
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}

	patterns := make([]types.LearningPattern, 0, len(items))
	for _, item := range items {
		data, err := attributeStr(item, "data")
		if err != nil {
			return nil, fmt.Errorf("%w: pattern item: %v", provider.ErrCorrupt, err)
		}
		var p types.LearningPattern
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("%w: pattern data: %v", provider.ErrCorrupt, err)
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// SavePatterns upserts each pattern under its own item.
func (s *Store) SavePatterns(ctx context.Context, patterns []types.LearningPattern) error {
	for _, p := range patterns {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshaling pattern %s: %w", p.PatternID, err)
		}
		confidence, err := attributevalue.Marshal(p.ConfidenceScore)
		if err != nil {
			return err
		}
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: &s.tableName,
			Item: map[string]ddbtypes.AttributeValue{
				"PK":         &ddbtypes.AttributeValueMemberS{Value: pkLearning},
				"SK":         &ddbtypes.AttributeValueMemberS{Value: patternSK(p.PatternID)},
				"data":       &ddbtypes.AttributeValueMemberS{Value: string(data)},
				"confidence": confidence,
			},
		})
		if err != nil {
			return fmt.Errorf("saving pattern %s: %w", p.PatternID, err)
		}
	}
	return nil
}
