package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// LoadPatterns returns every stored pattern ordered by id.
func (s *Store) LoadPatterns(ctx context.Context) ([]types.LearningPattern, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT pattern_id, pattern_type, success_count, failure_count, average_improvement,
               applicable_contexts, confidence_score, last_updated
        FROM learning_patterns
        ORDER BY pattern_id`)
	if err != nil {
		return nil, fmt.Errorf("querying patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []types.LearningPattern
	for rows.Next() {
		var (
			p        types.LearningPattern
			contexts string
			updated  string
		)
		if err := rows.Scan(&p.PatternID, &p.PatternType, &p.SuccessCount, &p.FailureCount,
			&p.AverageImprovement, &contexts, &p.ConfidenceScore, &updated); err != nil {
			return nil, fmt.Errorf("%w: scanning pattern: %v", provider.ErrCorrupt, err)
		}
		if err := json.Unmarshal([]byte(contexts), &p.ApplicableContexts); err != nil {
			return nil, fmt.Errorf("%w: pattern %s contexts: %v", provider.ErrCorrupt, p.PatternID, err)
		}
		p.LastUpdated, err = time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %s last_updated: %v", provider.ErrCorrupt, p.PatternID, err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// SavePatterns upserts patterns in a single transaction.
func (s *Store) SavePatterns(ctx context.Context, patterns []types.LearningPattern) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO learning_patterns (pattern_id, pattern_type, success_count, failure_count,
            average_improvement, applicable_contexts, confidence_score, last_updated)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(pattern_id) DO UPDATE SET
            pattern_type = excluded.pattern_type,
            success_count = excluded.success_count,
            failure_count = excluded.failure_count,
            average_improvement = excluded.average_improvement,
            applicable_contexts = excluded.applicable_contexts,
            confidence_score = excluded.confidence_score,
            last_updated = excluded.last_updated`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range patterns {
		contexts, err := json.Marshal(p.ApplicableContexts)
		if err != nil {
			return fmt.Errorf("marshaling contexts: %w", err)
		}
		if p.ApplicableContexts == nil {
			contexts = []byte("[]")
		}
		if _, err := stmt.ExecContext(ctx, p.PatternID, p.PatternType, p.SuccessCount, p.FailureCount,
			p.AverageImprovement, string(contexts), p.ConfidenceScore,
			p.LastUpdated.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("upserting pattern %s: %w", p.PatternID, err)
		}
	}
	return tx.Commit()
}
