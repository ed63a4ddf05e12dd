package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dwsmith1983/qualityloop/internal/provider"
	"github.com/dwsmith1983/qualityloop/pkg/types"
)

// AppendEntry appends one entry to the change_history table.
func (s *Store) AppendEntry(ctx context.Context, entry types.ChangeHistoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO change_history (cycle_id, entry_type, timestamp, data) VALUES (?, ?, ?, ?)`,
		entry.CycleID, string(entry.Type), entry.Timestamp.UTC().Format(time.RFC3339Nano), string(data))
	if err != nil {
		return fmt.Errorf("inserting entry: %w", err)
	}
	return nil
}

// ListEntries returns all entries in append order.
func (s *Store) ListEntries(ctx context.Context) ([]types.ChangeHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM change_history ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []types.ChangeHistoryEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e types.ChangeHistoryEntry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("%w: history entry: %v", provider.ErrCorrupt, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearEntries deletes every entry.
func (s *Store) ClearEntries(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM change_history`)
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
