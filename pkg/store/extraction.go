package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// CompleteExtraction persists extraction results and marks the memory
// completed. The memory must be in processing state; completing unclaimed
// work is ErrInvalidState.
func (s *Store) CompleteExtraction(ctx context.Context, memoryID string, entities map[string]Entity, facts []string) error {
	if entities == nil {
		entities = map[string]Entity{}
	}
	if facts == nil {
		facts = []string{}
	}

	entitiesJSON, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("failed to marshal entities: %w", err)
	}
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("failed to marshal facts: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET extraction_status = ?, extraction_error = NULL,
			extracted_entities = ?, extracted_facts = ?
		WHERE id = ? AND extraction_status = ?`,
		string(StatusCompleted), string(entitiesJSON), string(factsJSON),
		memoryID, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to complete extraction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check extraction result: %w", err)
	}
	if n == 0 {
		return s.explainTransitionFailure(ctx, "extraction_status", memoryID, StatusCompleted)
	}
	return nil
}

// ExtractionBacklog counts memories still awaiting extraction.
func (s *Store) ExtractionBacklog(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE extraction_status IN (?, ?)`,
		string(StatusPending), string(StatusProcessing)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count extraction backlog: %w", err)
	}
	return n, nil
}
