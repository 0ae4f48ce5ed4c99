package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EmbeddingRecord is one row of the embedding history of a memory. At most
// one record per memory is current.
type EmbeddingRecord struct {
	ID           string
	MemoryID     string
	ModelName    string
	ModelVersion string
	Dimension    int
	Vector       []float32
	IsCurrent    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ClaimEmbeddingBatch atomically flips up to limit pending memories to
// processing and returns their IDs, oldest first. Each pending row is
// claimed by exactly one caller; SQLite serializes the UPDATE.
func (s *Store) ClaimEmbeddingBatch(ctx context.Context, limit int) ([]string, error) {
	return s.claimBatch(ctx, "embedding_status", limit)
}

// ClaimExtractionBatch is the extraction counterpart of ClaimEmbeddingBatch.
func (s *Store) ClaimExtractionBatch(ctx context.Context, limit int) ([]string, error) {
	return s.claimBatch(ctx, "extraction_status", limit)
}

func (s *Store) claimBatch(ctx context.Context, column string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		UPDATE memories SET `+column+` = ?
		WHERE id IN (
			SELECT id FROM memories
			WHERE `+column+` = ?
			ORDER BY created_at, id
			LIMIT ?
		)
		RETURNING id`,
		string(StatusProcessing), string(StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan claimed id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claimed ids: %w", err)
	}
	return ids, nil
}

// SetCurrentEmbedding stores a new embedding for a memory and makes it the
// single current one, in one transaction: previous current rows are
// demoted, the new row inserted, and the memory marked completed.
func (s *Store) SetCurrentEmbedding(ctx context.Context, memoryID, modelName, modelVersion string, vec []float32) (*EmbeddingRecord, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding vector must not be empty")
	}

	rec := &EmbeddingRecord{
		ID:           uuid.New().String(),
		MemoryID:     memoryID,
		ModelName:    modelName,
		ModelVersion: modelVersion,
		Dimension:    len(vec),
		Vector:       vec,
		IsCurrent:    true,
		CreatedAt:    now(),
	}
	rec.UpdatedAt = rec.CreatedAt

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM memories WHERE id = ?`, memoryID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check memory: %w", err)
		}
		if exists == 0 {
			return ErrMemoryNotFound
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE memory_embeddings SET is_current = 0, updated_at = ?
			WHERE memory_id = ? AND is_current = 1`,
			dbTime(rec.UpdatedAt), memoryID); err != nil {
			return fmt.Errorf("failed to demote previous embedding: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_embeddings
				(id, memory_id, model_name, model_version, dimension, embedding,
				 is_current, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			rec.ID, memoryID, modelName, modelVersion, rec.Dimension,
			serializeEmbedding(vec), dbTime(rec.CreatedAt), dbTime(rec.UpdatedAt)); err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE memories SET embedding_status = ?, embedding_error = NULL
			WHERE id = ?`,
			string(StatusCompleted), memoryID); err != nil {
			return fmt.Errorf("failed to mark embedding completed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// FailEmbedding records an embedding failure. Only processing memories can
// fail; anything else is ErrInvalidState.
func (s *Store) FailEmbedding(ctx context.Context, memoryID, reason string) error {
	return s.failStatus(ctx, "embedding_status", "embedding_error", memoryID, reason)
}

// FailExtraction records an extraction failure. Only processing memories can
// fail; anything else is ErrInvalidState.
func (s *Store) FailExtraction(ctx context.Context, memoryID, reason string) error {
	return s.failStatus(ctx, "extraction_status", "extraction_error", memoryID, reason)
}

func (s *Store) failStatus(ctx context.Context, statusCol, errCol, memoryID, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET `+statusCol+` = ?, `+errCol+` = ?
		WHERE id = ? AND `+statusCol+` = ?`,
		string(StatusFailed), reason, memoryID, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check failure result: %w", err)
	}
	if n == 0 {
		return s.explainTransitionFailure(ctx, statusCol, memoryID, StatusFailed)
	}
	return nil
}

// ResetFailedEmbeddings flips failed embedding work back to pending so a
// later sweep retries it. Returns the number of reset memories.
func (s *Store) ResetFailedEmbeddings(ctx context.Context) (int64, error) {
	return s.resetFailed(ctx, "embedding_status", "embedding_error")
}

// ResetFailedExtractions flips failed extraction work back to pending.
func (s *Store) ResetFailedExtractions(ctx context.Context) (int64, error) {
	return s.resetFailed(ctx, "extraction_status", "extraction_error")
}

func (s *Store) resetFailed(ctx context.Context, statusCol, errCol string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET `+statusCol+` = ?, `+errCol+` = NULL
		WHERE `+statusCol+` = ?`,
		string(StatusPending), string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed work: %w", err)
	}
	return res.RowsAffected()
}

// explainTransitionFailure turns a zero-row status update into the precise
// error: missing memory or illegal transition.
func (s *Store) explainTransitionFailure(ctx context.Context, statusCol, memoryID string, wanted Status) error {
	var current string
	err := s.db.QueryRowContext(ctx,
		`SELECT `+statusCol+` FROM memories WHERE id = ?`, memoryID).Scan(&current)
	if err == sql.ErrNoRows {
		return ErrMemoryNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}
	return checkTransition(Status(current), wanted)
}

// GetCurrentEmbedding returns the current embedding of a memory, or
// ErrMemoryNotFound when the memory has none.
func (s *Store) GetCurrentEmbedding(ctx context.Context, memoryID string) (*EmbeddingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, memory_id, model_name, model_version, dimension, embedding,
			is_current, created_at, updated_at
		FROM memory_embeddings
		WHERE memory_id = ? AND is_current = 1`, memoryID)

	var rec EmbeddingRecord
	var blob []byte
	err := row.Scan(&rec.ID, &rec.MemoryID, &rec.ModelName, &rec.ModelVersion,
		&rec.Dimension, &blob, &rec.IsCurrent, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMemoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan embedding: %w", err)
	}
	rec.Vector, err = deserializeEmbedding(blob)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

// BackfillCandidates returns memories lacking a current embedding from the
// given model, oldest first. Consolidated originals are skipped.
func (s *Store) BackfillCandidates(ctx context.Context, modelName, modelVersion string, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id FROM memories m
		WHERE m.is_consolidated_original = 0
		  AND NOT EXISTS (
			SELECT 1 FROM memory_embeddings e
			WHERE e.memory_id = m.id AND e.is_current = 1
			  AND e.model_name = ? AND e.model_version = ?
		  )
		ORDER BY m.created_at, m.id
		LIMIT ?`, modelName, modelVersion, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backfill candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan candidate id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate candidates: %w", err)
	}
	return ids, nil
}

// MarkAllEmbeddingsStale demotes every current embedding and resets all
// memories to pending embedding status. Used when switching models.
func (s *Store) MarkAllEmbeddingsStale(ctx context.Context) (int64, error) {
	var reset int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE memory_embeddings SET is_current = 0, updated_at = ?
			WHERE is_current = 1`, dbTime(now())); err != nil {
			return fmt.Errorf("failed to demote embeddings: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE memories SET embedding_status = ?, embedding_error = NULL`,
			string(StatusPending))
		if err != nil {
			return fmt.Errorf("failed to reset embedding status: %w", err)
		}
		reset, err = res.RowsAffected()
		return err
	})
	return reset, err
}

// EmbeddingStats summarizes embedding pipeline progress.
type EmbeddingStats struct {
	ByStatus       map[Status]int64
	CurrentByModel map[string]int64
}

// GetEmbeddingStats reports memory counts per embedding status and current
// embedding counts per model.
func (s *Store) GetEmbeddingStats(ctx context.Context) (*EmbeddingStats, error) {
	stats := &EmbeddingStats{
		ByStatus:       make(map[Status]int64),
		CurrentByModel: make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding_status, COUNT(*) FROM memories GROUP BY embedding_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query status stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st string
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status stat: %w", err)
		}
		stats.ByStatus[Status(st)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate status stats: %w", err)
	}

	rows2, err := s.db.QueryContext(ctx, `
		SELECT model_name || '/' || model_version, COUNT(*)
		FROM memory_embeddings WHERE is_current = 1
		GROUP BY model_name, model_version`)
	if err != nil {
		return nil, fmt.Errorf("failed to query model stats: %w", err)
	}
	defer rows2.Close()
	for rows2.Next() {
		var model string
		var n int64
		if err := rows2.Scan(&model, &n); err != nil {
			return nil, fmt.Errorf("failed to scan model stat: %w", err)
		}
		stats.CurrentByModel[model] = n
	}
	if err := rows2.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate model stats: %w", err)
	}

	return stats, nil
}
