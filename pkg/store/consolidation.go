package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConsolidationEdge links a derived memory to one of its originals.
type ConsolidationEdge struct {
	ID             string
	ConsolidatedID string
	OriginalID     string
	Similarity     float64
	CreatedAt      time.Time
}

// OriginalRef names one source memory of a consolidation and the similarity
// that grouped it.
type OriginalRef struct {
	MemoryID   string
	Similarity float64
}

// CreateConsolidated creates the derived memory and, in the same
// transaction, records provenance edges and flags every original.
// Originals already consolidated elsewhere are skipped, which makes
// re-running the same merge a no-op rather than an error.
func (s *Store) CreateConsolidated(ctx context.Context, req CreateMemory, originals []OriginalRef) (*Memory, error) {
	if len(originals) == 0 {
		return nil, fmt.Errorf("consolidation requires at least one original")
	}

	derived := &Memory{
		ID:               uuid.New().String(),
		Content:          req.Content,
		TypeHint:         req.TypeHint,
		Source:           req.Source,
		Tags:             req.Tags,
		CreatedAt:        now(),
		EmbeddingStatus:  StatusPending,
		ExtractionStatus: StatusPending,
	}
	derived.UpdatedAt = derived.CreatedAt
	if derived.TypeHint == "" {
		derived.TypeHint = "fact"
	}
	if derived.Source == "" {
		derived.Source = "consolidation"
	}
	if derived.Tags == nil {
		derived.Tags = []string{}
	}

	tagsJSON, err := json.Marshal(derived.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memories (id, content, type_hint, source, tags,
				created_at, updated_at, embedding_status, extraction_status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			derived.ID, derived.Content, derived.TypeHint, derived.Source,
			string(tagsJSON), dbTime(derived.CreatedAt), dbTime(derived.UpdatedAt),
			string(StatusPending), string(StatusPending)); err != nil {
			return fmt.Errorf("failed to insert derived memory: %w", err)
		}
		return linkOriginalsTx(ctx, tx, derived.ID, originals)
	})
	if err != nil {
		return nil, err
	}
	return derived, nil
}

// LinkOriginals folds further originals into an existing derived memory.
// Linking into a memory that was itself consolidated away would create a
// chain and is rejected with ErrAlreadyConsolidated.
func (s *Store) LinkOriginals(ctx context.Context, consolidatedID string, originals []OriginalRef) error {
	if len(originals) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var isOriginal bool
		err := tx.QueryRowContext(ctx,
			`SELECT is_consolidated_original FROM memories WHERE id = ?`,
			consolidatedID).Scan(&isOriginal)
		if err == sql.ErrNoRows {
			return ErrMemoryNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check consolidation target: %w", err)
		}
		if isOriginal {
			return fmt.Errorf("%w: %s cannot be a consolidation target", ErrAlreadyConsolidated, consolidatedID)
		}
		return linkOriginalsTx(ctx, tx, consolidatedID, originals)
	})
}

// linkOriginalsTx inserts edges and flags originals. Provenance is one
// level deep: an already-flagged original keeps its first target.
func linkOriginalsTx(ctx context.Context, tx *sql.Tx, consolidatedID string, originals []OriginalRef) error {
	ts := time.Now().UTC()
	for _, o := range originals {
		if o.MemoryID == consolidatedID {
			return fmt.Errorf("%w: memory %s cannot consolidate itself", ErrConstraintViolation, o.MemoryID)
		}

		// The UNIQUE (consolidated_id, original_id) constraint makes the
		// duplicate edge a silent no-op.
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO memory_consolidations
				(id, consolidated_id, original_id, similarity, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), consolidatedID, o.MemoryID, o.Similarity, dbTime(ts)); err != nil {
			if isConstraintErr(err) {
				return fmt.Errorf("%w: consolidation edge %s -> %s", ErrConstraintViolation, consolidatedID, o.MemoryID)
			}
			return fmt.Errorf("failed to insert consolidation edge: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE memories
			SET is_consolidated_original = 1, consolidated_into = ?
			WHERE id = ? AND is_consolidated_original = 0`,
			consolidatedID, o.MemoryID)
		if err != nil {
			return fmt.Errorf("failed to flag original: %w", err)
		}
		if _, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to check flag result: %w", err)
		}
	}
	return nil
}

// GetConsolidationEdges returns provenance edges of a derived memory.
func (s *Store) GetConsolidationEdges(ctx context.Context, consolidatedID string) ([]ConsolidationEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, consolidated_id, original_id, similarity, created_at
		FROM memory_consolidations
		WHERE consolidated_id = ?
		ORDER BY created_at, original_id`, consolidatedID)
	if err != nil {
		return nil, fmt.Errorf("failed to query consolidation edges: %w", err)
	}
	defer rows.Close()

	var edges []ConsolidationEdge
	for rows.Next() {
		var e ConsolidationEdge
		if err := rows.Scan(&e.ID, &e.ConsolidatedID, &e.OriginalID, &e.Similarity, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan consolidation edge: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate consolidation edges: %w", err)
	}
	return edges, nil
}

// IsConsolidationTarget reports whether the memory has absorbed originals.
func (s *Store) IsConsolidationTarget(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_consolidations WHERE consolidated_id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check consolidation target: %w", err)
	}
	return n > 0, nil
}
