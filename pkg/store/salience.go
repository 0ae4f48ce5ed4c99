package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dan-solli/mnemo/pkg/salience"
)

// SalienceState is the per-memory reinforcement record.
type SalienceState struct {
	MemoryID           string
	Stability          float64
	Difficulty         float64
	ReinforcementCount int64
	LastReinforcedAt   *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// GetSalience returns the salience state of a memory. Memories that were
// never reinforced or touched get default state with a nil LastReinforcedAt.
func (s *Store) GetSalience(ctx context.Context, memoryID string) (*SalienceState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT memory_id, stability, difficulty, reinforcement_count,
			last_reinforced_at, created_at, updated_at
		FROM memory_salience WHERE memory_id = ?`, memoryID)

	st, err := scanSalience(row)
	if err == nil {
		return st, nil
	}
	if err != ErrMemoryNotFound {
		return nil, err
	}

	// No row yet. Distinguish a missing memory from default state.
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE id = ?`, memoryID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check memory: %w", err)
	}
	if exists == 0 {
		return nil, ErrMemoryNotFound
	}
	return defaultSalience(memoryID), nil
}

// GetSalienceBatch returns salience states keyed by memory ID. Memories
// without a row get default state.
func (s *Store) GetSalienceBatch(ctx context.Context, memoryIDs []string) (map[string]*SalienceState, error) {
	out := make(map[string]*SalienceState, len(memoryIDs))
	if len(memoryIDs) == 0 {
		return out, nil
	}
	for _, id := range memoryIDs {
		out[id] = defaultSalience(id)
	}

	placeholders := strings.Repeat("?,", len(memoryIDs)-1) + "?"
	args := make([]any, len(memoryIDs))
	for i, id := range memoryIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT memory_id, stability, difficulty, reinforcement_count,
			last_reinforced_at, created_at, updated_at
		FROM memory_salience WHERE memory_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query salience: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		st, err := scanSalience(rows)
		if err != nil {
			return nil, err
		}
		out[st.MemoryID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate salience: %w", err)
	}
	return out, nil
}

// Reinforce applies one explicit reinforcement event inside a transaction.
// The first reinforcement of a memory establishes the baseline; later ones
// boost stability in proportion to how far retrievability had decayed.
func (s *Store) Reinforce(ctx context.Context, memoryID string, rating salience.Rating) (*SalienceState, error) {
	if _, err := rating.Multiplier(); err != nil {
		return nil, err
	}

	var out *SalienceState
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM memories WHERE id = ?`, memoryID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check memory: %w", err)
		}
		if exists == 0 {
			return ErrMemoryNotFound
		}

		ts := now()
		row := tx.QueryRowContext(ctx, `
			SELECT memory_id, stability, difficulty, reinforcement_count,
				last_reinforced_at, created_at, updated_at
			FROM memory_salience WHERE memory_id = ?`, memoryID)
		st, err := scanSalience(row)
		if err == ErrMemoryNotFound {
			st = defaultSalience(memoryID)
			st.ReinforcementCount = 1
			st.LastReinforcedAt = &ts
			st.CreatedAt = ts
			st.UpdatedAt = ts
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO memory_salience
					(memory_id, stability, difficulty, reinforcement_count,
					 last_reinforced_at, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				memoryID, st.Stability, st.Difficulty, st.ReinforcementCount,
				dbTime(ts), dbTime(ts), dbTime(ts)); err != nil {
				return fmt.Errorf("failed to insert salience: %w", err)
			}
			out = st
			return nil
		}
		if err != nil {
			return err
		}

		elapsed := salience.NeverReinforcedDays
		if st.LastReinforcedAt != nil {
			elapsed = ts.Sub(*st.LastReinforcedAt).Hours() / 24
		}
		newStability, newDifficulty, err := salience.Reinforce(
			st.Stability, st.Difficulty, elapsed, rating)
		if err != nil {
			return err
		}

		st.Stability = newStability
		st.Difficulty = newDifficulty
		st.ReinforcementCount++
		st.LastReinforcedAt = &ts
		st.UpdatedAt = ts

		if _, err := tx.ExecContext(ctx, `
			UPDATE memory_salience
			SET stability = ?, difficulty = ?, reinforcement_count = ?,
				last_reinforced_at = ?, updated_at = ?
			WHERE memory_id = ?`,
			st.Stability, st.Difficulty, st.ReinforcementCount,
			dbTime(ts), dbTime(ts), memoryID); err != nil {
			return fmt.Errorf("failed to update salience: %w", err)
		}
		out = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TouchSalience gives a memory a small passive stability bump on retrieval.
// It never counts as a reinforcement event and never moves LastReinforcedAt.
func (s *Store) TouchSalience(ctx context.Context, memoryID string) error {
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_salience
			(memory_id, stability, difficulty, reinforcement_count,
			 last_reinforced_at, created_at, updated_at)
		VALUES (?, ?, ?, 0, NULL, ?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET
			stability = MIN(stability * 1.1, ?),
			updated_at = excluded.updated_at`,
		memoryID, salience.DefaultStability*1.1, salience.DefaultDifficulty,
		dbTime(ts), dbTime(ts), salience.MaxStability)
	if err != nil {
		if isConstraintErr(err) {
			return ErrMemoryNotFound
		}
		return fmt.Errorf("failed to touch salience: %w", err)
	}
	return nil
}

func defaultSalience(memoryID string) *SalienceState {
	return &SalienceState{
		MemoryID:   memoryID,
		Stability:  salience.DefaultStability,
		Difficulty: salience.DefaultDifficulty,
	}
}

func scanSalience(row rowScanner) (*SalienceState, error) {
	var st SalienceState
	var last sql.NullTime
	err := row.Scan(&st.MemoryID, &st.Stability, &st.Difficulty,
		&st.ReinforcementCount, &last, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMemoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan salience: %w", err)
	}
	if last.Valid {
		t := last.Time.UTC()
		st.LastReinforcedAt = &t
	}
	st.CreatedAt = st.CreatedAt.UTC()
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}
