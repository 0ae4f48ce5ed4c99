package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entity is one extracted entity. The map key in Memory.ExtractedEntities is
// the entity name; the value carries its attributes.
type Entity struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Memory is one stored memory row.
type Memory struct {
	ID                     string
	Content                string
	TypeHint               string
	Source                 string
	Tags                   []string
	CreatedAt              time.Time
	UpdatedAt              time.Time
	LastAccessedAt         *time.Time
	AccessCount            int64
	EmbeddingStatus        Status
	EmbeddingError         *string
	ExtractionStatus       Status
	ExtractionError        *string
	ExtractedEntities      map[string]Entity
	ExtractedFacts         []string
	IsConsolidatedOriginal bool
	ConsolidatedInto       *string
}

// CreateMemory holds the caller-supplied fields of a new memory.
type CreateMemory struct {
	Content  string
	TypeHint string
	Source   string
	Tags     []string
}

const memoryColumns = `id, content, type_hint, source, tags,
	created_at, updated_at, last_accessed_at, access_count,
	embedding_status, embedding_error, extraction_status, extraction_error,
	extracted_entities, extracted_facts,
	is_consolidated_original, consolidated_into`

// CreateMemory inserts a new memory with pending embedding and extraction
// status and returns the stored row.
func (s *Store) CreateMemory(ctx context.Context, req CreateMemory) (*Memory, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("memory content must not be empty")
	}

	m := &Memory{
		ID:               uuid.New().String(),
		Content:          req.Content,
		TypeHint:         req.TypeHint,
		Source:           req.Source,
		Tags:             req.Tags,
		CreatedAt:        now(),
		EmbeddingStatus:  StatusPending,
		ExtractionStatus: StatusPending,
	}
	m.UpdatedAt = m.CreatedAt
	if m.TypeHint == "" {
		m.TypeHint = "fact"
	}
	if m.Source == "" {
		m.Source = "default"
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}

	tagsJSON, err := json.Marshal(m.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, type_hint, source, tags,
			created_at, updated_at, embedding_status, extraction_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, m.TypeHint, m.Source, string(tagsJSON),
		dbTime(m.CreatedAt), dbTime(m.UpdatedAt), string(m.EmbeddingStatus), string(m.ExtractionStatus))
	if err != nil {
		return nil, fmt.Errorf("failed to insert memory: %w", err)
	}

	return m, nil
}

// GetMemory returns a memory by ID, or ErrMemoryNotFound. Access tracking is
// a separate concern; see Touch.
func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	return scanMemory(row)
}

// GetMemories returns the memories for the given IDs in input order,
// skipping IDs that no longer exist.
func (s *Store) GetMemories(ctx context.Context, ids []string) ([]*Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Memory, len(ids))
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}

	out := make([]*Memory, 0, len(byID))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// DeleteMemory removes a memory. Embeddings, salience, and consolidation
// edges cascade with it.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return ErrMemoryNotFound
	}
	return nil
}

// Touch bumps access tracking for one memory. Callers treat this as
// best-effort; a lost touch is acceptable.
func (s *Store) Touch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id = ?`, dbTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to touch memory: %w", err)
	}
	return nil
}

// TouchBatch bumps access tracking for a set of memories in one statement.
func (s *Store) TouchBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	args = append(args, dbTime(now()))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to touch memories: %w", err)
	}
	return nil
}

// ListFilter narrows ListMemories.
type ListFilter struct {
	TypeHint      string
	Source        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	// IncludeOriginals includes memories that were consolidated away.
	IncludeOriginals bool
}

// ListPage is one page of a memory listing.
type ListPage struct {
	Memories   []*Memory
	NextCursor string
}

// ListMemories pages through memories in (created_at, id) order using an
// opaque keyset cursor.
func (s *Store) ListMemories(ctx context.Context, f ListFilter, cursor string, limit int) (*ListPage, error) {
	if limit <= 0 {
		limit = 50
	}

	conds := []string{"1=1"}
	var args []any
	if f.TypeHint != "" {
		conds = append(conds, "type_hint = ?")
		args = append(args, f.TypeHint)
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if f.CreatedAfter != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, dbTime(*f.CreatedAfter))
	}
	if f.CreatedBefore != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, dbTime(*f.CreatedBefore))
	}
	if !f.IncludeOriginals {
		conds = append(conds, "is_consolidated_original = 0")
	}
	if cursor != "" {
		ts, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		conds = append(conds, "(created_at, id) > (?, ?)")
		args = append(args, dbTime(ts), id)
	}

	args = append(args, limit+1)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY created_at, id LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	var memories []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}

	page := &ListPage{Memories: memories}
	if len(memories) > limit {
		page.Memories = memories[:limit]
		last := page.Memories[limit-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

func encodeCursor(ts time.Time, id string) string {
	raw := ts.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("invalid cursor timestamp: %w", err)
	}
	return ts.UTC(), parts[1], nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var tagsJSON string
	var lastAccessed sql.NullTime
	var embErr, extErr sql.NullString
	var entitiesJSON, factsJSON sql.NullString
	var consolidatedInto sql.NullString
	var embStatus, extStatus string

	err := row.Scan(&m.ID, &m.Content, &m.TypeHint, &m.Source, &tagsJSON,
		&m.CreatedAt, &m.UpdatedAt, &lastAccessed, &m.AccessCount,
		&embStatus, &embErr, &extStatus, &extErr,
		&entitiesJSON, &factsJSON,
		&m.IsConsolidatedOriginal, &consolidatedInto)
	if err == sql.ErrNoRows {
		return nil, ErrMemoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}

	m.EmbeddingStatus = Status(embStatus)
	m.ExtractionStatus = Status(extStatus)
	if lastAccessed.Valid {
		t := lastAccessed.Time.UTC()
		m.LastAccessedAt = &t
	}
	if embErr.Valid {
		m.EmbeddingError = &embErr.String
	}
	if extErr.Valid {
		m.ExtractionError = &extErr.String
	}
	if consolidatedInto.Valid {
		m.ConsolidatedInto = &consolidatedInto.String
	}

	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if entitiesJSON.Valid && entitiesJSON.String != "" {
		if err := json.Unmarshal([]byte(entitiesJSON.String), &m.ExtractedEntities); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
		}
	}
	if factsJSON.Valid && factsJSON.String != "" {
		if err := json.Unmarshal([]byte(factsJSON.String), &m.ExtractedFacts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal facts: %w", err)
		}
	}

	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}
