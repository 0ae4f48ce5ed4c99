package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// SearchFilter narrows every search leg identically.
type SearchFilter struct {
	TypeHint string
	Source   string
	// Tags must all be present on a matching memory.
	Tags []string
	// Entities are extracted entity names that must all be present.
	Entities []string
	// IncludeOriginals lets consolidated-away originals surface.
	IncludeOriginals bool
}

func (f SearchFilter) clauses(alias string) ([]string, []any) {
	conds := []string{"1=1"}
	var args []any
	if f.TypeHint != "" {
		conds = append(conds, alias+".type_hint = ?")
		args = append(args, f.TypeHint)
	}
	if f.Source != "" {
		conds = append(conds, alias+".source = ?")
		args = append(args, f.Source)
	}
	for _, tag := range f.Tags {
		conds = append(conds,
			"EXISTS (SELECT 1 FROM json_each("+alias+".tags) WHERE value = ?)")
		args = append(args, tag)
	}
	for _, name := range f.Entities {
		conds = append(conds,
			"EXISTS (SELECT 1 FROM json_each(COALESCE("+alias+".extracted_entities, '{}')) WHERE key = ?)")
		args = append(args, name)
	}
	if !f.IncludeOriginals {
		conds = append(conds, alias+".is_consolidated_original = 0")
	}
	return conds, args
}

// TextHit is one ranked match from the full-text leg. Rank is 1-based.
type TextHit struct {
	MemoryID string
	Rank     int
}

// SearchText runs the BM25-ranked full-text leg over memory content.
// An unparseable or empty query returns no hits rather than an error.
func (s *Store) SearchText(ctx context.Context, query string, f SearchFilter, limit int) ([]TextHit, error) {
	match := ftsMatchQuery(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	conds, args := f.clauses("m")
	args = append([]any{match}, args...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id FROM memories_fts f
		JOIN memories m ON m.rowid = f.rowid
		WHERE memories_fts MATCH ?
		  AND `+strings.Join(conds, " AND ")+`
		ORDER BY bm25(memories_fts), m.id
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run text search: %w", err)
	}
	defer rows.Close()

	var hits []TextHit
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan text hit: %w", err)
		}
		hits = append(hits, TextHit{MemoryID: id, Rank: len(hits) + 1})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate text hits: %w", err)
	}
	return hits, nil
}

// ftsMatchQuery quotes each whitespace token so user input cannot inject
// FTS5 query syntax. Tokens are AND-ed, matching all-words semantics.
func ftsMatchQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, tok := range fields {
		tok = strings.ReplaceAll(tok, `"`, `""`)
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " ")
}

// VectorHit is one match from the vector leg.
type VectorHit struct {
	MemoryID   string
	Similarity float64
}

// SearchVector scans current embeddings of filtered memories and ranks them
// by cosine similarity to the query vector.
func (s *Store) SearchVector(ctx context.Context, query []float32, f SearchFilter, limit int) ([]VectorHit, error) {
	if len(query) == 0 || limit <= 0 {
		return nil, nil
	}

	conds, args := f.clauses("m")
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, e.embedding
		FROM memory_embeddings e
		JOIN memories m ON m.id = e.memory_id
		WHERE e.is_current = 1
		  AND m.embedding_status = 'completed'
		  AND `+strings.Join(conds, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan vector hit: %w", err)
		}
		vec, err := deserializeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		hits = append(hits, VectorHit{MemoryID: id, Similarity: CosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vector hits: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].MemoryID < hits[j].MemoryID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SymbolicHit is one match from the symbolic leg.
type SymbolicHit struct {
	MemoryID string
	Score    float64
}

// SearchSymbolic probes structured data: exact tag and entity-name matches
// weigh most, fact substring matches next, loose type/source matches least.
func (s *Store) SearchSymbolic(ctx context.Context, query string, f SearchFilter, limit int) ([]SymbolicHit, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}

	conds, filterArgs := f.clauses("m")
	args := []any{query, query, query, query, query}
	args = append(args, filterArgs...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, score FROM (
			SELECT m.id,
				(CASE WHEN EXISTS (SELECT 1 FROM json_each(m.tags)
					WHERE value = ? COLLATE NOCASE) THEN 3 ELSE 0 END)
				+ (CASE WHEN EXISTS (SELECT 1 FROM json_each(COALESCE(m.extracted_entities, '{}'))
					WHERE key = ? COLLATE NOCASE) THEN 2 ELSE 0 END)
				+ (CASE WHEN EXISTS (SELECT 1 FROM json_each(COALESCE(m.extracted_facts, '[]'))
					WHERE value LIKE '%' || ? || '%') THEN 2 ELSE 0 END)
				+ (CASE WHEN m.type_hint LIKE '%' || ? || '%' THEN 1 ELSE 0 END)
				+ (CASE WHEN m.source LIKE '%' || ? || '%' THEN 1 ELSE 0 END)
				AS score
			FROM memories m
			WHERE `+strings.Join(conds, " AND ")+`
		)
		WHERE score > 0
		ORDER BY score DESC, id
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run symbolic search: %w", err)
	}
	defer rows.Close()

	var hits []SymbolicHit
	for rows.Next() {
		var h SymbolicHit
		if err := rows.Scan(&h.MemoryID, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan symbolic hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate symbolic hits: %w", err)
	}
	return hits, nil
}

// FindSimilar returns live memories whose current embedding is at least
// threshold-similar to vec. The memory itself and consolidated originals
// are excluded.
func (s *Store) FindSimilar(ctx context.Context, memoryID string, vec []float32, threshold float64, limit int) ([]VectorHit, error) {
	if len(vec) == 0 || limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, e.embedding
		FROM memory_embeddings e
		JOIN memories m ON m.id = e.memory_id
		WHERE e.is_current = 1
		  AND m.embedding_status = 'completed'
		  AND m.is_consolidated_original = 0
		  AND m.id != ?`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar memories: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan similar memory: %w", err)
		}
		other, err := deserializeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		if sim := CosineSimilarity(vec, other); sim >= threshold {
			hits = append(hits, VectorHit{MemoryID: id, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate similar memories: %w", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].MemoryID < hits[j].MemoryID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
