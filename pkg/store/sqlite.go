// Package store provides SQLite-backed persistence for memories, their
// embeddings, salience state, and consolidation provenance.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store is the SQLite-backed persistence layer. All engines share one Store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies the schema.
// The path can be a file path or ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent across calls
	// and serializes writers, which SQLite requires anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		type_hint TEXT NOT NULL DEFAULT 'fact',
		source TEXT NOT NULL DEFAULT 'default',
		tags TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		last_accessed_at DATETIME,
		access_count INTEGER NOT NULL DEFAULT 0,
		embedding_status TEXT NOT NULL DEFAULT 'pending',
		embedding_error TEXT,
		extraction_status TEXT NOT NULL DEFAULT 'pending',
		extraction_error TEXT,
		extracted_entities TEXT,
		extracted_facts TEXT,
		is_consolidated_original INTEGER NOT NULL DEFAULT 0,
		consolidated_into TEXT REFERENCES memories(id) ON DELETE SET NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_embedding_status
		ON memories(embedding_status, created_at);
	CREATE INDEX IF NOT EXISTS idx_memories_extraction_status
		ON memories(extraction_status, created_at);
	CREATE INDEX IF NOT EXISTS idx_memories_created_at
		ON memories(created_at, id);
	CREATE INDEX IF NOT EXISTS idx_memories_consolidated
		ON memories(is_consolidated_original);

	CREATE TABLE IF NOT EXISTS memory_embeddings (
		id TEXT PRIMARY KEY,
		memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		model_name TEXT NOT NULL,
		model_version TEXT NOT NULL,
		dimension INTEGER NOT NULL,
		embedding BLOB NOT NULL,
		is_current INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_embeddings_memory
		ON memory_embeddings(memory_id, is_current);

	CREATE TABLE IF NOT EXISTS memory_salience (
		memory_id TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
		stability REAL NOT NULL DEFAULT 1.0,
		difficulty REAL NOT NULL DEFAULT 5.0,
		reinforcement_count INTEGER NOT NULL DEFAULT 0,
		last_reinforced_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memory_consolidations (
		id TEXT PRIMARY KEY,
		consolidated_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		original_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		similarity REAL NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE (consolidated_id, original_id)
	);

	CREATE INDEX IF NOT EXISTS idx_consolidations_original
		ON memory_consolidations(original_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// FTS5 index over memory content, kept in sync by triggers so the text
	// search leg never sees a stale row.
	fts := `
	CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		content,
		content='memories',
		content_rowid='rowid'
	);

	CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
	END;

	CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, content)
			VALUES ('delete', old.rowid, old.content);
	END;

	CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE OF content ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, content)
			VALUES ('delete', old.rowid, old.content);
		INSERT INTO memories_fts(rowid, content) VALUES (new.rowid, new.content);
	END;
	`

	if _, err := s.db.Exec(fts); err != nil {
		return fmt.Errorf("failed to initialize fts index: %w", err)
	}

	return nil
}

// now returns the wall clock in UTC. Times are stored in UTC so DATETIME
// comparisons and keyset cursors order correctly.
func now() time.Time {
	return time.Now().UTC()
}

// dbTime formats a timestamp for storage. The fixed-width fraction keeps
// lexicographic ordering of TEXT timestamps consistent with time order.
func dbTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000000000")
}

// isConstraintErr reports whether err is a SQLite constraint failure
// (UNIQUE, FOREIGN KEY, CHECK).
func isConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed")
}

// serializeEmbedding encodes a float32 vector as a little-endian BLOB.
func serializeEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeEmbedding decodes a little-endian BLOB back into a float32 vector.
func deserializeEmbedding(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns 0 for mismatched dimensions or zero-magnitude vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
