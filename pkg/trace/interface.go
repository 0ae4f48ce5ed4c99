// Package trace records per-operation diagnostics. The default exporter is
// a no-op; a JSONL file exporter is available behind the tracing build tag.
package trace

import (
	"context"
	"time"
)

// Record is one traced operation.
type Record struct {
	// Operation is remember, search, reinforce, consolidate, embed, or
	// extract.
	Operation string        `json:"operation"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`

	// MemoryIDs are the memories the operation touched or returned.
	MemoryIDs []string `json:"memory_ids,omitempty"`

	// Detail carries operation-specific counters, e.g. per-leg hit counts
	// for search.
	Detail map[string]any `json:"detail,omitempty"`
}

// Exporter persists trace records.
type Exporter interface {
	Export(ctx context.Context, record *Record) error
	Close() error
}
