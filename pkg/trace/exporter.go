//go:build tracing

package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileExporter appends trace records as JSON Lines. When the file exceeds
// maxSize it is moved aside to <path>.old and a fresh file started, so disk
// use stays bounded at roughly two files.
type FileExporter struct {
	path    string
	maxSize int64

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	closed  bool
}

// NewFileExporter opens (or creates) the trace file at path.
func NewFileExporter(path string, maxSize int64) (*FileExporter, error) {
	if maxSize <= 0 {
		maxSize = 10 * 1024 * 1024
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}

	fe := &FileExporter{path: path, maxSize: maxSize}
	if err := fe.open(); err != nil {
		return nil, err
	}
	return fe, nil
}

func (fe *FileExporter) open() error {
	file, err := os.OpenFile(fe.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	fe.file = file
	fe.encoder = json.NewEncoder(file)
	return nil
}

// Export writes one record and rotates the file if it grew past the limit.
func (fe *FileExporter) Export(_ context.Context, record *Record) error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return fmt.Errorf("trace exporter closed")
	}
	if err := fe.encoder.Encode(record); err != nil {
		return fmt.Errorf("failed to encode trace record: %w", err)
	}

	info, err := fe.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat trace file: %w", err)
	}
	if info.Size() < fe.maxSize {
		return nil
	}

	if err := fe.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	if err := os.Rename(fe.path, fe.path+".old"); err != nil {
		return fmt.Errorf("failed to rotate trace file: %w", err)
	}
	return fe.open()
}

// Close flushes and closes the trace file.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true
	if fe.file == nil {
		return nil
	}
	if err := fe.file.Sync(); err != nil {
		fe.file.Close()
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return fe.file.Close()
}
