package mnemo

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/dan-solli/mnemo/pkg/store"
)

// ClassifyError buckets an error for logs and metric labels.
// Returns one of: none, timeout, canceled, not_found, state, constraint,
// network, upstream, validation, unknown.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, store.ErrMemoryNotFound) {
		return "not_found"
	}
	if errors.Is(err, store.ErrInvalidState) || errors.Is(err, store.ErrAlreadyConsolidated) {
		return "state"
	}
	if errors.Is(err, store.ErrConstraintViolation) {
		return "constraint"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "HTTP 4"), strings.Contains(msg, "HTTP 5"),
		strings.Contains(msg, "API error"), strings.Contains(msg, "ollama error"):
		return "upstream"
	case strings.Contains(msg, "must not be empty"), strings.Contains(msg, "invalid cursor"),
		strings.Contains(msg, "unknown reinforcement rating"):
		return "validation"
	}
	return "unknown"
}
