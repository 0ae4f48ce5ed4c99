// Package llm provides chat-completion clients used for entity extraction
// and consolidation synthesis.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"time"
)

// Client is a minimal chat-completion interface.
type Client interface {
	// Complete sends one prompt and returns the raw response text.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteJSON sends one prompt and decodes the JSON response into out.
	CompleteJSON(ctx context.Context, prompt string, out any) error
}

const (
	maxAttempts   = 4
	backoffFactor = 2.0
)

// initialRetryDelay is a variable so tests can shorten the backoff.
var initialRetryDelay = time.Second

// transientError marks failures worth retrying (rate limits, 5xx, network).
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func transient(err error) error {
	return &transientError{err: err}
}

// withRetry runs fn with jittered exponential backoff on transient errors.
func withRetry(ctx context.Context, fn func() (string, error)) (string, error) {
	var lastErr error
	delay := initialRetryDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			jitter := delay/2 + time.Duration(rand.Int63n(int64(delay)))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return "", ctx.Err()
			}
			delay = time.Duration(float64(delay) * backoffFactor)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var te *transientError
		if !errors.As(err, &te) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("giving up after %d attempts: %w", maxAttempts, lastErr)
}

var codeFenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*\n?(.*?)\\s*```$")

// decodeJSONResponse unmarshals a model response, tolerating markdown code
// fences around the JSON body.
func decodeJSONResponse(raw string, out any) error {
	cleaned := strings.TrimSpace(raw)
	if m := codeFenceRe.FindStringSubmatch(cleaned); len(m) == 2 {
		cleaned = strings.TrimSpace(m[1])
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("failed to decode model response as JSON: %w", err)
	}
	return nil
}
