package mnemo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/dan-solli/mnemo/pkg/store"
)

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "connection refused" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return true }

var _ net.Error = (*fakeNetError)(nil)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "none"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"canceled", context.Canceled, "canceled"},
		{"wrapped canceled", fmt.Errorf("search: %w", context.Canceled), "canceled"},
		{"not found", store.ErrMemoryNotFound, "not_found"},
		{"wrapped not found", fmt.Errorf("get: %w", store.ErrMemoryNotFound), "not_found"},
		{"invalid state", store.ErrInvalidState, "state"},
		{"already consolidated", store.ErrAlreadyConsolidated, "state"},
		{"constraint", store.ErrConstraintViolation, "constraint"},
		{"net error", &fakeNetError{}, "network"},
		{"net timeout", &fakeNetError{timeout: true}, "timeout"},
		{"http 429", errors.New("openai: HTTP 429: rate limited"), "upstream"},
		{"http 500", errors.New("openai: HTTP 500: boom"), "upstream"},
		{"api error", errors.New("openai API error: bad model"), "upstream"},
		{"ollama", errors.New("ollama error: model not found"), "upstream"},
		{"empty content", errors.New("memory content must not be empty"), "validation"},
		{"bad cursor", errors.New("invalid cursor"), "validation"},
		{"bad rating", errors.New("unknown reinforcement rating \"great\""), "validation"},
		{"other", errors.New("something else"), "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyError(tc.err); got != tc.want {
				t.Errorf("ClassifyError(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyErrorPrefersContextOverNet(t *testing.T) {
	err := fmt.Errorf("dial: %w", context.DeadlineExceeded)
	if got := ClassifyError(err); got != "timeout" {
		t.Errorf("got %q, want timeout", got)
	}
}
