package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/ifuryst/ripplecast/internal/models"
)

// Method is one API shape able to perform the same logical publish.
type Method struct {
	Name string
	Run  func(ctx context.Context) (*Result, error)
}

// FallbackChain tries methods in priority order and stops at the first success.
type FallbackChain struct {
	Platform models.Platform
	Methods  []Method
	// ShouldFallback decides whether a failure is one the next method can work around.
	// Other failures end the chain immediately. Defaults to FallbackOnRejection.
	ShouldFallback func(err error) bool
}

// FallbackOnRejection falls back only when the platform rejected the request itself.
// A transient failure (throttling, 5xx, timeout) may hide an accepted post, so it ends the chain
// and the retry is left to the queue.
func FallbackOnRejection(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Kind == KindValidation
}

// ErrNoMethods is returned when a chain has nothing to try.
var ErrNoMethods = errors.New("fallback chain has no methods")

func (c FallbackChain) Run(ctx context.Context) (*Result, error) {
	if len(c.Methods) == 0 {
		return nil, ValidationError(c.Platform, "%v", ErrNoMethods)
	}
	shouldFallback := c.ShouldFallback
	if shouldFallback == nil {
		shouldFallback = FallbackOnRejection
	}

	var failures []map[string]any
	var last *Error
	for i, m := range c.Methods {
		res, err := m.Run(ctx)
		if err == nil {
			if res != nil && res.Method == "" {
				res.Method = m.Name
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, Normalize(c.Platform, err)
		}
		last = Normalize(c.Platform, err)
		failures = append(failures, map[string]any{
			"method":    m.Name,
			"message":   last.Message,
			"code":      last.Code,
			"retryable": last.Retryable,
		})
		if i < len(c.Methods)-1 && !shouldFallback(err) {
			return nil, last.With("fallback_attempts", failures)
		}
	}

	exhausted := &Error{
		Kind:      KindExhausted,
		Platform:  c.Platform,
		Code:      last.Code,
		Type:      last.Type,
		Subcode:   last.Subcode,
		Message:   fmt.Sprintf("all %d publish methods failed, last: %s", len(c.Methods), last.Message),
		Retryable: last.Retryable,
		Err:       last,
	}
	return nil, exhausted.With("fallback_attempts", failures)
}
