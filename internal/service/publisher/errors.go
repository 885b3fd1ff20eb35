package publisher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ifuryst/ripplecast/internal/models"
)

// Kind classifies a publish failure.
type Kind string

const (
	// KindConfiguration: a credential or account identifier is missing. Never retried.
	KindConfiguration Kind = "configuration"
	// KindValidation: the platform rejected the request shape. Never retried.
	KindValidation Kind = "validation"
	// KindTransient: media not ready, rate limiting, upstream 5xx or a processing timeout.
	KindTransient Kind = "transient"
	// KindExhausted: every method of a fallback chain failed.
	KindExhausted Kind = "exhausted"
)

// Error is the normalized provider failure.
type Error struct {
	Kind      Kind            `json:"kind"`
	Platform  models.Platform `json:"platform"`
	Code      string          `json:"code,omitempty"`
	Type      string          `json:"type,omitempty"`
	Subcode   string          `json:"subcode,omitempty"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	Context   map[string]any  `json:"context,omitempty"`
	Err       error           `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Platform))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Code != "" {
		b.WriteString(" (code ")
		b.WriteString(e.Code)
		if e.Subcode != "" {
			b.WriteString("/")
			b.WriteString(e.Subcode)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// With attaches a context entry and returns e.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Snapshot renders the error as a payload map for persistence.
func (e *Error) Snapshot() map[string]any {
	out := map[string]any{
		"kind":      string(e.Kind),
		"platform":  string(e.Platform),
		"message":   e.Message,
		"retryable": e.Retryable,
	}
	if e.Code != "" {
		out["code"] = e.Code
	}
	if e.Type != "" {
		out["type"] = e.Type
	}
	if e.Subcode != "" {
		out["subcode"] = e.Subcode
	}
	if e.Err != nil {
		out["cause"] = e.Err.Error()
	}
	for k, v := range e.Context {
		out[k] = v
	}
	return out
}

func ConfigError(platform models.Platform, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Platform: platform, Code: "configuration", Message: fmt.Sprintf(format, args...)}
}

func ValidationError(platform models.Platform, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Platform: platform, Code: "validation", Message: fmt.Sprintf(format, args...)}
}

func TransientError(platform models.Platform, err error, format string, args ...any) *Error {
	return &Error{Kind: KindTransient, Platform: platform, Message: fmt.Sprintf(format, args...), Retryable: true, Err: err}
}

// AsError extracts the normalized error from err, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err is a provider error explicitly marked retryable.
func IsRetryable(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Retryable
}

// Normalize converts any error into a provider error for platform.
// Unrecognised errors are treated as transient.
func Normalize(platform models.Platform, err error) *Error {
	if err == nil {
		return nil
	}
	if pe, ok := AsError(err); ok {
		if pe.Platform == "" {
			pe.Platform = platform
		}
		return pe
	}
	return TransientError(platform, err, "unexpected failure")
}

// Require returns a configuration error naming the first empty value.
func Require(platform models.Platform, fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if strings.TrimSpace(fields[i+1]) == "" {
			return ConfigError(platform, "missing %s", fields[i])
		}
	}
	return nil
}
