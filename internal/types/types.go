package types

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by the pipeline and its adapters.
var (
	// ErrConfiguration marks missing or invalid settings. Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrInput marks a malformed request rejected before it reaches the pipeline.
	ErrInput = errors.New("invalid input")
)

// ProviderError wraps a failure returned by an embedding or completion provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err unless it already carries a ProviderError or a
// configuration error.
func NewProviderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) || errors.Is(err, ErrConfiguration) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}

// Configurationf returns an error wrapping ErrConfiguration.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Answerer is the port adapters use to answer a question.
type Answerer interface {
	Ask(ctx context.Context, query string) (string, error)
}
