// Package llm holds the clients for the hosted text-completion services used
// to extract transactions from document text.
package llm

import (
	"context"
	"fmt"

	"github.com/dvloznov/bill-importer/internal/config"
	"github.com/dvloznov/bill-importer/internal/resilience"
)

// Completer sends a prompt to a text-completion service and returns the raw
// reply. Replies are free text; callers must not assume they are valid JSON.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Name() string
}

// ServiceError wraps a failed completion call.
type ServiceError struct {
	Service string
	Err     error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("model service error [%s]: %v", e.Service, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// NewFromConfig builds the configured provider wrapped in a Guarded decorator.
// rec may be nil.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, rec ErrorRecorder) (Completer, func() error, error) {
	var (
		base    Completer
		closeFn = func() error { return nil }
	)

	switch cfg.Provider {
	case "", "gemini":
		c, err := NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, nil, err
		}
		base = c
	case "gigachat":
		c, err := NewGigaChatClient(ctx, cfg.GigaChatAPIKey, cfg.GigaChatScope, cfg.GigaChatInsecure)
		if err != nil {
			return nil, nil, err
		}
		base = c
		closeFn = c.Close
	default:
		return nil, nil, fmt.Errorf("NewFromConfig: unknown provider %q", cfg.Provider)
	}

	guarded := NewGuarded(base, GuardOptions{
		Timeout:  cfg.Timeout,
		Recorder: rec,
		Resilience: resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		},
	})
	return guarded, closeFn, nil
}
