package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dvloznov/bill-importer/internal/logger"
	"github.com/dvloznov/bill-importer/internal/resilience"
)

// ErrorRecorder counts failed calls per service.
type ErrorRecorder interface {
	IncrExternalError(service string)
}

// GuardOptions configures a Guarded completer.
type GuardOptions struct {
	// Timeout bounds a single attempt. Zero means no extra deadline.
	Timeout    time.Duration
	Resilience resilience.Config
	Recorder   ErrorRecorder
}

// Guarded decorates a Completer with a per-attempt timeout, a circuit
// breaker, a concurrency bulkhead and optional retries. Retries default to
// zero so a failed import surfaces immediately.
type Guarded struct {
	next     Completer
	opts     GuardOptions
	breaker  *gobreaker.CircuitBreaker
	bulkhead *resilience.Bulkhead
}

// NewGuarded wraps next.
func NewGuarded(next Completer, opts GuardOptions) *Guarded {
	return &Guarded{
		next:     next,
		opts:     opts,
		breaker:  resilience.NewCircuitBreaker("llm-" + next.Name()),
		bulkhead: resilience.NewBulkhead(opts.Resilience.MaxConcurrency),
	}
}

func (g *Guarded) Name() string {
	return g.next.Name()
}

func (g *Guarded) Complete(ctx context.Context, prompt string) (string, error) {
	log := logger.FromContext(ctx)

	if err := g.bulkhead.Acquire(ctx); err != nil {
		return "", &ServiceError{Service: g.Name(), Err: err}
	}
	defer g.bulkhead.Release()

	var reply string
	attempt := 0
	err := resilience.RetryWithBackoff(ctx, g.opts.Resilience, func() error {
		attempt++
		out, err := g.breaker.Execute(func() (interface{}, error) {
			callCtx := ctx
			if g.opts.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
				defer cancel()
			}
			return g.next.Complete(callCtx, prompt)
		})
		if err != nil {
			if g.opts.Recorder != nil {
				g.opts.Recorder.IncrExternalError(g.Name())
			}
			log.Warn().Err(err).Str("service", g.Name()).Int("attempt", attempt).Msg("Model call failed")
			return err
		}
		reply = out.(string)
		return nil
	})
	if err != nil {
		var svcErr *ServiceError
		if errors.As(err, &svcErr) {
			return "", err
		}
		return "", &ServiceError{Service: g.Name(), Err: err}
	}
	return reply, nil
}
