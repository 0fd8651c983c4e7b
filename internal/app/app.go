// Package app assembles the import pipeline from configuration for the
// binaries in cmd/.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/bill-importer/internal/config"
	"github.com/dvloznov/bill-importer/internal/llm"
	"github.com/dvloznov/bill-importer/internal/observability"
	"github.com/dvloznov/bill-importer/internal/pipeline"
	"github.com/dvloznov/bill-importer/internal/store"
	"github.com/dvloznov/bill-importer/internal/store/backend"
	"github.com/dvloznov/bill-importer/internal/textextract"
)

// Components are the long-lived collaborators of one process.
type Components struct {
	Store     store.Store
	Importer  *pipeline.Importer
	Completer llm.Completer
	Metrics   *observability.Metrics

	closers []func() error
}

// Build opens the store, connects the model client and wires the importer.
// Callers own the result and must Close it. A nil metrics gets a private
// registry nobody scrapes.
func Build(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*Components, error) {
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	s, err := backend.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("Build: %w", err)
	}

	completer, closeLLM, err := llm.NewFromConfig(ctx, cfg.LLM, metrics)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}

	extractor := pipeline.NewModelExtractor(completer)
	extractor.Recorder = metrics

	return &Components{
		Store:     s,
		Metrics:   metrics,
		Completer: completer,
		Importer:  NewImporter(cfg.Pipeline, textextract.NewPDF(), extractor, s, metrics),
		closers:   []func() error{closeLLM, s.Close},
	}, nil
}

// NewImporter wires an importer with the configured pipeline options. pdf
// reads documents declared as PDF. Documents declared as text/plain are
// passed through as text. metrics may be nil.
func NewImporter(cfg config.PipelineConfig, pdf textextract.Extractor, txs pipeline.Extractor, s store.Store, metrics *observability.Metrics) *pipeline.Importer {
	opts := pipeline.Options{
		FilterNoise:      cfg.FilterNoise,
		WriteConcurrency: cfg.WriteConcurrency,
		PlainText:        textextract.PlainText{},
	}
	if metrics != nil {
		opts.Recorder = metrics
	}
	return pipeline.NewImporter(pdf, txs, s, opts)
}

// Close releases the model client and the store.
func (c *Components) Close() error {
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
