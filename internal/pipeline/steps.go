package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/logger"
	"github.com/dvloznov/bill-importer/internal/textextract"
)

var tracer = otel.Tracer("pipeline")

// PipelineStep represents a single step in the import pipeline.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *ImportState) error
}

// ImportState holds the shared state across all pipeline steps.
type ImportState struct {
	UserID      string
	Document    []byte
	ContentType string
	Source      domain.Source
	Today       civil.Date

	Text            string
	RawTransactions []domain.RawTransaction
	Transactions    []domain.Transaction
	Result          ImportResult
}

// ExtractTextStep turns the document into text with the extractor serving
// its declared content type.
type ExtractTextStep struct {
	Extractors *textextract.ByContentType
}

func (s *ExtractTextStep) Name() string { return "extract_text" }

func (s *ExtractTextStep) Execute(ctx context.Context, state *ImportState) error {
	if err := ctx.Err(); err != nil {
		return &ImportError{Kind: KindCanceled, Op: "ExtractText", Err: err}
	}
	extractor, err := s.Extractors.For(state.ContentType)
	if err != nil {
		return &ImportError{Kind: KindDocumentUnreadable, Op: "ExtractText", Err: err}
	}
	text, err := extractor.ExtractText(ctx, state.Document)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &ImportError{Kind: KindCanceled, Op: "ExtractText", Err: ctxErr}
		}
		return &ImportError{Kind: KindDocumentUnreadable, Op: "ExtractText", Err: err}
	}
	state.Text = text
	return nil
}

// FilterNoiseStep drops lines that cannot be transactions.
type FilterNoiseStep struct{}

func (s *FilterNoiseStep) Name() string { return "filter_noise" }

func (s *FilterNoiseStep) Execute(ctx context.Context, state *ImportState) error {
	before := len(state.Text)
	state.Text = FilterNoise(state.Text)
	log := logger.FromContext(ctx)
	log.Debug().Int("chars_before", before).Int("chars_after", len(state.Text)).Msg("Filtered document text")
	return nil
}

// ExtractTransactionsStep asks the extractor for raw transactions. Blank
// text short-circuits to an empty batch.
type ExtractTransactionsStep struct {
	Extractor Extractor
}

func (s *ExtractTransactionsStep) Name() string { return "extract_transactions" }

func (s *ExtractTransactionsStep) Execute(ctx context.Context, state *ImportState) error {
	if strings.TrimSpace(state.Text) == "" {
		state.RawTransactions = nil
		return nil
	}
	raws, err := s.Extractor.Extract(ctx, state.Text)
	if err != nil {
		return &ImportError{Kind: KindModelService, Op: "ExtractTransactions", Err: err}
	}
	state.RawTransactions = raws
	return nil
}

// NormalizeStep types every raw transaction.
type NormalizeStep struct{}

func (s *NormalizeStep) Name() string { return "normalize" }

func (s *NormalizeStep) Execute(ctx context.Context, state *ImportState) error {
	state.Transactions = NormalizeAll(state.RawTransactions, state.Today, state.UserID, state.Source)
	return nil
}

// ReconcileStep persists the batch and moves the balance.
type ReconcileStep struct {
	Reconciler *Reconciler
}

func (s *ReconcileStep) Name() string { return "reconcile" }

func (s *ReconcileStep) Execute(ctx context.Context, state *ImportState) error {
	res, err := s.Reconciler.Apply(ctx, state.UserID, state.Transactions, state.Today)
	state.Result = res
	return err
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *ImportState) error {
	for i, step := range p.steps {
		stepCtx, span := tracer.Start(ctx, "pipeline."+step.Name())
		span.SetAttributes(attribute.String("user.id", state.UserID))
		err := step.Execute(stepCtx, state)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

// asImportError extracts the ImportError carried by err, classifying
// anything unexpected as a persistence failure.
func asImportError(err error) *ImportError {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie
	}
	return &ImportError{Kind: KindPersistence, Op: "ImportDocument", Err: err}
}
