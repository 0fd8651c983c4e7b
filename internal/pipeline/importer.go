package pipeline

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dvloznov/bill-importer/internal/domain"
	"github.com/dvloznov/bill-importer/internal/logger"
	"github.com/dvloznov/bill-importer/internal/store"
	"github.com/dvloznov/bill-importer/internal/textextract"
)

// Recorder observes finished imports.
type Recorder interface {
	ObserveImport(source, outcome string, elapsed time.Duration)
	AddImportedTransactions(source string, n int)
}

// Options configures an Importer.
type Options struct {
	// FilterNoise enables the noise filter before extraction.
	FilterNoise bool
	// WriteConcurrency bounds parallel transaction writes.
	WriteConcurrency int
	Recorder         Recorder
	// PlainText serves documents declared as text/plain. Nil rejects them.
	PlainText textextract.Extractor
	// Now is the clock used for the processing date. Defaults to time.Now.
	Now func() time.Time
}

// Importer runs the document import pipeline for one user at a time.
type Importer struct {
	documents  *Pipeline
	scans      *Pipeline
	reconciler *Reconciler
	recorder   Recorder
	now        func() time.Time
}

// NewImporter wires the import pipeline. pdf turns PDF documents into text,
// txs turns text into raw transactions and s is the persistence sink.
func NewImporter(pdf textextract.Extractor, txs Extractor, s store.Store, opts Options) *Importer {
	reconciler := NewReconciler(s, opts.WriteConcurrency)

	steps := []PipelineStep{&ExtractTextStep{Extractors: textextract.NewByContentType(pdf, opts.PlainText)}}
	if opts.FilterNoise {
		steps = append(steps, &FilterNoiseStep{})
	}
	steps = append(steps,
		&ExtractTransactionsStep{Extractor: txs},
		&NormalizeStep{},
		&ReconcileStep{Reconciler: reconciler},
	)

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Importer{
		documents:  NewPipeline(steps...),
		scans:      NewPipeline(&NormalizeStep{}, &ReconcileStep{Reconciler: reconciler}),
		reconciler: reconciler,
		recorder:   opts.Recorder,
		now:        now,
	}
}

// ImportDocument extracts, reconciles and persists the transactions found in
// a PDF document. A returned error is always an *ImportError; for
// persistence failures the result still reports what was written.
func (im *Importer) ImportDocument(ctx context.Context, userID string, document []byte) (ImportResult, error) {
	return im.ImportDocumentAs(ctx, userID, document, textextract.MediaTypePDF)
}

// ImportDocumentAs is ImportDocument for a document of the declared
// contentType. Formats without an extractor fail as KindDocumentUnreadable.
func (im *Importer) ImportDocumentAs(ctx context.Context, userID string, document []byte, contentType string) (ImportResult, error) {
	state := &ImportState{
		UserID:      userID,
		Document:    document,
		ContentType: contentType,
		Source:      domain.SourcePDF,
		Today:       civil.DateOf(im.now()),
	}
	return im.run(ctx, "ImportDocument", im.documents, state)
}

// ImportScanned imports a single scanned QR or barcode payload.
func (im *Importer) ImportScanned(ctx context.Context, userID, payload string) (ImportResult, error) {
	today := civil.DateOf(im.now())
	state := &ImportState{
		UserID:          userID,
		Source:          domain.SourceScan,
		Today:           today,
		RawTransactions: []domain.RawTransaction{NormalizeScan(payload, today)},
	}
	return im.run(ctx, "ImportScanned", im.scans, state)
}

func (im *Importer) run(ctx context.Context, op string, p *Pipeline, state *ImportState) (ImportResult, error) {
	log := logger.WithUser(logger.FromContext(ctx), state.UserID)
	ctx = logger.WithContext(ctx, log)

	ctx, span := tracer.Start(ctx, "pipeline."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", state.UserID),
		attribute.String("import.source", string(state.Source)),
	)

	start := time.Now()
	log.Info().Str("source", string(state.Source)).Int("document_bytes", len(state.Document)).Msg("Starting import")

	err := p.Execute(ctx, state)
	res := state.Result
	if err == nil {
		res.Empty = len(state.RawTransactions) == 0
	}

	outcome := "success"
	if err != nil {
		ie := asImportError(err)
		outcome = string(ie.Kind)
		span.RecordError(ie)
		span.SetStatus(codes.Error, ie.Error())
		log.Error().Err(ie).Str("kind", string(ie.Kind)).Int("succeeded", ie.Succeeded).Msg("Import failed")
		im.record(state.Source, outcome, start, res.ImportedCount)
		return res, ie
	}
	if res.Empty {
		outcome = "empty"
	}

	span.SetAttributes(attribute.Int("import.count", res.ImportedCount))
	log.Info().
		Int("imported_count", res.ImportedCount).
		Str("new_balance", res.NewBalance.String()).
		Bool("empty", res.Empty).
		Dur("elapsed", time.Since(start)).
		Msg("Import finished")
	im.record(state.Source, outcome, start, res.ImportedCount)
	return res, nil
}

func (im *Importer) record(source domain.Source, outcome string, start time.Time, n int) {
	if im.recorder == nil {
		return
	}
	im.recorder.ObserveImport(string(source), outcome, time.Since(start))
	if n > 0 {
		im.recorder.AddImportedTransactions(string(source), n)
	}
}
