package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/bill-importer/internal/logger"
	"github.com/dvloznov/bill-importer/internal/pipeline"
)

// Importer is the part of pipeline.Importer that jobs drive.
type Importer interface {
	ImportDocumentAs(ctx context.Context, userID string, document []byte, contentType string) (pipeline.ImportResult, error)
}

// DocumentFetcher loads documents staged outside the job message.
type DocumentFetcher interface {
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// NewImportHandler returns a JobHandler that runs the import pipeline.
// fetcher may be nil when every job carries its document inline.
//
// Only model failures and cancelled attempts are retried. Unreadable
// documents and persistence failures are permanent: a partially written
// batch must not run twice.
func NewImportHandler(im Importer, fetcher DocumentFetcher) JobHandler {
	return func(ctx context.Context, job *ImportDocumentJob) error {
		log := logger.FromContext(ctx).With().Str("job_id", job.JobID).Str("user_id", job.UserID).Logger()
		ctx = logger.WithContext(ctx, log)

		document := job.Document
		if len(document) == 0 {
			if job.GCSURI == "" || fetcher == nil {
				return Permanent(fmt.Errorf("ImportHandler: job %s has no document", job.JobID))
			}
			var err error
			document, err = fetcher.FetchFromGCS(ctx, job.GCSURI)
			if err != nil {
				return fmt.Errorf("ImportHandler: fetch %s: %w", job.GCSURI, err)
			}
		}

		res, err := im.ImportDocumentAs(ctx, job.UserID, document, job.ContentType)
		if res.ImportedCount > 0 || err == nil {
			job.Result = &JobResult{
				ImportedCount: res.ImportedCount,
				NewBalance:    res.NewBalance,
				Empty:         res.Empty,
			}
		}
		if err != nil {
			if pipeline.IsModelService(err) || pipeline.IsCanceled(err) {
				return err
			}
			return Permanent(err)
		}

		log.Info().Int("imported_count", res.ImportedCount).Msg("Import job finished")
		return nil
	}
}
