package inmemory

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/bill-importer/internal/jobs"
	"github.com/dvloznov/bill-importer/internal/logger"
)

// StatusRecorder counts jobs reaching a final status.
type StatusRecorder interface {
	IncrJob(status string)
}

// Queue is an in-memory implementation of job publisher and consumer.
// Each user is routed to one fixed worker, so a user's imports never run
// concurrently while different users proceed in parallel.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	// RetryBackoff is multiplied by the retry count before a failed job is
	// re-enqueued. Set before Start.
	RetryBackoff time.Duration
	// Recorder, if set, observes final job statuses. Set before Start.
	Recorder StatusRecorder

	lanes     []chan *jobs.ImportDocumentJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	closed    bool
}

// NewQueue creates a new in-memory job queue with the given number of
// workers. bufferSize determines how many jobs each worker can hold before
// PublishImportDocument blocks.
func NewQueue(workers, bufferSize int, store jobs.JobStore) *Queue {
	if workers < 1 {
		workers = 1
	}
	lanes := make([]chan *jobs.ImportDocumentJob, workers)
	for i := range lanes {
		lanes[i] = make(chan *jobs.ImportDocumentJob, bufferSize)
	}
	return &Queue{
		RetryBackoff: time.Second,
		lanes:        lanes,
		closeChan:    make(chan struct{}),
		store:        store,
	}
}

func (q *Queue) lane(userID string) chan *jobs.ImportDocumentJob {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return q.lanes[h.Sum32()%uint32(len(q.lanes))]
}

// PublishImportDocument enqueues an import job on its user's worker.
func (q *Queue) PublishImportDocument(ctx context.Context, job *jobs.ImportDocumentJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = 3
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	select {
	case q.lane(job.UserID) <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start starts one worker per lane.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for _, lane := range q.lanes {
		q.wg.Add(1)
		go q.worker(ctx, lane, handler)
	}

	log := logger.FromContext(ctx)
	log.Info().Int("workers", len(q.lanes)).Msg("Job queue started")
	return nil
}

// worker processes jobs from one lane.
func (q *Queue) worker(ctx context.Context, lane <-chan *jobs.ImportDocumentJob, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-lane:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job with retry logic.
func (q *Queue) processJob(ctx context.Context, job *jobs.ImportDocumentJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().Str("job_id", job.JobID).Str("user_id", job.UserID).Logger()

	job.Status = jobs.JobStatusRunning
	now := time.Now()
	job.StartedAt = &now

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	case !jobs.IsPermanent(err) && job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying

		log.Warn().Err(err).Int("retry_count", job.RetryCount).Msg("Job failed, retrying")
	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Int("retry_count", job.RetryCount).Msg("Job failed")
	}

	if job.Status == jobs.JobStatusCompleted || job.Status == jobs.JobStatusFailed {
		job.Document = nil
		if q.Recorder != nil {
			q.Recorder.IncrJob(string(job.Status))
		}
	}

	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	if job.Status == jobs.JobStatusRetrying {
		q.scheduleRetry(ctx, job)
	}
}

// scheduleRetry re-enqueues a copy of job after its backoff. The worker that
// ran the failed attempt keeps its own copy.
func (q *Queue) scheduleRetry(ctx context.Context, job *jobs.ImportDocumentJob) {
	retry := *job
	retry.Status = jobs.JobStatusPending
	retry.StartedAt = nil
	retry.CompletedAt = nil
	retry.Result = nil

	backoff := time.Duration(retry.RetryCount) * q.RetryBackoff
	time.AfterFunc(backoff, func() {
		if err := q.PublishImportDocument(ctx, &retry); err != nil {
			log := logger.FromContext(ctx)
			log.Error().Err(err).Str("job_id", retry.JobID).Msg("Failed to re-enqueue job")
		}
	})
}

// Stop stops the queue and waits for in-flight jobs to complete. Jobs still
// buffered are dropped.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
