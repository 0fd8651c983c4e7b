// Package amqp publishes and consumes import jobs over RabbitMQ.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/dvloznov/bill-importer/internal/jobs"
	"github.com/dvloznov/bill-importer/internal/logger"
)

// Client is a jobs.Publisher and jobs.Consumer backed by a durable queue.
// Documents do not travel in messages; jobs must reference a staged GCS object.
type Client struct {
	// Store, if set, records job status transitions seen by this process.
	Store jobs.JobStore

	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewClient dials the broker and declares the exchange, queue and binding.
func NewClient(url, exchangeName, queueName string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("NewClient: dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("NewClient: open channel: %w", err)
	}

	c := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
	}

	if err := c.setup(); err != nil {
		c.Close()
		return nil, fmt.Errorf("NewClient: setup exchange and queue: %w", err)
	}
	return c, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Routing key is the queue name on a direct exchange.
	if err := c.channel.QueueBind(c.queueName, c.queueName, c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// PublishImportDocument publishes a persistent job message.
func (c *Client) PublishImportDocument(ctx context.Context, job *jobs.ImportDocumentJob) error {
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

	body, err := encodeJob(job)
	if err != nil {
		return fmt.Errorf("PublishImportDocument: %w", err)
	}

	if c.Store != nil {
		if err := c.Store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishImportDocument: save job: %w", err)
		}
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = c.channel.PublishWithContext(
		pubCtx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    job.JobID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("PublishImportDocument: publish message: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("job_id", job.JobID).
		Str("user_id", job.UserID).
		Str("queue", c.queueName).
		Int("retry_count", job.RetryCount).
		Msg("Published import job")
	return nil
}

// Start consumes one message at a time until ctx is cancelled or Stop is
// called. Prefetch of one keeps a worker's jobs strictly sequential.
func (c *Client) Start(ctx context.Context, handler jobs.JobHandler) error {
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("Start: set prefetch: %w", err)
	}

	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("Start: start consuming: %w", err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(ctx, msgs, handler)
	}()

	log := logger.FromContext(ctx)
	log.Info().Str("queue", c.queueName).Msg("Started consuming import jobs")
	return nil
}

func (c *Client) consume(ctx context.Context, msgs <-chan amqp091.Delivery, handler jobs.JobHandler) {
	log := logger.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Err(ctx.Err()).Msg("Stopping message consumption")
			return
		case delivery, ok := <-msgs:
			if !ok {
				log.Warn().Msg("Message channel closed")
				return
			}
			c.handle(ctx, delivery, handler)
		}
	}
}

func (c *Client) handle(ctx context.Context, delivery amqp091.Delivery, handler jobs.JobHandler) {
	log := logger.FromContext(ctx)

	job, err := decodeJob(delivery.Body)
	if err != nil {
		log.Error().Err(err).Msg("Failed to decode job message")
		_ = delivery.Nack(false, false)
		return
	}

	log = log.With().Str("job_id", job.JobID).Str("user_id", job.UserID).Logger()
	now := time.Now()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &now
	c.save(ctx, job)

	herr := handler(logger.WithContext(ctx, log), job)

	completed := time.Now()
	job.CompletedAt = &completed

	switch decide(herr, job) {
	case actionAck:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		_ = delivery.Ack(false)
		log.Info().Msg("Import job completed")
	case actionRetry:
		job.Error = herr.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusPending
		job.StartedAt, job.CompletedAt = nil, nil
		// Republish before acking so the job is never lost.
		if err := c.PublishImportDocument(ctx, job); err != nil {
			log.Error().Err(err).Msg("Failed to republish job, requeueing")
			_ = delivery.Nack(false, true)
			return
		}
		_ = delivery.Ack(false)
		log.Warn().Err(herr).Int("retry_count", job.RetryCount).Msg("Import job failed, retrying")
	case actionReject:
		job.Error = herr.Error()
		job.Status = jobs.JobStatusFailed
		_ = delivery.Nack(false, false)
		log.Error().Err(herr).Int("retry_count", job.RetryCount).Msg("Import job failed")
	}
	c.save(ctx, job)
}

func (c *Client) save(ctx context.Context, job *jobs.ImportDocumentJob) {
	if c.Store == nil {
		return
	}
	if err := c.Store.SaveJob(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to record job status")
	}
}

// Stop cancels consumption and waits for the in-flight job.
func (c *Client) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel and the connection.
func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

type action int

const (
	actionAck action = iota
	actionRetry
	actionReject
)

func decide(err error, job *jobs.ImportDocumentJob) action {
	switch {
	case err == nil:
		return actionAck
	case jobs.IsPermanent(err) || job.RetryCount >= job.MaxRetries:
		return actionReject
	default:
		return actionRetry
	}
}

// message is the wire form of a job. Document bytes never travel.
type message struct {
	JobID       string    `json:"job_id"`
	UserID      string    `json:"user_id"`
	Filename    string    `json:"filename,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	GCSURI      string    `json:"gcs_uri"`
	CreatedAt   time.Time `json:"created_at"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
}

func encodeJob(job *jobs.ImportDocumentJob) ([]byte, error) {
	if job.GCSURI == "" {
		return nil, fmt.Errorf("encodeJob: job %s has no staged document", job.JobID)
	}
	return json.Marshal(message{
		JobID:       job.JobID,
		UserID:      job.UserID,
		Filename:    job.Filename,
		ContentType: job.ContentType,
		GCSURI:      job.GCSURI,
		CreatedAt:   job.CreatedAt,
		RetryCount:  job.RetryCount,
		MaxRetries:  job.MaxRetries,
	})
}

func decodeJob(body []byte) (*jobs.ImportDocumentJob, error) {
	var m message
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decodeJob: %w", err)
	}
	if m.JobID == "" || m.UserID == "" || m.GCSURI == "" {
		return nil, fmt.Errorf("decodeJob: job_id, user_id and gcs_uri are required")
	}
	return &jobs.ImportDocumentJob{
		JobID:       m.JobID,
		UserID:      m.UserID,
		Filename:    m.Filename,
		ContentType: m.ContentType,
		GCSURI:      m.GCSURI,
		Status:      jobs.JobStatusPending,
		CreatedAt:   m.CreatedAt,
		RetryCount:  m.RetryCount,
		MaxRetries:  m.MaxRetries,
	}, nil
}

var _ jobs.Publisher = (*Client)(nil)
var _ jobs.Consumer = (*Client)(nil)
