package amqp

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/dvloznov/bill-importer/internal/jobs"
)

func TestEncodeDecodeJob(t *testing.T) {
	created := time.Date(2025, 7, 15, 10, 0, 0, 0, time.UTC)
	job := &jobs.ImportDocumentJob{
		JobID:       "j1",
		UserID:      "u1",
		Filename:    "fatura.pdf",
		ContentType: "application/pdf",
		GCSURI:      "gs://bills/imports/u1/j1/fatura.pdf",
		Document:    []byte("must not travel"),
		CreatedAt:   created,
		RetryCount:  1,
		MaxRetries:  3,
	}

	body, err := encodeJob(job)
	if err != nil {
		t.Fatalf("encodeJob: %v", err)
	}
	got, err := decodeJob(body)
	if err != nil {
		t.Fatalf("decodeJob: %v", err)
	}
	if got.JobID != "j1" || got.UserID != "u1" || got.GCSURI != job.GCSURI || got.RetryCount != 1 || got.MaxRetries != 3 {
		t.Errorf("decoded %+v", got)
	}
	if !got.CreatedAt.Equal(created) || got.Status != jobs.JobStatusPending || got.ContentType != "application/pdf" {
		t.Errorf("decoded %+v", got)
	}
	if got.Document != nil {
		t.Error("document bytes travelled in the message")
	}
}

func TestEncodeJob_RequiresStagedDocument(t *testing.T) {
	if _, err := encodeJob(&jobs.ImportDocumentJob{JobID: "j1", UserID: "u1", Document: []byte("x")}); err == nil {
		t.Error("encoded a job without a GCS URI")
	}
}

func TestDecodeJob_Rejects(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{"job_id": "j1", "user_id": "u1"}`,
		`{"job_id": "j1", "gcs_uri": "gs://b/x"}`,
	} {
		if _, err := decodeJob([]byte(body)); err == nil {
			t.Errorf("decodeJob(%s) succeeded", body)
		}
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		retries int
		want    action
	}{
		{"success", nil, 0, actionAck},
		{"transient", errors.New("503"), 0, actionRetry},
		{"transient out of retries", errors.New("503"), 3, actionReject},
		{"permanent", jobs.Permanent(errors.New("unreadable")), 0, actionReject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &jobs.ImportDocumentJob{RetryCount: tt.retries, MaxRetries: 3}
			if got := decide(tt.err, job); got != tt.want {
				t.Errorf("decide = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewClient_Integration(t *testing.T) {
	url := os.Getenv("TEST_AMQP_URL")
	if url == "" {
		t.Skip("TEST_AMQP_URL not set")
	}
	c, err := NewClient(url, "bill-importer-test", "bill-importer-test-jobs")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
