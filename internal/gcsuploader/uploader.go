package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/bill-importer/internal/logger"
)

// GCSStorageService stages and fetches documents in Google Cloud Storage.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
type GCSStorageService struct {
	client *storage.Client
	bucket string
}

// NewGCSStorageService creates a storage client. bucket is the default
// bucket for uploads; fetches accept any gs:// URI.
func NewGCSStorageService(ctx context.Context, bucket string) (*GCSStorageService, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCSStorageService: create storage client: %w", err)
	}
	return &GCSStorageService{client: client, bucket: bucket}, nil
}

// UploadBytes writes data under objectName in the default bucket and
// returns its gs:// URI.
func (s *GCSStorageService) UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	return s.upload(ctx, objectName, bytes.NewReader(data), contentType)
}

// UploadFile uploads a local file to the default bucket under objectName.
func (s *GCSStorageService) UploadFile(ctx context.Context, objectName, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()

	return s.upload(ctx, objectName, f, "")
}

func (s *GCSStorageService) upload(ctx context.Context, objectName string, r io.Reader, contentType string) (string, error) {
	if s.bucket == "" {
		return "", fmt.Errorf("upload: no bucket configured")
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload: copy to GCS writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload: finalize %s: %w", objectName, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", s.bucket, objectName)
	log := logger.FromContext(ctx)
	log.Debug().Str("gcs_uri", uri).Msg("Uploaded object")
	return uri, nil
}

// FetchFromGCS downloads the file bytes from the given GCS URI.
func (s *GCSStorageService) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseGCSURI(gcsURI)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("FetchFromGCS: reading bytes: %w", err)
	}
	return data, nil
}

// Close releases the storage client.
func (s *GCSStorageService) Close() error {
	return s.client.Close()
}

// ParseGCSURI splits gs://bucket/path/to/object into bucket and object path.
func ParseGCSURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}

	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

// StagingObjectName is where an uploaded document waits for its import job.
func StagingObjectName(userID, jobID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	return path.Join("imports", userID, jobID, name)
}
