package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/bill-importer/internal/api/middleware"
	"github.com/dvloznov/bill-importer/internal/gcsuploader"
	"github.com/dvloznov/bill-importer/internal/jobs"
	"github.com/dvloznov/bill-importer/internal/pipeline"
)

// DocumentImporter runs the import pipeline.
type DocumentImporter interface {
	ImportDocumentAs(ctx context.Context, userID string, document []byte, contentType string) (pipeline.ImportResult, error)
	ImportScanned(ctx context.Context, userID, payload string) (pipeline.ImportResult, error)
}

// Stager uploads a document somewhere a remote worker can fetch it.
type Stager interface {
	UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// ImportsHandler handles document and scan imports.
type ImportsHandler struct {
	importer  DocumentImporter
	publisher jobs.Publisher
	stager    Stager
	maxBytes  int64
	log       zerolog.Logger
}

// NewImportsHandler creates a new imports handler. publisher may be nil, in
// which case async imports are refused. stager may be nil, in which case
// queued jobs carry the document bytes in-process.
func NewImportsHandler(importer DocumentImporter, publisher jobs.Publisher, stager Stager, maxBytes int64, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{
		importer:  importer,
		publisher: publisher,
		stager:    stager,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// ImportDocument handles POST /v1/users/{userID}/imports
func (h *ImportsHandler) ImportDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")

	doc, filename, contentType, err := readDocument(w, r, h.maxBytes)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Document too large")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		h.enqueue(w, r, userID, doc, filename, contentType)
		return
	}

	result, err := h.importer.ImportDocumentAs(ctx, userID, doc, contentType)
	if err != nil {
		h.writeImportError(w, userID, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, result)
}

func (h *ImportsHandler) enqueue(w http.ResponseWriter, r *http.Request, userID string, doc []byte, filename, contentType string) {
	ctx := r.Context()

	if h.publisher == nil {
		middleware.WriteError(w, http.StatusNotImplemented, "Async imports are not enabled")
		return
	}

	job := &jobs.ImportDocumentJob{
		JobID:       uuid.New().String(),
		UserID:      userID,
		Filename:    filename,
		ContentType: contentType,
	}

	if h.stager != nil {
		uri, err := h.stager.UploadBytes(ctx, gcsuploader.StagingObjectName(userID, job.JobID, filename), doc, contentType)
		if err != nil {
			h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to stage document")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to stage document")
			return
		}
		job.GCSURI = uri
	} else {
		job.Document = doc
	}

	if err := h.publisher.PublishImportDocument(ctx, job); err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue import job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("user_id", userID).Str("filename", filename).Msg("Import job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// ImportScan handles POST /v1/users/{userID}/scans
func (h *ImportsHandler) ImportScan(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req struct {
		Payload string `json:"payload"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Payload) == "" {
		middleware.WriteError(w, http.StatusBadRequest, "payload is required")
		return
	}

	result, err := h.importer.ImportScanned(r.Context(), userID, req.Payload)
	if err != nil {
		h.writeImportError(w, userID, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, result)
}

// writeImportError maps a pipeline failure onto a response. Persistence
// failures report how many transactions were written before the import gave
// up.
func (h *ImportsHandler) writeImportError(w http.ResponseWriter, userID string, err error) {
	var ie *pipeline.ImportError
	if !errors.As(err, &ie) {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Import failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Import failed")
		return
	}

	h.log.Warn().Err(err).Str("user_id", userID).Str("kind", string(ie.Kind)).Msg("Import failed")

	body := map[string]interface{}{
		"error": importErrorMessage(ie.Kind),
		"kind":  ie.Kind,
	}
	if ie.Kind == pipeline.KindPersistence {
		body["succeeded"] = ie.Succeeded
	}
	middleware.WriteJSON(w, ie.HTTPStatus(), body)
}

func importErrorMessage(kind pipeline.Kind) string {
	switch kind {
	case pipeline.KindDocumentUnreadable:
		return "Document could not be read"
	case pipeline.KindModelService:
		return "Extraction service unavailable"
	case pipeline.KindCanceled:
		return "Import canceled"
	default:
		return "Failed to save transactions"
	}
}

// readDocument accepts either a multipart form with a "document" file field
// or a raw body. Raw bodies take their filename from ?filename=.
func readDocument(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, string, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, "", "", fmt.Errorf("missing or invalid Content-Type")
	}

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, "", "", err
		}
		file, header, err := r.FormFile("document")
		if err != nil {
			return nil, "", "", fmt.Errorf("document field is required")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", "", err
		}
		if len(data) == 0 {
			return nil, "", "", fmt.Errorf("document is empty")
		}
		contentType := header.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/pdf"
		}
		return data, filepath.Base(header.Filename), contentType, nil
	}

	switch mediaType {
	case "application/pdf", "application/octet-stream", "text/plain":
	default:
		return nil, "", "", fmt.Errorf("unsupported Content-Type %q", mediaType)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", "", err
	}
	if len(data) == 0 {
		return nil, "", "", fmt.Errorf("document is empty")
	}

	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "document.pdf"
	}
	return data, filepath.Base(filename), mediaType, nil
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /v1/jobs/{jobID}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.store.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /v1/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: query.Get("user_id"),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.ImportDocumentJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
