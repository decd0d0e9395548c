package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5/middleware"

	"imagepipe/internal/intake"
	"imagepipe/internal/logging"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/services"
)

// imagesField is the multipart field that carries uploaded files.
const imagesField = "images"

var errNoImages = services.Wrap(services.ErrInput, "", "upload", "no image files provided", nil)

// handleUpload saves every uploaded file, runs the batch to completion, and
// reports per-item outcomes. Item failures still produce a 200 response.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		RespondWithError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	items, err := s.receiveImages(w, r)
	if err != nil {
		s.respondIntakeError(w, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if id := middleware.GetReqID(r.Context()); id != "" {
		ctx = services.WithRequestID(ctx, id)
	}

	result, err := s.runner.ProcessBatch(ctx, items)
	if err != nil {
		removeItems(items)
		RespondWithErr(w, err)
		return
	}
	RespondWithJSON(w, http.StatusOK, FromBatchResult(result))
}

// receiveImages parses the multipart body and stores each file in the upload
// directory. On failure nothing it stored is left behind.
func (s *Server) receiveImages(w http.ResponseWriter, r *http.Request) ([]pipeline.Item, error) {
	if s.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	}
	if err := r.ParseMultipartForm(maxMemoryMultipart); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			return nil, errNoImages
		}
		return nil, services.Wrap(services.ErrInput, "", "upload", "invalid multipart body", err)
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	headers := r.MultipartForm.File[imagesField]
	if len(headers) == 0 {
		return nil, errNoImages
	}

	items := make([]pipeline.Item, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			removeItems(items)
			return nil, fmt.Errorf("open upload %q: %w", header.Filename, err)
		}
		item, err := intake.Save(s.uploadDir, header.Filename, file)
		_ = file.Close()
		if err != nil {
			removeItems(items)
			return nil, fmt.Errorf("store upload %q: %w", header.Filename, err)
		}
		items = append(items, item)
	}
	s.logger.Info("upload received",
		logging.Int("files", len(items)),
		logging.String(logging.FieldEventType, "upload_received"),
	)
	return items, nil
}

func (s *Server) respondIntakeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		RespondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit))
		return
	}
	if !errors.Is(err, services.ErrInput) {
		logging.ErrorWithContext(s.logger, "upload intake failed", "upload_intake_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions and free space in the upload directory"),
		)
	}
	RespondWithErr(w, err)
}

// removeItems deletes uploads that never reached the orchestrator; once a
// batch starts its tracker owns them.
func removeItems(items []pipeline.Item) {
	for _, item := range items {
		_ = os.Remove(item.SourcePath)
	}
}
