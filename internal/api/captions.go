package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"imagepipe/internal/artifacts"
	"imagepipe/internal/logging"
	"imagepipe/internal/services"
	"imagepipe/internal/services/captioner"
)

// handleCaptions runs the caption search for every uploaded image concurrently
// and returns all matches ranked by similarity. Uploads are removed whether or
// not the search succeeds.
func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request) {
	if s.captioner == nil {
		RespondWithError(w, http.StatusNotFound, "captioning is disabled")
		return
	}
	params, err := captionParams(r)
	if err != nil {
		RespondWithErr(w, err)
		return
	}
	items, err := s.receiveImages(w, r)
	if err != nil {
		s.respondIntakeError(w, err)
		return
	}

	tracker := artifacts.New(s.logger)
	defer tracker.Release()
	for _, item := range items {
		tracker.Add(item.SourcePath)
	}

	ctx := context.WithoutCancel(r.Context())
	perImage := make([][]captioner.Result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		g.Go(func() error {
			results, err := s.captioner.Generate(gctx, item.SourcePath, params)
			if err != nil {
				return fmt.Errorf("%s: %w", item.Name, err)
			}
			s.logger.Debug("caption search complete",
				logging.String(logging.FieldItem, item.Name),
				logging.Int("matches", len(results)),
			)
			perImage[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logging.ErrorWithContext(s.logger, "caption search failed", "caption_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run the caption script by hand against the same image"),
		)
		RespondWithErr(w, err)
		return
	}

	var flat []captioner.Result
	for _, results := range perImage {
		flat = append(flat, results...)
	}
	captioner.SortBySimilarity(flat)
	if flat == nil {
		flat = []captioner.Result{}
	}
	RespondWithJSON(w, http.StatusOK, CaptionResponse{Results: flat})
}

// captionParams reads optional search tuning from the query string. Absent
// values fall back to the captioner defaults.
func captionParams(r *http.Request) (captioner.Params, error) {
	query := r.URL.Query()
	var params captioner.Params
	fields := []struct {
		key string
		dst *int
	}{
		{"batchSize", &params.BatchSize},
		{"numberOfAnnotations", &params.Samples},
		{"numberOfResults", &params.Results},
	}
	for _, f := range fields {
		raw := strings.TrimSpace(query.Get(f.key))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			return captioner.Params{}, services.Wrap(services.ErrInput, captioner.StageName, "params",
				fmt.Sprintf("%s must be a positive integer", f.key), nil)
		}
		*f.dst = value
	}
	return params, nil
}
