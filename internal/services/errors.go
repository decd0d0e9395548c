package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrInput          = errors.New("input error")
	ErrStageExecution = errors.New("stage execution error")
	ErrTransfer       = errors.New("transfer error")
	ErrCleanup        = errors.New("cleanup error")
	ErrTimeout        = errors.New("timeout")
	ErrConfiguration  = errors.New("configuration error")
	ErrNotFound       = errors.New("not found")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrStageExecution
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind returns a short label for the marker carried by err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInput):
		return "input"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransfer):
		return "transfer"
	case errors.Is(err, ErrStageExecution):
		return "stage_execution"
	case errors.Is(err, ErrCleanup):
		return "cleanup"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error to the response code the API returns for it.
// Item-scoped failures never reach this mapping; they travel inside batch results.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
