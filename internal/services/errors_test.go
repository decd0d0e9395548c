package services_test

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"imagepipe/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrStageExecution, "enhance", "run", "exit status 1", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrStageExecution) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"enhance", "run", "exit status 1"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapWithoutMarkerDefaultsToStageExecution(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrStageExecution) {
		t.Fatalf("expected default marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestKindLabels(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrInput, "intake", "", "no files", nil), "input"},
		{services.Wrap(services.ErrTransfer, "transfer", "write", "", errors.New("eof")), "transfer"},
		{fmt.Errorf("outer: %w", services.Wrap(services.ErrStageExecution, "enhance", "", "", nil)), "stage_execution"},
		{services.Wrap(services.ErrStageExecution, "enhance", "", "", services.ErrTimeout), "timeout"},
		{errors.New("plain"), "internal"},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	if code := services.HTTPStatus(services.Wrap(services.ErrInput, "intake", "", "", nil)); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for input error, got %d", code)
	}
	if code := services.HTTPStatus(services.Wrap(services.ErrNotFound, "history", "", "", nil)); code != http.StatusNotFound {
		t.Fatalf("expected 404 for not found, got %d", code)
	}
	if code := services.HTTPStatus(errors.New("io")); code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unclassified error, got %d", code)
	}
	if code := services.HTTPStatus(nil); code != http.StatusOK {
		t.Fatalf("expected 200 for nil, got %d", code)
	}
}
