package logging

import "testing"

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(10)
	steps := []struct {
		fraction float64
		op       string
		want     bool
	}{
		{0.0, "upscale", true},
		{0.05, "upscale", false},
		{0.10, "upscale", true},
		{0.11, "upscale", false},
		{0.5, "ftp_upload", true},
		{0.52, "ftp_upload", false},
		{0.61, "ftp_upload", true},
		{1.0, "ftp_upload", true},
		{1.0, "ftp_upload", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.fraction, step.op); got != step.want {
			t.Fatalf("step %d (%v %s): got %v want %v", i, step.fraction, step.op, got, step.want)
		}
	}
}

func TestProgressSamplerUnknownFraction(t *testing.T) {
	s := NewProgressSampler(0)
	if !s.ShouldLog(-1, "upscale") {
		t.Fatal("expected first operation to log")
	}
	if s.ShouldLog(-1, "upscale") {
		t.Fatal("expected repeated unknown progress to be suppressed")
	}
}
