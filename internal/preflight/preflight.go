package preflight

import (
	"context"
	"strings"

	"imagepipe/internal/config"
)

// MinFreeBytes is the free space below which a working directory fails its
// capacity check. Enhanced images are routinely several times the size of the
// upload that produced them.
const MinFreeBytes = 1 << 30

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results,
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	)
	if cfg.Inbox.Enabled {
		results = append(results, CheckDirectoryAccess("Inbox directory", cfg.Inbox.Dir))
	}

	results = append(results, CheckFreeSpace("Output capacity", cfg.Paths.OutputDir, MinFreeBytes))

	if strings.TrimSpace(cfg.Enhancer.ModelPath) != "" {
		results = append(results, CheckFile("Enhancer model", cfg.Enhancer.ModelPath))
	}
	if cfg.Captioner.Enabled {
		results = append(results, CheckFile("Caption annotations", cfg.Captioner.AnnotationsPath))
	}

	results = append(results, CheckTransferFromConfig(ctx, cfg))

	return results
}

// Failed returns the subset of results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
