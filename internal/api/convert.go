package api

import (
	"imagepipe/internal/deps"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/preflight"
	"imagepipe/internal/services"
	"imagepipe/internal/staging"
)

// FromBatchResult converts an orchestrator result into its response form.
func FromBatchResult(result pipeline.BatchResult) UploadResponse {
	out := UploadResponse{
		BatchID:   result.ID,
		Succeeded: result.Succeeded(),
		Failed:    result.Failed(),
		Results:   make([]ItemResult, 0, len(result.Items)),
	}
	for _, item := range result.Items {
		entry := ItemResult{
			FileName:    item.Name,
			Status:      string(item.Stage),
			RemotePath:  item.RemotePath,
			FailedStage: item.FailedStage,
			DurationMs:  item.Duration.Milliseconds(),
		}
		if item.Err != nil {
			entry.ErrorKind = services.Kind(item.Err)
			entry.Error = item.Err.Error()
		}
		out.Results = append(out.Results, entry)
	}
	return out
}

// FromDependencies converts dependency checks into their response form.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, len(statuses))
	for i, dep := range statuses {
		out[i] = DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		}
	}
	return out
}

// FromPreflight converts preflight results into their response form.
func FromPreflight(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, len(results))
	for i, r := range results {
		out[i] = CheckResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail}
	}
	return out
}

// FromUsage converts a directory usage snapshot into its response form.
func FromUsage(usage staging.DirUsage) DirectoryUsage {
	return DirectoryUsage{
		Path:     usage.Path,
		Entries:  usage.Entries,
		Bytes:    usage.Bytes,
		OldestAt: FormatTime(usage.Oldest),
	}
}
