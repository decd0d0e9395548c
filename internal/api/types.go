package api

import (
	"time"

	"imagepipe/internal/history"
	"imagepipe/internal/services/captioner"
	"imagepipe/internal/stage"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// UploadResponse reports the outcome of one uploaded batch.
type UploadResponse struct {
	BatchID   string       `json:"batchId"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Results   []ItemResult `json:"results"`
}

// ItemResult is the outcome of one uploaded image.
type ItemResult struct {
	FileName    string `json:"fileName"`
	Status      string `json:"status"`
	RemotePath  string `json:"remotePath,omitempty"`
	FailedStage string `json:"failedStage,omitempty"`
	ErrorKind   string `json:"errorKind,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"durationMs"`
}

// CaptionResponse lists caption matches across every uploaded image, best first.
type CaptionResponse struct {
	Results []captioner.Result `json:"results"`
}

// BatchListResponse wraps the most recent batches from the history ledger.
type BatchListResponse struct {
	Batches []history.Batch `json:"batches"`
}

// BatchResponse wraps one batch with its items.
type BatchResponse struct {
	Batch history.Batch `json:"batch"`
}

// DependencyStatus captures availability of an external program.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckResult mirrors a preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// DirectoryUsage summarizes what is sitting in a working directory.
type DirectoryUsage struct {
	Path     string `json:"path"`
	Entries  int    `json:"entries"`
	Bytes    int64  `json:"bytes"`
	OldestAt string `json:"oldestAt,omitempty"`
}

// DaemonStatus aggregates runtime information for status displays.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	StartedAt     string             `json:"startedAt,omitempty"`
	LockFilePath  string             `json:"lockFilePath,omitempty"`
	HistoryDBPath string             `json:"historyDbPath,omitempty"`
	LogPath       string             `json:"logPath,omitempty"`
	Subscribers   int                `json:"subscribers"`
	InboxActive   bool               `json:"inboxActive"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Preflight     []CheckResult      `json:"preflight"`
	StageHealth   []stage.Health     `json:"stageHealth"`
	Directories   []DirectoryUsage   `json:"directories,omitempty"`
}

// FormatTime renders t in the API timestamp layout; the zero time renders empty.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
