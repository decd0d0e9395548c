package progress

// Operation labels carried on the wire.
const (
	OperationUpscale   = "upscale"
	OperationFTPUpload = "ftp_upload"
)

// Event is a single progress update for one item.
type Event struct {
	FileName string `json:"fileName"`
	// Progress is the overall fraction for the item across all stages.
	Progress float64 `json:"progress"`
	// Operation names the stage the update belongs to.
	Operation string `json:"operation"`
	// StageFraction is the completion of the current stage alone.
	StageFraction float64 `json:"-"`
}

// Final reports whether the event marks an item as finished.
func (e Event) Final() bool { return e.Progress >= 1 }
