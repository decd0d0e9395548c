package stage

import "context"

// Names of the pipeline stages. They double as log field values and as the
// stage component of wrapped errors.
const (
	Enhance  = "enhance"
	Transfer = "transfer"
)

// Checker is implemented by stage adapters that can report readiness.
type Checker interface {
	HealthCheck(context.Context) Health
}

// Status is the lifecycle position of one item.
type Status string

const (
	StatusReceived     Status = "received"
	StatusEnhancing    Status = "enhancing"
	StatusEnhanced     Status = "enhanced"
	StatusTransferring Status = "transferring"
	StatusTransferred  Status = "transferred"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further stage will run for the item.
func (s Status) Terminal() bool {
	return s == StatusTransferred || s == StatusFailed
}

// ParseStatus converts a stored status string back to a Status.
func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusReceived, StatusEnhancing, StatusEnhanced, StatusTransferring, StatusTransferred, StatusFailed:
		return Status(value), true
	default:
		return "", false
	}
}

// Health summarizes the readiness of a stage adapter for status reporting.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs a Health record that carries the reason the adapter is
// not ready.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
