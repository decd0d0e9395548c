package progress

import "sync"

// Publisher accepts progress events. *Bus satisfies it.
type Publisher interface {
	Publish(Event)
}

// Reporter publishes events for a single item and clamps overall progress so
// observers never see it decrease.
type Reporter struct {
	mu   sync.Mutex
	pub  Publisher
	name string
	last float64
	seen bool
}

// Reporter returns a publisher scoped to the named item.
func (b *Bus) Reporter(name string) *Reporter {
	return NewReporter(b, name)
}

// NewReporter scopes pub to the named item. A nil publisher discards events.
func NewReporter(pub Publisher, name string) *Reporter {
	return &Reporter{pub: pub, name: name}
}

// Report publishes overall progress for the given operation. Values outside
// [0,1] are clamped, and values below the last published value are raised to it.
func (r *Reporter) Report(operation string, overall, stageFraction float64) {
	if r == nil {
		return
	}
	overall = clamp01(overall)
	r.mu.Lock()
	if r.seen && overall < r.last {
		overall = r.last
	}
	r.last = overall
	r.seen = true
	r.mu.Unlock()

	if r.pub == nil {
		return
	}
	r.pub.Publish(Event{
		FileName:      r.name,
		Progress:      overall,
		Operation:     operation,
		StageFraction: clamp01(stageFraction),
	})
}

// Last returns the most recent overall value and whether anything was reported.
func (r *Reporter) Last() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.seen
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
