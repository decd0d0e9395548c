package logging

import "strings"

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when the operation changes or the fraction crosses a bucket boundary.
// It is not safe for concurrent use; keep one per item.
type ProgressSampler struct {
	bucketSize float64
	lastOp     string
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when progress crosses
// bucketSize percent boundaries (default 5%).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress sample should be logged. fraction is in
// [0,1]; a negative value means unknown and only operation changes are reported.
func (s *ProgressSampler) ShouldLog(fraction float64, operation string) bool {
	if s == nil {
		return true
	}
	operation = strings.TrimSpace(operation)
	emit := false
	if operation != "" && operation != s.lastOp {
		s.lastOp = operation
		s.lastBucket = -1
		emit = true
	}
	if fraction >= 0 {
		percent := fraction * 100
		if percent > 100 {
			percent = 100
		}
		bucket := int(percent / s.bucketSize)
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}
