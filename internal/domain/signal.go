package domain

import "time"

// SignalResult is the output of the signal engine. It is computed on demand and never stored.
type SignalResult struct {
	Signal               Signal
	EstimatedPrice       float64
	EstimatedTimestamp   int64 // epoch ms
	PercentageDifference float64
}

// IsEmpty reports whether the result is the neutral "not enough data" value.
func (r SignalResult) IsEmpty() bool {
	return r.Signal == SignalNone
}

// EstimatedAt returns the estimated timestamp as a time.Time.
func (r SignalResult) EstimatedAt() time.Time {
	return time.UnixMilli(r.EstimatedTimestamp)
}
