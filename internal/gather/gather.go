// Package gather defines the data import processes that fill the bar store.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one import pass. It returns early when ctx is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the range is non-empty.
func (r DateRange) Valid() bool {
	return !r.Start.IsZero() && !r.End.Before(r.Start)
}
