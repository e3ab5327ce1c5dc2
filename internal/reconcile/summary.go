package reconcile

import (
	"time"
)

// Failure records a user that could not be reconciled.
type Failure struct {
	UserID string
	Login  string
	Err    error
}

// Summary aggregates the outcome of one Run.
type Summary struct {
	Scanned     int
	Skipped     int
	Unchanged   int
	Updated     int
	Normalized  int
	Provisioned int
	Failed      int
	Failures    []Failure
	DryRun      bool
	Duration    time.Duration
}

// LogAttrs flattens the counters for structured logging.
func (s Summary) LogAttrs() []any {
	return []any{
		"scanned", s.Scanned,
		"skipped", s.Skipped,
		"unchanged", s.Unchanged,
		"updated", s.Updated,
		"normalized", s.Normalized,
		"provisioned", s.Provisioned,
		"failed", s.Failed,
		"dry_run", s.DryRun,
		"duration", s.Duration.Round(time.Millisecond).String(),
	}
}
