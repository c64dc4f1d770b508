// Package schedule decides, for every active consolidator, precisely when
// it must next be scanned so that partially-built bars are emitted in
// strict chronological order across zones, periods and daylight-saving
// irregularities.
//
// The package has three layers:
//
//   - ScanPriority: an orderable (due instant, identity) pair;
//   - ScheduledConsolidator: a consolidator wrapped with its computed next
//     due UTC instant and the DST-safe recompute rules;
//   - Scheduler: a min-priority queue the external driver drains each time
//     it advances the clock.
//
// All due-instant comparisons happen in UTC, the canonical representation;
// local wall-clock times are derived per zone and never flow back the
// other way.
package schedule

import "time"

// ScanPriority ranks scheduled consolidators: ascending due instant first,
// ascending registration identity on exact ties, so earlier-registered
// entries pop first. A nil priority means "not scheduled" and sorts after
// every present one.
type ScanPriority struct {
	DueUTC   time.Time // Next scan instant, UTC
	Identity int64     // Registration identity, unique and never reused
}

// Compare orders two priorities. It returns a negative value when a ranks
// before b, zero when they rank equally, and a positive value otherwise.
// A present priority always ranks before a nil one; two nils rank equally.
func Compare(a, b *ScanPriority) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return 1
	}
	if b == nil {
		return -1
	}

	if a.DueUTC.Before(b.DueUTC) {
		return -1
	}
	if a.DueUTC.After(b.DueUTC) {
		return 1
	}

	switch {
	case a.Identity < b.Identity:
		return -1
	case a.Identity > b.Identity:
		return 1
	default:
		return 0
	}
}
