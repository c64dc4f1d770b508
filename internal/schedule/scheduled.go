package schedule

import (
	"time"

	"barclock/internal/consolidate"
	"barclock/internal/timekeeping"
)

// minResolution is the floor applied to a consolidator's period for
// scheduling purposes. Data may be finer-grained; only the scan schedule
// is coarsened.
const minResolution = time.Second

// ScheduledConsolidator pairs a consolidator with its computed next-due
// UTC instant and the logic to recompute that instant after every feed or
// flush.
//
// The due instant is recomputed exactly once per feed-or-flush transition
// and never left stale across two transitions. Recomputation is a no-op
// while the due instant still lies in the future, which is what keeps the
// sequence of due instants monotonically non-decreasing:
//
//   - when the flush left no working data behind, the last local boundary
//     is stepped forward one period at a time — in wall-clock terms, so a
//     daily period is one calendar day even across a daylight-saving
//     transition — until the result is strictly in the future. The
//     stepping loop is the catch-up rule: after a large time jump the
//     schedule re-derives the next boundary instead of firing a storm of
//     back-to-back immediate scans;
//   - when working data survives the flush, the schedule locks onto the
//     working aggregate's known natural end instead of a fixed offset
//     from now.
type ScheduledConsolidator struct {
	identity int64
	cons     consolidate.Consolidator
	view     *timekeeping.LocalView
	period   time.Duration // clamped to minResolution

	dueLocal time.Time // last computed local boundary
	dueUTC   time.Time
}

// NewScheduledConsolidator wraps cons with scheduling state. The initial
// due instant is the zone's current local time plus one (clamped) period,
// expressed back in UTC.
func NewScheduledConsolidator(identity int64, cons consolidate.Consolidator, view *timekeeping.LocalView) *ScheduledConsolidator {
	period := cons.Period()
	if period < minResolution {
		period = minResolution
	}

	sc := &ScheduledConsolidator{
		identity: identity,
		cons:     cons,
		view:     view,
		period:   period,
	}
	sc.dueLocal = timekeeping.NextWall(view.NowLocal(), period)
	sc.dueUTC = sc.dueLocal.UTC()
	return sc
}

// Identity returns the registration identity.
func (sc *ScheduledConsolidator) Identity() int64 { return sc.identity }

// DueUTC returns the next scan instant in UTC.
func (sc *ScheduledConsolidator) DueUTC() time.Time { return sc.dueUTC }

// Priority returns the entry's current scan priority.
func (sc *ScheduledConsolidator) Priority() *ScanPriority {
	return &ScanPriority{DueUTC: sc.dueUTC, Identity: sc.identity}
}

// Consolidator returns the wrapped capability.
func (sc *ScheduledConsolidator) Consolidator() consolidate.Consolidator { return sc.cons }

// Zone returns the IANA name of the owning zone.
func (sc *ScheduledConsolidator) Zone() string { return sc.view.ZoneName() }

// Scan flushes the wrapped consolidator with the owning zone's current
// local time, then recomputes the due instant.
func (sc *ScheduledConsolidator) Scan() {
	localNow := sc.view.NowLocal()
	sc.cons.Scan(localNow)
	sc.recompute()
}

// Fed recomputes the due instant after the wrapped consolidator was fed.
// While the due instant is still in the future this is a no-op; once the
// clock has passed it, the schedule re-locks onto whatever the feed left
// behind.
func (sc *ScheduledConsolidator) Fed() {
	sc.recompute()
}

// recompute applies the due-time rules against the clock's current UTC
// instant.
func (sc *ScheduledConsolidator) recompute() {
	nowUTC := sc.view.NowUTC()
	if sc.dueUTC.After(nowUTC) {
		return
	}

	if end, ok := sc.cons.WorkingEnd(); ok {
		// Mid-period: lock onto the real end of the in-progress bar.
		sc.dueLocal = end.In(sc.view.Zone())
		sc.dueUTC = end.UTC()
		return
	}

	// Nothing pending: advance one period per step, in local wall-clock
	// terms, until strictly past now (catch-up after gaps).
	next := timekeeping.NextWall(sc.dueLocal, sc.period)
	for !next.After(nowUTC) {
		next = timekeeping.NextWall(next, sc.period)
	}
	sc.dueLocal = next
	sc.dueUTC = next.UTC()
}
