package timekeeping

import "time"

const day = 24 * time.Hour

// AddWall advances t by d in wall-clock terms within t's location.
//
// Unlike Time.Add, which adds absolute elapsed time, AddWall moves the
// displayed clock: local midnight plus a daily period is the next local
// midnight even when the day in between had 23 or 25 UTC hours. Periods
// that are whole multiples of 24 hours step calendar days; sub-day periods
// are added to the wall-clock fields and re-normalized by the zone's rules.
//
// When the target wall time falls inside a spring-forward gap, the zone
// rules resolve it to a real instant (the same absolute time as the
// pre-gap reading). When it falls in a repeated fall-back hour, the first
// occurrence is chosen. Both resolutions are deterministic; callers that
// need a strictly later boundary use NextWall.
func AddWall(t time.Time, d time.Duration) time.Time {
	if d%day == 0 {
		return t.AddDate(0, 0, int(d/day))
	}

	year, month, dayOfMonth := t.Date()
	hour, minute, sec := t.Clock()
	sec += int(d / time.Second)
	nsec := t.Nanosecond() + int(d%time.Second)
	return time.Date(year, month, dayOfMonth, hour, minute, sec, nsec, t.Location())
}

// NextWall returns the first wall-clock boundary strictly after t in
// absolute terms, stepping in increments of d.
//
// A single AddWall step can collapse onto t itself when the target wall
// time sits inside a spring-forward gap (the skipped hour maps back to the
// same instant). NextWall steps again in that case, so schedules crossing
// the gap land on a valid boundary and schedules crossing a fall-back
// repeat never fire twice for the same wall time.
func NextWall(t time.Time, d time.Duration) time.Time {
	for k := 1; ; k++ {
		next := AddWall(t, time.Duration(k)*d)
		if next.After(t) {
			return next
		}
	}
}
