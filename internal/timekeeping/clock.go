// Package timekeeping maintains the process-wide notion of "now" for a
// simulation or live run, expressed simultaneously in UTC and in any number
// of named time zones.
//
// The package is built around three pieces:
//
//   - Clock: the single source of truth for the current UTC instant.
//     Exactly one driver (backtest replay loop or live real-time pump) owns
//     write access and advances it monotonically; every other component
//     holds a read-only reference.
//   - ZoneTable: an explicitly constructed, shared-by-reference table of
//     time-zone rules. There is deliberately no package-level zone cache,
//     so multiple independent runs can execute concurrently in one process
//     without cross-talk.
//   - LocalView: a per-zone projection of a Clock. Conversions always go
//     UTC -> local, which is well-defined even across daylight-saving
//     transitions; local -> UTC is never performed by this package's view
//     types.
//
// Wall-clock arithmetic (AddWall, NextWall) lives here too, because "one
// period later in local time" is a time-zone question, not a scheduling
// one: a daily period must mean one calendar day whether that day is 23,
// 24 or 25 UTC hours long.
package timekeeping

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOutOfOrderTime is returned when the clock is asked to move backward.
// It is fatal to the run: a replay that can go backward in time cannot
// guarantee any downstream ordering invariant.
var ErrOutOfOrderTime = errors.New("clock moved out of order")

// Clock holds the current UTC instant for a single run.
//
// The identity of a Clock is immutable while its value advances; components
// capture a *Clock once at construction and consult it on demand. Advance
// is reserved for the single driving loop; NowUTC may be called from any
// goroutine.
type Clock struct {
	mu      sync.RWMutex
	current time.Time
}

// NewClock creates a clock positioned at the given instant. The instant is
// normalized to UTC; the zero time is a valid starting point for drivers
// that set the epoch on their first Advance.
func NewClock(start time.Time) *Clock {
	return &Clock{current: start.UTC()}
}

// Advance moves the clock forward to instant. Equal instants are accepted
// (re-advancing to the same time is a no-op); an earlier instant fails with
// ErrOutOfOrderTime carrying both times for diagnostics.
func (c *Clock) Advance(instant time.Time) error {
	utc := instant.UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	if utc.Before(c.current) {
		return fmt.Errorf("%w: at %s, asked to move to %s",
			ErrOutOfOrderTime, c.current.Format(time.RFC3339Nano), utc.Format(time.RFC3339Nano))
	}

	c.current = utc
	return nil
}

// NowUTC returns the current instant in UTC.
func (c *Clock) NowUTC() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}
