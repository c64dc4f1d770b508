// Package consolidate defines the consolidator capability consumed by the
// scheduling core, together with a reference trade-bar implementation.
//
// A consolidator turns a stream of fine-grained points into periodic
// aggregates. The scheduler does not own consolidators and never looks
// inside them; it only needs the capability surface below: feed points in,
// force a scan when real time passes an aggregate's natural end, and ask
// whether incomplete ("working") data is pending and when it naturally
// closes.
//
// Scans always carry the current local time of the owning zone, not UTC,
// so implementations can apply calendar-aware logic such as "is this still
// within the same trading day".
package consolidate

import (
	"errors"
	"time"

	"barclock/internal/model"
)

// ErrInvalidPeriod is returned when a consolidator is constructed with a
// zero or negative period. It belongs to the invalid-configuration class:
// rejected at registration, never reaching the scheduling loop.
var ErrInvalidPeriod = errors.New("consolidation period must be positive")

// Consolidator is the capability contract between a data aggregator and
// the scheduling core.
//
// Implementations are not required to be goroutine-safe: feeding and
// scheduling decisions for a given consolidator are serialized by the
// caller (single writer per instance).
type Consolidator interface {
	// Feed accepts one raw data point. It may complete the working
	// aggregate and emit it when the point lies at or beyond the
	// aggregate's natural end. Points older than the working aggregate's
	// start are ignored and counted, never failed on.
	Feed(point model.TradePoint)

	// Scan forces completion of a working aggregate whose natural end has
	// passed without new data arriving (an illiquid symbol). localNow is
	// the current wall-clock time in the consolidator's zone.
	Scan(localNow time.Time)

	// HasWorkingData reports whether an incomplete aggregate is pending.
	HasWorkingData() bool

	// WorkingEnd returns the natural local end time of the working
	// aggregate, if one exists.
	WorkingEnd() (time.Time, bool)

	// LastEmitted returns the most recently completed aggregate, if any.
	LastEmitted() (model.Bar, bool)

	// Period returns the consolidation period. Always positive.
	Period() time.Duration
}

// EmissionBinder is implemented by consolidators whose completion handler
// can be bound after construction. The synchronizer uses it to tap
// completed bars into its emission path; consolidators without it keep
// whatever delivery they were built with.
type EmissionBinder interface {
	// Bind replaces the completion handler. The previous handler, if any,
	// is no longer invoked.
	Bind(handler func(model.Bar))
}
