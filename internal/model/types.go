// Package model defines the core data types shared across the time-keeping
// and consolidation scheduling system.
//
// This package contains the fundamental structures exchanged between the
// ingestion side (trade points), the consolidators (bars), and the
// downstream collaborators (emissions). All monetary values use
// decimal.Decimal for precise financial arithmetic, avoiding the
// floating-point drift that accumulates when aggregating many points.
//
// Timestamps follow a strict convention: TradePoint timestamps are absolute
// UTC instants (the canonical representation for all cross-component
// comparisons), while Bar boundaries carry the consolidator's zone so that
// calendar-aware consumers see local wall-clock boundaries.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradePoint is a single raw data point fed into a consolidator.
//
// The Timestamp is an absolute UTC instant. Consolidators project it into
// their own zone; no component ever converts a local wall-clock time back
// to UTC from a point.
type TradePoint struct {
	Symbol    string          // Trading pair symbol (e.g., "BTC-USDT")
	Price     decimal.Decimal // Execution price (precise decimal)
	Quantity  decimal.Decimal // Volume of the base asset traded
	Timestamp time.Time       // Absolute UTC instant of the point
}

// Bar is a completed OHLCV aggregate covering one consolidation period.
//
// Start and End are expressed in the consolidator's zone; End is the bar's
// natural close boundary, which may span 23, 24 or 25 UTC hours for a daily
// bar crossing a daylight-saving transition. Zone names the IANA zone the
// boundaries were computed in.
type Bar struct {
	Symbol string          // Trading pair symbol this bar covers
	Open   decimal.Decimal // First traded price in the period
	High   decimal.Decimal // Highest traded price in the period
	Low    decimal.Decimal // Lowest traded price in the period
	Close  decimal.Decimal // Last traded price in the period
	Volume decimal.Decimal // Total base-asset volume in the period
	Start  time.Time       // Period start, local wall-clock boundary
	End    time.Time       // Period end, local wall-clock boundary
	Zone   string          // IANA zone name the boundaries belong to
}

// Emission is the outbound unit handed to downstream collaborators once per
// completed bar: the registered identity of the consolidator that produced
// it, the bar itself, and the zone it was scheduled in.
type Emission struct {
	Identity int64  // Scheduler identity of the producing consolidator
	Bar      Bar    // The completed aggregate
	Zone     string // IANA zone name of the owning schedule
}

// IsZero reports whether the bar carries no traded data.
func (b Bar) IsZero() bool {
	return b.Open.IsZero() && b.Volume.IsZero()
}
