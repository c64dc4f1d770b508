package consolidate

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"barclock/internal/model"
	"barclock/internal/timekeeping"
)

// TradeBarConsolidator folds trade points into OHLCV bars on a local-time
// grid.
//
// Bars are aligned to wall-clock boundaries in the consolidator's zone:
// sub-day periods floor to whole periods since local midnight, periods of
// one day and above floor to local midnight itself. Alignment in local
// time is what makes a "daily" bar mean one trading calendar day, whether
// that day had 23, 24 or 25 UTC hours.
//
// A bar closes in one of two ways:
//   - data-driven: a point arriving at or past the natural end emits the
//     working bar and opens the next one;
//   - forced: Scan observes that local time has passed the natural end
//     with no new data.
//
// Stale points (older than the working bar's start) are dropped by policy:
// data feeds are not assumed perfectly ordered, so a stale point is logged
// and counted rather than failing the run. StaleCount exposes the tally.
//
// Not goroutine-safe; the caller serializes Feed/Scan per instance.
type TradeBarConsolidator struct {
	symbol string
	period time.Duration
	zone   *time.Location

	working      *model.Bar
	workingStart time.Time
	workingEnd   time.Time

	last    *model.Bar
	handler func(model.Bar)

	stale atomic.Uint64
}

// NewTradeBarConsolidator creates a consolidator producing bars of the
// given period in the given zone. handler, if non-nil, is invoked
// synchronously once per completed bar, in completion order.
//
// A zero or negative period fails with ErrInvalidPeriod. Sub-second
// periods are accepted: the data grid may be finer than one second even
// though the scan schedule built on top of it is clamped, by the
// scheduler, to a one-second floor.
func NewTradeBarConsolidator(symbol string, period time.Duration, zone *time.Location, handler func(model.Bar)) (*TradeBarConsolidator, error) {
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if zone == nil {
		zone = time.UTC
	}

	return &TradeBarConsolidator{
		symbol:  symbol,
		period:  period,
		zone:    zone,
		handler: handler,
	}, nil
}

// Feed implements Consolidator.
func (c *TradeBarConsolidator) Feed(point model.TradePoint) {
	local := point.Timestamp.In(c.zone)

	if c.working != nil {
		if local.Before(c.workingStart) {
			c.stale.Add(1)
			log.Warn().
				Str("symbol", c.symbol).
				Time("point", point.Timestamp).
				Time("working_start", c.workingStart).
				Msg("stale point ignored")
			return
		}
		if !local.Before(c.workingEnd) {
			// Data-driven close: the point belongs to a later bar.
			c.emit()
		}
	}

	if c.working == nil {
		c.open(local, point)
		return
	}

	bar := c.working
	if point.Price.GreaterThan(bar.High) {
		bar.High = point.Price
	}
	if point.Price.LessThan(bar.Low) {
		bar.Low = point.Price
	}
	bar.Close = point.Price
	bar.Volume = bar.Volume.Add(point.Quantity)
}

// Scan implements Consolidator. It force-closes the working bar when the
// zone's wall clock has reached or passed its natural end.
func (c *TradeBarConsolidator) Scan(localNow time.Time) {
	if c.working == nil {
		return
	}
	if !localNow.Before(c.workingEnd) {
		c.emit()
	}
}

// HasWorkingData implements Consolidator.
func (c *TradeBarConsolidator) HasWorkingData() bool { return c.working != nil }

// WorkingEnd implements Consolidator.
func (c *TradeBarConsolidator) WorkingEnd() (time.Time, bool) {
	if c.working == nil {
		return time.Time{}, false
	}
	return c.workingEnd, true
}

// LastEmitted implements Consolidator.
func (c *TradeBarConsolidator) LastEmitted() (model.Bar, bool) {
	if c.last == nil {
		return model.Bar{}, false
	}
	return *c.last, true
}

// Period implements Consolidator.
func (c *TradeBarConsolidator) Period() time.Duration { return c.period }

// StaleCount returns the number of points dropped by the stale-feed
// policy since construction.
func (c *TradeBarConsolidator) StaleCount() uint64 { return c.stale.Load() }

// Bind implements EmissionBinder.
func (c *TradeBarConsolidator) Bind(handler func(model.Bar)) { c.handler = handler }

// open starts a working bar on the grid slot containing local.
func (c *TradeBarConsolidator) open(local time.Time, point model.TradePoint) {
	start := c.gridFloor(local)
	c.workingStart = start
	c.workingEnd = timekeeping.NextWall(start, c.period)
	c.working = &model.Bar{
		Symbol: c.symbol,
		Open:   point.Price,
		High:   point.Price,
		Low:    point.Price,
		Close:  point.Price,
		Volume: point.Quantity,
		Start:  start,
		End:    c.workingEnd,
		Zone:   c.zone.String(),
	}
}

// emit completes the working bar, records it, and hands it to the handler.
func (c *TradeBarConsolidator) emit() {
	bar := *c.working
	c.working = nil
	c.last = &bar
	if c.handler != nil {
		c.handler(bar)
	}
}

// gridFloor returns the wall-clock grid boundary at or before local.
func (c *TradeBarConsolidator) gridFloor(local time.Time) time.Time {
	year, month, day := local.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, c.zone)
	if c.period >= 24*time.Hour {
		return midnight
	}

	hour, minute, sec := local.Clock()
	nsOfDay := int64(hour*3600+minute*60+sec)*int64(time.Second) + int64(local.Nanosecond())
	offset := nsOfDay / int64(c.period) * int64(c.period)
	return time.Date(year, month, day, 0, 0, int(offset/int64(time.Second)), int(offset%int64(time.Second)), c.zone)
}
