// Package service orchestrates the time-keeping and consolidation
// scheduling core for external collaborators.
//
// The Synchronizer is the component a driving loop talks to: it owns the
// run's Clock, the zone rule table, the scheduler queue and the per-zone
// local views, and it turns the driver's two inputs — "here is a new data
// point" and "time is now T" — into correctly ordered scans and emissions.
//
// The Dispatcher and EmissionQueue in this package are the downstream
// half: a bounded hand-off out of the driver's thread and an actor-model
// fan-out to per-symbol subscribers.
package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"barclock/internal/consolidate"
	"barclock/internal/model"
	"barclock/internal/schedule"
	"barclock/internal/timekeeping"
)

// ErrNotRegistered is returned when a point is routed to an identity the
// synchronizer does not know.
var ErrNotRegistered = errors.New("consolidator not registered")

// EmissionHandler receives one Emission per completed bar, synchronously,
// in flush order. The handler runs on the driver's goroutine and must not
// block.
type EmissionHandler func(model.Emission)

// Synchronizer coordinates the Clock, the per-zone LocalViews and the
// Scheduler for one run.
//
// Concurrency model: exactly one driver goroutine calls Advance,
// Register and Deregister. Feed may be called from ingestion goroutines
// as long as calls for a given identity are serialized; the synchronizer
// protects its own registry, and the scheduler's pop path stays
// linearizable.
type Synchronizer struct {
	clock   *timekeeping.Clock
	zones   *timekeeping.ZoneTable
	sched   *schedule.Scheduler
	handler EmissionHandler

	mu      sync.Mutex
	nextID  int64
	views   map[string]*viewRef
	entries map[int64]*schedule.ScheduledConsolidator
}

// viewRef tracks how many consolidators share one zone's view, so the
// view can be dropped when the last of them deregisters.
type viewRef struct {
	view *timekeeping.LocalView
	refs int
}

// NewSynchronizer creates a synchronizer around the given clock and zone
// table. handler receives every completed bar; a nil handler discards
// emissions (consolidators keep their own delivery, if any).
func NewSynchronizer(clock *timekeeping.Clock, zones *timekeeping.ZoneTable, handler EmissionHandler) *Synchronizer {
	return &Synchronizer{
		clock:   clock,
		zones:   zones,
		sched:   schedule.NewScheduler(),
		handler: handler,
		views:   make(map[string]*viewRef),
		entries: make(map[int64]*schedule.ScheduledConsolidator),
	}
}

// Register wraps cons with scheduling state in the named zone and returns
// its identity: a stable integer, assigned in increasing order and never
// reused, which also breaks exact due-instant ties in favor of
// earlier registrations.
//
// Invalid configurations — an unknown zone, a non-positive period — are
// rejected here and never reach the scheduling loop. When cons supports
// late handler binding, its completed bars are tapped into the
// synchronizer's emission handler.
func (s *Synchronizer) Register(cons consolidate.Consolidator, zone string) (int64, error) {
	if cons.Period() <= 0 {
		return 0, consolidate.ErrInvalidPeriod
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.views[zone]
	if !ok {
		view, err := timekeeping.NewLocalView(s.clock, s.zones, zone)
		if err != nil {
			return 0, err
		}
		ref = &viewRef{view: view}
		s.views[zone] = ref
	}
	ref.refs++

	s.nextID++
	id := s.nextID

	if binder, ok := cons.(consolidate.EmissionBinder); ok && s.handler != nil {
		handler := s.handler
		binder.Bind(func(bar model.Bar) {
			handler(model.Emission{Identity: id, Bar: bar, Zone: zone})
		})
	}

	sc := schedule.NewScheduledConsolidator(id, cons, ref.view)
	if err := s.sched.Register(sc); err != nil {
		s.releaseViewLocked(zone)
		return 0, err
	}
	s.entries[id] = sc

	log.Debug().
		Int64("identity", id).
		Str("zone", zone).
		Dur("period", cons.Period()).
		Time("due", sc.DueUTC()).
		Msg("consolidator registered")

	return id, nil
}

// Deregister removes the identity from the run. It is safe to call while
// the identity has a pending due instant and reports whether the identity
// was known. The zone's view is dropped with its last consolidator.
func (s *Synchronizer) Deregister(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	s.sched.Deregister(id)
	s.releaseViewLocked(sc.Zone())
	return true
}

// Feed routes one point to the identified consolidator and refreshes its
// position in the queue.
func (s *Synchronizer) Feed(id int64, point model.TradePoint) error {
	s.mu.Lock()
	sc, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: identity %d", ErrNotRegistered, id)
	}

	sc.Consolidator().Feed(point)
	sc.Fed()
	return s.sched.Resort(id)
}

// Advance moves the run's clock to instant and scans, in ascending
// (due, identity) order, every consolidator whose due instant has been
// reached. Each scanned consolidator is reinserted with its recomputed
// due instant before Advance returns.
//
// An instant earlier than the current one fails with OutOfOrderTime, and
// scheduler bookkeeping corruption fails with SchedulerInvariantViolation;
// both are fatal to the run.
func (s *Synchronizer) Advance(instant time.Time) error {
	if err := s.clock.Advance(instant); err != nil {
		return err
	}

	now := s.clock.NowUTC()
	for _, sc := range s.sched.PopDue(now) {
		sc.Scan()
		if err := s.sched.Requeue(sc); err != nil {
			return err
		}
	}
	return nil
}

// NowUTC returns the run's current instant.
func (s *Synchronizer) NowUTC() time.Time { return s.clock.NowUTC() }

// NextWake returns the earliest pending due instant, if any, so a live
// driver can sleep until the next scan instead of polling.
func (s *Synchronizer) NextWake() (time.Time, bool) {
	return s.sched.PeekMinDue()
}

// Registered returns the number of active consolidators.
func (s *Synchronizer) Registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// releaseViewLocked drops one reference to the zone's view. Caller holds
// s.mu.
func (s *Synchronizer) releaseViewLocked(zone string) {
	ref, ok := s.views[zone]
	if !ok {
		return
	}
	ref.refs--
	if ref.refs <= 0 {
		delete(s.views, zone)
	}
}
