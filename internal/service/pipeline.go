package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"barclock/internal/consolidate"
	"barclock/internal/model"
	"barclock/internal/timekeeping"
)

// PointSource defines the interface for components that produce raw trade
// points, such as an exchange feed or a synthetic generator.
type PointSource interface {
	// StartPointStream begins producing points for the given symbols. The
	// returned channel closes when the source stops or ctx is cancelled.
	StartPointStream(ctx context.Context, symbols []string) (<-chan model.TradePoint, error)
}

// SubscriptionManager defines the interface for managing client
// subscriptions and distributing completed bars to them.
type SubscriptionManager interface {
	// Subscribe creates a new subscription for the specified symbols.
	Subscribe(symbols []string) (*Subscriber, error)

	// Unsubscribe removes a subscriber and cleans up associated resources.
	Unsubscribe(sub *Subscriber) error

	// Start begins the distribution process over the emission stream.
	Start(ctx context.Context, emissions <-chan model.Emission) error
}

// SeriesSpec describes one consolidation series the pipeline maintains:
// bars of the given period for the symbol, aligned to the named zone's
// wall clock.
type SeriesSpec struct {
	Symbol string
	Zone   string
	Period time.Duration
}

// Pipeline orchestrates the live bar-production system.
//
// It owns the synchronizer and feeds it from a PointSource: each incoming
// point first advances the clock to the point's timestamp, so every
// consolidator whose due instant falls inside the gap flushes before the
// point lands. Completed bars flow through a bounded EmissionQueue to the
// SubscriptionManager, keeping slow subscribers off the ingestion path.
type Pipeline struct {
	sync    *Synchronizer
	queue   *EmissionQueue
	manager SubscriptionManager
	source  PointSource

	series  map[string][]int64
	started atomic.Bool
	cancel  context.CancelFunc

	// driveMu serializes clock advancement between point ingestion and
	// wall-clock ticks.
	driveMu sync.Mutex
}

// NewPipeline assembles a pipeline around the given synchronizer. The
// synchronizer's emission handler must already publish into queue.
func NewPipeline(sync *Synchronizer, queue *EmissionQueue, manager SubscriptionManager, source PointSource) *Pipeline {
	return &Pipeline{
		sync:    sync,
		queue:   queue,
		manager: manager,
		source:  source,
		series:  make(map[string][]int64),
	}
}

// AddSeries registers one consolidation series. Must be called before
// Start; points for the symbol will be routed to every series registered
// under it.
func (p *Pipeline) AddSeries(spec SeriesSpec) error {
	if p.started.Load() {
		return errors.New("pipeline already started")
	}

	loc, err := p.sync.zones.Resolve(spec.Zone)
	if err != nil {
		return err
	}

	cons, err := consolidate.NewTradeBarConsolidator(spec.Symbol, spec.Period, loc, nil)
	if err != nil {
		return err
	}

	id, err := p.sync.Register(cons, spec.Zone)
	if err != nil {
		return err
	}

	p.series[spec.Symbol] = append(p.series[spec.Symbol], id)
	return nil
}

// Symbols returns the distinct symbols with at least one registered
// series.
func (p *Pipeline) Symbols() []string {
	symbols := make([]string, 0, len(p.series))
	for s := range p.series {
		symbols = append(symbols, s)
	}
	return symbols
}

// Synchronizer exposes the underlying synchronizer for drivers that also
// advance the clock on wall time.
func (p *Pipeline) Synchronizer() *Synchronizer { return p.sync }

// Start begins consuming the point source and distributing bars.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("pipeline has already started")
	}

	if len(p.series) == 0 {
		p.started.Store(false)
		return errors.New("no series registered")
	}

	ctx, cancel := context.WithCancel(ctx)

	points, err := p.source.StartPointStream(ctx, p.Symbols())
	if err != nil {
		cancel()
		p.started.Store(false)
		return fmt.Errorf("failed to start point source: %w", err)
	}

	if err := p.manager.Start(ctx, p.queue.Emissions()); err != nil {
		cancel()
		p.started.Store(false)
		return fmt.Errorf("failed to start dispatching: %w", err)
	}

	go p.ingest(ctx, points)

	p.cancel = cancel
	return nil
}

// Stop gracefully shuts down the pipeline.
func (p *Pipeline) Stop() error {
	if !p.started.CompareAndSwap(true, false) {
		return errors.New("pipeline not started")
	}

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	log.Info().Msg("pipeline stopped")
	return nil
}

// ingest drives the synchronizer from the point stream until it closes.
func (p *Pipeline) ingest(ctx context.Context, points <-chan model.TradePoint) {
	defer p.queue.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case point, ok := <-points:
			if !ok {
				log.Info().Msg("point stream closed")
				return
			}
			if err := p.step(point); err != nil {
				log.Error().Err(err).
					Str("symbol", point.Symbol).
					Time("timestamp", point.Timestamp).
					Msg("ingestion halted")
				return
			}
		}
	}
}

// step advances the clock to the point's instant, flushing anything due,
// then routes the point to the symbol's series.
func (p *Pipeline) step(point model.TradePoint) error {
	p.driveMu.Lock()
	defer p.driveMu.Unlock()

	if err := p.sync.Advance(point.Timestamp); err != nil {
		return err
	}
	for _, id := range p.series[point.Symbol] {
		if err := p.sync.Feed(id, point); err != nil {
			return err
		}
	}
	return nil
}

// Tick advances the clock to now without feeding data, flushing any bars
// whose due instant has passed during a quiet stretch. A tick that lands
// behind the clock is a no-op: point timestamps may run slightly ahead of
// the ticking goroutine's reading of the wall.
func (p *Pipeline) Tick(now time.Time) error {
	p.driveMu.Lock()
	defer p.driveMu.Unlock()

	err := p.sync.Advance(now)
	if errors.Is(err, timekeeping.ErrOutOfOrderTime) {
		return nil
	}
	return err
}
