package service

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"barclock/internal/model"
	"barclock/internal/utils"
)

// Subscriber is one client's view of the emission stream: a buffered
// channel of emissions filtered down to the symbols it asked for.
type Subscriber struct {
	id      int64
	ch      chan model.Emission
	symbols map[string]struct{}
}

// Emissions returns the subscriber's delivery channel. It is closed when
// the subscriber is removed or the dispatcher shuts down.
func (s *Subscriber) Emissions() <-chan model.Emission { return s.ch }

// DispatcherConfig holds tuning for the Dispatcher.
type DispatcherConfig struct {
	MaxSymbols       int // Maximum symbols per subscription
	SubscriberBuffer int // Per-subscriber channel capacity
}

// Dispatcher fans completed bars out to per-symbol subscribers.
//
// A single goroutine owns the subscribers map (actor model): subscription
// and removal requests arrive over channels, so no mutex guards shared
// state and the dispatch loop can never deadlock against its callers.
// Slow subscribers lose emissions rather than stalling the loop; drops
// are counted per dispatcher.
type Dispatcher struct {
	cfg         DispatcherConfig
	subscribers map[int64]*Subscriber
	subscribe   chan *Subscriber
	unsubscribe chan *Subscriber
	started     atomic.Bool
	dropped     atomic.Uint64
	ids         *rand.Rand
}

// NewDispatcher creates a dispatcher with the provided configuration.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 100
	}
	return &Dispatcher{
		cfg:         cfg,
		subscribers: make(map[int64]*Subscriber),
		subscribe:   make(chan *Subscriber, 10),
		unsubscribe: make(chan *Subscriber, 10),
		ids:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Subscribe registers interest in the given symbols and returns the new
// subscriber. Symbol lists are validated against the configured limit.
func (d *Dispatcher) Subscribe(symbols []string) (*Subscriber, error) {
	if !d.started.Load() {
		return nil, errors.New("dispatcher not started")
	}

	if err := utils.ValidateSymbols(symbols, d.cfg.MaxSymbols); err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}

	sub := &Subscriber{
		id:      d.ids.Int63(),
		ch:      make(chan model.Emission, d.cfg.SubscriberBuffer),
		symbols: set,
	}

	select {
	case d.subscribe <- sub:
		return sub, nil
	default:
		return nil, errors.New("subscription backlog full")
	}
}

// Unsubscribe removes the subscriber and closes its channel.
func (d *Dispatcher) Unsubscribe(sub *Subscriber) error {
	if !d.started.Load() {
		return errors.New("dispatcher not started")
	}
	if sub == nil {
		return errors.New("nil subscriber")
	}

	select {
	case d.unsubscribe <- sub:
		return nil
	case <-time.After(time.Second):
		return errors.New("unsubscription backlog full")
	}
}

// Dropped returns the number of emissions discarded because a subscriber
// buffer was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Start launches the dispatch loop consuming the given emission stream.
// The loop runs until the context is cancelled or the stream closes, then
// closes every subscriber channel.
func (d *Dispatcher) Start(ctx context.Context, emissions <-chan model.Emission) error {
	if !d.started.CompareAndSwap(false, true) {
		return errors.New("dispatcher already started")
	}

	go func() {
		defer d.closeAll()
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("dispatcher stopped")
				return
			case sub := <-d.subscribe:
				d.subscribers[sub.id] = sub
			case sub := <-d.unsubscribe:
				d.remove(sub)
			case e, ok := <-emissions:
				if !ok {
					log.Info().Msg("emission stream closed")
					return
				}
				d.deliver(e)
			}
		}
	}()

	return nil
}

// deliver forwards one emission to every subscriber interested in its
// symbol, dropping it for subscribers whose buffers are full.
func (d *Dispatcher) deliver(e model.Emission) {
	for _, sub := range d.subscribers {
		if _, interested := sub.symbols[e.Bar.Symbol]; !interested {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			d.dropped.Add(1)
		}
	}
}

func (d *Dispatcher) remove(sub *Subscriber) {
	if _, ok := d.subscribers[sub.id]; !ok {
		return
	}
	delete(d.subscribers, sub.id)
	close(sub.ch)
}

func (d *Dispatcher) closeAll() {
	d.started.Store(false)
	for id, sub := range d.subscribers {
		delete(d.subscribers, id)
		close(sub.ch)
	}
}
