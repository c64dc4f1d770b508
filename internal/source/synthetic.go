// Package source provides trade point producers for the bar pipeline.
//
// Two producers are included: a synthetic random-walk generator for live
// demonstration and load testing, and a JSON-lines file reader for
// deterministic replay. Both normalize their output to model.TradePoint
// with decimal prices and UTC timestamps, so downstream consolidation
// never sees producer-specific formats.
package source

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"barclock/internal/model"
	"barclock/internal/utils"
)

// SyntheticConfig tunes the random-walk generator.
type SyntheticConfig struct {
	// Interval between generated points.
	Interval time.Duration `validate:"required,gt=0"`

	// StartPrice is the initial price for every symbol.
	StartPrice float64 `validate:"required,gt=0"`

	// Volatility is the maximum relative step per point, e.g. 0.001 for
	// ±0.1% moves.
	Volatility float64 `validate:"required,gt=0,lte=1"`

	// Seed makes the walk reproducible; zero seeds from the wall clock.
	Seed int64

	// MaxSymbols bounds one stream's symbol list.
	MaxSymbols int `validate:"required,gt=0"`
}

// Synthetic generates a random-walk trade stream, one walker per symbol.
// Timestamps are the wall clock at generation time, so the stream is
// monotonic by construction.
type Synthetic struct {
	cfg      SyntheticConfig
	validate *validator.Validate
}

// NewSynthetic validates the configuration and returns a generator.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid synthetic source config: %w", err)
	}
	return &Synthetic{cfg: cfg, validate: v}, nil
}

// StartPointStream begins generating points for the given symbols until
// the context is cancelled.
func (s *Synthetic) StartPointStream(ctx context.Context, symbols []string) (<-chan model.TradePoint, error) {
	if err := utils.ValidateSymbols(symbols, s.cfg.MaxSymbols); err != nil {
		return nil, err
	}

	seed := s.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	out := make(chan model.TradePoint, 100)
	go s.generate(ctx, symbols, rand.New(rand.NewSource(seed)), out)

	log.Info().
		Strs("symbols", symbols).
		Dur("interval", s.cfg.Interval).
		Float64("volatility", s.cfg.Volatility).
		Msg("synthetic trade source started")

	return out, nil
}

func (s *Synthetic) generate(ctx context.Context, symbols []string, rng *rand.Rand, out chan<- model.TradePoint) {
	defer close(out)

	prices := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		prices[sym] = s.cfg.StartPrice
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sym := symbols[rng.Intn(len(symbols))]

			step := (rng.Float64()*2 - 1) * s.cfg.Volatility
			prices[sym] *= 1 + step

			point := model.TradePoint{
				Symbol:    sym,
				Price:     decimal.NewFromFloat(prices[sym]).Round(8),
				Quantity:  decimal.NewFromFloat(rng.Float64() * 2).Round(8),
				Timestamp: now.UTC(),
			}

			select {
			case out <- point:
			case <-ctx.Done():
				return
			}
		}
	}
}
