package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barclock/internal/consolidate"
	"barclock/internal/model"
	"barclock/internal/timekeeping"
)

// syncHarness wires a synchronizer with a capturing emission handler.
type syncHarness struct {
	sync  *Synchronizer
	zones *timekeeping.ZoneTable
	got   []model.Emission
}

func newSyncHarness(t *testing.T, start time.Time) *syncHarness {
	t.Helper()
	h := &syncHarness{zones: timekeeping.NewZoneTable()}
	h.sync = NewSynchronizer(
		timekeeping.NewClock(start),
		h.zones,
		func(e model.Emission) { h.got = append(h.got, e) },
	)
	return h
}

// register builds a trade-bar consolidator for the symbol and registers it
// in the named zone.
func (h *syncHarness) register(t *testing.T, symbol, zone string, period time.Duration) int64 {
	t.Helper()
	loc, err := h.zones.Resolve(zone)
	require.NoError(t, err)
	cons, err := consolidate.NewTradeBarConsolidator(symbol, period, loc, nil)
	require.NoError(t, err)
	id, err := h.sync.Register(cons, zone)
	require.NoError(t, err)
	return id
}

func point(symbol string, price float64, at time.Time) model.TradePoint {
	return model.TradePoint{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price),
		Quantity:  decimal.NewFromFloat(1),
		Timestamp: at,
	}
}

// Test_Synchronizer_Register tests identity assignment and validation
func Test_Synchronizer_Register(t *testing.T) {
	start := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)

	t.Run("Identities increase and are never reused", func(t *testing.T) {
		h := newSyncHarness(t, start)

		first := h.register(t, "BTC-USD", "UTC", time.Minute)
		second := h.register(t, "ETH-USD", "UTC", time.Minute)
		assert.Equal(t, first+1, second, "Identities should be assigned in increasing order")

		require.True(t, h.sync.Deregister(first))
		third := h.register(t, "SOL-USD", "UTC", time.Minute)
		assert.Greater(t, third, second, "Deregistered identity should not be reused")
		assert.Equal(t, 2, h.sync.Registered())
	})

	t.Run("Unknown zone rejected", func(t *testing.T) {
		h := newSyncHarness(t, start)

		cons, err := consolidate.NewTradeBarConsolidator("BTC-USD", time.Minute, time.UTC, nil)
		require.NoError(t, err)

		_, err = h.sync.Register(cons, "Not/AZone")
		assert.ErrorIs(t, err, timekeeping.ErrUnknownZone)
		assert.Equal(t, 0, h.sync.Registered(), "Failed registration should leave no entry")
	})
}

// Test_Synchronizer_Feed tests point routing
func Test_Synchronizer_Feed(t *testing.T) {
	start := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
	h := newSyncHarness(t, start)

	id := h.register(t, "BTC-USD", "UTC", time.Minute)

	err := h.sync.Feed(id+99, point("BTC-USD", 50000, start))
	assert.ErrorIs(t, err, ErrNotRegistered, "Unknown identity should be rejected")

	assert.NoError(t, h.sync.Feed(id, point("BTC-USD", 50000, start)))
}

// Test_Synchronizer_Advance tests clock monotonicity and scan-driven
// emission through the handler.
func Test_Synchronizer_Advance(t *testing.T) {
	start := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)

	t.Run("Rejects backward instants", func(t *testing.T) {
		h := newSyncHarness(t, start)
		err := h.sync.Advance(start.Add(-time.Second))
		assert.ErrorIs(t, err, timekeeping.ErrOutOfOrderTime)
	})

	t.Run("Completed bar reaches the handler", func(t *testing.T) {
		h := newSyncHarness(t, start)
		id := h.register(t, "BTC-USD", "UTC", time.Minute)

		require.NoError(t, h.sync.Advance(start.Add(10*time.Second)))
		require.NoError(t, h.sync.Feed(id, point("BTC-USD", 50000, h.sync.NowUTC())))
		require.NoError(t, h.sync.Feed(id, point("BTC-USD", 50100, h.sync.NowUTC())))
		require.NoError(t, h.sync.Advance(start.Add(time.Minute)))

		require.Len(t, h.got, 1, "Bar should flush exactly once at its end")
		e := h.got[0]
		assert.Equal(t, id, e.Identity)
		assert.Equal(t, "UTC", e.Zone)
		assert.Equal(t, "BTC-USD", e.Bar.Symbol)
		assert.True(t, decimal.NewFromFloat(50000).Equal(e.Bar.Open))
		assert.True(t, decimal.NewFromFloat(50100).Equal(e.Bar.Close))
		assert.Equal(t, start, e.Bar.Start)
		assert.Equal(t, start.Add(time.Minute), e.Bar.End)
	})

	t.Run("Empty periods emit nothing", func(t *testing.T) {
		h := newSyncHarness(t, start)
		h.register(t, "BTC-USD", "UTC", time.Minute)

		require.NoError(t, h.sync.Advance(start.Add(10*time.Minute)))
		assert.Empty(t, h.got, "No data means no bars, regardless of elapsed time")
	})
}

// Test_Synchronizer_FlushOrder verifies due-then-identity ordering when
// several consolidators flush on one advance.
func Test_Synchronizer_FlushOrder(t *testing.T) {
	start := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
	h := newSyncHarness(t, start)

	// Same period, registered in this order: ties break by identity.
	a := h.register(t, "BTC-USD", "UTC", time.Minute)
	b := h.register(t, "ETH-USD", "UTC", time.Minute)
	c := h.register(t, "SOL-USD", "UTC", time.Minute)

	at := start.Add(5 * time.Second)
	require.NoError(t, h.sync.Advance(at))
	require.NoError(t, h.sync.Feed(c, point("SOL-USD", 100, at)))
	require.NoError(t, h.sync.Feed(a, point("BTC-USD", 50000, at)))
	require.NoError(t, h.sync.Feed(b, point("ETH-USD", 3000, at)))

	require.NoError(t, h.sync.Advance(start.Add(time.Minute)))

	require.Len(t, h.got, 3)
	assert.Equal(t, []int64{a, b, c}, []int64{h.got[0].Identity, h.got[1].Identity, h.got[2].Identity},
		"Equal due instants should flush in registration order")
}

// Test_Synchronizer_Determinism runs the same input sequence twice and
// expects identical emission sequences.
func Test_Synchronizer_Determinism(t *testing.T) {
	start := time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC)

	run := func() []model.Emission {
		h := newSyncHarness(t, start)
		minutely := h.register(t, "BTC-USD", "America/New_York", time.Minute)
		hourly := h.register(t, "BTC-USD", "America/New_York", time.Hour)

		now := start
		prices := []float64{50000, 50250, 49800, 50100, 50500, 49900}
		for i, p := range prices {
			now = now.Add(25 * time.Second)
			require.NoError(t, h.sync.Advance(now))
			require.NoError(t, h.sync.Feed(minutely, point("BTC-USD", p, now)))
			require.NoError(t, h.sync.Feed(hourly, point("BTC-USD", p, now)))
			if i == 3 {
				// A quiet stretch with nothing but clock movement.
				now = now.Add(3 * time.Minute)
				require.NoError(t, h.sync.Advance(now))
			}
		}
		require.NoError(t, h.sync.Advance(now.Add(2*time.Hour)))
		return h.got
	}

	first := run()
	second := run()

	require.NotEmpty(t, first, "Input sequence should produce emissions")
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Identity, second[i].Identity, "emission %d identity", i)
		assert.Equal(t, first[i].Bar.Start, second[i].Bar.Start, "emission %d start", i)
		assert.Equal(t, first[i].Bar.End, second[i].Bar.End, "emission %d end", i)
		assert.True(t, first[i].Bar.Close.Equal(second[i].Bar.Close), "emission %d close", i)
	}
}

// Test_Synchronizer_NextWake tests wake-up forwarding for live drivers
func Test_Synchronizer_NextWake(t *testing.T) {
	start := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
	h := newSyncHarness(t, start)

	_, ok := h.sync.NextWake()
	assert.False(t, ok, "Empty run has no wake-up")

	h.register(t, "BTC-USD", "UTC", time.Minute)
	h.register(t, "ETH-USD", "UTC", time.Hour)

	wake, ok := h.sync.NextWake()
	require.True(t, ok)
	assert.Equal(t, start.Add(time.Minute), wake, "Wake-up should be the earliest pending due instant")
}

// Test_Synchronizer_Deregister tests removal mid-run
func Test_Synchronizer_Deregister(t *testing.T) {
	start := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
	h := newSyncHarness(t, start)

	id := h.register(t, "BTC-USD", "UTC", time.Minute)

	assert.False(t, h.sync.Deregister(id+1), "Unknown identity reports false")
	assert.True(t, h.sync.Deregister(id))
	assert.False(t, h.sync.Deregister(id), "Second removal reports false")
	assert.Equal(t, 0, h.sync.Registered())

	// The removed identity never scans again.
	require.NoError(t, h.sync.Advance(start.Add(time.Hour)))
	assert.Empty(t, h.got)
}
