package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"barclock/internal/model"
	"barclock/internal/timekeeping"
)

// Mock implementations

type MockPointSource struct {
	mock.Mock
	ch chan model.TradePoint
}

func NewMockPointSource() *MockPointSource {
	return &MockPointSource{ch: make(chan model.TradePoint, 100)}
}

func (m *MockPointSource) StartPointStream(ctx context.Context, symbols []string) (<-chan model.TradePoint, error) {
	args := m.Called(ctx, symbols)
	if args.Error(1) != nil {
		return nil, args.Error(1)
	}
	return m.ch, nil
}

func (m *MockPointSource) SendPoint(p model.TradePoint) { m.ch <- p }

func (m *MockPointSource) Close() { close(m.ch) }

type MockSubscriptionManager struct {
	mock.Mock

	mu       sync.Mutex
	received []model.Emission
	done     chan struct{}
}

func NewMockSubscriptionManager() *MockSubscriptionManager {
	return &MockSubscriptionManager{done: make(chan struct{})}
}

func (m *MockSubscriptionManager) Subscribe(symbols []string) (*Subscriber, error) {
	args := m.Called(symbols)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Subscriber), args.Error(1)
}

func (m *MockSubscriptionManager) Unsubscribe(sub *Subscriber) error {
	args := m.Called(sub)
	return args.Error(0)
}

func (m *MockSubscriptionManager) Start(ctx context.Context, emissions <-chan model.Emission) error {
	args := m.Called(ctx, emissions)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	go func() {
		defer close(m.done)
		for e := range emissions {
			m.mu.Lock()
			m.received = append(m.received, e)
			m.mu.Unlock()
		}
	}()
	return nil
}

// Received returns a copy of the emissions the manager has consumed.
func (m *MockSubscriptionManager) Received() []model.Emission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Emission, len(m.received))
	copy(out, m.received)
	return out
}

// buildPipeline wires a pipeline whose synchronizer publishes into the
// queue, mirroring production wiring.
func buildPipeline(source PointSource, manager SubscriptionManager) *Pipeline {
	queue := NewEmissionQueue(100)
	sync := NewSynchronizer(
		timekeeping.NewClock(time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)),
		timekeeping.NewZoneTable(),
		func(e model.Emission) { _ = queue.TryPublish(e) },
	)
	return NewPipeline(sync, queue, manager, source)
}

// Test_Pipeline_AddSeries tests series registration and validation
func Test_Pipeline_AddSeries(t *testing.T) {
	tests := []struct {
		name        string
		spec        SeriesSpec
		expectError bool
		description string
	}{
		{
			name:        "Valid series",
			spec:        SeriesSpec{Symbol: "BTC-USD", Zone: "America/New_York", Period: time.Minute},
			expectError: false,
			description: "Should register a valid series",
		},
		{
			name:        "Unknown zone",
			spec:        SeriesSpec{Symbol: "BTC-USD", Zone: "Not/AZone", Period: time.Minute},
			expectError: true,
			description: "Should reject an unknown zone",
		},
		{
			name:        "Non-positive period",
			spec:        SeriesSpec{Symbol: "BTC-USD", Zone: "UTC", Period: 0},
			expectError: true,
			description: "Should reject a non-positive period",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := buildPipeline(NewMockPointSource(), NewMockSubscriptionManager())

			err := p.AddSeries(tt.spec)
			if tt.expectError {
				assert.Error(t, err, tt.description)
			} else {
				assert.NoError(t, err, tt.description)
				assert.Equal(t, []string{tt.spec.Symbol}, p.Symbols())
			}
		})
	}
}

// Test_Pipeline_StartStop tests lifecycle management
func Test_Pipeline_StartStop(t *testing.T) {
	t.Run("Start without series", func(t *testing.T) {
		p := buildPipeline(NewMockPointSource(), NewMockSubscriptionManager())

		err := p.Start(context.Background())
		assert.Error(t, err, "Should reject start with no registered series")
		assert.Contains(t, err.Error(), "no series registered")
	})

	t.Run("Double start rejected", func(t *testing.T) {
		source := NewMockPointSource()
		manager := NewMockSubscriptionManager()
		source.On("StartPointStream", mock.Anything, mock.Anything).Return(nil, nil)
		manager.On("Start", mock.Anything, mock.Anything).Return(nil)

		p := buildPipeline(source, manager)
		require.NoError(t, p.AddSeries(SeriesSpec{Symbol: "BTC-USD", Zone: "UTC", Period: time.Minute}))
		require.NoError(t, p.Start(context.Background()))
		defer p.Stop()

		err := p.Start(context.Background())
		assert.Error(t, err, "Should reject second start")
		assert.Contains(t, err.Error(), "already started")
	})

	t.Run("Stop before start rejected", func(t *testing.T) {
		p := buildPipeline(NewMockPointSource(), NewMockSubscriptionManager())
		assert.Error(t, p.Stop(), "Should reject stop before start")
	})

	t.Run("AddSeries after start rejected", func(t *testing.T) {
		source := NewMockPointSource()
		manager := NewMockSubscriptionManager()
		source.On("StartPointStream", mock.Anything, mock.Anything).Return(nil, nil)
		manager.On("Start", mock.Anything, mock.Anything).Return(nil)

		p := buildPipeline(source, manager)
		require.NoError(t, p.AddSeries(SeriesSpec{Symbol: "BTC-USD", Zone: "UTC", Period: time.Minute}))
		require.NoError(t, p.Start(context.Background()))
		defer p.Stop()

		err := p.AddSeries(SeriesSpec{Symbol: "ETH-USD", Zone: "UTC", Period: time.Minute})
		assert.Error(t, err, "Should reject registration on a running pipeline")
	})

	t.Run("Source failure aborts start", func(t *testing.T) {
		source := NewMockPointSource()
		manager := NewMockSubscriptionManager()
		source.On("StartPointStream", mock.Anything, mock.Anything).Return(nil, assert.AnError)

		p := buildPipeline(source, manager)
		require.NoError(t, p.AddSeries(SeriesSpec{Symbol: "BTC-USD", Zone: "UTC", Period: time.Minute}))

		err := p.Start(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start point source")
		assert.False(t, p.started.Load(), "Failed start should reset state")
	})

	t.Run("Manager failure aborts start", func(t *testing.T) {
		source := NewMockPointSource()
		manager := NewMockSubscriptionManager()
		source.On("StartPointStream", mock.Anything, mock.Anything).Return(nil, nil)
		manager.On("Start", mock.Anything, mock.Anything).Return(assert.AnError)

		p := buildPipeline(source, manager)
		require.NoError(t, p.AddSeries(SeriesSpec{Symbol: "BTC-USD", Zone: "UTC", Period: time.Minute}))

		err := p.Start(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start dispatching")
		assert.False(t, p.started.Load(), "Failed start should reset state")
	})
}

// Test_Pipeline_Tick verifies a wall-clock tick flushes a working bar
// without new data, and that a stale tick is harmless.
func Test_Pipeline_Tick(t *testing.T) {
	source := NewMockPointSource()
	manager := NewMockSubscriptionManager()
	source.On("StartPointStream", mock.Anything, mock.Anything).Return(nil, nil)
	manager.On("Start", mock.Anything, mock.Anything).Return(nil)

	p := buildPipeline(source, manager)
	require.NoError(t, p.AddSeries(SeriesSpec{Symbol: "BTC-USD", Zone: "UTC", Period: time.Minute}))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	base := time.Date(2024, 2, 16, 0, 0, 10, 0, time.UTC)
	source.SendPoint(point("BTC-USD", 50000, base))

	// Wait for ingestion, then tick across the bar boundary.
	assert.Eventually(t, func() bool {
		return p.Synchronizer().NowUTC().Equal(base)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Tick(base.Add(time.Minute)))
	assert.Eventually(t, func() bool {
		return len(manager.Received()) == 1
	}, 2*time.Second, 10*time.Millisecond, "Tick should flush the working bar")

	assert.NoError(t, p.Tick(base), "Stale tick should be a no-op")
	source.Close()
}

// Test_Pipeline_EndToEnd feeds points through the full path and checks
// the bars that come out the other side.
func Test_Pipeline_EndToEnd(t *testing.T) {
	source := NewMockPointSource()
	manager := NewMockSubscriptionManager()
	source.On("StartPointStream", mock.Anything, []string{"BTC-USD"}).Return(nil, nil)
	manager.On("Start", mock.Anything, mock.Anything).Return(nil)

	p := buildPipeline(source, manager)
	require.NoError(t, p.AddSeries(SeriesSpec{Symbol: "BTC-USD", Zone: "UTC", Period: time.Minute}))
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()

	base := time.Date(2024, 2, 16, 0, 0, 10, 0, time.UTC)
	source.SendPoint(point("BTC-USD", 50000, base))
	source.SendPoint(point("BTC-USD", 50100, base.Add(20*time.Second)))
	// Crossing the minute boundary closes the first bar.
	source.SendPoint(point("BTC-USD", 50050, base.Add(55*time.Second)))
	source.Close()

	select {
	case <-manager.done:
	case <-time.After(2 * time.Second):
		t.Fatal("emission stream never drained")
	}

	received := manager.Received()
	require.Len(t, received, 1, "One completed bar should come through")
	bar := received[0].Bar
	assert.Equal(t, "BTC-USD", bar.Symbol)
	assert.Equal(t, time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC), bar.Start)
	assert.Equal(t, time.Date(2024, 2, 16, 0, 1, 0, 0, time.UTC), bar.End)
	assert.True(t, bar.Open.Equal(point("BTC-USD", 50000, base).Price))
	assert.True(t, bar.Close.Equal(point("BTC-USD", 50100, base).Price))
}
