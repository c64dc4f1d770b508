// Package config defines the YAML configuration for the bar pipeline
// drivers and its validation rules.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// ServerConfig is the top-level configuration for the live server.
type ServerConfig struct {
	// Listen is the HTTP listen address for the WebSocket endpoint.
	Listen string `yaml:"listen" validate:"required,hostname_port"`

	// Series lists the consolidation series the server maintains.
	Series []SeriesConfig `yaml:"series" validate:"required,min=1,dive"`

	// QueueSize is the emission queue capacity between the driver and
	// the fan-out path.
	QueueSize int `yaml:"queueSize" validate:"gte=0"`

	// MaxSubscriptionSymbols bounds one client subscription.
	MaxSubscriptionSymbols int `yaml:"maxSubscriptionSymbols" validate:"gte=0"`

	// SubscriberBuffer is the per-subscriber channel capacity.
	SubscriberBuffer int `yaml:"subscriberBuffer" validate:"gte=0"`

	// Source tunes the synthetic trade generator.
	Source SourceConfig `yaml:"source"`
}

// SeriesConfig describes one consolidation series: bars of Period for
// Symbol, aligned to Zone's wall clock.
type SeriesConfig struct {
	Symbol string        `yaml:"symbol" validate:"required"`
	Zone   string        `yaml:"zone"`
	Period time.Duration `yaml:"period" validate:"required,gt=0"`
}

// SourceConfig tunes the synthetic random-walk source.
type SourceConfig struct {
	Interval   time.Duration `yaml:"interval" validate:"gte=0"`
	StartPrice float64       `yaml:"startPrice" validate:"gte=0"`
	Volatility float64       `yaml:"volatility" validate:"gte=0,lte=1"`
	Seed       int64         `yaml:"seed"`
}

// applyDefaults fills zero-valued optional fields.
func (c *ServerConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "localhost:8080"
	}
	if c.QueueSize == 0 {
		c.QueueSize = 1024
	}
	if c.MaxSubscriptionSymbols == 0 {
		c.MaxSubscriptionSymbols = 10
	}
	if c.SubscriberBuffer == 0 {
		c.SubscriberBuffer = 100
	}
	if c.Source.Interval == 0 {
		c.Source.Interval = 250 * time.Millisecond
	}
	if c.Source.StartPrice == 0 {
		c.Source.StartPrice = 50000
	}
	if c.Source.Volatility == 0 {
		c.Source.Volatility = 0.0005
	}
	for i := range c.Series {
		if c.Series[i].Zone == "" {
			c.Series[i].Zone = "UTC"
		}
	}
}

// Validate checks the configuration against its struct tags.
func (c *ServerConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
