package indicators

import (
	"context"
	"fmt"

	"klineCrawler/internal/domain"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
)

// MovingAverageConfig holds configuration for moving average indicators
type MovingAverageConfig struct {
	IndicatorConfig
	Type MovingAverageType
}

// MovingAverage implements the moving average indicator over close prices
type MovingAverage struct {
	BaseIndicator
	config MovingAverageConfig
}

var _ Indicator = (*MovingAverage)(nil)

// NewMovingAverage creates a new moving average indicator instance
func NewMovingAverage(config MovingAverageConfig) *MovingAverage {
	return &MovingAverage{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator
func (m *MovingAverage) Name() string {
	return fmt.Sprintf("%s(%d)", m.config.Type, m.Config.Period)
}

// Calculate computes the moving average value based on the configured type
func (m *MovingAverage) Calculate(ctx context.Context, klines []domain.Kline) (float64, error) {
	prices := ClosePrices(klines)
	switch m.config.Type {
	case SimpleMovingAverage:
		return SMA(prices, m.Config.Period)
	default:
		return 0, fmt.Errorf("unsupported moving average type: %s", m.config.Type)
	}
}

// SMA is the arithmetic mean of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("SMA period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(values), period)
	}

	total := 0.0
	for _, v := range values[len(values)-period:] {
		total += v
	}
	return total / float64(period), nil
}

// Slope is the average per-step change between the value period positions from the end and the last value.
func Slope(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("slope period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate slope for period %d", len(values), period)
	}
	return (values[len(values)-1] - values[len(values)-period]) / float64(period), nil
}
