// Package strategy derives a moving-average crossover signal and a naive price
// projection from a stored kline series.
package strategy

import (
	"context"
	"fmt"
	"time"

	"klineCrawler/internal/domain"
	"klineCrawler/internal/ports"
	"klineCrawler/internal/strategy/indicators"
)

// Windows is a calibrated pair of moving-average lengths, in candles.
type Windows struct {
	Short int
	Long  int
}

// CalibrateWindows picks the short and long window for a series whose candles
// are granularityMinutes apart.
func CalibrateWindows(granularityMinutes int64) Windows {
	switch {
	case granularityMinutes <= 15:
		return Windows{Short: 5, Long: 20}
	case granularityMinutes <= 60:
		return Windows{Short: 10, Long: 50}
	case granularityMinutes <= 240:
		return Windows{Short: 20, Long: 100}
	default:
		return Windows{Short: 30, Long: 150}
	}
}

// Config holds dependencies of the signal engine.
type Config struct {
	Now func() time.Time // nil = time.Now
}

// SignalEngine computes signals. It keeps no state between calls.
type SignalEngine struct {
	logger ports.Logger
	now    func() time.Time
}

// New creates a new SignalEngine instance.
func New(cfg Config, logger ports.Logger) (*SignalEngine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for signal engine")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SignalEngine{logger: logger, now: now}, nil
}

// Analyze returns the crossover signal and price estimate for an ascending series.
// Series too short for the calibrated long window yield the zero SignalResult.
func (e *SignalEngine) Analyze(ctx context.Context, klines []domain.Kline, predictionMinutes int) domain.SignalResult {
	if len(klines) < 2 {
		e.logger.Debug(ctx, "Not enough kline data to determine granularity", map[string]interface{}{"available": len(klines)})
		return domain.SignalResult{}
	}

	last, prev := klines[len(klines)-1], klines[len(klines)-2]
	granularity := (last.CloseTime - prev.CloseTime) / time.Minute.Milliseconds()
	if granularity < 0 {
		granularity = -granularity
	}
	w := CalibrateWindows(granularity)

	shortInd := indicators.NewMovingAverage(indicators.MovingAverageConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: w.Short},
		Type:            indicators.SimpleMovingAverage,
	})
	longInd := indicators.NewMovingAverage(indicators.MovingAverageConfig{
		IndicatorConfig: indicators.IndicatorConfig{Period: w.Long},
		Type:            indicators.SimpleMovingAverage,
	})

	if len(klines) < longInd.RequiredDataPoints() {
		e.logger.Debug(ctx, "Not enough kline data for signal evaluation",
			map[string]interface{}{"available": len(klines), "required": longInd.RequiredDataPoints(), "granularityMinutes": granularity})
		return domain.SignalResult{}
	}

	shortMA, err := shortInd.Calculate(ctx, klines)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to calculate short term MA", map[string]interface{}{"indicator": shortInd.Name()})
		return domain.SignalResult{}
	}
	longMA, err := longInd.Calculate(ctx, klines)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to calculate long term MA", map[string]interface{}{"indicator": longInd.Name()})
		return domain.SignalResult{}
	}

	closes := indicators.ClosePrices(klines)
	slope, err := indicators.Slope(closes, w.Short)
	if err != nil {
		e.logger.Error(ctx, err, "Failed to calculate short term slope")
		return domain.SignalResult{}
	}

	ratio, ok := changeRatio(closes, w)
	if !ok {
		e.logger.Warn(ctx, "Zero close price in long window, cannot estimate price")
		return domain.SignalResult{}
	}

	signal := Crossover(shortMA, longMA, slope)
	lastClose := last.ClosePrice
	estimated := lastClose * ratio
	var pct float64
	if lastClose != 0 {
		pct = (estimated - lastClose) / lastClose * 100
	}

	e.logger.Debug(ctx, "Signal evaluated", map[string]interface{}{
		"signal":     string(signal),
		"shortMA":    shortMA,
		"longMA":     longMA,
		"slope":      slope,
		"ratio":      ratio,
		"windows":    shortInd.Name() + "/" + longInd.Name(),
		"lastClose":  lastClose,
		"estimation": estimated,
	})

	return domain.SignalResult{
		Signal:               signal,
		EstimatedPrice:       estimated,
		EstimatedTimestamp:   e.now().UnixMilli() + int64(predictionMinutes)*time.Minute.Milliseconds(),
		PercentageDifference: pct,
	}
}

// Crossover classifies the relation of the short and long averages.
func Crossover(shortMA, longMA, shortSlope float64) domain.Signal {
	switch {
	case shortMA > longMA && shortSlope > 0:
		return domain.SignalBuy
	case shortMA < longMA && shortSlope < 0:
		return domain.SignalSell
	default:
		return domain.SignalHold
	}
}

// changeRatio averages closes[recent i] / closes[oldest i] over the short window:
// the last Short closes are paired position by position with the first Short closes
// of the long window.
func changeRatio(closes []float64, w Windows) (float64, bool) {
	recent := closes[len(closes)-w.Short:]
	base := closes[len(closes)-w.Long:]

	sum := 0.0
	for i := range recent {
		if base[i] == 0 {
			return 0, false
		}
		sum += recent[i] / base[i]
	}
	return sum / float64(len(recent)), true
}
