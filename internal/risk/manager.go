package risk

import (
	"fmt"
	"math"

	"klineCrawler/internal/domain"

	"github.com/shopspring/decimal"
)

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

// Levels are the protective prices derived from a signal. Both are nil for HOLD.
type Levels struct {
	Stop  *float64
	Limit *float64
}

// HasLevels reports whether stop and limit were derived.
func (l Levels) HasLevels() bool {
	return l.Stop != nil && l.Limit != nil
}

// RiskConfig holds configuration for stop/limit derivation
type RiskConfig struct {
	MarginPercent float64 // e.g. 2.0 for 2%
}

// RiskManager derives stop and limit prices with a fixed risk margin
type RiskManager struct {
	config RiskConfig
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig) (*RiskManager, error) {
	if math.IsNaN(config.MarginPercent) || config.MarginPercent < 0 || config.MarginPercent >= 100 {
		return nil, fmt.Errorf("risk margin must be in [0, 100), got %v", config.MarginPercent)
	}
	return &RiskManager{config: config}, nil
}

// MarginPercent returns the configured margin.
func (r *RiskManager) MarginPercent() float64 {
	return r.config.MarginPercent
}

// Levels derives stop and limit prices for a signal using the configured margin.
func (r *RiskManager) Levels(latestClose, estimated float64, signal domain.Signal) Levels {
	stop, limit := StopLimit(latestClose, estimated, r.config.MarginPercent, signal)
	return Levels{Stop: stop, Limit: limit}
}

// StopLimit derives stop and limit prices.
//
//	BUY:  stop = close × (1 − m/100), limit = estimate × (1 + m/100)
//	SELL: stop = close × (1 + m/100), limit = estimate × (1 − m/100)
//
// Any other signal yields nil for both.
func StopLimit(latestClose, estimated, marginPercent float64, signal domain.Signal) (stop, limit *float64) {
	m := decFromFloat(marginPercent).Div(decHundred)
	closeDec := decFromFloat(latestClose)
	estDec := decFromFloat(estimated)

	switch signal {
	case domain.SignalBuy:
		return ptr(closeDec.Mul(decOne.Sub(m))), ptr(estDec.Mul(decOne.Add(m)))
	case domain.SignalSell:
		return ptr(closeDec.Mul(decOne.Add(m))), ptr(estDec.Mul(decOne.Sub(m)))
	default:
		return nil, nil
	}
}

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func ptr(d decimal.Decimal) *float64 {
	f := d.InexactFloat64()
	return &f
}
