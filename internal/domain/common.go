package domain

import (
	"fmt"
	"strings"
)

// Signal is the trading signal derived from a kline series.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
	// SignalNone marks a neutral result when there was not enough data.
	SignalNone Signal = ""
)

// MarketType selects which kline endpoint family is queried.
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

// ParseMarketType converts a config string to a MarketType.
func ParseMarketType(s string) (MarketType, error) {
	switch MarketType(strings.ToLower(strings.TrimSpace(s))) {
	case MarketSpot, "":
		return MarketSpot, nil
	case MarketFutures:
		return MarketFutures, nil
	default:
		return "", fmt.Errorf("unknown market type %q", s)
	}
}
