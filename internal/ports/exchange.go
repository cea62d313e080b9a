package ports

import (
	"context"
	"time"

	"klineCrawler/internal/domain"
)

// RawKline is one kline row as delivered by the exchange, in the fixed positional order:
// open time, open, high, low, close, volume, close time, quote asset volume, number of trades,
// taker buy base volume, taker buy quote volume, ignore.
// Adapters must not rely on anything past the eleventh field.
type RawKline []string

// RawKlineFields is the number of positional fields that carry kline data.
const RawKlineFields = 11

// KlineSource is the remote capability that returns historical klines.
type KlineSource interface {
	// FetchHistoricalKlines returns raw rows for symbol/interval within [start, end].
	// start or end of 0 means unbounded (end 0 = up to now).
	FetchHistoricalKlines(ctx context.Context, symbol, interval string, start, end int64, limit int, market domain.MarketType) ([]RawKline, error)
}

// ServerClock reports the exchange's current time.
type ServerClock interface {
	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)
}

// ExchangeClient is the subset of exchange operations used outside of kline fetching.
type ExchangeClient interface {
	KlineSource
	ServerClock

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}

// KlineFetcher fetches normalized klines, applying retry and validation policy.
type KlineFetcher interface {
	Fetch(ctx context.Context, window domain.FetchWindow) ([]domain.Kline, error)
}
