package domain

import "time"

// Kline represents a single candlestick data point.
// Timestamps are epoch milliseconds; OpenTime is unique within a symbol's series.
type Kline struct {
	OpenTime            int64   `db:"open_time" json:"open_time"`
	OpenPrice           float64 `db:"open_price" json:"open_price"`
	HighPrice           float64 `db:"high_price" json:"high_price"`
	LowPrice            float64 `db:"low_price" json:"low_price"`
	ClosePrice          float64 `db:"close_price" json:"close_price"`
	Volume              float64 `db:"volume" json:"volume"`
	CloseTime           int64   `db:"close_time" json:"close_time"`
	QuoteAssetVolume    float64 `db:"quote_asset_volume" json:"quote_asset_volume"`
	NumberOfTrades      int64   `db:"number_of_trades" json:"number_of_trades"`
	TakerBuyBaseVolume  float64 `db:"taker_buy_base_volume" json:"taker_buy_base_volume"`
	TakerBuyQuoteVolume float64 `db:"taker_buy_quote_volume" json:"taker_buy_quote_volume"`
}

// OpenAt returns the open time as a time.Time.
func (k Kline) OpenAt() time.Time {
	return time.UnixMilli(k.OpenTime)
}

// CloseAt returns the close time as a time.Time.
func (k Kline) CloseAt() time.Time {
	return time.UnixMilli(k.CloseTime)
}

// IsCurrent reports whether the kline closes at or after now.
func (k Kline) IsCurrent(now time.Time) bool {
	return k.CloseTime >= now.UnixMilli()
}

// FetchWindow describes one request for klines. It is never persisted.
type FetchWindow struct {
	Symbol    string
	Interval  string
	StartTime int64 // epoch ms, 0 = unset
	EndTime   int64 // epoch ms, 0 = now
	Limit     int
}

// SymbolSeries groups the klines of one symbol.
type SymbolSeries struct {
	Symbol string
	Klines []Kline
}
