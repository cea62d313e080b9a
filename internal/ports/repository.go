package ports

import (
	"context"

	"klineCrawler/internal/domain"
)

// KlineRepository defines durable per-symbol kline storage.
// Every error returned wraps ErrStorage.
type KlineRepository interface {
	// EnsureSeries creates the backing storage for symbol if absent. It never clears data.
	EnsureSeries(ctx context.Context, symbol string) error
	// Latest returns the kline with the greatest open time.
	// Returns nil, nil if the series is empty or does not exist.
	Latest(ctx context.Context, symbol string) (*domain.Kline, error)
	// Append inserts klines, silently skipping open times already stored.
	// It returns the number of rows actually inserted.
	Append(ctx context.Context, symbol string, klines []domain.Kline) (int, error)
	// All returns the full series ordered by open time ascending.
	All(ctx context.Context, symbol string) ([]domain.Kline, error)
	// ListSymbols returns every symbol that has a materialized series.
	ListSymbols(ctx context.Context) ([]string, error)
}
