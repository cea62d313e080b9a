package app

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"klineCrawler/internal/adapters/sqlite"
	"klineCrawler/internal/domain"
	"klineCrawler/internal/fetcher"
	"klineCrawler/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exchangeSource serves hourly rows for open hours [1, available) and records each request start.
type exchangeSource struct {
	mu        sync.Mutex
	available int64
	cycle     int
	starts    map[string][]int64
}

func (s *exchangeSource) FetchHistoricalKlines(ctx context.Context, sym, interval string, start, end int64, limit int, market domain.MarketType) ([]ports.RawKline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts[sym] = append(s.starts[sym], start)

	var rows []ports.RawKline
	for h := int64(1); h < s.available; h++ {
		open := h * hourMs
		if open < start || (end > 0 && open > end) {
			continue
		}
		// The close price carries the cycle so a refetched boundary row differs from the stored one.
		c := strconv.FormatInt(h+int64(s.cycle)*1000, 10)
		rows = append(rows, ports.RawKline{
			strconv.FormatInt(open, 10), c, c, c, c, "1",
			strconv.FormatInt(open+hourMs-1, 10), "1", "1", "1", "1", "0",
		})
	}
	return rows, nil
}

func TestIngestion_ColdStartThenResumeAtBoundary(t *testing.T) {
	ctx := context.Background()
	log := &mockLogger{}
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "klines.db"), Logger: log})
	require.NoError(t, err)
	defer repo.Close()

	var mu sync.Mutex
	now := time.UnixMilli(10 * hourMs)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	source := &exchangeSource{available: 10, cycle: 1, starts: map[string][]int64{}}
	f, err := fetcher.New(fetcher.Config{Source: source, Logger: log, Now: clock})
	require.NoError(t, err)
	svc, err := NewIngestionService(IngestionConfig{
		Interval:         "1h",
		DefaultStartTime: hourMs,
		Limit:            500,
		Now:              clock,
	}, log, repo, f)
	require.NoError(t, err)

	symbols := []string{"BTCUSDT", "1000SATSUSDT"}

	// Cold start: every series begins at the configured default.
	first := svc.RunCycle(ctx, symbols)
	require.Empty(t, first.Failed())
	for _, sym := range symbols {
		res := resultFor(t, first, sym)
		assert.Equal(t, 9, res.Inserted, sym)
		assert.Equal(t, []int64{hourMs}, source.starts[sym], sym)
	}

	// Three more candles close on the exchange.
	mu.Lock()
	now = time.UnixMilli(13 * hourMs)
	mu.Unlock()
	source.mu.Lock()
	source.available, source.cycle = 13, 2
	source.mu.Unlock()

	second := svc.RunCycle(ctx, symbols)
	require.Empty(t, second.Failed())
	for _, sym := range symbols {
		res := resultFor(t, second, sym)
		assert.Equal(t, 4, res.Fetched, "boundary candle is fetched again: %s", sym)
		assert.Equal(t, 3, res.Inserted, sym)
		assert.Equal(t, int64(9*hourMs), source.starts[sym][1], "resume starts at the latest stored open time: %s", sym)

		all, err := repo.All(ctx, sym)
		require.NoError(t, err)
		require.Len(t, all, 12, sym)
		atBoundary := 0
		for i, k := range all {
			if i > 0 {
				assert.Less(t, all[i-1].OpenTime, k.OpenTime)
			}
			if k.OpenTime == 9*hourMs {
				atBoundary++
				assert.Equal(t, float64(1009), k.ClosePrice, "stored boundary row is never overwritten")
			}
		}
		assert.Equal(t, 1, atBoundary, sym)
	}

	stored, err := repo.ListSymbols(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, symbols, stored)
}
