package fetcher

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"klineCrawler/internal/domain"
	"klineCrawler/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

// mockSource implements ports.KlineSource with a scripted response function.
type mockSource struct {
	mu        sync.Mutex
	calls     int
	symbols   []string
	markets   []domain.MarketType
	FetchFunc func(call int) ([]ports.RawKline, error)
}

func (m *mockSource) FetchHistoricalKlines(ctx context.Context, symbol, interval string, start, end int64, limit int, market domain.MarketType) ([]ports.RawKline, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.symbols = append(m.symbols, symbol)
	m.markets = append(m.markets, market)
	m.mu.Unlock()
	return m.FetchFunc(call)
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func row(open int64, close string) ports.RawKline {
	return ports.RawKline{
		itoa(open), "1", "2", "0.5", close, "10", itoa(open + 59_999), "15", "7", "4", "6", "0",
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func newTestFetcher(t *testing.T, src *mockSource, clock *fakeClock, log *mockLogger) *Fetcher {
	t.Helper()
	f, err := New(Config{
		Source:   src,
		Logger:   log,
		Cooldown: 60 * time.Second,
		Now:      clock.Now,
		Sleep:    clock.Sleep,
	})
	require.NoError(t, err)
	return f
}

func TestFetch_RetriesRateLimitUntilSuccess(t *testing.T) {
	src := &mockSource{FetchFunc: func(call int) ([]ports.RawKline, error) {
		if call <= 3 {
			return nil, &common.APIError{Code: -1003, Message: "Too many requests."}
		}
		return []ports.RawKline{row(0, "1.5")}, nil
	}}
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	f := newTestFetcher(t, src, clock, &mockLogger{})

	klines, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "BTCUSDT", Interval: "1m", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, klines, 1)
	assert.Equal(t, 4, src.calls)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute, time.Minute}, clock.sleeps)
}

func TestFetch_WrappedRateLimitErrorIsDetected(t *testing.T) {
	src := &mockSource{FetchFunc: func(call int) ([]ports.RawKline, error) {
		if call == 1 {
			return nil, errors.Join(ports.ErrRateLimited, &common.APIError{Code: -1003})
		}
		return nil, nil
	}}
	clock := &fakeClock{now: time.Unix(0, 0)}
	f := newTestFetcher(t, src, clock, &mockLogger{})

	klines, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "BTCUSDT", Interval: "1m"})
	require.NoError(t, err)
	assert.Empty(t, klines)
	assert.Equal(t, 2, src.calls)
}

func TestFetch_CustomRateLimitCode(t *testing.T) {
	src := &mockSource{FetchFunc: func(call int) ([]ports.RawKline, error) {
		return nil, &common.APIError{Code: -1003}
	}}
	clock := &fakeClock{now: time.Unix(0, 0)}
	log := &mockLogger{}
	f, err := New(Config{Source: src, Logger: log, RateLimitCode: -429, Now: clock.Now, Sleep: clock.Sleep})
	require.NoError(t, err)

	// -1003 is not the configured code, so it is an ordinary failure.
	klines, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "BTCUSDT", Interval: "1m"})
	require.NoError(t, err)
	assert.Empty(t, klines)
	assert.Equal(t, 1, src.calls)
	assert.Empty(t, clock.sleeps)
}

func TestFetch_InvalidRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end int64
	}{
		{"start equals end", 1000, 1000},
		{"start after end", 2000, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockSource{FetchFunc: func(int) ([]ports.RawKline, error) { return nil, nil }}
			f := newTestFetcher(t, src, &fakeClock{}, &mockLogger{})

			klines, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "BTCUSDT", Interval: "1h", StartTime: tt.start, EndTime: tt.end})
			assert.Nil(t, klines)
			assert.True(t, errors.Is(err, ports.ErrInvalidRange))
			assert.Equal(t, 0, src.calls)
		})
	}
}

func TestFetch_OpenEndedRangeIsValid(t *testing.T) {
	src := &mockSource{FetchFunc: func(int) ([]ports.RawKline, error) { return nil, nil }}
	f := newTestFetcher(t, src, &fakeClock{}, &mockLogger{})

	_, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "BTCUSDT", Interval: "1h", StartTime: 5000})
	assert.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestFetch_OtherErrorYieldsEmpty(t *testing.T) {
	src := &mockSource{FetchFunc: func(int) ([]ports.RawKline, error) {
		return nil, errors.New("connection reset by peer")
	}}
	log := &mockLogger{}
	f := newTestFetcher(t, src, &fakeClock{}, log)

	klines, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "BTCUSDT", Interval: "1h"})
	require.NoError(t, err)
	assert.NotNil(t, klines)
	assert.Empty(t, klines)
	assert.Equal(t, 1, src.calls)
	assert.Len(t, log.errors, 1)
}

func TestFetch_ParsesAndSortsRows(t *testing.T) {
	src := &mockSource{FetchFunc: func(int) ([]ports.RawKline, error) {
		return []ports.RawKline{row(120_000, "3"), row(0, "1"), row(60_000, "2")}, nil
	}}
	f := newTestFetcher(t, src, &fakeClock{}, &mockLogger{})

	klines, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "BTCUSDT", Interval: "1m"})
	require.NoError(t, err)
	require.Len(t, klines, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{klines[0].ClosePrice, klines[1].ClosePrice, klines[2].ClosePrice})
	assert.Equal(t, domain.Kline{
		OpenTime:            0,
		OpenPrice:           1,
		HighPrice:           2,
		LowPrice:            0.5,
		ClosePrice:          1,
		Volume:              10,
		CloseTime:           59_999,
		QuoteAssetVolume:    15,
		NumberOfTrades:      7,
		TakerBuyBaseVolume:  4,
		TakerBuyQuoteVolume: 6,
	}, klines[0])
}

func TestFetch_RowWithoutTrailingFieldIsAccepted(t *testing.T) {
	src := &mockSource{FetchFunc: func(int) ([]ports.RawKline, error) {
		r := row(0, "1")
		return []ports.RawKline{r[:ports.RawKlineFields]}, nil
	}}
	f := newTestFetcher(t, src, &fakeClock{}, &mockLogger{})

	klines, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "BTCUSDT", Interval: "1m"})
	require.NoError(t, err)
	assert.Len(t, klines, 1)
}

func TestFetch_MalformedRowYieldsEmpty(t *testing.T) {
	tests := []struct {
		name string
		row  ports.RawKline
	}{
		{"too few fields", ports.RawKline{"0", "1", "2"}},
		{"bad number", ports.RawKline{"0", "x", "2", "0.5", "1", "10", "59999", "15", "7", "4", "6", "0"}},
		{"close before open", ports.RawKline{"100", "1", "2", "0.5", "1", "10", "50", "15", "7", "4", "6", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &mockSource{FetchFunc: func(int) ([]ports.RawKline, error) { return []ports.RawKline{tt.row}, nil }}
			log := &mockLogger{}
			f := newTestFetcher(t, src, &fakeClock{}, log)

			klines, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "BTCUSDT", Interval: "1m"})
			require.NoError(t, err)
			assert.Empty(t, klines)
			assert.Len(t, log.errors, 1)
		})
	}
}

func TestFetch_StorageIDIsDenormalized(t *testing.T) {
	src := &mockSource{FetchFunc: func(int) ([]ports.RawKline, error) { return nil, nil }}
	f := newTestFetcher(t, src, &fakeClock{}, &mockLogger{})

	_, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "_1000satsusdt", Interval: "1m"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1000SATSUSDT"}, src.symbols)
	assert.Equal(t, []domain.MarketType{domain.MarketSpot}, src.markets)
}

func TestFetch_InvalidSymbol(t *testing.T) {
	src := &mockSource{FetchFunc: func(int) ([]ports.RawKline, error) { return nil, nil }}
	f := newTestFetcher(t, src, &fakeClock{}, &mockLogger{})

	_, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "BTC/USDT", Interval: "1m"})
	assert.True(t, errors.Is(err, ports.ErrInvalidSymbol))
	assert.Equal(t, 0, src.calls)
}

func TestFetch_CooldownIsSharedAcrossCalls(t *testing.T) {
	src := &mockSource{FetchFunc: func(call int) ([]ports.RawKline, error) {
		if call == 1 {
			return nil, &common.APIError{Code: -1003}
		}
		return nil, nil
	}}
	clock := &fakeClock{now: time.Unix(0, 0)}
	f := newTestFetcher(t, src, clock, &mockLogger{})

	// Trip the gate without letting the first call wait it out.
	f.gate.trip(clock.Now().Add(30 * time.Second))

	_, err := f.Fetch(context.Background(), domain.FetchWindow{Symbol: "ETHUSDT", Interval: "1m"})
	require.NoError(t, err)
	// 30s from the pre-tripped gate, then a full cooldown after the rate-limit response.
	assert.Equal(t, []time.Duration{30 * time.Second, time.Minute}, clock.sleeps)
}

func TestFetch_ContextCanceledDuringCooldown(t *testing.T) {
	src := &mockSource{FetchFunc: func(int) ([]ports.RawKline, error) {
		return nil, &common.APIError{Code: -1003}
	}}
	ctx, cancel := context.WithCancel(context.Background())
	f, err := New(Config{
		Source:   src,
		Logger:   &mockLogger{},
		Cooldown: time.Hour,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	klines, err := f.Fetch(ctx, domain.FetchWindow{Symbol: "BTCUSDT", Interval: "1m"})
	assert.Nil(t, klines)
	assert.True(t, errors.Is(err, ports.ErrContextCanceled))
	assert.Equal(t, 1, src.calls)
}

func TestNew_Validation(t *testing.T) {
	src := &mockSource{}
	_, err := New(Config{Logger: &mockLogger{}})
	assert.True(t, errors.Is(err, ports.ErrConfigurationError))
	_, err = New(Config{Source: src})
	assert.True(t, errors.Is(err, ports.ErrConfigurationError))
	_, err = New(Config{Source: src, Logger: &mockLogger{}, Cooldown: -time.Second})
	assert.True(t, errors.Is(err, ports.ErrConfigurationError))
}
