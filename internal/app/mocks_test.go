package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"klineCrawler/internal/domain"
	"klineCrawler/internal/ports"
	"klineCrawler/internal/symbol"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

// mockRepo is an in-memory ports.KlineRepository keyed by symbol.
type mockRepo struct {
	mu        sync.Mutex
	series    map[string]map[int64]domain.Kline
	latestErr map[string]error
	appendErr map[string]error
	allErr    map[string]error
	listErr   error
	ensured   []string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		series:    map[string]map[int64]domain.Kline{},
		latestErr: map[string]error{},
		appendErr: map[string]error{},
		allErr:    map[string]error{},
	}
}

func (m *mockRepo) EnsureSeries(ctx context.Context, sym string) error {
	if _, err := symbol.Normalize(sym); err != nil {
		return fmt.Errorf("EnsureSeries failed: %w: %w", ports.ErrStorage, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured = append(m.ensured, sym)
	if m.series[sym] == nil {
		m.series[sym] = map[int64]domain.Kline{}
	}
	return nil
}

func (m *mockRepo) Latest(ctx context.Context, sym string) (*domain.Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.latestErr[sym]; err != nil {
		return nil, err
	}
	var latest *domain.Kline
	for _, k := range m.series[sym] {
		if latest == nil || k.OpenTime > latest.OpenTime {
			k := k
			latest = &k
		}
	}
	return latest, nil
}

func (m *mockRepo) Append(ctx context.Context, sym string, klines []domain.Kline) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.appendErr[sym]; err != nil {
		return 0, err
	}
	if m.series[sym] == nil {
		m.series[sym] = map[int64]domain.Kline{}
	}
	n := 0
	for _, k := range klines {
		if _, ok := m.series[sym][k.OpenTime]; ok {
			continue
		}
		m.series[sym][k.OpenTime] = k
		n++
	}
	return n, nil
}

func (m *mockRepo) All(ctx context.Context, sym string) ([]domain.Kline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.allErr[sym]; err != nil {
		return nil, err
	}
	out := make([]domain.Kline, 0, len(m.series[sym]))
	for _, k := range m.series[sym] {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out, nil
}

func (m *mockRepo) ListSymbols(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]string, 0, len(m.series))
	for s := range m.series {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// mockFetcher records windows and answers with FetchFunc.
type mockFetcher struct {
	mu        sync.Mutex
	windows   []domain.FetchWindow
	FetchFunc func(w domain.FetchWindow) ([]domain.Kline, error)
}

func (m *mockFetcher) Fetch(ctx context.Context, w domain.FetchWindow) ([]domain.Kline, error) {
	m.mu.Lock()
	m.windows = append(m.windows, w)
	m.mu.Unlock()
	if m.FetchFunc == nil {
		return []domain.Kline{}, nil
	}
	return m.FetchFunc(w)
}

func (m *mockFetcher) windowFor(sym string) (domain.FetchWindow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.windows {
		if w.Symbol == sym {
			return w, true
		}
	}
	return domain.FetchWindow{}, false
}

const hourMs = int64(60 * 60 * 1000)

// hourly builds n hourly klines starting at start with closes from, from+step, ...
func hourly(start int64, n int, from, step float64) []domain.Kline {
	out := make([]domain.Kline, n)
	for i := range out {
		open := start + int64(i)*hourMs
		c := from + float64(i)*step
		out[i] = domain.Kline{OpenTime: open, CloseTime: open + hourMs - 1, OpenPrice: c, HighPrice: c, LowPrice: c, ClosePrice: c}
	}
	return out
}

// mockClock answers GetServerTime with a fixed time or error.
type mockClock struct {
	at    time.Time
	err   error
	calls int
}

func (m *mockClock) GetServerTime(ctx context.Context) (time.Time, error) {
	m.calls++
	return m.at, m.err
}
