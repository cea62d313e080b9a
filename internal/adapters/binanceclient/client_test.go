package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"klineCrawler/internal/domain"
	"klineCrawler/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

const minute = int64(60_000)

// klineJSON renders one exchange row with a one-minute span starting at openTime.
func klineJSON(openTime int64) string {
	return fmt.Sprintf(`[%d,"1.0","2.0","0.5","1.5","10.0",%d,"15.0",7,"4.0","6.0","0"]`, openTime, openTime+minute-1)
}

// newKlineServer serves rows open_time = 0, 1m, 2m, ... total-1 minutes, honoring startTime and limit.
func newKlineServer(t *testing.T, path string, total int, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(calls, 1)
		q := r.URL.Query()
		start, _ := strconv.ParseInt(q.Get("startTime"), 10, 64)
		limit, _ := strconv.Atoi(q.Get("limit"))

		var rows []string
		for i := 0; i < total && len(rows) < limit; i++ {
			open := int64(i) * minute
			if open >= start {
				rows = append(rows, klineJSON(open))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
	}))
}

func newTestClient(t *testing.T, spotURL, futuresURL string) *Client {
	t.Helper()
	c, err := New(Config{
		Logger:         &mockLogger{},
		SpotBaseURL:    spotURL,
		FuturesBaseURL: futuresURL,
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(Config{APIKey: "k", SecretKey: "s"})
	assert.Error(t, err)
}

func TestFetchHistoricalKlines_SpotSinglePage(t *testing.T) {
	var calls int32
	srv := newKlineServer(t, "/api/v3/klines", 3, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL, "")
	rows, err := c.FetchHistoricalKlines(context.Background(), "BTCUSDT", "1m", 0, 0, 10, domain.MarketSpot)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	assert.Equal(t, ports.RawKline{"0", "1.0", "2.0", "0.5", "1.5", "10.0", "59999", "15.0", "7", "4.0", "6.0", "0"}, rows[0])
	for _, r := range rows {
		assert.Len(t, r, ports.RawKlineFields+1)
	}
}

func TestFetchHistoricalKlines_FuturesPaging(t *testing.T) {
	var calls int32
	srv := newKlineServer(t, "/fapi/v1/klines", 5, &calls)
	defer srv.Close()

	c := newTestClient(t, "", srv.URL)
	rows, err := c.FetchHistoricalKlines(context.Background(), "ETHUSDT", "1m", 1, 0, 2, domain.MarketFutures)
	require.NoError(t, err)

	// Starting at 1ms skips the first row; pages of 2, 2 then a short page of 0.
	require.Len(t, rows, 4)
	assert.Equal(t, "60000", rows[0][0])
	assert.Equal(t, "240000", rows[3][0])
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchHistoricalKlines_StopsAtEnd(t *testing.T) {
	var calls int32
	srv := newKlineServer(t, "/api/v3/klines", 10, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL, "")
	// The fake server ignores endTime, so the page loop must stop on its own.
	rows, err := c.FetchHistoricalKlines(context.Background(), "BTCUSDT", "1m", 1, 2*minute, 2, domain.MarketSpot)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchHistoricalKlines_RateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests."}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "")
	rows, err := c.FetchHistoricalKlines(context.Background(), "BTCUSDT", "1h", 0, 0, 10, domain.MarketSpot)
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.True(t, errors.Is(err, ports.ErrRateLimited))

	var apiErr *common.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, int64(-1003), apiErr.Code)
}

func TestHandleError(t *testing.T) {
	c := newTestClient(t, "", "")
	ctx := context.Background()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"rate limited", &common.APIError{Code: -1003}, ports.ErrRateLimited},
		{"bad api key", &common.APIError{Code: -2015}, ports.ErrAuthenticationFailed},
		{"bad symbol", &common.APIError{Code: -1121}, ports.ErrInvalidRequest},
		{"unmapped api code", &common.APIError{Code: -9999}, ports.ErrRemoteFetch},
		{"deadline", context.DeadlineExceeded, ports.ErrTimeout},
		{"canceled", context.Canceled, ports.ErrContextCanceled},
		{"refused", errors.New("dial tcp: connection refused"), ports.ErrConnectionFailed},
		{"other", errors.New("boom"), ports.ErrRemoteFetch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.handleError(ctx, tt.err, "Op")
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.True(t, errors.Is(got, tt.want), "got %v", got)
			assert.True(t, errors.Is(got, tt.err))
		})
	}
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 500, clampLimit(0, domain.MarketSpot))
	assert.Equal(t, 1000, clampLimit(5000, domain.MarketSpot))
	assert.Equal(t, 1500, clampLimit(5000, domain.MarketFutures))
	assert.Equal(t, 42, clampLimit(42, domain.MarketFutures))
}

func TestGetServerTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/time" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"serverTime":1700000000123}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "")
	got, err := c.GetServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000123), got.UnixMilli())
}

func TestGetServerTime_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"code":-1001,"msg":"Internal error"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, "")
	_, err := c.GetServerTime(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrRemoteFetch)
}
