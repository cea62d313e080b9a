package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"klineCrawler/internal/domain"
	"klineCrawler/internal/ports"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	spotURLProduction    = "https://api.binance.com"
	spotURLTestnet       = "https://testnet.binance.vision"
	futuresURLProduction = "https://fapi.binance.com"
	futuresURLTestnet    = "https://testnet.binancefuture.com"

	maxSpotLimit    = 1000
	maxFuturesLimit = 1500
	defaultLimit    = 500
)

// Client implements ports.ExchangeClient using the go-binance library.
type Client struct {
	spotClient    *binance.Client
	futuresClient *futures.Client
	logger        ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	Logger      ports.Logger
	HTTPTimeout time.Duration // 0 = 30s

	// Optional overrides, used by tests and proxies.
	SpotBaseURL    string
	FuturesBaseURL string
}

var _ ports.ExchangeClient = (*Client)(nil)

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		// Kline endpoints are public, so this only matters for signed calls.
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	spot := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	fut := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	spot.HTTPClient = &http.Client{Timeout: timeout}
	fut.HTTPClient = &http.Client{Timeout: timeout}

	// Set BaseURL directly instead of using the global UseTestnet switches
	if cfg.UseTestnet {
		spot.BaseURL = spotURLTestnet
		fut.BaseURL = futuresURLTestnet
	} else {
		spot.BaseURL = spotURLProduction
		fut.BaseURL = futuresURLProduction
	}
	if cfg.SpotBaseURL != "" {
		spot.BaseURL = cfg.SpotBaseURL
	}
	if cfg.FuturesBaseURL != "" {
		fut.BaseURL = cfg.FuturesBaseURL
	}
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"spotBaseURL":    spot.BaseURL,
		"futuresBaseURL": fut.BaseURL,
		"testnet":        cfg.UseTestnet,
	})

	return &Client{
		spotClient:    spot,
		futuresClient: fut,
		logger:        cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
// The original error stays in the chain so callers can still errors.As a *common.APIError.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003, -1015: // Too many requests / too many orders
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Bad signature / API key
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1120, -1121, -1127: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrRemoteFetch
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Debug(ctx, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrRemoteFetch, err)
	}

	c.logger.Debug(ctx, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	serverTimeMs, err := c.spotClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs), nil
}

// FetchHistoricalKlines returns every kline for symbol/interval between start and end,
// paging forward from the last returned close time. A zero end means up to now.
func (c *Client) FetchHistoricalKlines(ctx context.Context, symbol, interval string, start, end int64, limit int, market domain.MarketType) ([]ports.RawKline, error) {
	op := "FetchHistoricalKlines"
	limit = clampLimit(limit, market)

	var rows []ports.RawKline
	from := start
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, c.handleError(ctx, err, op)
		}

		batch, err := c.fetchPage(ctx, symbol, interval, from, end, limit, market)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(batch) == 0 {
			break
		}
		rows = append(rows, batch...)

		lastClose, err := strconv.ParseInt(batch[len(batch)-1][6], 10, 64)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("parsing close time %q: %w", batch[len(batch)-1][6], err), op)
		}
		next := lastClose + 1
		if len(batch) < limit || (end > 0 && next > end) || next <= from {
			break
		}
		from = next
		c.logger.Debug(ctx, op+": fetching next page", map[string]interface{}{"symbol": symbol, "page": page + 1, "from": from})
	}

	return rows, nil
}

func (c *Client) fetchPage(ctx context.Context, symbol, interval string, start, end int64, limit int, market domain.MarketType) ([]ports.RawKline, error) {
	switch market {
	case domain.MarketFutures:
		svc := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if start > 0 {
			svc = svc.StartTime(start)
		}
		if end > 0 {
			svc = svc.EndTime(end)
		}
		klines, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]ports.RawKline, 0, len(klines))
		for _, k := range klines {
			if k == nil {
				continue
			}
			out = append(out, rawRow(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.CloseTime,
				k.QuoteAssetVolume, k.TradeNum, k.TakerBuyBaseAssetVolume, k.TakerBuyQuoteAssetVolume))
		}
		return out, nil
	default:
		svc := c.spotClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if start > 0 {
			svc = svc.StartTime(start)
		}
		if end > 0 {
			svc = svc.EndTime(end)
		}
		klines, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]ports.RawKline, 0, len(klines))
		for _, k := range klines {
			if k == nil {
				continue
			}
			out = append(out, rawRow(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.CloseTime,
				k.QuoteAssetVolume, k.TradeNum, k.TakerBuyBaseAssetVolume, k.TakerBuyQuoteAssetVolume))
		}
		return out, nil
	}
}

// --- Translation Helpers ---

// rawRow rebuilds the exchange's positional row. go-binance already drops the trailing
// "ignore" column, so it is restored as "0" to keep the documented row shape.
func rawRow(openTime int64, open, high, low, cls, vol string, closeTime int64, quoteVol string, trades int64, takerBase, takerQuote string) ports.RawKline {
	return ports.RawKline{
		strconv.FormatInt(openTime, 10),
		open, high, low, cls, vol,
		strconv.FormatInt(closeTime, 10),
		quoteVol,
		strconv.FormatInt(trades, 10),
		takerBase, takerQuote,
		"0",
	}
}

func clampLimit(limit int, market domain.MarketType) int {
	max := maxSpotLimit
	if market == domain.MarketFutures {
		max = maxFuturesLimit
	}
	if limit <= 0 {
		return defaultLimit
	}
	if limit > max {
		return max
	}
	return limit
}
