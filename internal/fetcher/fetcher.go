// Package fetcher turns raw exchange kline rows into domain klines and applies
// the retry policy for rate-limit responses.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"klineCrawler/internal/domain"
	"klineCrawler/internal/ports"
	"klineCrawler/internal/symbol"

	"github.com/adshao/go-binance/v2/common"
	"go.uber.org/ratelimit"
)

const (
	DefaultRateLimitCode = -1003
	DefaultCooldown      = 60 * time.Second
)

// Config holds the fetcher's collaborators and retry policy.
type Config struct {
	Source ports.KlineSource
	Logger ports.Logger
	Market domain.MarketType

	// RateLimitCode is the exchange error code that triggers cooldown-and-retry.
	RateLimitCode int64 // 0 = DefaultRateLimitCode
	// Cooldown is the fixed pause after a rate-limit response.
	Cooldown time.Duration // 0 = DefaultCooldown
	// RequestsPerMinute paces every request made through this fetcher. 0 disables pacing.
	RequestsPerMinute int

	// Now and Sleep are replaced in tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Fetcher implements ports.KlineFetcher.
// One Fetcher is shared by all symbol tasks of a cycle, so pacing and cooldowns apply across symbols.
type Fetcher struct {
	source        ports.KlineSource
	logger        ports.Logger
	market        domain.MarketType
	rateLimitCode int64
	cooldown      time.Duration
	limiter       ratelimit.Limiter
	gate          *cooldownGate
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

var _ ports.KlineFetcher = (*Fetcher)(nil)

// New creates a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("kline source is required: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for fetcher: %w", ports.ErrConfigurationError)
	}
	if cfg.Cooldown < 0 {
		return nil, fmt.Errorf("cooldown must not be negative: %w", ports.ErrConfigurationError)
	}

	f := &Fetcher{
		source:        cfg.Source,
		logger:        cfg.Logger,
		market:        cfg.Market,
		rateLimitCode: cfg.RateLimitCode,
		cooldown:      cfg.Cooldown,
		now:           cfg.Now,
		sleep:         cfg.Sleep,
	}
	if f.market == "" {
		f.market = domain.MarketSpot
	}
	if f.rateLimitCode == 0 {
		f.rateLimitCode = DefaultRateLimitCode
	}
	if f.cooldown == 0 {
		f.cooldown = DefaultCooldown
	}
	if f.now == nil {
		f.now = time.Now
	}
	if f.sleep == nil {
		f.sleep = sleepContext
	}
	if cfg.RequestsPerMinute > 0 {
		f.limiter = ratelimit.New(cfg.RequestsPerMinute, ratelimit.Per(time.Minute))
	} else {
		f.limiter = ratelimit.NewUnlimited()
	}
	f.gate = &cooldownGate{}
	return f, nil
}

// Fetch returns the klines in window ordered by open time.
//
// Rate-limit responses are retried after the cooldown until the request succeeds or ctx ends.
// Any other remote failure is logged and yields an empty result with a nil error.
func (f *Fetcher) Fetch(ctx context.Context, w domain.FetchWindow) ([]domain.Kline, error) {
	if w.StartTime > 0 && w.EndTime > 0 && w.StartTime >= w.EndTime {
		return nil, fmt.Errorf("fetch %s [%d, %d]: %w", w.Symbol, w.StartTime, w.EndTime, ports.ErrInvalidRange)
	}

	// Storage ids are accepted too; the exchange always sees the plain symbol.
	exchangeSymbol := symbol.Denormalize(symbol.Clean(w.Symbol))
	if err := symbol.Validate(exchangeSymbol); err != nil {
		return nil, err
	}

	fields := map[string]interface{}{
		"symbol":   exchangeSymbol,
		"interval": w.Interval,
		"start":    w.StartTime,
		"end":      w.EndTime,
	}

	for attempt := 1; ; attempt++ {
		if err := f.gate.wait(ctx, f.now, f.sleep); err != nil {
			return nil, fmt.Errorf("fetch %s: %w: %w", exchangeSymbol, ports.ErrContextCanceled, err)
		}
		f.limiter.Take()

		rows, err := f.source.FetchHistoricalKlines(ctx, exchangeSymbol, w.Interval, w.StartTime, w.EndTime, w.Limit, f.market)
		if err == nil {
			klines, perr := parseRows(rows)
			if perr != nil {
				f.logger.Error(ctx, perr, "Discarding malformed kline response", fields)
				return []domain.Kline{}, nil
			}
			if attempt > 1 {
				f.logger.Info(ctx, "Fetch succeeded after rate limiting", map[string]interface{}{"symbol": exchangeSymbol, "attempts": attempt})
			}
			return klines, nil
		}

		if f.isRateLimited(err) {
			f.logger.Warn(ctx, "Rate limited, cooling down before retry", map[string]interface{}{
				"symbol":   exchangeSymbol,
				"attempt":  attempt,
				"cooldown": f.cooldown.String(),
			})
			f.gate.trip(f.now().Add(f.cooldown))
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("fetch %s: %w: %w", exchangeSymbol, ports.ErrContextCanceled, ctxErr)
		}

		f.logger.Error(ctx, err, "Kline fetch failed, skipping this window", fields)
		return []domain.Kline{}, nil
	}
}

func (f *Fetcher) isRateLimited(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == f.rateLimitCode
}

// cooldownGate holds back every request until the most recent cooldown has passed.
type cooldownGate struct {
	mu    sync.Mutex
	until time.Time
}

func (g *cooldownGate) trip(until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if until.After(g.until) {
		g.until = until
	}
}

func (g *cooldownGate) wait(ctx context.Context, now func() time.Time, sleep func(context.Context, time.Duration) error) error {
	g.mu.Lock()
	d := g.until.Sub(now())
	g.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	return sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseRows converts positional rows to klines, ignoring anything past the defined fields,
// and returns them sorted by open time.
func parseRows(rows []ports.RawKline) ([]domain.Kline, error) {
	klines := make([]domain.Kline, 0, len(rows))
	for i, row := range rows {
		k, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w: %w", i, ports.ErrRemoteFetch, err)
		}
		klines = append(klines, k)
	}
	sort.SliceStable(klines, func(i, j int) bool { return klines[i].OpenTime < klines[j].OpenTime })
	return klines, nil
}

func parseRow(row ports.RawKline) (domain.Kline, error) {
	if len(row) < ports.RawKlineFields {
		return domain.Kline{}, fmt.Errorf("expected at least %d fields, got %d", ports.RawKlineFields, len(row))
	}

	p := rowParser{row: row}
	k := domain.Kline{
		OpenTime:            p.int(0),
		OpenPrice:           p.float(1),
		HighPrice:           p.float(2),
		LowPrice:            p.float(3),
		ClosePrice:          p.float(4),
		Volume:              p.float(5),
		CloseTime:           p.int(6),
		QuoteAssetVolume:    p.float(7),
		NumberOfTrades:      p.int(8),
		TakerBuyBaseVolume:  p.float(9),
		TakerBuyQuoteVolume: p.float(10),
	}
	if p.err != nil {
		return domain.Kline{}, p.err
	}
	if k.CloseTime <= k.OpenTime {
		return domain.Kline{}, fmt.Errorf("close time %d not after open time %d", k.CloseTime, k.OpenTime)
	}
	return k, nil
}

// rowParser keeps the first conversion error so a row can be parsed field by field.
type rowParser struct {
	row ports.RawKline
	err error
}

func (p *rowParser) int(i int) int64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(p.row[i], 10, 64)
	if err != nil {
		p.err = fmt.Errorf("field %d: %w", i, err)
	}
	return v
}

func (p *rowParser) float(i int) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(p.row[i], 64)
	if err != nil {
		p.err = fmt.Errorf("field %d: %w", i, err)
	}
	return v
}
