package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"klineCrawler/internal/domain"
	"klineCrawler/internal/ports"
	"klineCrawler/internal/symbol"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// IngestionConfig holds the parameters of an ingestion cycle.
type IngestionConfig struct {
	Interval         string
	DefaultStartTime int64 // epoch ms, used when a series is empty
	EndTime          int64 // epoch ms, 0 = now
	Limit            int
	MaxConcurrency   int // 0 = one task per symbol, all at once

	// Clock, when set, corrects the local clock by the exchange's offset once per cycle
	// so the "series is current" check follows exchange time.
	Clock ports.ServerClock

	Now func() time.Time // nil = time.Now
}

// IngestionService fetches new klines for each symbol and appends them to the store.
type IngestionService struct {
	cfg     IngestionConfig
	clock   ports.ServerClock
	logger  ports.Logger
	repo    ports.KlineRepository
	fetcher ports.KlineFetcher
	now     func() time.Time
}

// NewIngestionService creates a new ingestion coordinator.
func NewIngestionService(cfg IngestionConfig, logger ports.Logger, repo ports.KlineRepository, fetcher ports.KlineFetcher) (*IngestionService, error) {
	if logger == nil || repo == nil || fetcher == nil {
		return nil, fmt.Errorf("missing required dependencies for IngestionService")
	}
	if cfg.Interval == "" {
		return nil, fmt.Errorf("configuration Interval must be set")
	}
	if cfg.DefaultStartTime < 0 || cfg.EndTime < 0 {
		return nil, fmt.Errorf("configuration start and end times must not be negative")
	}
	if cfg.MaxConcurrency < 0 {
		return nil, fmt.Errorf("configuration MaxConcurrency must not be negative")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &IngestionService{cfg: cfg, clock: cfg.Clock, logger: logger, repo: repo, fetcher: fetcher, now: now}, nil
}

// SymbolResult is the outcome of one symbol's task within a cycle.
type SymbolResult struct {
	Symbol   string
	Fetched  int
	Inserted int
	Skipped  bool // series already current, nothing fetched
	Err      error
}

// CycleReport summarizes one ingestion cycle. Results follow the order of the requested symbols.
type CycleReport struct {
	CycleID  string
	Started  time.Time
	Finished time.Time
	Results  []SymbolResult
}

// Succeeded returns the symbols whose task ended without error.
func (r CycleReport) Succeeded() []string {
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res.Symbol)
		}
	}
	return out
}

// Failed returns the results that carry an error.
func (r CycleReport) Failed() []SymbolResult {
	var out []SymbolResult
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Inserted is the total number of new rows across all symbols.
func (r CycleReport) Inserted() int {
	n := 0
	for _, res := range r.Results {
		n += res.Inserted
	}
	return n
}

// ResolveSymbols ensures a series exists for every seed symbol and returns the union of
// the seeds and the symbols already stored, sorted. Invalid seeds are logged and dropped.
func (s *IngestionService) ResolveSymbols(ctx context.Context, seeds []string) ([]string, error) {
	set := make(map[string]struct{})
	for _, seed := range seeds {
		sym := symbol.Clean(seed)
		if sym == "" {
			continue
		}
		if err := s.repo.EnsureSeries(ctx, sym); err != nil {
			if errors.Is(err, ports.ErrInvalidSymbol) {
				s.logger.Warn(ctx, "Ignoring invalid configured symbol", map[string]interface{}{"symbol": seed, "error": err.Error()})
				continue
			}
			return nil, fmt.Errorf("ensure series for %s: %w", sym, err)
		}
		set[sym] = struct{}{}
	}

	stored, err := s.repo.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored symbols: %w", err)
	}
	for _, sym := range stored {
		set[sym] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

// RunCycle runs one ingestion pass. Every symbol is processed in its own task; a failure
// in one symbol never stops the others, and RunCycle returns only after all tasks finish.
func (s *IngestionService) RunCycle(ctx context.Context, symbols []string) CycleReport {
	report := CycleReport{CycleID: uuid.NewString(), Started: s.now()}
	symbols = dedupe(symbols)
	report.Results = make([]SymbolResult, len(symbols))

	s.logger.Info(ctx, "Starting ingestion cycle", map[string]interface{}{
		"cycleID":  report.CycleID,
		"symbols":  len(symbols),
		"interval": s.cfg.Interval,
		"start":    s.cfg.DefaultStartTime,
		"end":      s.cfg.EndTime,
	})

	skew := s.clockSkew(ctx, report.CycleID)

	var g errgroup.Group
	if s.cfg.MaxConcurrency > 0 {
		g.SetLimit(s.cfg.MaxConcurrency)
	}
	for i, sym := range symbols {
		g.Go(func() error {
			report.Results[i] = s.ingestSymbol(ctx, report.CycleID, sym, skew)
			return nil
		})
	}
	_ = g.Wait() // tasks report through Results

	report.Finished = s.now()
	s.logger.Info(ctx, "Ingestion cycle finished", map[string]interface{}{
		"cycleID":   report.CycleID,
		"succeeded": len(report.Succeeded()),
		"failed":    len(report.Failed()),
		"inserted":  report.Inserted(),
		"duration":  report.Finished.Sub(report.Started).String(),
	})
	return report
}

// clockSkew is exchange time minus local time, or zero without a usable Clock.
func (s *IngestionService) clockSkew(ctx context.Context, cycleID string) time.Duration {
	if s.clock == nil {
		return 0
	}
	serverTime, err := s.clock.GetServerTime(ctx)
	if err != nil {
		s.logger.Warn(ctx, "Could not read exchange time, using local clock", map[string]interface{}{"cycleID": cycleID, "error": err.Error()})
		return 0
	}
	skew := serverTime.Sub(s.now())
	s.logger.Debug(ctx, "Exchange clock offset", map[string]interface{}{"cycleID": cycleID, "skew": skew.String()})
	return skew
}

func (s *IngestionService) ingestSymbol(ctx context.Context, cycleID, sym string, skew time.Duration) SymbolResult {
	res := SymbolResult{Symbol: sym}
	fields := map[string]interface{}{"cycleID": cycleID, "symbol": sym}

	latest, err := s.repo.Latest(ctx, sym)
	if err != nil {
		res.Err = err
		s.logger.Error(ctx, err, "Failed to read latest kline", fields)
		return res
	}

	start := s.cfg.DefaultStartTime
	if latest != nil {
		if latest.IsCurrent(s.now().Add(skew)) {
			res.Skipped = true
			s.logger.Debug(ctx, "Series is current, skipping", fields)
			return res
		}
		// Refetching the boundary candle is harmless: Append never overwrites it.
		start = latest.OpenTime
	}
	if s.cfg.EndTime > 0 && start >= s.cfg.EndTime {
		res.Skipped = true
		s.logger.Debug(ctx, "Series already reaches the configured end time, skipping", fields)
		return res
	}

	klines, err := s.fetcher.Fetch(ctx, domain.FetchWindow{
		Symbol:    sym,
		Interval:  s.cfg.Interval,
		StartTime: start,
		EndTime:   s.cfg.EndTime,
		Limit:     s.cfg.Limit,
	})
	if err != nil {
		res.Err = err
		s.logger.Error(ctx, err, "Failed to fetch klines", fields)
		return res
	}
	res.Fetched = len(klines)
	if len(klines) == 0 {
		s.logger.Debug(ctx, "No new klines", fields)
		return res
	}

	inserted, err := s.repo.Append(ctx, sym, klines)
	if err != nil {
		res.Err = err
		s.logger.Error(ctx, err, "Failed to persist klines", fields)
		return res
	}
	res.Inserted = inserted
	s.logger.Info(ctx, "Klines ingested", map[string]interface{}{
		"cycleID":  cycleID,
		"symbol":   sym,
		"fetched":  res.Fetched,
		"inserted": inserted,
		"from":     klines[0].OpenAt().UTC().Format(time.RFC3339),
		"to":       klines[len(klines)-1].OpenAt().UTC().Format(time.RFC3339),
	})
	return res
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = symbol.Clean(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
