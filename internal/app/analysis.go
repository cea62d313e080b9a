package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"klineCrawler/internal/domain"
	"klineCrawler/internal/ports"
	"klineCrawler/internal/risk"
	"klineCrawler/internal/strategy"
)

// ReportEntry is one ranked line of the analysis report.
type ReportEntry struct {
	Symbol      string
	Candles     int
	LatestClose float64
	Result      domain.SignalResult
	Levels      risk.Levels
}

// Report holds the entries ordered by ascending percentage difference.
type Report struct {
	GeneratedAt       time.Time
	PredictionMinutes int
	RiskMargin        float64
	Entries           []ReportEntry
}

// AnalysisService reads stored series and ranks symbols by their projected move.
type AnalysisService struct {
	logger ports.Logger
	repo   ports.KlineRepository
	engine *strategy.SignalEngine
	risk   *risk.RiskManager
	now    func() time.Time
}

// NewAnalysisService creates a new analysis service.
func NewAnalysisService(logger ports.Logger, repo ports.KlineRepository, engine *strategy.SignalEngine, rm *risk.RiskManager) (*AnalysisService, error) {
	if logger == nil || repo == nil || engine == nil || rm == nil {
		return nil, fmt.Errorf("missing required dependencies for AnalysisService")
	}
	return &AnalysisService{logger: logger, repo: repo, engine: engine, risk: rm, now: time.Now}, nil
}

// MatchSymbols keeps the symbols that contain pair, ignoring case. An empty pair matches everything.
func MatchSymbols(symbols []string, pair string) []string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if pair == "" || strings.Contains(strings.ToUpper(s), pair) {
			out = append(out, s)
		}
	}
	return out
}

// Analyze evaluates every symbol and returns the ranked report. Symbols that cannot be
// read or have too little data are left out of the report.
func (a *AnalysisService) Analyze(ctx context.Context, symbols []string, predictionMinutes int) Report {
	report := Report{
		GeneratedAt:       a.now(),
		PredictionMinutes: predictionMinutes,
		RiskMargin:        a.risk.MarginPercent(),
		Entries:           make([]ReportEntry, 0, len(symbols)),
	}

	for _, sym := range symbols {
		klines, err := a.repo.All(ctx, sym)
		if err != nil {
			a.logger.Error(ctx, err, "Failed to load series for analysis", map[string]interface{}{"symbol": sym})
			continue
		}
		if len(klines) == 0 {
			continue
		}

		result := a.engine.Analyze(ctx, klines, predictionMinutes)
		if result.IsEmpty() {
			a.logger.Info(ctx, "Not enough data to analyze symbol", map[string]interface{}{"symbol": sym, "candles": len(klines)})
			continue
		}

		latestClose := klines[len(klines)-1].ClosePrice
		report.Entries = append(report.Entries, ReportEntry{
			Symbol:      sym,
			Candles:     len(klines),
			LatestClose: latestClose,
			Result:      result,
			Levels:      a.risk.Levels(latestClose, result.EstimatedPrice, result.Signal),
		})
	}

	sort.SliceStable(report.Entries, func(i, j int) bool {
		return report.Entries[i].Result.PercentageDifference < report.Entries[j].Result.PercentageDifference
	})
	return report
}
