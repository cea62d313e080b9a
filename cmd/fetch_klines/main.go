package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"klineCrawler/config"
	"klineCrawler/internal/adapters/binanceclient"
	"klineCrawler/internal/adapters/logger"
	"klineCrawler/internal/adapters/sqlite"
	"klineCrawler/internal/app"
	"klineCrawler/internal/domain"
	"klineCrawler/internal/fetcher"
	"klineCrawler/internal/utils"
)

// fetch_klines runs one ingestion cycle without prompting and optionally exports the stored series.
func main() {
	os.Exit(run())
}

func run() int {
	symbolsFlag := flag.String("symbols", "", "comma separated symbols to crawl in addition to SYMBOLS and stored ones")
	pairFlag := flag.String("pair", "", "only crawl symbols containing this substring")
	exportFlag := flag.String("export", "", "write the crawled series to this .json or .csv path (default EXPORT_PATH)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
		return 1
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Repository, Exchange Client and Fetcher
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		return 1
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		return 1
	}

	klineFetcher, err := fetcher.New(fetcher.Config{
		Source:            binanceClient,
		Logger:            appLogger,
		Market:            cfg.MarketType,
		RateLimitCode:     cfg.RateLimitErrorCode,
		Cooldown:          cfg.RateLimitCooldown,
		RequestsPerMinute: cfg.RequestsPerMinute,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize fetcher")
		return 1
	}

	ingestion, err := app.NewIngestionService(app.IngestionConfig{
		Interval:         cfg.Interval,
		DefaultStartTime: cfg.DefaultStartTime,
		EndTime:          cfg.DefaultEndTime,
		Limit:            cfg.FetchLimit,
		MaxConcurrency:   cfg.MaxConcurrentSymbols,
		Clock:            binanceClient,
	}, appLogger, repo, klineFetcher)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize ingestion service")
		return 1
	}

	// 4. Crawl
	seeds := cfg.Symbols
	if *symbolsFlag != "" {
		seeds = append(seeds, strings.Split(*symbolsFlag, ",")...)
	}
	symbols, err := ingestion.ResolveSymbols(ctx, seeds)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to resolve symbols")
		return 1
	}
	symbols = app.MatchSymbols(symbols, *pairFlag)
	if len(symbols) == 0 {
		fmt.Println("Nothing to crawl: no configured or stored symbols match.")
		return 0
	}

	cycle := ingestion.RunCycle(ctx, symbols)
	utils.PrintCycleSummary(os.Stdout, cycle)

	// 5. Export
	exportPath := *exportFlag
	if exportPath == "" {
		exportPath = cfg.ExportPath
	}
	if exportPath == "" {
		return 0
	}
	series := make([]domain.SymbolSeries, 0, len(symbols))
	for _, sym := range symbols {
		klines, err := repo.All(ctx, sym)
		if err != nil {
			appLogger.Error(ctx, err, "Skipping symbol in export", map[string]interface{}{"symbol": sym})
			continue
		}
		series = append(series, domain.SymbolSeries{Symbol: sym, Klines: klines})
	}
	files, err := utils.ExportSeries(series, exportPath)
	if err != nil {
		appLogger.Error(ctx, err, "Error exporting series")
		return 1
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"files": strings.Join(files, ", ")})
	return 0
}
