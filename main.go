package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log" // Use standard log only for errors before logger is set up
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"klineCrawler/config"
	"klineCrawler/internal/adapters/binanceclient"
	"klineCrawler/internal/adapters/logger"
	"klineCrawler/internal/adapters/sqlite"
	"klineCrawler/internal/app"
	"klineCrawler/internal/fetcher"
	"klineCrawler/internal/ports"
	"klineCrawler/internal/risk"
	"klineCrawler/internal/strategy"
	"klineCrawler/internal/utils"
)

func main() {
	os.Exit(run())
}

// run wires the application and returns the process exit code.
func run() int {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
		return 1
	}

	// 2. Initialize Logger
	appLogger, syncLogger, err := newLogger(cfg)
	if err != nil {
		log.Printf("FATAL: Failed to initialize logger: %v", err)
		return 1
	}
	defer syncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": string(cfg.LogFormat)})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		return 1
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()

	// 4. Initialize Exchange Client and Fetcher
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
	if err := binanceClient.Ping(ctx); err != nil {
		appLogger.Warn(ctx, "Binance is not reachable, the crawl may fetch nothing", map[string]interface{}{"error": err.Error()})
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

	// 5. Initialize Application Services
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

	engine, err := strategy.New(strategy.Config{}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal engine")
		return 1
	}
	riskManager, err := risk.NewRiskManager(risk.RiskConfig{MarginPercent: cfg.RiskMargin})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize risk manager")
		return 1
	}
	analysis, err := app.NewAnalysisService(appLogger, repo, engine, riskManager)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize analysis service")
		return 1
	}

	// 6. Ask what to analyze
	in := bufio.NewReader(os.Stdin)
	pair := prompt(in, os.Stdout, "Enter pair filter (empty for all): ")
	minutes := cfg.PredictionMinutes
	if answer := prompt(in, os.Stdout, fmt.Sprintf("Enter minutes offset for the estimate [%d]: ", minutes)); answer != "" {
		n, err := strconv.Atoi(answer)
		if err != nil || n < 0 {
			appLogger.Warn(ctx, "Invalid minutes offset, using default", map[string]interface{}{"input": answer, "default": minutes})
		} else {
			minutes = n
		}
	}

	// 7. Crawl, then analyze
	symbols, err := ingestion.ResolveSymbols(ctx, cfg.Symbols)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to resolve symbols")
		return 1
	}
	symbols = app.MatchSymbols(symbols, pair)
	if len(symbols) == 0 {
		fmt.Println("No stored or configured symbols match the filter. Add some with SYMBOLS.")
		return 0
	}

	cycle := ingestion.RunCycle(ctx, symbols)
	utils.PrintCycleSummary(os.Stdout, cycle)
	if ctx.Err() != nil {
		appLogger.Info(context.Background(), "Interrupted, skipping analysis")
		return 0
	}

	report := analysis.Analyze(ctx, symbols, minutes)
	if err := utils.PrintReport(os.Stdout, report, time.Local); err != nil {
		appLogger.Error(ctx, err, "Failed to print report")
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
	return 0
}

// newLogger builds the text logger or, for LOG_FORMAT=json, the zap logger.
func newLogger(cfg *config.Config) (ports.Logger, func(), error) {
	if cfg.LogFormat == logger.FormatJSON {
		zl, syncFn, err := logger.NewZapLogger(cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		return zl, syncFn, nil
	}
	return logger.NewStdLogger(cfg.LogLevel), func() {}, nil
}

func prompt(in *bufio.Reader, out io.Writer, question string) string {
	fmt.Fprint(out, question)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}
