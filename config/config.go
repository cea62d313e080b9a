package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"klineCrawler/internal/adapters/logger" // Import the logger package for LogLevel
	"klineCrawler/internal/domain"
	"klineCrawler/internal/symbol"
)

// ErrMissingCredentials is returned when no API key/secret pair could be found.
var ErrMissingCredentials = errors.New("binance API credentials are missing")

const (
	// EarliestStartTime is 2017-08-17, the start of Binance kline history.
	EarliestStartTime int64 = 1502928000000

	defaultConfigFile = "config.yaml"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey          string
	SecretKey       string
	IsTestnet       bool
	CredentialsFile string

	// Request
	MarketType           domain.MarketType
	Interval             string
	DefaultStartTime     int64 // epoch ms
	DefaultEndTime       int64 // epoch ms, 0 = now
	FetchLimit           int
	Symbols              []string
	MaxConcurrentSymbols int // 0 = unbounded

	// Analysis
	RiskMargin        float64 // percent
	PredictionMinutes int

	// Rate limiting
	RateLimitCooldown  time.Duration
	RateLimitErrorCode int64
	RequestsPerMinute  int // 0 = no shared pacing

	// Database
	DBPath     string
	ExportPath string

	// Logging
	LogLevel  logger.LogLevel // Use the LogLevel type from the logger adapter
	LogFormat logger.Format
}

// fileConfig is the YAML schema. Sections mirror the groups of Config.
type fileConfig struct {
	Auth struct {
		APIKey          string `yaml:"api_key"`
		APISecret       string `yaml:"api_secret"`
		CredentialsFile string `yaml:"credentials_file"`
		Testnet         bool   `yaml:"testnet"`
	} `yaml:"auth"`
	Database struct {
		Path       string `yaml:"path"`
		ExportPath string `yaml:"export_path"`
	} `yaml:"database"`
	Request struct {
		MarketType     string   `yaml:"market_type"`
		Interval       string   `yaml:"interval"`
		StartTime      int64    `yaml:"start_time"`
		EndTime        int64    `yaml:"end_time"`
		Limit          int      `yaml:"limit"`
		Symbols        []string `yaml:"symbols"`
		MaxConcurrency int      `yaml:"max_concurrency"`
	} `yaml:"request"`
	Analysis struct {
		RiskMargin        float64 `yaml:"risk_margin"`
		PredictionMinutes int     `yaml:"prediction_minutes"`
	} `yaml:"analysis"`
	RateLimit struct {
		CooldownSeconds   int   `yaml:"cooldown_seconds"`
		ErrorCode         int64 `yaml:"error_code"`
		RequestsPerMinute int   `yaml:"requests_per_minute"`
	} `yaml:"ratelimit"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

func defaultFileConfig() fileConfig {
	var f fileConfig
	f.Auth.CredentialsFile = "creds"
	f.Database.Path = "./data/klines.db"
	f.Request.MarketType = string(domain.MarketSpot)
	f.Request.Interval = "1h"
	f.Request.StartTime = EarliestStartTime
	f.Request.Limit = 500
	f.Analysis.RiskMargin = 2.0
	f.Analysis.PredictionMinutes = 60
	f.RateLimit.CooldownSeconds = 60
	f.RateLimit.ErrorCode = -1003
	f.RateLimit.RequestsPerMinute = 1000
	f.Logging.Level = "INFO"
	f.Logging.Format = string(logger.FormatText)
	return f
}

// LoadConfig loads configuration from defaults, the optional YAML file named by CONFIG_FILE
// (default config.yaml), the .env file and environment variables, in increasing precedence.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	file := defaultFileConfig()
	path := getEnv("CONFIG_FILE", defaultConfigFile)
	if err := loadYAML(path, &file); err != nil {
		return nil, err
	}
	return fromSources(file)
}

// loadYAML decodes path over f. A missing file leaves f untouched.
func loadYAML(path string, f *fileConfig) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func fromSources(file fileConfig) (*Config, error) {
	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", file.Auth.APIKey)
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", file.Auth.APISecret)
	cfg.CredentialsFile = getEnv("CREDENTIALS_FILE", file.Auth.CredentialsFile)
	cfg.IsTestnet, err = getEnvAsBoolRequired("IS_TESTNET", file.Auth.Testnet)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid IS_TESTNET: %v", err))
	}

	if cfg.APIKey == "" || cfg.SecretKey == "" {
		key, secret, cerr := ReadCredentials(cfg.CredentialsFile)
		switch {
		case cerr == nil:
			cfg.APIKey, cfg.SecretKey = key, secret
		case errors.Is(cerr, os.ErrNotExist):
			// reported below
		default:
			errs = append(errs, cerr.Error())
		}
	}
	missingCreds := cfg.APIKey == "" || cfg.SecretKey == ""
	if missingCreds {
		errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set (env, config file or credentials file)")
	}

	// Request
	cfg.MarketType, err = domain.ParseMarketType(getEnv("MARKET_TYPE", file.Request.MarketType))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MARKET_TYPE: %v", err))
	}

	cfg.Interval = strings.TrimSpace(getEnv("KLINE_INTERVAL", file.Request.Interval))
	if cfg.Interval == "" {
		errs = append(errs, "KLINE_INTERVAL must be set")
	}

	cfg.DefaultStartTime, err = getEnvAsInt64Required("DEFAULT_START_TIME", file.Request.StartTime)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_START_TIME: %v", err))
	} else if cfg.DefaultStartTime < 0 {
		errs = append(errs, "DEFAULT_START_TIME cannot be negative")
	}

	cfg.DefaultEndTime, err = getEnvAsInt64Required("DEFAULT_END_TIME", file.Request.EndTime)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid DEFAULT_END_TIME: %v", err))
	} else if cfg.DefaultEndTime < 0 {
		errs = append(errs, "DEFAULT_END_TIME cannot be negative")
	}
	if cfg.DefaultStartTime > 0 && cfg.DefaultEndTime > 0 && cfg.DefaultStartTime >= cfg.DefaultEndTime {
		errs = append(errs, "DEFAULT_START_TIME must be before DEFAULT_END_TIME")
	}

	cfg.FetchLimit, err = getEnvAsIntRequired("FETCH_LIMIT", file.Request.Limit)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FETCH_LIMIT: %v", err))
	} else if maxLimit := maxFetchLimit(cfg.MarketType); cfg.FetchLimit < 1 || cfg.FetchLimit > maxLimit {
		errs = append(errs, fmt.Sprintf("FETCH_LIMIT must be between 1 and %d", maxLimit))
	}

	cfg.Symbols = getEnvAsList("SYMBOLS", file.Request.Symbols)
	for _, s := range cfg.Symbols {
		if err := symbol.Validate(s); err != nil {
			errs = append(errs, fmt.Sprintf("invalid SYMBOLS entry: %v", err))
		}
	}

	cfg.MaxConcurrentSymbols, err = getEnvAsIntRequired("MAX_CONCURRENT_SYMBOLS", file.Request.MaxConcurrency)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_CONCURRENT_SYMBOLS: %v", err))
	} else if cfg.MaxConcurrentSymbols < 0 {
		errs = append(errs, "MAX_CONCURRENT_SYMBOLS cannot be negative")
	}

	// Analysis
	cfg.RiskMargin, err = getEnvAsFloatRequired("RISK_MARGIN", file.Analysis.RiskMargin)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RISK_MARGIN: %v", err))
	} else if cfg.RiskMargin < 0 || cfg.RiskMargin >= 100 {
		errs = append(errs, "RISK_MARGIN must be between 0 and 100")
	}

	cfg.PredictionMinutes, err = getEnvAsIntRequired("PREDICTION_MINUTES", file.Analysis.PredictionMinutes)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PREDICTION_MINUTES: %v", err))
	} else if cfg.PredictionMinutes < 0 {
		errs = append(errs, "PREDICTION_MINUTES cannot be negative")
	}

	// Rate limiting
	cooldownSeconds, err := getEnvAsIntRequired("RATELIMIT_TIMEOUT_SECONDS", file.RateLimit.CooldownSeconds)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RATELIMIT_TIMEOUT_SECONDS: %v", err))
	} else if cooldownSeconds <= 0 {
		errs = append(errs, "RATELIMIT_TIMEOUT_SECONDS must be positive")
	}
	cfg.RateLimitCooldown = time.Duration(cooldownSeconds) * time.Second

	cfg.RateLimitErrorCode, err = getEnvAsInt64Required("RATELIMIT_ERROR_CODE", file.RateLimit.ErrorCode)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid RATELIMIT_ERROR_CODE: %v", err))
	} else if cfg.RateLimitErrorCode == 0 {
		errs = append(errs, "RATELIMIT_ERROR_CODE must be set")
	}

	cfg.RequestsPerMinute, err = getEnvAsIntRequired("REQUESTS_PER_MINUTE", file.RateLimit.RequestsPerMinute)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid REQUESTS_PER_MINUTE: %v", err))
	} else if cfg.RequestsPerMinute < 0 {
		errs = append(errs, "REQUESTS_PER_MINUTE cannot be negative")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", file.Database.Path)
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.ExportPath = getEnv("EXPORT_PATH", file.Database.ExportPath)

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", file.Logging.Level)) // Use the parser from the logger package
	cfg.LogFormat = logger.ParseFormat(getEnv("LOG_FORMAT", file.Logging.Format))

	// Combine validation errors
	if len(errs) > 0 {
		err := fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
		if missingCreds {
			return nil, fmt.Errorf("%w (set BINANCE_API_KEY/BINANCE_API_SECRET or write them to %s): %w", ErrMissingCredentials, cfg.CredentialsFile, err)
		}
		return nil, err
	}

	return cfg, nil
}

// ReadCredentials reads an API key and secret from the first two lines of path.
func ReadCredentials(path string) (key, secret string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() && len(lines) < 2 {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("read credentials file %s: %w", path, err)
	}
	if len(lines) < 2 || lines[0] == "" || lines[1] == "" {
		return "", "", fmt.Errorf("credentials file %s must contain the API key and secret on two lines", path)
	}
	return lines[0], lines[1], nil
}

func maxFetchLimit(m domain.MarketType) int {
	if m == domain.MarketFutures {
		return 1500
	}
	return 1000
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsInt64Required(key string, defaultValue int64) (int64, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBoolRequired(key string, defaultValue bool) (bool, error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("invalid boolean value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

// getEnvAsList splits a comma separated value, upper-casing entries and dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := defaultValue
	if valueStr := os.Getenv(key); valueStr != "" {
		raw = strings.Split(valueStr, ",")
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if v = symbol.Clean(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
