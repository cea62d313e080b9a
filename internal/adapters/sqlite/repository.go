package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"klineCrawler/internal/domain"
	"klineCrawler/internal/ports"
	"klineCrawler/internal/symbol"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const memoryPath = ":memory:"

// Repository implements ports.KlineRepository using one SQLite table per symbol.
type Repository struct {
	db     *sqlx.DB
	logger ports.Logger

	// locks holds one *sync.RWMutex per storage identifier. Calls on the same
	// symbol are serialized, calls on different symbols never share a lock.
	locks sync.Map
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath       string
	Logger       ports.Logger
	MaxOpenConns int // 0 = default (4); forced to 1 for in-memory databases
}

var _ ports.KlineRepository = (*Repository)(nil)

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/klines.db" // Default path
	}

	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			err = fmt.Errorf("failed to create data directory '%s': %w: %w", filepath.Dir(dbPath), ports.ErrStorage, err)
			cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
			return nil, err
		}
		cfg.Logger.Debug(context.Background(), "Data directory checked/created", map[string]interface{}{"path": filepath.Dir(dbPath)})
	}

	// WAL lets readers of one symbol proceed while another symbol is written.
	// Immediate transactions take the write lock up front so batches never deadlock on upgrade.
	db, err := sqlx.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrStorage, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrStorage, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 4
	}
	if dbPath == memoryPath {
		maxConns = 1 // every connection to :memory: is a separate database
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath, "maxOpenConns": maxConns})

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- KlineRepository Implementation ---

// EnsureSeries creates the table and close_time index for symbol if they do not exist.
func (r *Repository) EnsureSeries(ctx context.Context, sym string) error {
	table, err := tableName(sym)
	if err != nil {
		return storageErr("EnsureSeries", sym, err)
	}

	mu := r.lockFor(table)
	mu.Lock()
	defer mu.Unlock()

	if _, err := r.db.ExecContext(ctx, schemaFor(table)); err != nil {
		return storageErr("EnsureSeries", sym, err)
	}
	r.logger.Debug(ctx, "Kline series ensured", map[string]interface{}{"symbol": sym, "table": table})
	return nil
}

// Latest returns the kline with the greatest open_time, or nil, nil if there is none.
func (r *Repository) Latest(ctx context.Context, sym string) (*domain.Kline, error) {
	table, err := tableName(sym)
	if err != nil {
		return nil, storageErr("Latest", sym, err)
	}

	mu := r.lockFor(table)
	mu.RLock()
	defer mu.RUnlock()

	exists, err := r.tableExists(ctx, table)
	if err != nil {
		return nil, storageErr("Latest", sym, err)
	}
	if !exists {
		r.logger.Debug(ctx, "No kline series for symbol", map[string]interface{}{"symbol": sym})
		return nil, nil
	}

	var k domain.Kline
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY open_time DESC LIMIT 1`, klineColumns, quoteIdent(table))
	if err := r.db.GetContext(ctx, &k, query); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just empty
		}
		return nil, storageErr("Latest", sym, err)
	}
	return &k, nil
}

// Append inserts klines in one transaction. Rows whose open_time already exists are skipped,
// never overwritten. It returns the number of rows inserted.
func (r *Repository) Append(ctx context.Context, sym string, klines []domain.Kline) (int, error) {
	table, err := tableName(sym)
	if err != nil {
		return 0, storageErr("Append", sym, err)
	}
	if len(klines) == 0 {
		return 0, nil
	}

	mu := r.lockFor(table)
	mu.Lock()
	defer mu.Unlock()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, storageErr("Append", sym, err)
	}
	defer tx.Rollback() // no-op after commit

	if _, err := tx.ExecContext(ctx, schemaFor(table)); err != nil {
		return 0, storageErr("Append", sym, err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, fmt.Sprintf(`
	INSERT OR IGNORE INTO %s (%s)
	VALUES (:open_time, :open_price, :high_price, :low_price, :close_price, :volume, :close_time,
	        :quote_asset_volume, :number_of_trades, :taker_buy_base_volume, :taker_buy_quote_volume)`,
		quoteIdent(table), klineColumns))
	if err != nil {
		return 0, storageErr("Append", sym, err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range klines {
		res, err := stmt.ExecContext(ctx, &klines[i])
		if err != nil {
			return 0, storageErr("Append", sym, fmt.Errorf("insert open_time %d: %w", klines[i].OpenTime, err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, storageErr("Append", sym, err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, storageErr("Append", sym, err)
	}
	r.logger.Debug(ctx, "Klines appended", map[string]interface{}{"symbol": sym, "received": len(klines), "inserted": inserted})
	return inserted, nil
}

// All returns the full series ordered by open_time ascending. A missing series yields an empty slice.
func (r *Repository) All(ctx context.Context, sym string) ([]domain.Kline, error) {
	table, err := tableName(sym)
	if err != nil {
		return nil, storageErr("All", sym, err)
	}

	mu := r.lockFor(table)
	mu.RLock()
	defer mu.RUnlock()

	klines := make([]domain.Kline, 0)
	exists, err := r.tableExists(ctx, table)
	if err != nil {
		return nil, storageErr("All", sym, err)
	}
	if !exists {
		return klines, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY open_time ASC`, klineColumns, quoteIdent(table))
	if err := r.db.SelectContext(ctx, &klines, query); err != nil {
		return nil, storageErr("All", sym, err)
	}
	return klines, nil
}

// ListSymbols derives the symbol set from the SQLite schema catalog.
func (r *Repository) ListSymbols(ctx context.Context) ([]string, error) {
	var names []string
	const query = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`
	if err := r.db.SelectContext(ctx, &names, query); err != nil {
		return nil, storageErr("ListSymbols", "*", err)
	}

	symbols := make([]string, 0, len(names))
	for _, n := range names {
		if !symbol.IsStorageID(n) {
			r.logger.Warn(ctx, "Ignoring table that is not a kline series", map[string]interface{}{"table": n})
			continue
		}
		symbols = append(symbols, symbol.Denormalize(n))
	}
	sort.Strings(symbols)
	return symbols, nil
}

// --- Helpers ---

const klineColumns = `open_time, open_price, high_price, low_price, close_price, volume, close_time,
	quote_asset_volume, number_of_trades, taker_buy_base_volume, taker_buy_quote_volume`

func schemaFor(table string) string {
	return fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %[1]s (
		open_time INTEGER PRIMARY KEY,
		open_price REAL NOT NULL,
		high_price REAL NOT NULL,
		low_price REAL NOT NULL,
		close_price REAL NOT NULL,
		volume REAL NOT NULL,
		close_time INTEGER NOT NULL,
		quote_asset_volume REAL NOT NULL,
		number_of_trades INTEGER NOT NULL,
		taker_buy_base_volume REAL NOT NULL,
		taker_buy_quote_volume REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s (close_time);
	`, quoteIdent(table), quoteIdent("idx"+table+"_close_time"))
}

func (r *Repository) tableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repository) lockFor(table string) *sync.RWMutex {
	mu, _ := r.locks.LoadOrStore(table, &sync.RWMutex{})
	return mu.(*sync.RWMutex)
}

// tableName maps a symbol to its table. Both exchange symbols and storage ids are accepted.
func tableName(sym string) (string, error) {
	return symbol.Normalize(symbol.Denormalize(sym))
}

// quoteIdent quotes a validated identifier. Normalize guarantees no quote characters.
func quoteIdent(id string) string {
	return `"` + id + `"`
}

func storageErr(op, sym string, err error) error {
	if errors.Is(err, ports.ErrStorage) {
		return err
	}
	return fmt.Errorf("%s failed for symbol %s: %w: %w", op, sym, ports.ErrStorage, err)
}
