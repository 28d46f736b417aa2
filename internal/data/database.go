package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"cafepos/internal/logger"
)

// =============================================================================
// CONSTANTS AND GLOBAL VARIABLES
// =============================================================================

var (
	db   *sql.DB
	dbMu sync.RWMutex
)

// Database connection pool configuration
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = time.Hour
	connMaxIdleTime = time.Minute * 15
	queryTimeout    = time.Second * 30
)

// TimeFormat is fixed width and always UTC so stored timestamps sort as text.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"

// =============================================================================
// DATABASE CONNECTION AND SETUP
// =============================================================================

// InitDB opens the database with connection pooling and retries.
func InitDB(dataSourceName string) error {
	dbMu.Lock()
	defer dbMu.Unlock()

	if db != nil {
		db.Close()
	}

	return initDBWithRetry(dataSourceName, 3)
}

func initDBWithRetry(dataSourceName string, maxRetries int) error {
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("sqlite", DSN(dataSourceName))
		if err != nil {
			logger.LogWarn("Database connection attempt %d failed: %v", attempt, err)
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return fmt.Errorf("failed to open database after %d attempts: %w", maxRetries, err)
		}

		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
		db.SetConnMaxLifetime(connMaxLifetime)
		db.SetConnMaxIdleTime(connMaxIdleTime)

		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		err = db.PingContext(ctx)
		cancel()

		if err != nil {
			logger.LogWarn("Database ping attempt %d failed: %v", attempt, err)
			db.Close()
			db = nil
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, err)
		}

		// Pragma failures are not fatal
		if err := enablePragmas(db); err != nil {
			logger.LogWarn("Failed to enable some database optimizations: %v", err)
		}

		logger.LogInfo("Database connection established successfully (attempt %d)", attempt)
		return nil
	}

	return fmt.Errorf("failed to initialize database after %d attempts", maxRetries)
}

// DSN adds the per-connection pragmas to a file path. PRAGMA statements run
// through the pool only reach one connection, so the ones every connection
// needs travel in the DSN.
func DSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func enablePragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}

	var lastErr error
	for _, pragma := range pragmas {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		_, err := conn.ExecContext(ctx, pragma)
		cancel()

		if err != nil {
			logger.LogWarn("Failed to execute %s: %v", pragma, err)
			lastErr = err
		}
	}
	return lastErr
}

// GetDB returns the shared connection after a quick health check.
func GetDB() (*sql.DB, error) {
	dbMu.RLock()
	defer dbMu.RUnlock()

	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*2)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.LogError("Database health check failed: %v", err)
		return nil, fmt.Errorf("database connection unhealthy: %w", err)
	}

	return db, nil
}

// CloseDB closes the database connection gracefully
func CloseDB() error {
	dbMu.Lock()
	defer dbMu.Unlock()

	if db != nil {
		err := db.Close()
		db = nil
		return err
	}
	return nil
}

// =============================================================================
// SCHEMA DEFINITIONS
// =============================================================================

const sellableItemsSchema = `
	CREATE TABLE IF NOT EXISTS sellable_items (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('PreparedBeverage', 'StockedGood')),
		name TEXT NOT NULL,
		author TEXT DEFAULT '',
		fixed_cost TEXT DEFAULT '0',
		profit_margin TEXT DEFAULT '0',
		rounding_unit TEXT DEFAULT '0',
		purchase_price TEXT DEFAULT '0',
		selling_price TEXT DEFAULT '0',
		stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sellable_items_kind ON sellable_items(kind);`

const ingredientVariantsSchema = `
	CREATE TABLE IF NOT EXISTS ingredient_variants (
		item_id TEXT NOT NULL REFERENCES sellable_items(id) ON DELETE CASCADE,
		variant_id TEXT NOT NULL,
		variant_name TEXT NOT NULL,
		unit_ingredient_cost TEXT NOT NULL DEFAULT '0',
		ingredient_id TEXT DEFAULT '',
		quantity_grams TEXT DEFAULT '0',
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (item_id, variant_id)
	);
	CREATE INDEX IF NOT EXISTS idx_ingredient_variants_ingredient ON ingredient_variants(ingredient_id);`

const ingredientsSchema = `
	CREATE TABLE IF NOT EXISTS ingredients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		purchase_price TEXT NOT NULL DEFAULT '0',
		pack_size_grams INTEGER NOT NULL CHECK (pack_size_grams > 0),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`

const ordersSchema = `
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		operator_id TEXT DEFAULT '',
		idempotency_key TEXT DEFAULT '',
		total_amount TEXT NOT NULL,
		total_profit TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);`

const orderLinesSchema = `
	CREATE TABLE IF NOT EXISTS order_lines (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		variant_id TEXT DEFAULT '',
		variant_name TEXT DEFAULT '',
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		unit_cost TEXT NOT NULL,
		line_total TEXT NOT NULL,
		PRIMARY KEY (order_id, line_no)
	);
	CREATE INDEX IF NOT EXISTS idx_order_lines_item ON order_lines(item_id);`

const stockMovementsSchema = `
	CREATE TABLE IF NOT EXISTS stock_movements (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		movement_type TEXT NOT NULL CHECK (movement_type IN ('IN', 'OUT')),
		quantity INTEGER NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id TEXT DEFAULT '',
		operator_id TEXT DEFAULT '',
		notes TEXT DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_stock_movements_item ON stock_movements(item_id, created_at);`

const pendingAdjustmentsSchema = `
	CREATE TABLE IF NOT EXISTS pending_adjustments (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		delta INTEGER NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id TEXT DEFAULT '',
		operator_id TEXT DEFAULT '',
		notes TEXT DEFAULT '',
		last_error TEXT DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_adjustments_status ON pending_adjustments(status);`

const expensesSchema = `
	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		amount TEXT NOT NULL,
		operator_id TEXT DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_expenses_created_at ON expenses(created_at);`

// =============================================================================
// TABLE CREATION AND MIGRATIONS
// =============================================================================

// CreateTables creates every table and runs column migrations.
func CreateTables() error {
	conn, err := GetDB()
	if err != nil {
		return err
	}
	return createTables(conn)
}

func createTables(conn *sql.DB) error {
	tables := []struct {
		name   string
		schema string
	}{
		{"sellable_items", sellableItemsSchema},
		{"ingredients", ingredientsSchema},
		{"orders", ordersSchema},
		{"order_lines", orderLinesSchema},
		{"stock_movements", stockMovementsSchema},
		{"pending_adjustments", pendingAdjustmentsSchema},
		{"expenses", expensesSchema},
	}

	for _, table := range tables {
		if _, err := conn.Exec(table.schema); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}

	for _, m := range migrations {
		if err := addMissingColumns(conn, m.table, m.columns); err != nil {
			return fmt.Errorf("failed to migrate %s table: %w", m.table, err)
		}
	}

	// Indexes on migrated columns can only be created once the columns exist.
	if _, err := conn.Exec(ingredientVariantsSchema); err != nil {
		return fmt.Errorf("failed to create ingredient_variants table: %w", err)
	}

	return nil
}

type column struct {
	name string
	ddl  string
}

// migrations lists columns introduced after the first release.
var migrations = []struct {
	table   string
	columns []column
}{
	{"orders", []column{
		{"operator_id", `ALTER TABLE orders ADD COLUMN operator_id TEXT DEFAULT ''`},
		{"idempotency_key", `ALTER TABLE orders ADD COLUMN idempotency_key TEXT DEFAULT ''`},
	}},
	{"ingredient_variants", []column{
		{"ingredient_id", `ALTER TABLE ingredient_variants ADD COLUMN ingredient_id TEXT DEFAULT ''`},
		{"quantity_grams", `ALTER TABLE ingredient_variants ADD COLUMN quantity_grams TEXT DEFAULT '0'`},
	}},
}

func addMissingColumns(conn *sql.DB, table string, columns []column) error {
	var exists int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check for %s table: %w", table, err)
	}
	if exists == 0 {
		return nil
	}

	for _, col := range columns {
		var count int
		err := conn.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, col.name).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check for %s column: %w", col.name, err)
		}
		if count > 0 {
			continue
		}
		if _, err := conn.Exec(col.ddl); err != nil {
			return fmt.Errorf("failed to add %s column: %w", col.name, err)
		}
		logger.LogInfo("Added %s column to %s table", col.name, table)
	}
	return nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func parseTime(timeStr string) (time.Time, error) {
	t, err := time.Parse(TimeFormat, timeStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", timeStr, err)
	}
	return t, nil
}

// withTimeout applies queryTimeout unless ctx already has a sooner deadline.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < queryTimeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, queryTimeout)
}

// inTx runs fn in a transaction, committing on success and rolling back otherwise.
func inTx(ctx context.Context, conn *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logger.LogError("Transaction rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
