package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Transactions take the write lock at BEGIN so a read-then-write waits on
// busy_timeout instead of failing with SQLITE_BUSY when it upgrades.
const sqliteDSNParams = "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

// Config selects the engine. A non-empty URL means Postgres; otherwise Path
// names the SQLite file.
type Config struct {
	URL  string
	Path string
}

// DB is the persistence gateway. It owns the connection pool and hides which
// engine sits behind it.
type DB struct {
	conn
	sqlDB  *sql.DB
	logger *slog.Logger
}

// Open connects to the engine selected by cfg and runs migrations.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		sqlDB   *sql.DB
		dialect Dialect
		err     error
	)
	if cfg.URL != "" {
		dialect = Postgres
		sqlDB, err = sql.Open("pgx", cfg.URL)
	} else {
		dialect = SQLite
		sqlDB, err = sql.Open("sqlite", cfg.Path+"?"+sqliteDSNParams)
		if err == nil && cfg.Path == ":memory:" {
			// Each connection to :memory: is its own database.
			sqlDB.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if dialect == SQLite {
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if err := runMigrations(ctx, sqlDB, dialect, logger); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("database ready", "dialect", dialect.String())
	return &DB{
		conn:   conn{r: sqlDB, dialect: dialect},
		sqlDB:  sqlDB,
		logger: logger,
	}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, dialect Dialect, logger *slog.Logger) error {
	dir := "migrations/sqlite"
	gooseDialect := goose.DialectSQLite3
	if dialect == Postgres {
		dir = "migrations/postgres"
		gooseDialect = goose.DialectPostgres
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(gooseDialect, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, r := range results {
		logger.Debug("migration applied", "source", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.sqlDB.Close()
}

// SQL exposes the underlying pool for health checks and tests.
func (db *DB) SQL() *sql.DB {
	return db.sqlDB
}

// InTx runs fn inside a transaction. The transaction is committed when fn
// returns nil and rolled back on any error or panic.
func (db *DB) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(conn{r: tx, dialect: db.dialect}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
