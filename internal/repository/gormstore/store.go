// Package gormstore implements the repository interfaces on top of gorm.
//
// PostgreSQL is reached through pgx's database/sql adapter so the pool can be
// tuned (pre-ping, keepalive, connect timeout). SQLite, used for local
// development and tests, goes through the pure-Go modernc driver.
//
// Every exported method runs under the configured pool timeout and returns
// apperror values: NotFound, Conflict, PoolExhausted or Database.
package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// registers the "sqlite" database/sql driver
	_ "modernc.org/sqlite"

	"github.com/sakif/civicfix/internal/apperror"
	"github.com/sakif/civicfix/internal/config"
)

// Store owns the connection pool. Users, Issues, Comments and Stats are
// views over the same pool.
type Store struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	pool    config.PoolConfig
	logger  *slog.Logger
	dialect string
}

// Open connects to databaseURL ("postgresql://..." or "sqlite://<dsn>") and
// applies the pool settings. It does not migrate; call Migrate.
func Open(ctx context.Context, databaseURL string, pool config.PoolConfig, logger *slog.Logger) (*Store, error) {
	var (
		dialector gorm.Dialector
		sqlDB     *sql.DB
		dialect   string
	)

	if dsn, ok := strings.CutPrefix(databaseURL, "sqlite://"); ok {
		if !strings.Contains(dsn, "foreign_keys") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=foreign_keys(1)"
		}
		conn, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("gormstore: opening sqlite: %w", err)
		}
		sqlDB = conn
		dialect = "sqlite"
		dialector = sqlite.New(sqlite.Config{DriverName: "sqlite", Conn: sqlDB})
	} else {
		pgCfg, err := pgx.ParseConfig(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("gormstore: parsing database URL: %w", err)
		}
		dialer := &net.Dialer{Timeout: pool.ConnectTimeout, KeepAlive: pool.Keepalive}
		pgCfg.DialFunc = dialer.DialContext
		if pool.ConnectTimeout > 0 {
			pgCfg.ConnectTimeout = pool.ConnectTimeout
		}

		var opts []stdlib.OptionOpenDB
		if pool.PrePing {
			// Runs every time database/sql hands out a pooled connection;
			// a failed ping discards it and a fresh one is dialled.
			opts = append(opts, stdlib.OptionResetSession(func(ctx context.Context, conn *pgx.Conn) error {
				return conn.Ping(ctx)
			}))
		}
		sqlDB = stdlib.OpenDB(*pgCfg, opts...)
		dialect = "postgres"
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	}

	sqlDB.SetMaxOpenConns(pool.MaxOpen())
	sqlDB.SetMaxIdleConns(pool.Size)
	sqlDB.SetConnMaxLifetime(pool.Recycle)

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(
			slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
			gormlogger.Config{
				SlowThreshold:             500 * time.Millisecond,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("gormstore: opening gorm: %w", err)
	}

	s := &Store{db: db, sqlDB: sqlDB, pool: pool, logger: logger, dialect: dialect}

	if err := s.Ping(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("gormstore: initial ping: %w", err)
	}

	logger.Info("database connected",
		slog.String("dialect", dialect),
		slog.Int("pool_size", pool.Size),
		slog.Int("max_open", pool.MaxOpen()),
		slog.Duration("recycle", pool.Recycle),
		slog.Bool("pre_ping", pool.PrePing),
	)
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Dialect is "postgres" or "sqlite".
func (s *Store) Dialect() string {
	return s.dialect
}

// Ping checks that a connection can be acquired and used.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.sqlDB.PingContext(ctx); err != nil {
		return s.translate("ping", err)
	}
	return nil
}

func (s *Store) Users() *UserStore       { return &UserStore{s} }
func (s *Store) Issues() *IssueStore     { return &IssueStore{s} }
func (s *Store) Comments() *CommentStore { return &CommentStore{s} }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.pool.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.pool.Timeout)
}

// run executes fn with a bounded context and translates its error.
func (s *Store) run(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := fn(s.db.WithContext(ctx)); err != nil {
		return s.translate(op, err)
	}
	return nil
}

// translate maps driver errors onto apperror. Errors that already are
// *apperror.AppError pass through untouched.
func (s *Store) translate(op string, err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if isUniqueViolation(err) {
		return apperror.Conflict("record", op)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		stats := s.sqlDB.Stats()
		if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
			s.logger.Warn("database pool exhausted",
				slog.String("op", op),
				slog.Int("in_use", stats.InUse),
				slog.Int64("wait_count", stats.WaitCount),
			)
			return apperror.PoolExhausted(op, err)
		}
	}
	s.logger.Error("database operation failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	return apperror.Database(op, err)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	// modernc reports constraint failures as plain errors
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
