package pgadapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/objectstack/pgadapter/logger"
	"github.com/objectstack/pgadapter/sqlgen"
)

// DBTX is the subset of pgx operations the adapter issues. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so every operation can run either
// directly on the pool or inside an open transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Adapter stores schemaless objects in PostgreSQL, one table per class.
// It is safe for concurrent use; per-transaction copies share the pool.
type Adapter struct {
	cfg      Config
	pool     *pgxpool.Pool
	db       DBTX
	logger   *logger.Logger
	observer *Observer
	tracer   trace.Tracer
	dialect  sqlgen.Dialect
}

// NewAdapter connects a pool using cfg and returns an Adapter.
//
// Returns the concrete *Adapter (accept interfaces, return structs).
func NewAdapter(ctx context.Context, cfg Config, log *logger.Logger) (*Adapter, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres configuration: %w", err)
	}
	if cfg.ConnectionDetails.MaxConns > 0 {
		poolCfg.MaxConns = cfg.ConnectionDetails.MaxConns
	}
	if cfg.ConnectionDetails.MinConns > 0 {
		poolCfg.MinConns = cfg.ConnectionDetails.MinConns
	}
	if cfg.ConnectionDetails.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnectionDetails.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Info("connected to PostgreSQL database",
		zap.String("host", cfg.Connection.Host),
		zap.String("database", cfg.Connection.DbName))

	return NewAdapterWithPool(cfg, pool, log), nil
}

// NewAdapterWithPool wraps an existing pool. The caller keeps ownership of
// the pool's lifetime.
func NewAdapterWithPool(cfg Config, pool *pgxpool.Pool, log *logger.Logger) *Adapter {
	if log == nil {
		log = logger.NewNop()
	}
	return &Adapter{
		cfg:    cfg,
		pool:   pool,
		db:     pool,
		logger: log,
		tracer: otel.Tracer("pgadapter"),
	}
}

// WithObserver attaches a metrics observer. Operations report outcome and
// duration to it; a nil observer disables reporting.
func (a *Adapter) WithObserver(o *Observer) *Adapter {
	a.observer = o
	return a
}

// Close releases the underlying pool.
func (a *Adapter) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// Ping verifies connectivity.
func (a *Adapter) Ping(ctx context.Context) error {
	if a.pool == nil {
		return fmt.Errorf("database client is not initialized")
	}
	return a.pool.Ping(ctx)
}

// tableName derives the physical table name for a class, applying the
// configured collection prefix.
func (a *Adapter) tableName(className string) string {
	return a.cfg.CollectionPrefix + className
}

// table returns the quoted table expression for a class.
func (a *Adapter) table(className string) string {
	return a.dialect.Ident(a.tableName(className))
}

// joinTableName derives the physical name of the join table that backs a
// Relation field. The convention is shared with sibling adapters so the
// same database can be read by either.
func joinTableName(className, fieldName string) string {
	return "_Join:" + fieldName + ":" + className
}

// isJoinTable reports whether a table name follows the relation join-table
// convention.
func isJoinTable(name string) bool {
	return strings.HasPrefix(name, "_Join:")
}

// startSpan opens a trace span for an operation against a class.
func (a *Adapter) startSpan(ctx context.Context, operation, className string) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, "pgadapter."+operation,
		trace.WithAttributes(attribute.String("db.collection", className)))
}
