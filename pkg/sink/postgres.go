package sink

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/Sternrassler/census-etl/pkg/census"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// maxIdentifierLen is the PostgreSQL identifier limit (NAMEDATALEN - 1).
const maxIdentifierLen = 63

const createLoadsTable = `CREATE TABLE IF NOT EXISTS etl_loads (
	id         BIGSERIAL PRIMARY KEY,
	run_id     UUID        NOT NULL,
	table_name TEXT        NOT NULL,
	group_name TEXT        NOT NULL,
	row_count  BIGINT      NOT NULL,
	loaded_at  TIMESTAMPTZ NOT NULL
)`

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	URL      string
	MaxConns int32
}

// OpenPostgres parses the URL, connects and pings the database.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PostgresSink replaces one acs_<year>_<group> table per group and records
// each load in etl_loads.
type PostgresSink struct {
	pool    *pgxpool.Pool
	runID   uuid.UUID
	dataset census.Dataset
	logger  zerolog.Logger
}

// NewPostgresSink creates the etl_loads table if needed. The sink does not
// own pool; Close leaves it open.
func NewPostgresSink(ctx context.Context, pool *pgxpool.Pool, runID uuid.UUID, ds census.Dataset) (*PostgresSink, error) {
	if _, err := pool.Exec(ctx, createLoadsTable); err != nil {
		return nil, fmt.Errorf("create etl_loads: %w", err)
	}
	return &PostgresSink{
		pool:    pool,
		runID:   runID,
		dataset: ds,
		logger:  log.With().Str("component", "postgres-sink").Str("run_id", runID.String()).Logger(),
	}, nil
}

// Write replaces the table of the group in one transaction: drop, create
// with TEXT columns, copy rows, record the load.
func (s *PostgresSink) Write(ctx context.Context, table *census.Table) (err error) {
	defer func() { observe(KindPostgres, table, err) }()

	name := TableName(s.dataset, table.Group)
	ident := pgx.Identifier{name}
	columns := ColumnNames(table.Columns)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) // No-op once committed

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+ident.Sanitize()); err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	if _, err := tx.Exec(ctx, createTableSQL(ident, columns)); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	for i, source := range table.Sources {
		comment := fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s",
			ident.Sanitize(), pgx.Identifier{columns[i]}.Sanitize(), quoteLiteral(source))
		if _, err := tx.Exec(ctx, comment); err != nil {
			return fmt.Errorf("comment %s.%s: %w", name, columns[i], err)
		}
	}

	rows := make([][]any, len(table.Rows))
	for i, r := range table.Rows {
		values := make([]any, len(r))
		for j, v := range r {
			values[j] = v
		}
		rows[i] = values
	}

	copied, err := tx.CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy into %s: %w", name, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO etl_loads (run_id, table_name, group_name, row_count, loaded_at) VALUES ($1, $2, $3, $4, $5)`,
		s.runID.String(), name, table.Group, copied, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record load of %s: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", name, err)
	}

	s.logger.Info().
		Str("group", table.Group).
		Str("table", name).
		Int64("rows", copied).
		Msg("Table loaded")
	return nil
}

// Close is a no-op; the caller owns the pool.
func (s *PostgresSink) Close() error {
	return nil
}

// TableName returns the table a group is loaded into, e.g. acs_2016_b01001.
func TableName(ds census.Dataset, group string) string {
	return Identifier(fmt.Sprintf("acs_%d_%s", ds.Year, strings.ToLower(group)))
}

var columnReplacer = strings.NewReplacer("-", "_", " ", "_")

// ColumnNames converts table columns into PostgreSQL identifiers
// ("block group" becomes block_group).
func ColumnNames(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = Identifier(columnReplacer.Replace(c))
	}
	return out
}

// Identifier shortens names beyond the PostgreSQL limit, replacing the tail
// with a hash of the full name so distinct long names stay distinct.
func Identifier(name string) string {
	if len(name) <= maxIdentifierLen {
		return name
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	suffix := fmt.Sprintf("_%08x", h.Sum32())
	return name[:maxIdentifierLen-len(suffix)] + suffix
}

func createTableSQL(ident pgx.Identifier, columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pgx.Identifier{c}.Sanitize() + " TEXT"
	}
	return "CREATE TABLE " + ident.Sanitize() + " (" + strings.Join(defs, ", ") + ")"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
