package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"

	"coldwatch/internal/metrics"
	"coldwatch/internal/models"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostgresArchive appends delivered reports to a table
type PostgresArchive struct {
	db    *sql.DB
	table string
}

// NewPostgres opens a connection pool and ensures the table exists
func NewPostgres(ctx context.Context, dsn, table string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	a, err := NewPostgresArchive(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := a.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// NewPostgresArchive wraps an existing pool
func NewPostgresArchive(db *sql.DB, table string) (*PostgresArchive, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid archive table name %q", table)
	}
	return &PostgresArchive{db: db, table: table}, nil
}

func (a *PostgresArchive) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	scanned_at TIMESTAMPTZ NOT NULL,
	surface TEXT NOT NULL,
	lost INTEGER NOT NULL,
	stale INTEGER NOT NULL,
	temperature INTEGER NOT NULL,
	camera INTEGER NOT NULL,
	report TEXT NOT NULL
)`, a.table)
	if _, err := a.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create archive table: %w", err)
	}
	return nil
}

func (a *PostgresArchive) Record(ctx context.Context, r Report) error {
	query := fmt.Sprintf(
		"INSERT INTO %s (scanned_at, surface, lost, stale, temperature, camera, report) VALUES ($1,$2,$3,$4,$5,$6,$7)",
		a.table)

	_, err := a.db.ExecContext(ctx, query,
		r.ScannedAt,
		r.Surface,
		r.Counts[models.CategoryLost],
		r.Counts[models.CategoryStale],
		r.Counts[models.CategoryTemperature],
		r.Counts[models.CategoryCamera],
		r.Text,
	)
	if err != nil {
		metrics.ArchiveWrites.WithLabelValues("failed").Inc()
		return fmt.Errorf("archive report: %w", err)
	}
	metrics.ArchiveWrites.WithLabelValues("success").Inc()
	return nil
}

func (a *PostgresArchive) Close() error {
	return a.db.Close()
}
